package nsc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPath(t *testing.T) {
	d := nsc.NewDriver("/store", "acme", nil, logging.Nop())

	tests := []struct {
		name    string
		kind    nsc.Kind
		account string
		user    string
		want    string
		wantErr bool
	}{
		{name: "operator", kind: nsc.KindOperator, want: "/store/acme/acme.jwt"},
		{name: "account", kind: nsc.KindAccount, account: "a1", want: "/store/acme/accounts/a1/a1.jwt"},
		{name: "user", kind: nsc.KindUser, account: "a1", user: "u1", want: "/store/acme/accounts/a1/users/u1.jwt"},
		{name: "account without name", kind: nsc.KindAccount, wantErr: true},
		{name: "user without account", kind: nsc.KindUser, user: "u1", wantErr: true},
		{name: "unknown kind", kind: nsc.Kind("cluster"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.TokenPath(tt.kind, tt.account, tt.user)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, common.ErrorValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeToken_Malformed(t *testing.T) {
	_, err := nsc.DecodeToken("not-a-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrorDecode))
}

func TestDecodeToken_UnregisteredAlgorithm(t *testing.T) {
	// header {"typ":"JWT","alg":"ed25519-nkey"}, payload {"sub":"UABC","name":"u1","nats":{"type":"user"}}
	raw := "eyJ0eXAiOiJKV1QiLCJhbGciOiJlZDI1NTE5LW5rZXkifQ." +
		"eyJzdWIiOiJVQUJDIiwibmFtZSI6InUxIiwibmF0cyI6eyJ0eXBlIjoidXNlciJ9fQ." +
		"c2lnbmF0dXJl"

	claims, err := nsc.DecodeToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "UABC", claims.Subject)
	assert.Equal(t, "u1", claims.Name)
	assert.Equal(t, "user", claims.Nats.Type)
}

func TestDecode_MissingToken(t *testing.T) {
	d, _ := initStore(t)

	_, err := d.Decode(nsc.KindUser, "acme", "ghost")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
	assert.False(t, d.TokenExists(nsc.KindUser, "acme", "ghost"))
}

func TestDecode_CorruptToken(t *testing.T) {
	d, _ := initStore(t)
	path, err := d.TokenPath(nsc.KindAccount, "acme", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))

	_, err = d.Decode(nsc.KindAccount, "acme", "")
	assert.True(t, errors.Is(err, common.ErrorDecode))
}

func TestUserCredential(t *testing.T) {
	d, _ := initStore(t)
	ctx := context.Background()
	_, err := d.AddUser(ctx, "acme", "svc1", nil, []string{"cmd.svc1"})
	require.NoError(t, err)

	path, err := d.UserCredentialPath("acme", "svc1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Dir(), "creds", "acme", "acme", "svc1.creds"), path)

	creds, err := d.UserCredential("acme", "svc1")
	require.NoError(t, err)
	assert.Contains(t, creds, "BEGIN NATS USER JWT")

	require.NoError(t, d.DeleteUser(ctx, "acme", "svc1", false))
	_, err = d.UserCredential("acme", "svc1")
	assert.True(t, errors.Is(err, common.ErrorNotFound))

	_, err = d.UserCredentialPath("", "svc1")
	assert.True(t, errors.Is(err, common.ErrorValidation))
}
