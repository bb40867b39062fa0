package nsc_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/nsc/nsctest"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateServerConfig(t *testing.T) {
	d, _ := initStore(t)

	operatorJWT, err := d.ReadToken(nsc.KindOperator, "", "")
	require.NoError(t, err)
	sysJWT, err := d.ReadToken(nsc.KindAccount, common.SystemAccountName, "")
	require.NoError(t, err)
	sys, err := nsc.DecodeToken(sysJWT)
	require.NoError(t, err)

	got, err := d.GenerateServerConfig(nsc.DefaultResolver())
	require.NoError(t, err)

	want := strings.Join([]string{
		"operator: " + operatorJWT,
		"",
		"system_account: " + sys.Subject,
		"",
		"resolver {",
		"    type: full",
		"    dir: '/data/jwt'",
		"    allow_delete: true",
		`    interval: "2m"`,
		`    timeout: "1.9s"`,
		"}",
		"",
		"resolver_preload: {",
		"    " + sys.Subject + ": " + sysJWT + ",",
		"}",
		"",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestGenerateServerConfig_CustomResolver(t *testing.T) {
	d, _ := initStore(t)

	got, err := d.GenerateServerConfig(nsc.Resolver{
		Dir:      "/var/lib/nats/jwt",
		Interval: time.Hour,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, got, "dir: '/var/lib/nats/jwt'")
	assert.Contains(t, got, "allow_delete: false")
	assert.Contains(t, got, `interval: "1h"`)
	assert.Contains(t, got, `timeout: "5s"`)
}

func TestGenerateServerConfig_SystemAccountMismatch(t *testing.T) {
	d, _ := initStore(t)

	path, err := d.TokenPath(nsc.KindAccount, common.SystemAccountName, "")
	require.NoError(t, err)
	require.NoError(t, nsctest.WriteToken(path, nsc.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "AOTHERACCOUNT"},
		Name:             common.SystemAccountName,
	}))

	_, err = d.GenerateServerConfig(nsc.DefaultResolver())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrorConsistency))
}

func TestGenerateServerConfig_SystemAccountWithoutSubject(t *testing.T) {
	d, _ := initStore(t)

	path, err := d.TokenPath(nsc.KindAccount, common.SystemAccountName, "")
	require.NoError(t, err)
	require.NoError(t, nsctest.WriteToken(path, nsc.Claims{Name: common.SystemAccountName}))

	_, err = d.GenerateServerConfig(nsc.DefaultResolver())
	assert.True(t, errors.Is(err, common.ErrorConsistency))
}

func TestGenerateServerConfig_NotInitialized(t *testing.T) {
	d, _ := newStore(t)

	_, err := d.GenerateServerConfig(nsc.DefaultResolver())
	assert.True(t, errors.Is(err, common.ErrorNotFound))
	assert.NoFileExists(t, filepath.Join(d.Dir(), "acme", "acme.jwt"))
}
