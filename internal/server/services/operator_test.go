package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorInit(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	require.NoError(t, env.operators.Init(ctx))

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)
	assert.True(t, op.Initialized)

	claims, err := env.driver().Decode(nsc.KindAccount, "acme", "")
	require.NoError(t, err)

	acc, err := env.accounts.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, acc.AccountID)
	assert.True(t, acc.PendingSync)
	assert.False(t, acc.Revoked)

	assert.Equal(t, "nats://nats:4222", env.tool.ServerURL())
	assert.True(t, env.scheduler.has(common.JobSyncInfo))
}

func TestOperatorInit_Twice(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.operators.Init(ctx))

	err := env.operators.Init(ctx)
	assert.True(t, errors.Is(err, common.ErrorAlreadyInitialized))
}

func TestOperatorInit_NonEmptyStoreIsLeftAlone(t *testing.T) {
	env := newEnv(t)
	stray := filepath.Join(env.dir, "stray")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o600))

	err := env.operators.Init(context.Background())
	assert.True(t, errors.Is(err, common.ErrorAlreadyInitialized))
	assert.FileExists(t, stray)
	assert.Empty(t, env.tool.Calls())
}

func TestOperatorInit_FailureCleansUp(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.tool.FailOn("cannot reach broker", "edit", "operator")

	err := env.operators.Init(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot reach broker")

	initialized, err := env.driver().IsInitialized()
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.FileExists(t, env.driver().Guard().Path())

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)
	assert.False(t, op.Initialized)

	_, err = env.accounts.Get(ctx, "acme")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestOperatorInit_LockHeldLeavesStoreAlone(t *testing.T) {
	env := newEnv(t)
	ignore := filepath.Join(env.dir, ".gitignore")
	require.NoError(t, os.WriteFile(ignore, []byte("*.creds\n"), 0o600))

	release, err := env.driver().Guard().Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = env.operators.Init(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.FileExists(t, ignore)
	assert.FileExists(t, env.driver().Guard().Path())
	assert.Empty(t, env.tool.Calls())

	op, err := env.operators.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, op.Initialized)
}

func TestOperatorInit_InvalidSettings(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)
	op.Port = 0
	require.NoError(t, env.repos.Operators(env.db).Update(ctx, op))

	err = env.operators.Init(ctx)
	assert.True(t, errors.Is(err, common.ErrorValidation))
	assert.Empty(t, env.tool.Calls())
}

func TestOperatorUpdate_NameIsImmutableAfterInit(t *testing.T) {
	env := newInitializedEnv(t)

	_, err := env.operators.Update(context.Background(), &models.Operator{
		Name: "other", Host: "nats", Port: 4222, StoreDirectory: env.dir,
	})
	assert.True(t, errors.Is(err, common.ErrorValidation))
}

func TestOperatorUpdate_StoreDirectoryIsImmutableAfterInit(t *testing.T) {
	env := newInitializedEnv(t)
	ctx := context.Background()

	_, err := env.operators.Update(ctx, &models.Operator{
		Name: "acme", Host: "nats", Port: 4222, StoreDirectory: t.TempDir(),
	})
	assert.True(t, errors.Is(err, common.ErrorValidation))

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.dir, op.StoreDirectory)
}

func TestOperatorUpdate_AddressChangeRepointsOperator(t *testing.T) {
	env := newInitializedEnv(t)
	ctx := context.Background()

	op, err := env.operators.Update(ctx, &models.Operator{
		Name: "acme", Host: "broker.internal", Port: 4223, StoreDirectory: env.dir,
	})
	require.NoError(t, err)
	assert.True(t, op.Initialized)
	assert.Equal(t, "nats://broker.internal:4223", env.tool.ServerURL())
}

func TestOperatorUpdate_AddressChangeFailureKeepsSettings(t *testing.T) {
	env := newInitializedEnv(t)
	ctx := context.Background()
	env.tool.FailOn("locked", "edit", "operator")

	_, err := env.operators.Update(ctx, &models.Operator{
		Name: "acme", Host: "broker.internal", Port: 4222, StoreDirectory: env.dir,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set account token server URL")

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nats", op.Host)
}

func TestOperatorUpdate_Validation(t *testing.T) {
	env := newEnv(t)

	_, err := env.operators.Update(context.Background(), &models.Operator{
		Name: "acme", Host: "", Port: 4222, StoreDirectory: env.dir,
	})
	assert.True(t, errors.Is(err, common.ErrorValidation))
}

func TestRefreshIdentity(t *testing.T) {
	env := newInitializedEnv(t)
	ctx := context.Background()
	d := env.driver()

	changed, err := env.operators.RefreshIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	op, err := env.operators.Get(ctx)
	require.NoError(t, err)

	operator, err := d.Decode(nsc.KindOperator, "", "")
	require.NoError(t, err)
	sysAccount, err := d.Decode(nsc.KindAccount, common.SystemAccountName, "")
	require.NoError(t, err)
	sysUser, err := d.Decode(nsc.KindUser, common.SystemAccountName, common.SystemUserName)
	require.NoError(t, err)
	adminAccount, err := d.Decode(nsc.KindAccount, "acme", "")
	require.NoError(t, err)
	adminUser, err := d.Decode(nsc.KindUser, "acme", "acme")
	require.NoError(t, err)

	assert.Equal(t, operator.Subject, op.OperatorID)
	assert.Equal(t, sysAccount.Subject, op.SystemAccountID)
	assert.Equal(t, sysUser.Subject, op.SystemUserID)
	assert.Equal(t, adminAccount.Subject, op.OperatorAccountID)
	assert.Equal(t, adminUser.Subject, op.OperatorUserID)

	changed, err = env.operators.RefreshIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRefreshIdentity_NotInitialized(t *testing.T) {
	env := newEnv(t)

	changed, err := env.operators.RefreshIdentity(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestServerConfig(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.operators.ServerConfig(ctx)
	assert.True(t, errors.Is(err, common.ErrorNotInitialized))

	require.NoError(t, env.operators.Init(ctx))
	config, err := env.operators.ServerConfig(ctx)
	require.NoError(t, err)
	assert.Contains(t, config, "operator: ")
	assert.Contains(t, config, "dir: '/data/jwt'")

	path, err := env.operators.AdminCredentialPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dir, "creds", "acme", "acme", "acme.creds"), path)
	assert.FileExists(t, path)
}
