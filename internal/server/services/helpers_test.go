package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/nsc/nsctest"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

type scheduled struct {
	task, key string
}

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (s *recordingScheduler) Schedule(task, key string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduled{task: task, key: key})
	return nil
}

func (s *recordingScheduler) has(task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.task == task {
			return true
		}
	}
	return false
}

type testEnv struct {
	db        *sql.DB
	repos     *repomanager.SQLRepositoryManager
	dir       string
	tool      *nsctest.Tool
	scheduler *recordingScheduler

	operators *OperatorService
	accounts  *AccountService
	users     *UserService
}

// newEnv returns services over a migrated SQLite database and a fake tool,
// with operator "acme" configured but not initialized.
func newEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := repomanager.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "natskeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repomanager.NewSQLRepositoryManager("sqlite")
	require.NoError(t, repos.RunMigrations(ctx, db))

	env := &testEnv{
		db:        db,
		repos:     repos,
		dir:       t.TempDir(),
		scheduler: &recordingScheduler{},
	}
	env.tool = nsctest.New(env.dir)

	deps := Deps{
		DB:    db,
		Repos: repos,
		Stores: func(dir, operator string) CredentialStore {
			return nsc.NewDriver(dir, operator, env.tool, logging.Nop())
		},
		Scheduler: env.scheduler,
		Logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.operators = NewOperatorService(deps)
	env.accounts = NewAccountService(deps)
	env.users = NewUserService(deps)

	_, err = env.operators.Update(ctx, &models.Operator{
		Name:           "acme",
		Host:           "nats",
		Port:           4222,
		StoreDirectory: env.dir,
	})
	require.NoError(t, err)
	return env
}

// newInitializedEnv also initializes the store and drains the initial
// account sync.
func newInitializedEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	env := newEnv(t, opts...)
	require.NoError(t, env.operators.Init(context.Background()))
	_, err := env.accounts.SyncAccounts(context.Background())
	require.NoError(t, err)
	return env
}

func (e *testEnv) addAccount(t *testing.T, name string) *models.Account {
	t.Helper()
	a, err := e.accounts.Add(context.Background(), name)
	require.NoError(t, err)
	return a
}

func (e *testEnv) addUser(t *testing.T, account, name string, subjects ...models.Subject) *models.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), account, name, subjects)
	require.NoError(t, err)
	return u
}

func (e *testEnv) driver() *nsc.Driver {
	return nsc.NewDriver(e.dir, "acme", e.tool, logging.Nop())
}

// syncAll clears every pending account.
func (e *testEnv) syncAll(t *testing.T) {
	t.Helper()
	res, err := e.accounts.SyncAccounts(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Failed)
}
