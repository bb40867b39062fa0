package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	var m RepositoryManager = NewSQLRepositoryManager("pgx")

	if m.Operators(db) == nil {
		t.Fatal("Operators() nil")
	}
	if m.Accounts(db) == nil {
		t.Fatal("Accounts() nil")
	}
	if m.Users(db) == nil {
		t.Fatal("Users() nil")
	}
}

func TestRunMigrations_Seam(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	if err := NewSQLRepositoryManager("pgx").RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	if err := NewSQLRepositoryManager("pgx").RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func openSQLite(t *testing.T) (*sql.DB, *SQLRepositoryManager) {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "natskeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := NewSQLRepositoryManager("sqlite")
	require.NoError(t, m.RunMigrations(ctx, db))
	return db, m
}

func TestRunMigrations_SQLiteIsIdempotent(t *testing.T) {
	db, m := openSQLite(t)
	require.NoError(t, m.RunMigrations(context.Background(), db))

	op, err := m.Operators(db).Get(context.Background())
	require.NoError(t, err)
	assert.False(t, op.Initialized)
}

func TestSQLite_RoundTrip(t *testing.T) {
	db, m := openSQLite(t)
	ctx := context.Background()

	op, err := m.Operators(db).Get(ctx)
	require.NoError(t, err)
	op.Name, op.Host, op.Port, op.Initialized = "acme", "nats", 4222, true
	require.NoError(t, m.Operators(db).Update(ctx, op))

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.Accounts(tx).Create(ctx, models.NewAccount("tenant1", "A1")); err != nil {
			return err
		}
		u := models.NewUser("tenant1", "svc1", []models.Subject{
			{Subject: "events.>", Direction: models.Publish},
			{Subject: "cmd.svc1", Direction: models.Subscribe},
		})
		u.UserID = "U1"
		return m.Users(tx).Create(ctx, u)
	})
	require.NoError(t, err)

	got, err := m.Operators(db).GetForUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.True(t, got.Initialized)

	pending, err := m.Accounts(db).ListPendingSync(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant1"}, pending)

	acc, err := m.Accounts(db).GetForUpdate(ctx, "tenant1")
	require.NoError(t, err)
	acc.PendingSync = false
	require.NoError(t, m.Accounts(db).Update(ctx, acc))

	pending, err = m.Accounts(db).ListPendingSync(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, m.Accounts(db).MarkPendingSync(ctx, "tenant1"))
	acc, err = m.Accounts(db).Get(ctx, "tenant1")
	require.NoError(t, err)
	assert.True(t, acc.PendingSync)

	user, err := m.Users(db).Get(ctx, "svc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"events.>"}, user.PubSubjects())
	assert.Equal(t, []string{"cmd.svc1"}, user.SubSubjects())

	require.NoError(t, m.Users(db).SetStatus(ctx, "svc1", models.UserRevocationPending))
	pendingUsers, err := m.Users(db).ListByStatus(ctx, models.UserRevocationPending, 50)
	require.NoError(t, err)
	require.Len(t, pendingUsers, 1)
	assert.Equal(t, "tenant1", pendingUsers[0].Account)

	require.NoError(t, m.Users(db).ReplaceSubjects(ctx, user.ID, []models.Subject{{Subject: "all", Direction: models.PubSub}}))
	user, err = m.Users(db).Get(ctx, "svc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, user.PubSubjects())
	assert.Equal(t, []string{"all"}, user.SubSubjects())

	require.NoError(t, m.Users(db).Delete(ctx, "svc1"))
	_, err = m.Users(db).Get(ctx, "svc1")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestSQLite_RolledBackTransactionLeavesNoRows(t *testing.T) {
	db, m := openSQLite(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.Accounts(tx).Create(ctx, models.NewAccount("tenant1", "A1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := m.Accounts(db).Exists(ctx, "tenant1")
	require.NoError(t, err)
	assert.False(t, ok)
}
