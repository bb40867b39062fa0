package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const selectAccount = `SELECT id, name, account_id, revoked, pending_sync FROM accounts`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Create(ctx context.Context, a *models.Account) error {
	query := r.dialect.Rebind(
		`INSERT INTO accounts (id, name, account_id, revoked, pending_sync)
		 VALUES (?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query, a.ID, a.Name, a.AccountID, a.Revoked, a.PendingSync); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, name string) (*models.Account, error) {
	return r.get(ctx, r.dialect.Rebind(selectAccount+` WHERE name = ?`), name)
}

func (r *SQLRepository) GetForUpdate(ctx context.Context, name string) (*models.Account, error) {
	return r.get(ctx, r.dialect.Rebind(r.dialect.ForUpdate(selectAccount+` WHERE name = ?`)), name)
}

func (r *SQLRepository) get(ctx context.Context, query, name string) (*models.Account, error) {
	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&a.ID, &a.Name, &a.AccountID, &a.Revoked, &a.PendingSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", name, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *SQLRepository) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT COUNT(*) FROM accounts WHERE name = ?`), name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccount+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a := &models.Account{}
		if err := rows.Scan(&a.ID, &a.Name, &a.AccountID, &a.Revoked, &a.PendingSync); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) ListPendingSync(ctx context.Context, limit int) ([]string, error) {
	query := r.dialect.Rebind(`SELECT name FROM accounts WHERE pending_sync = ? ORDER BY name LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, true, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

// Update writes the mutable fields of an account. The name is immutable.
func (r *SQLRepository) Update(ctx context.Context, a *models.Account) error {
	query := r.dialect.Rebind(`UPDATE accounts SET account_id = ?, revoked = ?, pending_sync = ? WHERE name = ?`)
	res, err := r.db.ExecContext(ctx, query, a.AccountID, a.Revoked, a.PendingSync, a.Name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res, a.Name)
}

func (r *SQLRepository) MarkPendingSync(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE accounts SET pending_sync = ? WHERE name = ?`), true, name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res, name)
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", name, common.ErrorNotFound)
	}
	return nil
}
