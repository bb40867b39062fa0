package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const selectUser = `SELECT id, name, account, user_id, status FROM users`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Create(ctx context.Context, u *models.User) error {
	query := r.dialect.Rebind(
		`INSERT INTO users (id, name, account, user_id, status)
		 VALUES (?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Account, u.UserID, string(u.Status)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insertSubjects(ctx, u.ID, u.Subjects)
}

func (r *SQLRepository) Get(ctx context.Context, name string) (*models.User, error) {
	return r.get(ctx, r.dialect.Rebind(selectUser+` WHERE name = ?`), name)
}

func (r *SQLRepository) GetForUpdate(ctx context.Context, name string) (*models.User, error) {
	return r.get(ctx, r.dialect.Rebind(r.dialect.ForUpdate(selectUser+` WHERE name = ?`)), name)
}

func (r *SQLRepository) get(ctx context.Context, query, name string) (*models.User, error) {
	u := &models.User{}
	var status string
	err := r.db.QueryRowContext(ctx, query, name).Scan(&u.ID, &u.Name, &u.Account, &u.UserID, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", name, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Status = models.UserStatus(status)

	if u.Subjects, err = r.subjects(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *SQLRepository) List(ctx context.Context, account string) ([]*models.User, error) {
	query := selectUser + ` ORDER BY name`
	var args []any
	if account != "" {
		query = r.dialect.Rebind(selectUser + ` WHERE account = ? ORDER BY name`)
		args = append(args, account)
	}

	users, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Subjects, err = r.subjects(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (r *SQLRepository) ListByStatus(ctx context.Context, status models.UserStatus, limit int) ([]*models.User, error) {
	query := r.dialect.Rebind(selectUser + ` WHERE status = ? ORDER BY name LIMIT ?`)
	return r.list(ctx, query, string(status), limit)
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u := &models.User{}
		var status string
		if err := rows.Scan(&u.ID, &u.Name, &u.Account, &u.UserID, &status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		u.Status = models.UserStatus(status)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Update writes user_id and status. Subjects are written with ReplaceSubjects.
func (r *SQLRepository) Update(ctx context.Context, u *models.User) error {
	query := r.dialect.Rebind(`UPDATE users SET user_id = ?, status = ? WHERE name = ?`)
	res, err := r.db.ExecContext(ctx, query, u.UserID, string(u.Status), u.Name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res, u.Name)
}

func (r *SQLRepository) SetStatus(ctx context.Context, name string, status models.UserStatus) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE users SET status = ? WHERE name = ?`), string(status), name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res, name)
}

func (r *SQLRepository) ReplaceSubjects(ctx context.Context, userID string, subjects []models.Subject) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM user_subjects WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.insertSubjects(ctx, userID, subjects)
}

func (r *SQLRepository) Delete(ctx context.Context, name string) error {
	u, err := r.get(ctx, r.dialect.Rebind(selectUser+` WHERE name = ?`), name)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM user_subjects WHERE user_id = ?`), u.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM users WHERE id = ?`), u.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) subjects(ctx context.Context, userID string) ([]models.Subject, error) {
	query := r.dialect.Rebind(`SELECT subject, direction FROM user_subjects WHERE user_id = ? ORDER BY position`)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var s models.Subject
		var direction string
		if err := rows.Scan(&s.Subject, &direction); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.Direction = models.Direction(direction)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) insertSubjects(ctx context.Context, userID string, subjects []models.Subject) error {
	query := r.dialect.Rebind(`INSERT INTO user_subjects (user_id, position, subject, direction) VALUES (?, ?, ?, ?)`)
	for i, s := range subjects {
		if _, err := r.db.ExecContext(ctx, query, userID, i, s.Subject, string(s.Direction)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", name, common.ErrorNotFound)
	}
	return nil
}
