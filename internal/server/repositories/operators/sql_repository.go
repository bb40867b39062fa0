package operators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const selectOperator = `SELECT name, host, port, store_directory, initialized,
        operator_id, system_account_id, system_user_id, operator_account_id, operator_user_id
   FROM operators
  WHERE id = 1`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Get(ctx context.Context) (*models.Operator, error) {
	return r.get(ctx, selectOperator)
}

func (r *SQLRepository) GetForUpdate(ctx context.Context) (*models.Operator, error) {
	return r.get(ctx, r.dialect.ForUpdate(selectOperator))
}

func (r *SQLRepository) get(ctx context.Context, query string) (*models.Operator, error) {
	op := &models.Operator{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&op.Name, &op.Host, &op.Port, &op.StoreDirectory, &op.Initialized,
		&op.OperatorID, &op.SystemAccountID, &op.SystemUserID, &op.OperatorAccountID, &op.OperatorUserID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return op, nil
}

func (r *SQLRepository) Update(ctx context.Context, op *models.Operator) error {
	query := r.dialect.Rebind(
		`UPDATE operators
		    SET name = ?, host = ?, port = ?, store_directory = ?, initialized = ?,
		        operator_id = ?, system_account_id = ?, system_user_id = ?,
		        operator_account_id = ?, operator_user_id = ?
		  WHERE id = 1`)

	res, err := r.db.ExecContext(ctx, query,
		op.Name, op.Host, op.Port, op.StoreDirectory, op.Initialized,
		op.OperatorID, op.SystemAccountID, op.SystemUserID,
		op.OperatorAccountID, op.OperatorUserID,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
