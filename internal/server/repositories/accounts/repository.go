package accounts

import (
	"context"

	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, name string) (*models.Account, error)
	// GetForUpdate reads the account holding a row lock until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, name string) (*models.Account, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*models.Account, error)
	// ListPendingSync returns up to limit names of accounts awaiting a
	// resolver sync, in name order.
	ListPendingSync(ctx context.Context, limit int) ([]string, error)
	Update(ctx context.Context, account *models.Account) error
	MarkPendingSync(ctx context.Context, name string) error
}
