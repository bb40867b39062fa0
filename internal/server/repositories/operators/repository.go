package operators

import (
	"context"

	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

// Repository persists the singleton operator settings record.
type Repository interface {
	Get(ctx context.Context) (*models.Operator, error)
	// GetForUpdate reads the record holding a row lock until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context) (*models.Operator, error)
	Update(ctx context.Context, op *models.Operator) error
}
