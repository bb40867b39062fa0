package users

import (
	"context"

	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

type Repository interface {
	// Create inserts the user together with its subject entries.
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, name string) (*models.User, error)
	// GetForUpdate reads the user holding a row lock until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, name string) (*models.User, error)
	// List returns the users of account, or every user when account is empty.
	List(ctx context.Context, account string) ([]*models.User, error)
	// ListByStatus returns up to limit users in status, without subjects.
	ListByStatus(ctx context.Context, status models.UserStatus, limit int) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetStatus(ctx context.Context, name string, status models.UserStatus) error
	ReplaceSubjects(ctx context.Context, userID string, subjects []models.Subject) error
	Delete(ctx context.Context, name string) error
}
