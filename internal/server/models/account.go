package models

import (
	"strings"
	"unicode"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/google/uuid"
)

// ForbiddenNameChars may not appear in account or user names; together with
// whitespace they would break the credential tool's argument handling or the
// store's file layout.
const ForbiddenNameChars = `@!#$%^&*()+=[]{}|\;:'",<>/?.`

// Account is a named authorization domain under the operator.
//
// AccountID is assigned by the credential store once the account exists
// there. PendingSync marks an account whose revoked flag has not been applied
// to the broker's resolver yet.
type Account struct {
	ID          string
	Name        string
	AccountID   string
	Revoked     bool
	PendingSync bool
}

// NewAccount returns an account record awaiting its first resolver push.
func NewAccount(name, accountID string) *Account {
	return &Account{
		ID:          uuid.NewString(),
		Name:        name,
		AccountID:   accountID,
		PendingSync: true,
	}
}

// ValidateName rejects empty names and names with whitespace or any of
// ForbiddenNameChars.
func ValidateName(kind, name string) error {
	if name == "" {
		return common.Validationf("%s name cannot be empty", kind)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return common.Validationf("%s name %q cannot contain whitespace", kind, name)
	}
	if i := strings.IndexAny(name, ForbiddenNameChars); i >= 0 {
		return common.Validationf("%s name %q cannot contain %q", kind, name, name[i])
	}
	return nil
}
