package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const (
	passProcessRevokeRequests = "process_revoke_requests"
	passProcessRevertRequests = "process_revert_revocation_requests"
)

// UserService manages users, their subject permissions and their revocation
// state machine.
type UserService struct {
	base
}

func NewUserService(d Deps) *UserService {
	return &UserService{base: newBase(d, "user")}
}

// Create adds the user to an existing account in the store with exactly the
// given subject permissions and records it as Active.
func (s *UserService) Create(ctx context.Context, account, name string, subjects []models.Subject) (*models.User, error) {
	if err := models.ValidateName("user", name); err != nil {
		return nil, err
	}
	if err := models.ValidateSubjects(subjects); err != nil {
		return nil, err
	}
	_, store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(account, name, subjects)
	var created bool
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Accounts(tx).Get(ctx, account); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("account %s does not exist: %w", account, common.ErrorNotFound)
			}
			return err
		}

		repo := s.repomanager.Users(tx)
		if _, err := repo.Get(ctx, name); err == nil {
			return fmt.Errorf("user %s: %w", name, common.ErrorAlreadyExists)
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		if err := repo.Create(ctx, user); err != nil {
			return err
		}

		id, err := store.AddUser(ctx, account, name, user.PubSubjects(), user.SubSubjects())
		if err != nil {
			return fmt.Errorf("failed to add user %s: %w", name, err)
		}
		created = true

		user.UserID = id
		return repo.Update(ctx, user)
	})
	if err != nil {
		if created {
			if undoErr := store.DeleteUser(ctx, account, name, false); undoErr != nil {
				s.logger.Warn(ctx, "compensating user delete failed", "user", name, "error", undoErr)
				return nil, &common.CompensatedError{Err: err, CompensateErr: undoErr}
			}
		}
		return nil, err
	}

	s.logger.Info(ctx, "user added", "account", account, "user", name, "user_id", user.UserID)
	return user, nil
}

// UpdateSubjects replaces the user's subject list and pushes the full
// recomputed permissions to the store. The store is updated even when the
// list is unchanged.
//
// If the store update fails after its removal step the user is left
// without permissions while the record keeps the old list; submitting that
// list again restores them.
func (s *UserService) UpdateSubjects(ctx context.Context, name string, subjects []models.Subject) (*models.User, error) {
	if err := models.ValidateSubjects(subjects); err != nil {
		return nil, err
	}
	_, store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		user = u
		if !slices.Equal(u.Subjects, subjects) {
			u.Subjects = subjects
			if err := repo.ReplaceSubjects(ctx, u.ID, subjects); err != nil {
				return err
			}
		}
		if err := store.UpdateUserPermissions(ctx, u.Account, u.Name, u.PubSubjects(), u.SubSubjects()); err != nil {
			return fmt.Errorf("failed to update permissions of user %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes the user from the store with a revocation, deletes its
// record and marks its account pending sync so the revocation reaches the
// resolver.
func (s *UserService) Delete(ctx context.Context, name string) error {
	_, store, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if err := store.DeleteUser(ctx, u.Account, u.Name, true); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", name, err)
		}
		if err := repo.Delete(ctx, u.Name); err != nil {
			return err
		}
		return s.repomanager.Accounts(tx).MarkPendingSync(ctx, u.Account)
	})
	if err != nil {
		return err
	}
	s.schedule(ctx, common.JobSyncAccounts, common.JobSyncAccounts)
	return nil
}

// Get returns the user record.
func (s *UserService) Get(ctx context.Context, name string) (*models.User, error) {
	return s.repomanager.Users(s.db).Get(ctx, name)
}

// List returns the users of account, or all users when account is empty.
func (s *UserService) List(ctx context.Context, account string) ([]*models.User, error) {
	return s.repomanager.Users(s.db).List(ctx, account)
}

// Credential returns the creds file content of an Active user.
func (s *UserService) Credential(ctx context.Context, name string) (string, error) {
	_, store, err := s.openStore(ctx)
	if err != nil {
		return "", err
	}
	u, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if u.Status != models.UserActive {
		return "", common.InvalidStatef("user %s is not active, current status: %s", u.Name, u.Status)
	}
	return store.UserCredential(u.Account, u.Name)
}

// RequestRevocation moves the user to Revocation Pending.
func (s *UserService) RequestRevocation(ctx context.Context, name string) (*models.User, error) {
	u, err := s.transition(ctx, name, (*models.User).RequestRevocation)
	if err != nil {
		return nil, err
	}
	s.schedule(ctx, common.JobProcessRevokeRequest, common.JobProcessRevokeRequest)
	return u, nil
}

// RevertRevocation moves a Revoked user to Revert Revocation Pending.
func (s *UserService) RevertRevocation(ctx context.Context, name string) (*models.User, error) {
	u, err := s.transition(ctx, name, (*models.User).RevertRevocation)
	if err != nil {
		return nil, err
	}
	s.schedule(ctx, common.JobProcessRevertRequest, common.JobProcessRevertRequest)
	return u, nil
}

func (s *UserService) transition(ctx context.Context, name string, apply func(*models.User) error) (*models.User, error) {
	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		u, err := repo.GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if err := apply(u); err != nil {
			return err
		}
		user = u
		return repo.SetStatus(ctx, u.Name, u.Status)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ProcessRevokeRequests revokes up to one batch of Revocation Pending users
// in the store. Each revoked user becomes Revoked and its account is marked
// pending sync in the same transaction.
func (s *UserService) ProcessRevokeRequests(ctx context.Context) (BatchResult, error) {
	return s.processRequests(ctx, passProcessRevokeRequests,
		models.UserRevocationPending, models.UserRevoked,
		func(ctx context.Context, store CredentialStore, u *models.User) error {
			return store.RevokeUser(ctx, u.Account, u.Name)
		})
}

// ProcessRevertRequests lifts the revocation of up to one batch of Revert
// Revocation Pending users. Each becomes Active and its account is marked
// pending sync in the same transaction.
func (s *UserService) ProcessRevertRequests(ctx context.Context) (BatchResult, error) {
	return s.processRequests(ctx, passProcessRevertRequests,
		models.UserRevertRevocationPending, models.UserActive,
		func(ctx context.Context, store CredentialStore, u *models.User) error {
			return store.RemoveUserRevocation(ctx, u.Account, u.Name)
		})
}

func (s *UserService) processRequests(
	ctx context.Context,
	pass string,
	from, to models.UserStatus,
	apply func(context.Context, CredentialStore, *models.User) error,
) (BatchResult, error) {
	started := time.Now()
	var res BatchResult
	defer func() { s.metrics.RecordPass(pass, time.Since(started), res.Interrupted) }()

	_, store, err := s.openStore(ctx)
	if err != nil {
		return res, err
	}

	pending, err := s.repomanager.Users(s.db).ListByStatus(ctx, from, s.settings.BatchSize)
	if err != nil {
		return res, fmt.Errorf("error listing users in status %q: %w", from, err)
	}
	res.Selected = len(pending)

	var touched []string
	for _, p := range pending {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		applied := false
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			users := s.repomanager.Users(tx)
			u, err := users.GetForUpdate(ctx, p.Name)
			if err != nil {
				return err
			}
			if u.Status != from {
				return nil
			}
			if err := apply(ctx, store, u); err != nil {
				return err
			}
			if err := users.SetStatus(ctx, u.Name, to); err != nil {
				return err
			}
			if err := s.repomanager.Accounts(tx).MarkPendingSync(ctx, u.Account); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			res.Failed++
			s.metrics.RecordItem(pass, metrics.ResultFailure)
			s.logger.Error(ctx, "failed to process user request", "pass", pass, "user", p.Name, "account", p.Account, "error", err)
			continue
		}
		if !applied {
			s.metrics.RecordItem(pass, metrics.ResultSkipped)
			continue
		}
		res.Succeeded++
		s.metrics.RecordItem(pass, metrics.ResultSuccess)
		if !slices.Contains(touched, p.Account) {
			touched = append(touched, p.Account)
		}
	}

	if len(touched) > 0 {
		s.logger.Info(ctx, "accounts marked for sync", "pass", pass, "accounts", touched)
		s.schedule(ctx, common.JobSyncAccounts, common.JobSyncAccounts)
	}
	return res, nil
}
