package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const passSyncAccounts = "sync_accounts"

// AccountService manages account records and reconciles their revoked flag
// with the broker's resolver.
type AccountService struct {
	base
}

func NewAccountService(d Deps) *AccountService {
	return &AccountService{base: newBase(d, "account")}
}

// Add creates the account in the store and records it as pending sync.
// If the record cannot be written the store account is deleted again.
func (s *AccountService) Add(ctx context.Context, name string) (*models.Account, error) {
	if err := models.ValidateName("account", name); err != nil {
		return nil, err
	}
	op, store, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if name == op.Name {
		return nil, common.Validationf("account name cannot be same as operator name")
	}
	if name == common.SystemAccountName {
		return nil, common.Validationf("account name %s is reserved for the system account", name)
	}

	var account *models.Account
	var created bool
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// serializes account creation
		if _, err := s.repomanager.Operators(tx).GetForUpdate(ctx); err != nil {
			return err
		}

		repo := s.repomanager.Accounts(tx)
		exists, err := repo.Exists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("account %s: %w", name, common.ErrorAlreadyExists)
		}

		id, err := store.AddAccount(ctx, name, false)
		if err != nil {
			return fmt.Errorf("failed to add account %s: %w", name, err)
		}
		created = true

		account = models.NewAccount(name, id)
		return repo.Create(ctx, account)
	})
	if err != nil {
		if created {
			if undoErr := store.DeleteAccount(ctx, name); undoErr != nil {
				s.logger.Warn(ctx, "compensating account delete failed", "account", name, "error", undoErr)
				return nil, &common.CompensatedError{Err: err, CompensateErr: undoErr}
			}
		}
		return nil, err
	}

	s.logger.Info(ctx, "account added", "account", name, "account_id", account.AccountID)
	s.schedule(ctx, common.JobSyncAccounts, common.JobSyncAccounts)
	return account, nil
}

// Get returns the account record.
func (s *AccountService) Get(ctx context.Context, name string) (*models.Account, error) {
	return s.repomanager.Accounts(s.db).Get(ctx, name)
}

// List returns every account record.
func (s *AccountService) List(ctx context.Context) ([]*models.Account, error) {
	return s.repomanager.Accounts(s.db).List(ctx)
}

// SetRevoked records whether the account should be revoked at the resolver
// and marks it pending sync.
func (s *AccountService) SetRevoked(ctx context.Context, name string, revoked bool) (*models.Account, error) {
	var account *models.Account
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		a, err := repo.GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		a.Revoked = revoked
		a.PendingSync = true
		account = a
		return repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.schedule(ctx, common.JobSyncAccounts, common.JobSyncAccounts)
	return account, nil
}

// RequestSync marks the account pending sync.
func (s *AccountService) RequestSync(ctx context.Context, name string) error {
	if err := s.repomanager.Accounts(s.db).MarkPendingSync(ctx, name); err != nil {
		return err
	}
	s.schedule(ctx, common.JobSyncAccounts, common.JobSyncAccounts)
	return nil
}

// Delete always fails: accounts are revoked, never deleted.
func (s *AccountService) Delete(ctx context.Context, name string) error {
	return common.Validationf("account %s cannot be deleted, revoke it instead", name)
}

// Sync applies one account's revoked flag to the resolver and clears its
// pending flag, holding the account row lock throughout. Nothing is written
// if the resolver call fails.
func (s *AccountService) Sync(ctx context.Context, name string) error {
	_, store, err := s.openStore(ctx)
	if err != nil {
		return err
	}
	return s.sync(ctx, store, name)
}

func (s *AccountService) sync(ctx context.Context, store CredentialStore, name string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		a, err := repo.GetForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if !a.PendingSync {
			return nil
		}

		if a.Revoked {
			err = store.RevokeAccountFromResolver(ctx, a.Name)
		} else {
			err = store.PushAccount(ctx, a.Name)
		}
		if err != nil {
			return err
		}

		a.PendingSync = false
		return repo.Update(ctx, a)
	})
}

// SyncAccounts drains up to one batch of pending accounts, one at a time.
// A failing account is logged and stays pending; the pass moves on. The pass
// stops early when ctx is done.
func (s *AccountService) SyncAccounts(ctx context.Context) (BatchResult, error) {
	started := time.Now()
	var res BatchResult
	defer func() { s.metrics.RecordPass(passSyncAccounts, time.Since(started), res.Interrupted) }()

	_, store, err := s.openStore(ctx)
	if err != nil {
		return res, err
	}

	names, err := s.repomanager.Accounts(s.db).ListPendingSync(ctx, s.settings.BatchSize)
	if err != nil {
		return res, fmt.Errorf("error listing pending accounts: %w", err)
	}
	res.Selected = len(names)

	for _, name := range names {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if err := s.sync(ctx, store, name); err != nil {
			res.Failed++
			s.metrics.RecordItem(passSyncAccounts, metrics.ResultFailure)
			s.logger.Error(ctx, "failed to sync account", "account", name, "error", err)
			continue
		}
		res.Succeeded++
		s.metrics.RecordItem(passSyncAccounts, metrics.ResultSuccess)
	}

	s.logger.Debug(ctx, "account sync pass finished",
		"selected", res.Selected, "succeeded", res.Succeeded, "failed", res.Failed, "interrupted", res.Interrupted)
	return res, nil
}
