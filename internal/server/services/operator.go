package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

const cleanupTimeout = 30 * time.Second

// OperatorService manages the operator settings record and the lifecycle of
// the credential store it points at.
type OperatorService struct {
	base
}

func NewOperatorService(d Deps) *OperatorService {
	return &OperatorService{base: newBase(d, "operator")}
}

// Get returns the operator settings.
func (s *OperatorService) Get(ctx context.Context) (*models.Operator, error) {
	return s.repomanager.Operators(s.db).Get(ctx)
}

// Update saves name, host, port and store directory.
//
// The name and store directory cannot change once the store is initialized. A host or port
// change on an initialized store re-points the operator at the new account
// token server; if that fails nothing is saved.
func (s *OperatorService) Update(ctx context.Context, desired *models.Operator) (*models.Operator, error) {
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	var saved *models.Operator
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Operators(tx)
		current, err := repo.GetForUpdate(ctx)
		if err != nil {
			return fmt.Errorf("error reading operator settings: %w", err)
		}

		if current.Initialized && current.Name != "" && desired.Name != current.Name {
			return common.Validationf("cannot change operator name after the store is initialized")
		}
		if current.Initialized && current.StoreDirectory != "" && desired.StoreDirectory != current.StoreDirectory {
			return common.Validationf("cannot change store directory after the store is initialized")
		}

		addressChanged := desired.Host != current.Host || desired.Port != current.Port
		hadAddress := current.Host != "" || current.Port != 0

		next := *current
		next.Name = desired.Name
		next.Host = desired.Host
		next.Port = desired.Port
		next.StoreDirectory = desired.StoreDirectory
		if err := repo.Update(ctx, &next); err != nil {
			return fmt.Errorf("error saving operator settings: %w", err)
		}

		if current.Initialized && addressChanged && hadAddress {
			store := s.stores(next.StoreDirectory, next.Name)
			if err := store.SetAccountTokenServerURL(ctx, next.AccountServerURL()); err != nil {
				return fmt.Errorf("failed to set account token server URL: %w", err)
			}
			s.logger.Info(ctx, "operator config updated, broker configuration must be updated accordingly",
				"url", next.AccountServerURL())
		}
		saved = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Init creates the credential store for the configured operator, records the
// operator-named account and points the operator at the broker. A failure
// after the store was created empties the store directory again.
func (s *OperatorService) Init(ctx context.Context) error {
	var storeTouched bool
	var store CredentialStore

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Operators(tx)
		op, err := repo.GetForUpdate(ctx)
		if err != nil {
			return fmt.Errorf("error reading operator settings: %w", err)
		}
		if op.Initialized {
			return fmt.Errorf("credential store: %w", common.ErrorAlreadyInitialized)
		}
		if err := op.Validate(); err != nil {
			return err
		}

		store = s.stores(op.StoreDirectory, op.Name)
		initialized, err := store.IsInitialized()
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("store directory %s is not empty, the store seems to be initialized: %w",
				op.StoreDirectory, common.ErrorAlreadyInitialized)
		}

		// the driver empties the store itself when its own init fails
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		storeTouched = true

		claims, err := store.Decode(nsc.KindAccount, op.Name, "")
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if err := s.repomanager.Accounts(tx).Create(ctx, models.NewAccount(op.Name, claims.Subject)); err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}

		if err := store.SetAccountTokenServerURL(ctx, op.AccountServerURL()); err != nil {
			return fmt.Errorf("failed to set account token server URL: %w", err)
		}

		op.Initialized = true
		return repo.Update(ctx, op)
	})
	if err != nil {
		if storeTouched {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			defer cancel()
			if cleanupErr := store.Cleanup(cleanupCtx); cleanupErr != nil {
				s.logger.Error(ctx, "store cleanup failed", "error", cleanupErr)
				return &common.CompensatedError{Err: err, CompensateErr: cleanupErr}
			}
		}
		return err
	}

	s.logger.Info(ctx, "credential store initialized")
	s.schedule(ctx, common.JobSyncInfo, common.JobSyncInfo)
	return nil
}

// RefreshIdentity copies the identifiers of the operator, the system account
// and user, and the operator-named account and user from the store tokens
// into the settings record. It reports whether anything had drifted. An
// uninitialized store is a no-op.
func (s *OperatorService) RefreshIdentity(ctx context.Context) (bool, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	if !current.Initialized {
		return false, nil
	}
	store := s.stores(current.StoreDirectory, current.Name)

	var changed bool
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Operators(tx)
		op, err := repo.GetForUpdate(ctx)
		if err != nil {
			return err
		}

		operator, err := store.Decode(nsc.KindOperator, "", "")
		if err != nil {
			return err
		}
		if op.OperatorID != operator.Subject || op.SystemAccountID != operator.Nats.SystemAccount {
			op.OperatorID = operator.Subject
			op.SystemAccountID = operator.Nats.SystemAccount
			changed = true
		}

		ids := []struct {
			kind          nsc.Kind
			account, user string
			field         *string
		}{
			{nsc.KindUser, common.SystemAccountName, common.SystemUserName, &op.SystemUserID},
			{nsc.KindAccount, op.Name, "", &op.OperatorAccountID},
			{nsc.KindUser, op.Name, op.Name, &op.OperatorUserID},
		}
		for _, id := range ids {
			claims, err := store.Decode(id.kind, id.account, id.user)
			if err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					continue
				}
				return err
			}
			if *id.field != claims.Subject {
				*id.field = claims.Subject
				changed = true
			}
		}

		if !changed {
			return nil
		}
		return repo.Update(ctx, op)
	})
	if err != nil {
		return false, fmt.Errorf("failed to refresh identity: %w", err)
	}
	if changed {
		s.logger.Info(ctx, "operator identity refreshed")
	}
	return changed, nil
}

// ServerConfig renders the broker configuration fragment.
func (s *OperatorService) ServerConfig(ctx context.Context) (string, error) {
	_, store, err := s.openStore(ctx)
	if err != nil {
		return "", err
	}
	config, err := store.GenerateServerConfig(s.settings.Resolver)
	if err != nil {
		return "", fmt.Errorf("failed to generate broker server config: %w", err)
	}
	return config, nil
}

// AdminCredentialPath returns the creds file of the operator-named admin
// user, used to connect to the broker.
func (s *OperatorService) AdminCredentialPath(ctx context.Context) (string, error) {
	op, store, err := s.openStore(ctx)
	if err != nil {
		return "", err
	}
	return store.UserCredentialPath(op.Name, op.Name)
}
