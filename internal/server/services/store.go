// Package services contains the credential lifecycle logic: operator
// settings and store initialization, account and user state transitions,
// and the reconciliation passes that apply pending intent to the credential
// store.
//
// Interactive operations validate input, persist intent and call the store
// driver inside one database transaction, so a driver failure rolls the
// records back. Reconciliation passes run every item in its own transaction
// and log per-item failures instead of returning them.
package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
)

// CredentialStore is the part of the store driver the services use.
// *nsc.Driver implements it.
type CredentialStore interface {
	Init(ctx context.Context) error
	IsInitialized() (bool, error)
	Cleanup(ctx context.Context) error
	SetAccountTokenServerURL(ctx context.Context, url string) error

	AddAccount(ctx context.Context, name string, sync bool) (string, error)
	PushAccount(ctx context.Context, name string) error
	RevokeAccountFromResolver(ctx context.Context, name string) error
	DeleteAccount(ctx context.Context, name string) error

	AddUser(ctx context.Context, accountName, userName string, pub, sub []string) (string, error)
	UpdateUserPermissions(ctx context.Context, accountName, userName string, pub, sub []string) error
	DeleteUser(ctx context.Context, accountName, userName string, revoke bool) error
	RevokeUser(ctx context.Context, accountName, userName string) error
	RemoveUserRevocation(ctx context.Context, accountName, userName string) error

	Decode(kind nsc.Kind, accountName, userName string) (*nsc.Claims, error)
	UserCredential(accountName, userName string) (string, error)
	UserCredentialPath(accountName, userName string) (string, error)
	GenerateServerConfig(resolver nsc.Resolver) (string, error)
}

// StoreFactory opens the credential store of an operator.
type StoreFactory func(dir, operator string) CredentialStore

// NewDriverFactory returns a StoreFactory building *nsc.Driver values that
// run the tool through runner.
func NewDriverFactory(runner nsc.Runner, logger logging.Logger) StoreFactory {
	return func(dir, operator string) CredentialStore {
		return nsc.NewDriver(dir, operator, runner, logger)
	}
}

// Scheduler enqueues a named task. At most one instance per dedupKey is in
// flight.
type Scheduler interface {
	Schedule(taskName, dedupKey string, runAt time.Time) error
}

// Settings tunes the services.
type Settings struct {
	BatchSize int
	Resolver  nsc.Resolver
}

// BatchResult summarizes one reconciliation pass.
type BatchResult struct {
	Selected  int
	Succeeded int
	Failed    int
	// Interrupted is set when the time budget ran out before every selected
	// record was processed.
	Interrupted bool
}
