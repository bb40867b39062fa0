package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/repomanager"
)

// timeNow is replaced in tests.
var timeNow = time.Now

// base holds what every service needs.
type base struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	stores      StoreFactory
	scheduler   Scheduler
	metrics     *metrics.Metrics
	settings    Settings
	logger      logging.Logger
}

// Deps bundles the collaborators of the services. Scheduler and Metrics may
// be nil.
type Deps struct {
	DB        *sql.DB
	Repos     repomanager.RepositoryManager
	Stores    StoreFactory
	Scheduler Scheduler
	Metrics   *metrics.Metrics
	Settings  Settings
	Logger    logging.Logger
}

func newBase(d Deps, module string) base {
	if d.Settings.BatchSize <= 0 {
		d.Settings.BatchSize = common.DefaultBatchSize
	}
	if d.Settings.Resolver.Dir == "" {
		d.Settings.Resolver = nsc.DefaultResolver()
	}
	return base{
		db:          d.DB,
		repomanager: d.Repos,
		stores:      d.Stores,
		scheduler:   d.Scheduler,
		metrics:     d.Metrics,
		settings:    d.Settings,
		logger:      logging.ForModule(d.Logger, module),
	}
}

// openStore returns the operator record and its credential store. The store
// must have been initialized.
func (b *base) openStore(ctx context.Context) (*models.Operator, CredentialStore, error) {
	op, err := b.repomanager.Operators(b.db).Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading operator settings: %w", err)
	}
	if !op.Initialized {
		return nil, nil, fmt.Errorf("credential store: %w", common.ErrorNotInitialized)
	}
	return op, b.stores(op.StoreDirectory, op.Name), nil
}

func (b *base) schedule(ctx context.Context, task, dedupKey string) {
	if b.scheduler == nil {
		return
	}
	if err := b.scheduler.Schedule(task, dedupKey, timeNow()); err != nil {
		b.logger.Warn(ctx, "failed to schedule task", "task", task, "error", err)
	}
}
