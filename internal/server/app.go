// Package server wires the natskeeper components together: the record
// store, the credential store driver, the services, the background
// scheduler and the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/natskeeper/internal/broker"
	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/filex"
	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/dmitrijs2005/natskeeper/internal/server/config"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/dmitrijs2005/natskeeper/internal/server/publish"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/natskeeper/internal/server/scheduler"
	"github.com/dmitrijs2005/natskeeper/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	registry  *prometheus.Registry
	scheduler *scheduler.Scheduler

	Operators *services.OperatorService
	Accounts  *services.AccountService
	Users     *services.UserService
}

// Option adjusts how NewApp builds the App.
type Option func(*options)

type options struct {
	logOutput io.Writer
	stores    services.StoreFactory
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithStoreFactory replaces the credential store driver factory.
func WithStoreFactory(f services.StoreFactory) Option {
	return func(o *options) { o.stores = f }
}

// NewApp opens and migrates the record store and builds the services.
func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.New(o.logOutput, c.LogFormat, c.LogLevel)

	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	repos := repomanager.NewSQLRepositoryManager(c.DatabaseDriver)
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	sched := scheduler.New(scheduler.Options{Interval: c.SyncInterval, Timeout: c.JobTimeout}, m, logger)

	stores := o.stores
	if stores == nil {
		stores = services.NewDriverFactory(nsc.NewExecRunner(c.NSCBinary), logger)
	}
	deps := services.Deps{
		DB:        db,
		Repos:     repos,
		Stores:    stores,
		Scheduler: sched,
		Metrics:   m,
		Settings:  services.Settings{BatchSize: c.BatchSize, Resolver: c.Resolver()},
		Logger:    logger,
	}

	app := &App{
		config:    c,
		logger:    logger,
		db:        db,
		registry:  registry,
		scheduler: sched,
		Operators: services.NewOperatorService(deps),
		Accounts:  services.NewAccountService(deps),
		Users:     services.NewUserService(deps),
	}
	app.registerJobs()
	return app, nil
}

func (app *App) registerJobs() {
	app.scheduler.Register(common.JobSyncAccounts, batchJob(app.Accounts.SyncAccounts), true)
	app.scheduler.Register(common.JobProcessRevokeRequest, batchJob(app.Users.ProcessRevokeRequests), true)
	app.scheduler.Register(common.JobProcessRevertRequest, batchJob(app.Users.ProcessRevertRequests), true)
	app.scheduler.Register(common.JobSyncInfo, func(ctx context.Context) error {
		_, err := app.Operators.RefreshIdentity(ctx)
		return err
	}, false)
}

// batchJob adapts a reconciliation pass to a scheduler job. Passes are
// skipped until the store is initialized.
func batchJob(pass func(context.Context) (services.BatchResult, error)) scheduler.JobFunc {
	return func(ctx context.Context) error {
		_, err := pass(ctx)
		if errors.Is(err, common.ErrorNotInitialized) {
			return nil
		}
		return err
	}
}

func (app *App) Logger() logging.Logger { return app.logger }

func (app *App) Close() error {
	return app.db.Close()
}

// ApplySettings writes the operator settings from the configuration to the
// operator record.
// The store directory is created if missing.
func (app *App) ApplySettings(ctx context.Context) (*models.Operator, error) {
	storeDir, err := filex.EnsureDir(app.config.StoreDirectory)
	if err != nil {
		return nil, fmt.Errorf("store directory: %w", err)
	}
	return app.Operators.Update(ctx, &models.Operator{
		Name:           app.config.OperatorName,
		Host:           app.config.BrokerHost,
		Port:           app.config.BrokerPort,
		StoreDirectory: storeDir,
	})
}

// Broker connects to the broker as the operator-named admin user.
func (app *App) Broker(ctx context.Context) (*broker.Client, error) {
	op, err := app.Operators.Get(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := app.Operators.AdminCredentialPath(ctx)
	if err != nil {
		return nil, err
	}
	return broker.Dial(ctx, op.AccountServerURL(), creds, app.logger)
}

// PublishServerConfig renders the broker configuration and uploads it to
// the configured bucket. It returns a presigned download link.
func (app *App) PublishServerConfig(ctx context.Context) (string, error) {
	serverConfig, err := app.Operators.ServerConfig(ctx)
	if err != nil {
		return "", err
	}
	p, err := publish.New(ctx, publish.Options{
		Bucket:       app.config.S3Bucket,
		Key:          app.config.S3Key,
		Region:       app.config.S3Region,
		BaseEndpoint: app.config.S3BaseEndpoint,
		AccessKey:    app.config.S3AccessKey,
		SecretKey:    app.config.S3SecretKey,
	})
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, serverConfig)
}

// Run starts the scheduler and the metrics endpoint and blocks until ctx is
// done or SIGINT/SIGTERM/SIGQUIT arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.scheduler.Run(ctx)
	})
	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return app.serveMetrics(ctx)
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "app stopped")
	return err
}

func (app *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		app.registry,
		promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
	))
	server := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "exporting prometheus metrics", "addr", app.config.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving prometheus metrics: %w", err)
	}
	return nil
}
