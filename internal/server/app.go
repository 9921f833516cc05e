// Package server initializes and runs the application: database, background
// reconciliation, the recurring charge poller, and the HTTP endpoint for
// webhooks, health, and metrics.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/billing"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/config"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/monitor"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/provision"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/services"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry

	monitor  *monitor.Monitor
	payments *services.PaymentService
	router   *httpapi.Router
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewDefault()

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	client := provision.NewClient(cfg.NetworkTimeout)
	nodeService := services.NewNodeService(db, manager, client, logger)
	userService := services.NewUserService(db, manager, nodeService, client, logger, cfg.EmailDomain)

	processor := billing.NewClient(cfg.BillingEndpoint, cfg.BillingToken, cfg.NetworkTimeout)
	paymentService := services.NewPaymentService(db, manager, userService, processor, logger, cfg.ChargePollInterval)

	mon := monitor.New(userService, cfg.TickInterval, m, logger)
	router := httpapi.NewRouter(paymentService, registry, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		monitor:  mon,
		payments: paymentService,
		router:   router,
	}, nil
}

// openDB opens the pool and pings with backoff, so the server survives the
// database starting a few seconds later than it does.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(db.PingContext(ctx))
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	app.monitor.Start(ctx)
	app.payments.Start(ctx)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.router.Engine(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "http server failed", "err", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown error", "err", err)
	}

	app.monitor.Stop()
	app.payments.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "err", err)
	}
	app.logger.Info(context.Background(), "stopped")
}
