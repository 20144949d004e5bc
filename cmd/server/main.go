/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the labor cost server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + LABORCOST_* environment)
  2. Build the logger and metrics registry
  3. Load the pay policy
  4. Open the store (sqlite or postgres)
  5. Wire the entry service, bulk controller and rate book
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    Overrides server.port
  -db      Overrides database.path (sqlite); ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/laborcost/api"
	"github.com/warp/laborcost/config"
	"github.com/warp/laborcost/factory"
	"github.com/warp/laborcost/labor"
	"github.com/warp/laborcost/obs"
	"github.com/warp/laborcost/store/pg"
	"github.com/warp/laborcost/store/sqlite"
)

// closableStore is a labor.Store backed by a database handle.
type closableStore interface {
	labor.Store
	Close() error
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "laborcost: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int, dbPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}

	logger, err := obs.NewLogger(obs.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	policy, err := factory.NewPayPolicyFactory().LoadFile(cfg.Core.PayPolicyPath)
	if err != nil {
		return err
	}
	logger.Info("pay policy loaded",
		zap.String("name", policy.Name),
		zap.String("overtime_mode", string(policy.OvertimeMode)),
		zap.String("overtime_multiplier", policy.OvertimeMultiplier.String()))

	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	authz := authorizer(cfg.Auth, logger, metrics)
	entries := labor.NewEntryService(labor.ServiceConfig{
		Store:      store,
		Policy:     policy,
		Authorizer: authz,
		Logger:     logger,
		Metrics:    metrics,
		TxTimeout:  cfg.Core.TxTimeout,
	})
	bulk := labor.NewBulkController(entries)
	rates := labor.NewRateBook(store, authz)

	handler := api.NewHandler(store, entries, bulk, rates, logger)
	var limiter *api.RateLimiter
	if cfg.API.RateLimitPerSecond > 0 {
		limiter = api.NewRateLimiter(cfg.API.RateLimitPerSecond, cfg.API.RateLimitBurst)
	}
	router := api.NewRouter(handler, api.RouterOptions{Metrics: metrics, Limiter: limiter})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig) (closableStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := pg.Open(cfg.DSN, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return sqlite.New(cfg.Path)
	}
}

// authorizer grants everything when no user roles are configured. A static
// table is wrapped in a FallbackAuthorizer that denies on error.
func authorizer(cfg config.AuthConfig, logger *zap.Logger, metrics labor.Metrics) labor.Authorizer {
	if len(cfg.UserRoles) == 0 {
		logger.Warn("no auth.user_roles configured; every actor holds every permission")
		return labor.AllowAll{}
	}
	return &labor.FallbackAuthorizer{
		Primary:  &labor.StaticAuthorizer{UserRoles: cfg.UserRoles, RolePerms: labor.DefaultRolePermissions()},
		Fallback: denyAll{},
		Logger:   logger,
		Metrics:  metrics,
	}
}

type denyAll struct{}

func (denyAll) Allowed(context.Context, string, labor.Permission) (bool, error) { return false, nil }
