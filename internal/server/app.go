// Package server wires storage, keys, services and transports together and
// runs them until the process is asked to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth/keystore"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/events"
	"github.com/dmitrijs2005/tenantguard/internal/server/geo"
	gs "github.com/dmitrijs2005/tenantguard/internal/server/grpc"
	"github.com/dmitrijs2005/tenantguard/internal/server/metrics"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	bus     *events.Bus
	metrics *metrics.Metrics
	grpc    *gs.Server

	Auth   *services.AuthService
	Access *services.AccessService
}

// NewKeySource picks the key store named by the config.
func NewKeySource(ctx context.Context, c *config.Config) (keystore.Source, error) {
	switch c.KeySource {
	case config.KeySourceFile, "":
		return keystore.NewFileSource(c.PrivateKeyPath, c.PublicKeyPath), nil
	case config.KeySourceS3:
		src, err := keystore.NewS3Source(ctx, keystore.S3Settings{
			Region:     c.S3Region,
			AccessKey:  c.S3RootUser,
			SecretKey:  c.S3RootPassword,
			Endpoint:   c.S3BaseEndpoint,
			Bucket:     c.S3Bucket,
			PrivateKey: c.S3PrivateKeyName,
			PublicKey:  c.S3PublicKeyName,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown key source %q", c.KeySource)
	}
}

// NewGeoResolver loads the CIDR table, or returns geo.Nop when none is set.
func NewGeoResolver(c *config.Config) (geo.Resolver, error) {
	if c.GeoDatabasePath == "" {
		return geo.Nop{}, nil
	}
	t, err := geo.LoadTable(c.GeoDatabasePath)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewApp builds the application on top of an open database. Keys are
// loaded once; failure to load them is fatal.
func NewApp(ctx context.Context, c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, keys keystore.Source, logger logging.Logger) (*App, error) {
	pair, err := keys.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("key load error: %w", err)
	}
	signer, err := auth.NewSigner(pair.Private, pair.Public)
	if err != nil {
		return nil, fmt.Errorf("signer init error: %w", err)
	}

	resolver, err := NewGeoResolver(c)
	if err != nil {
		return nil, fmt.Errorf("geo init error: %w", err)
	}

	m := metrics.New()
	bus := events.NewBus(logger, c.EventBufferSize)
	bus.Subscribe(events.LogHandler(logger))
	bus.Subscribe(m.EventHandler())

	as := services.NewAuthService(db, rm, signer, c, logger,
		services.WithGeo(resolver),
		services.WithEvents(bus),
		services.WithMetrics(m),
	)
	acs := services.NewAccessService(db, rm, as, c, logger, m)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		bus:     bus,
		metrics: m,
		grpc:    gs.NewServer(c.EndpointAddrGRPC, logger, as, acs, c.LoginRatePerSecond, c.LoginBurst),
		Auth:    as,
		Access:  acs,
	}, nil
}

// Bootstrap opens the database, runs migrations and builds the App. Logs go
// to stdout.
func Bootstrap(ctx context.Context, c *config.Config) (*App, error) {
	return BootstrapWithLogger(ctx, c, logging.NewJSONLogger(os.Stdout, c.LogLevel))
}

func BootstrapWithLogger(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	keys, err := NewKeySource(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("key source error: %w", err)
	}

	app, err := NewApp(ctx, c, db, rm, keys, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// Close releases the database. Run does this itself on the way out.
func (app *App) Close() error {
	return app.db.Close()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if app.config.MetricsAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           app.metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.bus.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
