// Package server wires the Gatekeeper components together and runs the
// HTTP and gRPC transports plus the ledger purger until shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/rest"
	"github.com/dmitrijs2005/gatekeeper/internal/server/retention"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/gatekeeper/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	repos    repomanager.RepositoryManager
	users    *services.UserService
	sessions *services.SessionService
	gate     *services.Gate
	purger   *retention.Purger
}

// seams for tests
var (
	newLogger = func(c *config.Config) logging.Logger {
		return logging.NewJSONLogger(os.Stdout, c.LogLevel)
	}
	openPostgres = func(ctx context.Context, dsn string) (repomanager.RepositoryManager, error) {
		return repomanager.OpenPostgres(ctx, dsn)
	}
)

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(c)
	if c.UsesDefaultSecret() {
		logger.Warn(ctx, "signing tokens with the built-in development secret key")
	}

	repos, err := openRepositories(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	archiver, err := newArchiver(ctx, c)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	users := services.NewUserService(repos, c, logger)
	issuer := services.NewTokenIssuer(c, logger)
	gate := services.NewGate(repos.Tokens(), c, logger)
	sessions := services.NewSessionService(repos, users, issuer, gate, c, logger)

	return &App{
		config:   c,
		logger:   logger,
		repos:    repos,
		users:    users,
		sessions: sessions,
		gate:     gate,
		purger:   retention.NewPurger(repos.Tokens(), archiver, c, logger),
	}, nil
}

func openRepositories(ctx context.Context, c *config.Config, logger logging.Logger) (repomanager.RepositoryManager, error) {
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, using in-memory ledger")
		return repomanager.NewMemoryRepositoryManager(), nil
	}

	repos, err := openPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return repos, nil
}

func newArchiver(ctx context.Context, c *config.Config) (retention.Archiver, error) {
	if c.S3Bucket == "" {
		return nil, nil
	}
	client, err := retention.NewS3Client(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return retention.NewS3Archiver(client, c.S3Bucket), nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			app.logger.Info(ctx, "Received signal", "signal", sig.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves until ctx is canceled, a signal arrives or a component fails.
// The first failure stops the others.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(ctx, cancelFunc)

	httpServer := rest.NewServer(app.config.EndpointAddrHTTP, app.logger, app.users, app.sessions, app.gate)
	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.users, app.sessions, app.gate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Run(gctx) })
	g.Go(func() error { return grpcServer.Run(gctx) })
	g.Go(func() error { return app.purger.Run(gctx) })

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped", "error", err)
	}

	if cerr := app.repos.Close(); cerr != nil {
		app.logger.Error(ctx, "close repositories", "error", cerr)
	}

	app.logger.Info(ctx, "App stopped")
	return err
}
