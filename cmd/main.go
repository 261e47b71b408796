package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/equity/internal/adapters/http/api"
	"github.com/okian/equity/internal/adapters/http/swagger"
	service "github.com/okian/equity/internal/app"
	"github.com/okian/equity/internal/config"
	"github.com/okian/equity/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	os.Exit(start())
}

// start loads configuration and logging, then runs until a signal arrives.
// It returns the process exit code.
func start() int {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithLevel(cfg.LogLevel)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "equity stopped with error", logger.Error(err))
		return 1
	}
	return 0
}

// run starts the service and HTTP server and blocks until ctx is cancelled
// or the server fails.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get().Named("main")

	svc := newService(cfg)
	if err := svc.Start(serviceContext(ctx)); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info(ctx, "server stopped")
	return nil
}

func newService(cfg *config.Config) *service.Service {
	return service.New(
		service.WithLogger(logger.Get().Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithMaxAuditEntities(cfg.MaxAuditEntities),
		service.WithNameMerging(cfg.MergeNames),
	)
}

func newHandler(ctx context.Context, svc *service.Service, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithMaxListLimit(cfg.MaxListLimit),
		api.WithServerLogger(logger.Get().Named("http")),
	).Register(mux)
	return mux
}

// serviceContext keeps the parent's values but drops its cancellation.
// The workers end in Stop, after the queue drains.
func serviceContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
