package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/tenant-session-engine/internal/config"
	"github.com/sandeepkv93/tenant-session-engine/internal/health"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
)

// BackgroundWorker is a loop that runs until its context is cancelled.
type BackgroundWorker interface {
	Run(ctx context.Context) error
}

// Drainer waits for in-flight asynchronous work such as queued mail.
type Drainer interface {
	Wait()
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Pruner        BackgroundWorker
	Mail          Drainer
	Readiness     *health.ReadinessRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopBackground func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, pruner BackgroundWorker, mail Drainer, readiness *health.ReadinessRunner, stop func()) *App {
	if stop == nil {
		stop = func() {}
	}
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Pruner:                       pruner,
		Mail:                         mail,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackground:               stop,
	}
}

// Run serves HTTP and runs the pruner until ctx is cancelled or either fails,
// then shuts everything down in order: HTTP, mail, storage, telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.Pruner != nil {
		g.Go(func() error { return a.Pruner.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdownHTTP()
	})

	err := g.Wait()
	a.shutdownRest()
	return err
}

func (a *App) shutdownHTTP() error {
	timeout := a.ShutdownHTTPDrainTimeout
	if timeout <= 0 {
		timeout = a.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.Logger.Info("shutting down http server")
	if err := a.Server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) shutdownRest() {
	if a.Mail != nil {
		a.Mail.Wait()
	}
	a.StopBackgroundTasks()
	timeout := a.ShutdownObservabilityTimeout
	if timeout <= 0 {
		timeout = a.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Observability.Shutdown(ctx); err != nil {
		a.Logger.Warn("observability shutdown", "error", err)
	}
}

func (a *App) StopBackgroundTasks() {
	a.stopBackground()
}
