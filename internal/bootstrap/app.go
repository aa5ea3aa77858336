// Package bootstrap wires application startup and lifecycle
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"risk_engine/internal/config"
	"risk_engine/internal/core"
	"risk_engine/internal/logging"

	"golang.org/x/sync/errgroup"
)

// App holds the core dependencies built at startup
type App struct {
	Cfg    *config.Config
	Logger core.ILogger
}

// NewApp loads configuration and builds the base dependencies
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context) error

// Run calls the wrapped function
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run orchestrates the application lifecycle, including signal handling.
// It blocks until every runner returns or a termination signal arrives.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name)

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Logger.Error("Application stopped with error", "error", err.Error())
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}
