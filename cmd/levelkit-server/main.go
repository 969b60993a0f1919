package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx, app); err != nil {
		slog.Error("server failed", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	cfg := app.Config
	app.Logger.Info("starting levelkit server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"exact_levels", cfg.Leveling.ExactLevels)

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		app.Logger.Info("listening", "server", name, "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("api", app.Server)
	if app.MetricsServer != nil {
		go serve("metrics", app.MetricsServer.Server)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	app.Logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if app.MetricsServer != nil {
		errs = append(errs, app.MetricsServer.Shutdown(shutdownCtx))
	}
	errs = append(errs, app.Server.Shutdown(shutdownCtx))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	app.Logger.Info("server stopped")
	return nil
}
