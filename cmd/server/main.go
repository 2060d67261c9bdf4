package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"intakehub/internal/app"
	"intakehub/internal/platform/config"
	"intakehub/internal/platform/httpserver"
	"intakehub/internal/platform/logger"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies through app.Build and owns the process lifecycle.
// Business logic lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(false).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(ctx, cfg, log, reg)
	if err != nil {
		log.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg.Addr, a.Router)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting intakehub", "addr", cfg.Addr, "debug", cfg.Debug)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.RunBackground(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(closeCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("server stopped with error", "error", runErr)
		os.Exit(1)
	}
}
