// Command purge runs a single retention sweep and exits. It is meant for
// cron-style schedulers that cannot call the internal sweep endpoint.
package main

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"intakehub/internal/app"
	"intakehub/internal/platform/config"
	"intakehub/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(false).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Debug).With("command", "purge")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		log.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	res, err := a.Purger.Sweep(ctx, time.Now())
	if err != nil {
		log.Error("retention sweep failed", "error", err)
		a.Close(context.Background())
		os.Exit(1)
	}
	log.Info("retention sweep complete", "purged", res.Purged, "failed", res.Failed, "by_reason", res.ByReason)
}
