// Command locked_payments reconciles payment reservations left behind when
// the node gave no verdict, then exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"lnhub/config"
	"lnhub/internal/hub"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadHub(config.HubPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	svc, err := hub.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start services", zap.Error(err))
	}
	defer svc.Close()

	report, err := svc.Sweeper.SweepLockedPayments(ctx)
	if err != nil {
		logger.Error("Locked payment sweep failed", zap.Error(err))
		svc.Close()
		os.Exit(1)
	}
	if report.Errors > 0 {
		svc.Close()
		os.Exit(2)
	}
}
