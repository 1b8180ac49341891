// Command unpaid_invoices marks invoices the node settled but the ledger
// missed, then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"lnhub/config"
	"lnhub/internal/hub"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	maxInvoices := flag.Uint64("max", 50000, "number of most recent node invoices to inspect")
	flag.Parse()

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

	if _, err := svc.Sweeper.SweepUnpaidInvoices(ctx, *maxInvoices); err != nil {
		logger.Error("Unpaid invoice sweep failed", zap.Error(err))
		svc.Close()
		os.Exit(1)
	}
}
