package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lnhub/config"
	"lnhub/internal/api"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := hub.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start services", zap.Error(err))
	}
	defer svc.Close()
	svc.LogHealth(ctx)

	if cfg.Features.Faucet && cfg.IsProduction() {
		logger.Warn("Faucet is disabled in production")
	}
	srv := api.New(api.Config{
		BodyLimit: cfg.Server.BodyLimit,
		Faucet:    cfg.FaucetEnabled(),
		Sunset:    cfg.Features.Sunset,
	}, api.Deps{
		Users:    svc.Users,
		Invoices: svc.Invoices,
		Engine:   svc.Engine,
		Payments: svc.Workflow,
		Node:     svc.Node,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		logger.Error("HTTP server stopped", zap.Error(err))
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
}
