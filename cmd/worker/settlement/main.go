package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"lnhub/config"
	"lnhub/internal/hub"
	"lnhub/internal/queue"
	"lnhub/internal/settlement"
	"lnhub/pkg/logger"

	"github.com/google/uuid"
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

	logger.Info("Starting settlement worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := hub.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start services", zap.Error(err))
	}
	defer svc.Close()

	if err := svc.Streams.DeclareStream(ctx, queue.SettlementStream, queue.SettlementGroup); err != nil {
		logger.Fatal("Failed to declare settlement stream", zap.Error(err))
	}
	consumer := "settlement-" + uuid.NewString()[:8]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := settlement.NewWatcher(svc.Node, svc.Notifier).Run(ctx); err != nil {
			logger.Error("Invoice watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		err := svc.Streams.Consume(ctx, queue.SettlementStream, queue.SettlementGroup, consumer,
			func(messageID string, data []byte) error {
				return svc.Settlement.Handle(ctx, messageID, data)
			})
		if err != nil {
			logger.Error("Consumer error", zap.Error(err))
		}
	}()

	logger.Info("Settlement worker running", zap.String("consumer", consumer))
	<-ctx.Done()
	logger.Info("Shutting down settlement worker")
	wg.Wait()
}
