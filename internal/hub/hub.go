// Package hub wires the hub's services from configuration. Every binary
// under cmd/ starts from Open.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lnhub/config"
	"lnhub/internal/bitcoind"
	"lnhub/internal/chain"
	"lnhub/internal/crypto"
	"lnhub/internal/database"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/lock"
	"lnhub/internal/payment"
	"lnhub/internal/queue"
	"lnhub/internal/reconcile"
	"lnhub/internal/settlement"
	"lnhub/internal/users"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"
	streams "lnhub/pkg/queue"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

const paidCacheSize = 10000

type Services struct {
	Config *config.HubConfig
	Net    *chaincfg.Params

	Redis    *kvstore.Redis
	Streams  *streams.StreamQueue
	Node     lnd.NodeClient
	Bitcoind *bitcoind.Client
	DB       *database.DB

	Locker     *lock.Locker
	Invoices   *invoices.Ledger
	Engine     *ledger.Engine
	Users      *users.Directory
	Notifier   *queue.Notifier
	Workflow   *payment.Workflow
	Settlement *settlement.Processor
	Sweeper    *reconcile.Sweeper

	// Identity is the node's pubkey, fetched at startup.
	Identity string
}

// Open connects to every backend named in cfg and builds the services.
// On error everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.HubConfig) (_ *Services, err error) {
	s := &Services{Config: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Net, err = chain.Params(cfg.LND.Network); err != nil {
		return nil, err
	}
	key, err := cfg.PreimageKey()
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, err
	}

	s.Redis, err = kvstore.NewRedis(kvstore.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.Streams = streams.NewStreamQueue(s.Redis.Client())

	node, err := lnd.NewClient(lnd.Config{
		GRPCHost:              cfg.LND.Host,
		GRPCPort:              cfg.LND.Port,
		TLSCertPath:           cfg.LND.TLSCertPath,
		MacaroonPath:          cfg.LND.MacaroonPath,
		Network:               cfg.LND.Network,
		PaymentTimeoutSeconds: cfg.LND.PaymentTimeout,
		AddressType:           cfg.LND.AddressType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lnd: %w", err)
	}
	s.Node = node

	var source chain.Source = chain.NewLNDSource(s.Node)
	if cfg.Bitcoind.Enabled {
		s.Bitcoind, err = bitcoind.NewClient(bitcoind.Config{
			Host:     cfg.Bitcoind.Host,
			Port:     cfg.Bitcoind.Port,
			User:     cfg.Bitcoind.User,
			Password: cfg.Bitcoind.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to bitcoind: %w", err)
		}
		source = chain.NewBitcoindSource(s.Bitcoind)
	}

	payments := ledger.NewPayments(s.Redis)
	if cfg.Database.Enabled {
		s.DB, err = database.NewDB(database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DB:              cfg.Database.DB,
			SslMode:         cfg.Database.SslMode,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			MigrationsPath:  cfg.Database.MigrationsPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err = s.DB.RunMigrations(); err != nil {
			return nil, err
		}
		payments.WithJournal(database.NewJournalRepository(s.DB))
	}

	s.Locker = lock.New(s.Redis)
	s.Invoices = invoices.NewLedger(s.Redis, s.Node, sealer, s.Net, invoices.NewPaidCache(paidCacheSize, invoices.PaidCacheTTL))
	s.Users = users.NewDirectory(s.Redis, s.Node, s.Locker, cfg.Security.BcryptCost)
	if s.Bitcoind != nil {
		s.Users.WithImporter(s.Bitcoind)
	}
	s.Engine = ledger.NewEngine(s.Redis, s.Invoices, payments, chain.NewCachedSource(source, s.Redis), s.Users, cfg.Fees.ForwardReserveFee)

	s.Settlement = settlement.NewProcessor(s.Invoices, s.Engine)
	s.Invoices.OnSettle(s.Settlement.OnLiveCheck)
	s.Notifier = queue.NewNotifier(s.Streams)

	info, err := s.Node.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node identity: %w", err)
	}
	s.Identity = info.IdentityPubkey

	s.Workflow = payment.NewWorkflow(s.Locker, s.Engine, s.Invoices, s.Node, s.Notifier, s.Identity, payment.Config{
		IntraHubFee: cfg.Fees.IntraHubFee,
		Timeout:     cfg.PaymentTimeout(),
	})
	s.Sweeper = reconcile.NewSweeper(s.Locker, s.Node, s.Engine, s.Invoices, s.Net, cfg.Fees.IntraHubFee)
	return s, nil
}

// LogHealth reports what the node looks like at startup.
func (s *Services) LogHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := s.Node.GetInfo(ctx)
	if err != nil {
		logger.Error("Node GetInfo failed", zap.Error(err))
		return
	}
	channels, err := s.Node.ListChannels(ctx)
	if err != nil {
		logger.Error("Node ListChannels failed", zap.Error(err))
	}
	logger.Info("Lightning node",
		zap.String("alias", info.Alias),
		zap.String("pubkey", info.IdentityPubkey),
		zap.Bool("synced_to_chain", info.SyncedToChain),
		zap.Bool("synced_to_graph", info.SyncedToGraph),
		zap.Uint32("block_height", info.BlockHeight),
		zap.Int("channels", len(channels)),
	)
	if !info.SyncedToChain {
		logger.Warn("Node is not synced to chain")
	}

	if s.Bitcoind != nil {
		chainInfo, err := s.Bitcoind.GetBlockchainInfo(ctx)
		if err != nil {
			logger.Error("bitcoind getblockchaininfo failed", zap.Error(err))
			return
		}
		logger.Info("bitcoind",
			zap.String("chain", chainInfo.Chain),
			zap.Int32("blocks", chainInfo.Blocks),
		)
	}
}

func (s *Services) Close() {
	var errs []error
	if s.Node != nil {
		errs = append(errs, s.Node.Close())
	}
	if s.Bitcoind != nil {
		s.Bitcoind.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("Errors while closing services", zap.Error(err))
	}
}
