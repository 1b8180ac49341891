// Package lnd wraps the gRPC API of the hub's single LND node.
//
// The rest of the codebase depends on NodeClient, never on lnrpc types:
// every RPC response is mapped into an explicit result struct here, and a
// response missing a field the hub relies on is reported as
// ErrMalformedResponse instead of leaking zero values upward.
//
//	┌──────────┐     ┌───────────────┐     ┌────────────┐
//	│ api/jobs │────▶│ payment, ...  │────▶│ NodeClient │ (interface)
//	└──────────┘     └───────────────┘     └─────┬──────┘
//	                                             │ gRPC + TLS + macaroon
//	                                       ┌─────▼──────┐
//	                                       │  LND node  │
//	                                       └────────────┘
package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"lnhub/pkg/logger"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

var ErrMalformedResponse = errors.New("lnd: malformed response")

type Config struct {
	GRPCHost              string
	GRPCPort              string
	TLSCertPath           string
	MacaroonPath          string
	Network               string // "mainnet", "testnet", "signet", "regtest", "simnet"
	PaymentTimeoutSeconds int
	AddressType           string // "p2wkh", "np2wkh" or "p2tr"
}

// NodeClient is everything the hub asks of its Lightning node.
type NodeClient interface {
	// Invoices
	AddInvoice(ctx context.Context, req AddInvoiceRequest) (*AddInvoiceResult, error)
	DecodePayReq(ctx context.Context, payReq string) (*PayReq, error)
	LookupInvoice(ctx context.Context, paymentHash string) (*InvoiceState, error)
	ListInvoices(ctx context.Context, maxInvoices uint64, reversed bool) ([]InvoiceState, error)
	// SubscribeInvoices blocks, calling fn for every settled invoice, until
	// ctx is cancelled or the stream breaks.
	SubscribeInvoices(ctx context.Context, fn func(InvoiceState) error) error

	// Payments
	// SendPayment dispatches a payment and returns a channel that yields
	// exactly one PaymentResult and is then closed. An error return means
	// the node never accepted the payment.
	SendPayment(ctx context.Context, req SendPaymentRequest) (<-chan PaymentResult, error)
	SendToRouteSync(ctx context.Context, paymentHash []byte, route *lnrpc.Route) (*PaymentResult, error)
	QueryRoutes(ctx context.Context, req QueryRoutesRequest) ([]Route, error)
	ListPayments(ctx context.Context, includeIncomplete bool) ([]Payment, error)

	// Node and chain
	GetInfo(ctx context.Context) (*NodeInfo, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	NewAddress(ctx context.Context) (string, error)
	GetTransactions(ctx context.Context) ([]OnChainTx, error)
	DescribeGraph(ctx context.Context) (*Graph, error)

	Close() error
}

// macaroonCredential attaches the hex macaroon to every RPC as LND expects.
type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

type Client struct {
	conn         *grpc.ClientConn
	lnClient     lnrpc.LightningClient
	routerClient routerrpc.RouterClient
	cfg          Config
}

var _ NodeClient = (*Client)(nil)

// loadMacaroon reads and parses a macaroon file, returning its hex encoding.
func loadMacaroon(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read macaroon file %s: %w", path, err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("invalid macaroon %s: %w", path, err)
	}

	bin, err := mac.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to re-encode macaroon: %w", err)
	}
	return hex.EncodeToString(bin), nil
}

// NewClient dials LND and checks the connection with GetInfo.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	mac, err := loadMacaroon(cfg.MacaroonPath)
	if err != nil {
		return nil, err
	}

	url := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(url,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macaroonCredential{macaroon: mac}),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(50*1024*1024)),
	)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		lnClient:     lnrpc.NewLightningClient(conn),
		routerClient: routerrpc.NewRouterClient(conn),
		cfg:          cfg,
	}

	info, err := c.GetInfo(context.Background())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to LND (is it running? wallet unlocked?): %w", err)
	}

	logger.Info("LND connected",
		zap.String("alias", info.Alias),
		zap.String("pubkey", info.IdentityPubkey),
		zap.Uint32("block_height", info.BlockHeight),
		zap.Bool("synced_to_chain", info.SyncedToChain),
	)
	if !info.SyncedToChain {
		logger.Warn("LND is not synced to chain, payments may fail until sync completes")
	}

	return c, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
