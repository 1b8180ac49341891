// Package bitcoind talks to Bitcoin Core over JSON-RPC. The hub uses it only
// as a watch-only view of user deposit addresses.
package bitcoind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lnhub/pkg/logger"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"go.uber.org/zap"
)

// listTransactionsCount is large enough to return the whole watch-only history.
const listTransactionsCount = 100500

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
}

// ChainClient is the part of bitcoind the hub consumes.
type ChainClient interface {
	ListTransactions(ctx context.Context) ([]WalletTx, error)
	ImportAddress(ctx context.Context, address string, rescan bool) error
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
	GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error)
	Close()
}

// WalletTx is one listtransactions entry, amounts in satoshis.
type WalletTx struct {
	TxID          string
	Address       string
	Category      string
	AmountSat     int64
	Confirmations int64
	Time          int64
}

type AddressInfo struct {
	Address     string   `json:"address"`
	IsMine      bool     `json:"ismine"`
	IsWatchOnly bool     `json:"iswatchonly"`
	Solvable    bool     `json:"solvable"`
	Labels      []string `json:"labels"`
}

type BlockchainInfo struct {
	Chain                string
	Blocks               int32
	Headers              int32
	VerificationProgress float64
	InitialBlockDownload bool
}

// rpc is the subset of *rpcclient.Client used here.
type rpc interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error)
	ImportAddressRescan(address string, account string, rescan bool) error
	Shutdown()
}

type Client struct {
	rpc rpc
}

var _ ChainClient = (*Client)(nil)

// NewClient connects in HTTP POST mode, the only mode Bitcoin Core supports.
func NewClient(cfg Config) (*Client, error) {
	conn, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host + ":" + cfg.Port,
		User:         cfg.User,
		Pass:         cfg.Password,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create bitcoind client: %w", err)
	}

	c := &Client{rpc: conn}
	info, err := c.GetBlockchainInfo(context.Background())
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("failed to reach bitcoind at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("bitcoind connected",
		zap.String("chain", info.Chain),
		zap.Int32("blocks", info.Blocks),
		zap.Bool("initial_block_download", info.InitialBlockDownload),
	)
	return c, nil
}

func (c *Client) Close() {
	c.rpc.Shutdown()
}

func rawParams(params ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ListTransactions returns the wallet history including watch-only addresses.
func (c *Client) ListTransactions(ctx context.Context) ([]WalletTx, error) {
	params, err := rawParams("*", listTransactionsCount, 0, true)
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc.RawRequest("listtransactions", params)
	if err != nil {
		return nil, fmt.Errorf("bitcoind listtransactions: %w", err)
	}

	var entries []btcjson.ListTransactionsResult
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("bitcoind listtransactions: decode: %w", err)
	}

	txs := make([]WalletTx, 0, len(entries))
	for _, e := range entries {
		amt, err := btcutil.NewAmount(e.Amount)
		if err != nil {
			logger.Warn("Skipping listtransactions entry with invalid amount", zap.String("txid", e.TxID), zap.Error(err))
			continue
		}
		txs = append(txs, WalletTx{
			TxID:          e.TxID,
			Address:       e.Address,
			Category:      e.Category,
			AmountSat:     int64(amt),
			Confirmations: e.Confirmations,
			Time:          e.Time,
		})
	}
	return txs, nil
}

// ImportAddress adds address to the wallet as watch-only.
func (c *Client) ImportAddress(ctx context.Context, address string, rescan bool) error {
	if err := c.rpc.ImportAddressRescan(address, "", rescan); err != nil {
		return fmt.Errorf("bitcoind importaddress %s: %w", address, err)
	}
	return nil
}

func (c *Client) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	params, err := rawParams(address)
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc.RawRequest("getaddressinfo", params)
	if err != nil {
		return nil, fmt.Errorf("bitcoind getaddressinfo: %w", err)
	}

	info := &AddressInfo{}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("bitcoind getaddressinfo: decode: %w", err)
	}
	if info.Address == "" {
		return nil, errors.New("bitcoind getaddressinfo: response without address")
	}
	return info, nil
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	res, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return nil, fmt.Errorf("bitcoind getblockchaininfo: %w", err)
	}
	return &BlockchainInfo{
		Chain:                res.Chain,
		Blocks:               res.Blocks,
		Headers:              res.Headers,
		VerificationProgress: res.VerificationProgress,
		InitialBlockDownload: res.InitialBlockDownload,
	}, nil
}
