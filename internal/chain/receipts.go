package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lnhub/internal/bitcoind"
	"lnhub/internal/lnd"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

const (
	// MinConfirmations is the depth at which a deposit counts toward balance.
	MinConfirmations = 3

	listingKey = "listtransactions"
	ListingTTL = 5 * time.Minute
)

// Receipt is an incoming on-chain payment to one of the hub's addresses.
type Receipt struct {
	TxID          string `json:"txid"`
	Address       string `json:"address"`
	AmountSat     int64  `json:"amount_sat"`
	Confirmations int64  `json:"confirmations"`
	Time          int64  `json:"time"`
}

func (r Receipt) Confirmed() bool {
	return r.Confirmations >= MinConfirmations
}

// Source lists every receipt the hub's wallet knows about.
type Source interface {
	Receipts(ctx context.Context) ([]Receipt, error)
}

// BitcoindSource reads the watch-only wallet of a Bitcoin Core node.
type BitcoindSource struct {
	client bitcoind.ChainClient
}

func NewBitcoindSource(client bitcoind.ChainClient) *BitcoindSource {
	return &BitcoindSource{client: client}
}

func (s *BitcoindSource) Receipts(ctx context.Context) ([]Receipt, error) {
	txs, err := s.client.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Receipt, 0, len(txs))
	for _, tx := range txs {
		if tx.Category != "receive" || tx.AmountSat <= 0 {
			continue
		}
		out = append(out, Receipt{
			TxID:          tx.TxID,
			Address:       tx.Address,
			AmountSat:     tx.AmountSat,
			Confirmations: tx.Confirmations,
			Time:          tx.Time,
		})
	}
	return out, nil
}

// LNDSource reads the LND on-chain wallet. One receipt is produced per output
// paying an address of ours.
type LNDSource struct {
	node lnd.NodeClient
}

func NewLNDSource(node lnd.NodeClient) *LNDSource {
	return &LNDSource{node: node}
}

func (s *LNDSource) Receipts(ctx context.Context) ([]Receipt, error) {
	txs, err := s.node.GetTransactions(ctx)
	if err != nil {
		return nil, err
	}

	var out []Receipt
	for _, tx := range txs {
		for _, o := range tx.Outputs {
			if o.Amount <= 0 {
				continue
			}
			out = append(out, Receipt{
				TxID:          tx.TxHash,
				Address:       o.Address,
				AmountSat:     o.Amount,
				Confirmations: int64(tx.NumConfirmations),
				Time:          tx.TimeStamp,
			})
		}
	}
	return out, nil
}

// CachedSource shares one listing across all processes through the KV store.
type CachedSource struct {
	src   Source
	store kvstore.Store
	ttl   time.Duration
}

func NewCachedSource(src Source, store kvstore.Store) *CachedSource {
	return &CachedSource{src: src, store: store, ttl: ListingTTL}
}

func (c *CachedSource) Receipts(ctx context.Context) ([]Receipt, error) {
	cached, err := c.store.Get(ctx, listingKey)
	if err != nil {
		logger.Warn("Receipt cache read failed, querying node", zap.Error(err))
	} else if cached != "" {
		var out []Receipt
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return out, nil
		}
		logger.Warn("Discarding corrupt receipt cache", zap.Error(err))
	}

	out, err := c.src.Receipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list on-chain receipts: %w", err)
	}

	data, err := json.Marshal(out)
	if err == nil {
		if err := c.store.Set(ctx, listingKey, string(data), c.ttl); err != nil {
			logger.Warn("Failed to cache receipts", zap.Error(err))
		}
	}
	return out, nil
}

// ForAddress splits the receipts paying addr into confirmed and pending.
func ForAddress(receipts []Receipt, addr string) (confirmed, pending []Receipt) {
	if addr == "" {
		return nil, nil
	}
	for _, r := range receipts {
		if r.Address != addr {
			continue
		}
		if r.Confirmed() {
			confirmed = append(confirmed, r)
		} else {
			pending = append(pending, r)
		}
	}
	return confirmed, pending
}
