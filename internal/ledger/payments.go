// Package ledger records what each user has spent and has in flight, and
// derives the user's balance from it.
//
// Keys:
//
//	txs_for_<userId>              list of JSON Transactions, append-only
//	locked_payments_for_<userId>  list of JSON LockedPayments
//	balance_for_<userId>          cached balance, 30 minutes
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lnhub/internal/lnd"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

type TxType string

const (
	PaidInvoice TxType = "paid_invoice"
	BitcoindTx  TxType = "bitcoind_tx"
	Faucet      TxType = "faucet"
)

const lockedPrefix = "locked_payments_for_"

// Transaction is a resolved outgoing payment or a credit. Once written it is
// never modified.
type Transaction struct {
	Type        TxType `json:"type"`
	Value       int64  `json:"value"`
	Fee         int64  `json:"fee"`
	Timestamp   int64  `json:"timestamp"`
	Memo        string `json:"memo"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Preimage    string `json:"payment_preimage,omitempty"`
	PayReq      string `json:"pay_req,omitempty"`

	// Route is set for payments routed by the node. Value and Fee are then
	// derived from it when the transaction is read.
	Route *lnd.Route `json:"payment_route,omitempty"`

	// On-chain receipts only.
	TxID          string `json:"txid,omitempty"`
	Address       string `json:"address,omitempty"`
	Confirmations int64  `json:"confirmations,omitempty"`
}

// Normalize fills Value and Fee from the route. When the route amount has a
// sub-satoshi remainder, one extra satoshi is charged.
func (t Transaction) Normalize() Transaction {
	r := t.Route
	if r == nil {
		return t
	}
	t.Fee = r.TotalFees
	t.Value = r.TotalFees + r.TotalAmt
	if r.TotalAmtMsat != 0 && r.TotalAmtMsat != r.TotalAmt*1000 {
		t.Value = r.TotalFees + max(r.TotalAmtMsat/1000, r.TotalAmt) + 1
	}
	return t
}

// Signed is the transaction's effect on balance.
func (t Transaction) Signed() int64 {
	switch t.Type {
	case PaidInvoice:
		return -t.Value
	case Faucet:
		return t.Value
	default:
		return 0
	}
}

// LockedPayment reserves funds for a payment whose outcome is not known yet.
type LockedPayment struct {
	PaymentRequest string `json:"pay_req"`
	Amount         int64  `json:"amount"`
	Timestamp      int64  `json:"timestamp"`
}

// KindInvoiceSettled marks journal entries that credit a payee.
const KindInvoiceSettled = "invoice_settled"

// JournalEntry is the audit record of a ledger write.
type JournalEntry struct {
	UserID      string
	Kind        string
	PaymentHash string
	AmountSat   int64
	FeeSat      int64
	Memo        string
	CreatedAt   time.Time
}

// Journal receives a copy of every ledger write. It is an audit trail only.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}

// Payments stores each user's transactions and reservations in the KV store.
type Payments struct {
	store   kvstore.Store
	journal Journal
	now     func() time.Time
}

// NewPayments returns a Payments backed by store, with no journal.
func NewPayments(store kvstore.Store) *Payments {
	return &Payments{store: store, now: time.Now}
}

// WithJournal mirrors writes into j.
func (p *Payments) WithJournal(j Journal) *Payments {
	p.journal = j
	return p
}

func txsKey(userID string) string    { return "txs_for_" + userID }
func lockedKey(userID string) string { return lockedPrefix + userID }

// Record writes entry to the journal, if any. Failures are logged only.
func (p *Payments) Record(ctx context.Context, entry JournalEntry) {
	if p.journal == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.now().UTC()
	}
	if err := p.journal.Append(ctx, entry); err != nil {
		logger.Error("Failed to append ledger journal entry",
			zap.String("user_id", entry.UserID),
			zap.String("kind", entry.Kind),
			zap.Error(err),
		)
	}
}

func (p *Payments) AddTransaction(ctx context.Context, userID string, tx Transaction) error {
	if tx.Timestamp == 0 {
		tx.Timestamp = p.now().Unix()
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if _, err := p.store.RPush(ctx, txsKey(userID), string(data)); err != nil {
		return fmt.Errorf("failed to save transaction for %s: %w", userID, err)
	}

	n := tx.Normalize()
	p.Record(ctx, JournalEntry{
		UserID:      userID,
		Kind:        string(tx.Type),
		PaymentHash: tx.PaymentHash,
		AmountSat:   n.Signed(),
		FeeSat:      n.Fee,
		Memo:        tx.Memo,
	})
	return nil
}

// Transactions returns the user's transactions, normalized, oldest first.
func (p *Payments) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	raw, err := p.store.LRange(ctx, txsKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions for %s: %w", userID, err)
	}

	out := make([]Transaction, 0, len(raw))
	for _, item := range raw {
		var tx Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			logger.Warn("Skipping corrupt transaction", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, tx.Normalize())
	}
	return out, nil
}

// LockFunds reserves amount for the payment of payReq.
func (p *Payments) LockFunds(ctx context.Context, userID, payReq string, amount int64) error {
	data, err := json.Marshal(LockedPayment{
		PaymentRequest: payReq,
		Amount:         amount,
		Timestamp:      p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode locked payment: %w", err)
	}
	if _, err := p.store.RPush(ctx, lockedKey(userID), string(data)); err != nil {
		return fmt.Errorf("failed to lock funds for %s: %w", userID, err)
	}
	return nil
}

// UnlockFunds drops every reservation for payReq. The list is read, deleted
// and written back without the entry since the store has no remove-by-value.
func (p *Payments) UnlockFunds(ctx context.Context, userID, payReq string) error {
	key := lockedKey(userID)
	raw, err := p.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to read locked payments for %s: %w", userID, err)
	}

	keep := make([]string, 0, len(raw))
	for _, item := range raw {
		var lp LockedPayment
		if err := json.Unmarshal([]byte(item), &lp); err == nil && lp.PaymentRequest == payReq {
			continue
		}
		keep = append(keep, item)
	}
	if len(keep) == len(raw) {
		return nil
	}

	if _, err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to unlock funds for %s: %w", userID, err)
	}
	if len(keep) > 0 {
		if _, err := p.store.RPush(ctx, key, keep...); err != nil {
			return fmt.Errorf("failed to rewrite locked payments for %s: %w", userID, err)
		}
	}
	return nil
}

func (p *Payments) LockedPayments(ctx context.Context, userID string) ([]LockedPayment, error) {
	raw, err := p.store.LRange(ctx, lockedKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read locked payments for %s: %w", userID, err)
	}

	out := make([]LockedPayment, 0, len(raw))
	for _, item := range raw {
		var lp LockedPayment
		if err := json.Unmarshal([]byte(item), &lp); err != nil {
			logger.Warn("Skipping corrupt locked payment", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, lp)
	}
	return out, nil
}

// UsersWithLockedPayments lists every user that has a locked payment list.
func (p *Payments) UsersWithLockedPayments(ctx context.Context) ([]string, error) {
	keys, err := p.store.Scan(ctx, lockedPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan locked payments: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, lockedPrefix))
	}
	return users, nil
}
