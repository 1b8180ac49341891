package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"lnhub/internal/chain"
	"lnhub/internal/invoices"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

const BalanceTTL = 1800 * time.Second

// InTransitMemo labels locked payments when listed with the user's history.
const InTransitMemo = "Payment in transition"

// AddressBook resolves a user's deposit address, "" if none was assigned.
type AddressBook interface {
	Address(ctx context.Context, userID string) (string, error)
}

// Engine computes balances. It is the single place where paid invoices,
// on-chain receipts, transactions and reservations are combined.
type Engine struct {
	store      kvstore.Store
	invoices   *invoices.Ledger
	payments   *Payments
	receipts   chain.Source
	addresses  AddressBook
	reserveFee float64
}

func NewEngine(store kvstore.Store, inv *invoices.Ledger, payments *Payments, receipts chain.Source, addresses AddressBook, reserveFee float64) *Engine {
	return &Engine{
		store:      store,
		invoices:   inv,
		payments:   payments,
		receipts:   receipts,
		addresses:  addresses,
		reserveFee: reserveFee,
	}
}

func balanceKey(userID string) string { return "balance_for_" + userID }

// Reserve is the fee reserved on top of amount while a payment is in flight.
func (e *Engine) Reserve(amount int64) int64 {
	return int64(math.Floor(float64(amount) * e.reserveFee))
}

// Payments exposes the underlying payment ledger.
func (e *Engine) Payments() *Payments {
	return e.payments
}

// Calculate computes the signed balance from scratch.
func (e *Engine) Calculate(ctx context.Context, userID string) (int64, error) {
	var balance int64

	invs, err := e.invoices.ListUserInvoices(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	for _, inv := range invs {
		if inv.IsPaid {
			balance += inv.Amount
		}
	}

	confirmed, _, err := e.receiptsFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, r := range confirmed {
		balance += r.AmountSat
	}

	txs, err := e.payments.Transactions(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, tx := range txs {
		balance += tx.Signed()
	}

	locked, err := e.payments.LockedPayments(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, lp := range locked {
		balance -= lp.Amount + e.Reserve(lp.Amount)
	}

	return balance, nil
}

func (e *Engine) receiptsFor(ctx context.Context, userID string) (confirmed, pending []chain.Receipt, err error) {
	addr, err := e.addresses.Address(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if addr == "" {
		return nil, nil, nil
	}
	all, err := e.receipts.Receipts(ctx)
	if err != nil {
		return nil, nil, err
	}
	confirmed, pending = chain.ForAddress(all, addr)
	return confirmed, pending, nil
}

// Cached returns the cached balance, computing and storing it on a miss.
func (e *Engine) Cached(ctx context.Context, userID string) (int64, error) {
	val, err := e.store.Get(ctx, balanceKey(userID))
	if err != nil {
		logger.Warn("Balance cache read failed", zap.String("user_id", userID), zap.Error(err))
	} else if val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, nil
		}
	}

	balance, err := e.Calculate(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := e.store.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), BalanceTTL); err != nil {
		logger.Warn("Failed to cache balance", zap.String("user_id", userID), zap.Error(err))
	}
	return balance, nil
}

// ClearCache must follow every write that changes a user's true balance.
func (e *Engine) ClearCache(ctx context.Context, userID string) error {
	if _, err := e.store.Delete(ctx, balanceKey(userID)); err != nil {
		return fmt.Errorf("failed to clear balance cache for %s: %w", userID, err)
	}
	return nil
}

// Available is the balance as shown to users, never negative.
func Available(balance int64) int64 {
	return max(balance, 0)
}

// History lists confirmed deposits, transactions and in-flight payments,
// ordered by timestamp.
func (e *Engine) History(ctx context.Context, userID string) ([]Transaction, error) {
	confirmed, _, err := e.receiptsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := e.payments.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := e.payments.LockedPayments(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(confirmed)+len(txs)+len(locked))
	for _, r := range confirmed {
		out = append(out, receiptTx(r))
	}
	out = append(out, txs...)
	for _, lp := range locked {
		fee := e.Reserve(lp.Amount)
		out = append(out, Transaction{
			Type:      PaidInvoice,
			Value:     lp.Amount + fee,
			Fee:       fee,
			Timestamp: lp.Timestamp,
			Memo:      InTransitMemo,
			PayReq:    lp.PaymentRequest,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Pending lists deposits that have not reached chain.MinConfirmations.
func (e *Engine) Pending(ctx context.Context, userID string) ([]Transaction, error) {
	_, pending, err := e.receiptsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(pending))
	for _, r := range pending {
		out = append(out, receiptTx(r))
	}
	return out, nil
}

func receiptTx(r chain.Receipt) Transaction {
	return Transaction{
		Type:          BitcoindTx,
		Value:         r.AmountSat,
		Timestamp:     r.Time,
		TxID:          r.TxID,
		Address:       r.Address,
		Confirmations: r.Confirmations,
	}
}
