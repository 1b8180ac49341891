// Package invoices keeps the record of BOLT11 invoices each user asked the
// node to issue, and whether each one has been paid.
//
// Keys:
//
//	userinvoices_for_<userId>   list of JSON records, append-only
//	payment_hash_<hash>         owner userId
//	ispaid_<hash>               settled amount in sat
//	preimage_for_<hash>         sealed preimage, 30 day TTL
package invoices

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lnhub/internal/bolt11"
	"lnhub/internal/crypto"
	"lnhub/internal/lnd"
	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lightningnetwork/lnd/lntypes"
	"go.uber.org/zap"
)

const (
	InvoiceExpiry  = 24 * time.Hour
	PreimageTTL    = 30 * 24 * time.Hour
	LiveCheckLimit = 5 * 24 * time.Hour

	// PaidCacheTTL bounds how long another process may keep serving a
	// memoized amount after MarkUnpaid.
	PaidCacheTTL = 10 * time.Minute
)

var (
	ErrNode            = errors.New("lightning node request failed")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

type Type string

const UserInvoice Type = "user_invoice"

// Record is what gets appended to a user's invoice list.
type Record struct {
	PaymentRequest string    `json:"payment_request"`
	PaymentHash    string    `json:"payment_hash"`
	AddIndex       uint64    `json:"add_index"`
	Type           Type      `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
}

// Invoice is a Record enriched with decoded and settlement details.
type Invoice struct {
	PaymentRequest     string `json:"payment_request"`
	PaymentHash        string `json:"payment_hash"`
	AddIndex           uint64 `json:"add_index"`
	Description        string `json:"description"`
	Amount             int64  `json:"amt"`
	AmountRequestedSat int64  `json:"-"`
	AmountPaidSat      int64  `json:"-"`
	IsPaid             bool   `json:"ispaid"`
	Timestamp          int64  `json:"timestamp"`
	ExpireTime         int64  `json:"expire_time"`
	Type               Type   `json:"type"`
}

// PaidCache memoizes settled amounts by payment hash. Only MarkUnpaid can
// make a positive entry stale; the TTL bounds that and memory.
type PaidCache interface {
	Get(paymentHash string) (int64, bool)
	Add(paymentHash string, amountSat int64) bool
	Remove(paymentHash string) bool
}

func NewPaidCache(size int, ttl time.Duration) PaidCache {
	return expirable.NewLRU[string, int64](size, nil, ttl)
}

// SettleHook is told when a read path discovers that an invoice settled.
type SettleHook func(ctx context.Context, userID string, inv Invoice)

type Ledger struct {
	store  kvstore.Store
	node   lnd.NodeClient
	sealer *crypto.Sealer
	net    *chaincfg.Params
	paid   PaidCache

	onSettle SettleHook
	now      func() time.Time
}

func NewLedger(store kvstore.Store, node lnd.NodeClient, sealer *crypto.Sealer, net *chaincfg.Params, paid PaidCache) *Ledger {
	return &Ledger{
		store:  store,
		node:   node,
		sealer: sealer,
		net:    net,
		paid:   paid,
		now:    time.Now,
	}
}

// OnSettle registers fn to run whenever a live check finds a newly paid invoice.
func (l *Ledger) OnSettle(fn SettleHook) {
	l.onSettle = fn
}

func userInvoicesKey(userID string) string { return "userinvoices_for_" + userID }
func ownerKey(hash string) string          { return "payment_hash_" + hash }
func paidKey(hash string) string           { return "ispaid_" + hash }
func preimageKey(hash string) string       { return "preimage_for_" + hash }

// Create asks the node for a new invoice backed by a fresh random preimage.
// The preimage is stored sealed under its payment hash so settlement can be
// proven later, independently of the invoice record.
func (l *Ledger) Create(ctx context.Context, amountSat int64, memo string) (*Invoice, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}
	preimage, err := lntypes.MakePreimage(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to generate preimage: %w", err)
	}
	hash := preimage.Hash().String()

	added, err := l.node.AddInvoice(ctx, lnd.AddInvoiceRequest{
		Memo:       memo,
		ValueSat:   amountSat,
		ExpirySecs: int64(InvoiceExpiry / time.Second),
		Preimage:   raw,
	})
	if err != nil {
		logger.Error("AddInvoice failed", zap.Int64("amt", amountSat), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNode, err)
	}
	if added.PaymentHash != "" && added.PaymentHash != hash {
		return nil, fmt.Errorf("%w: node returned payment hash %s for preimage hash %s", lnd.ErrMalformedResponse, added.PaymentHash, hash)
	}

	if err := l.SavePreimage(ctx, hash, preimage.String()); err != nil {
		return nil, err
	}

	inv := &Invoice{
		PaymentRequest:     added.PaymentRequest,
		PaymentHash:        hash,
		AddIndex:           added.AddIndex,
		Description:        memo,
		Amount:             amountSat,
		AmountRequestedSat: amountSat,
		Type:               UserInvoice,
	}
	if decoded, err := bolt11.Decode(added.PaymentRequest, l.net); err == nil {
		inv.Timestamp = decoded.Timestamp.Unix()
		inv.ExpireTime = int64(decoded.Expiry / time.Second)
	}
	return inv, nil
}

// SavePreimage seals and stores a hex preimage under its payment hash.
func (l *Ledger) SavePreimage(ctx context.Context, paymentHash, preimageHex string) error {
	sealed, err := l.sealer.Seal(preimageHex, paymentHash)
	if err != nil {
		return fmt.Errorf("failed to seal preimage: %w", err)
	}
	if err := l.store.Set(ctx, preimageKey(paymentHash), sealed, PreimageTTL); err != nil {
		return fmt.Errorf("failed to save preimage for %s: %w", paymentHash, err)
	}
	return nil
}

// Preimage returns the hex preimage for a payment hash, or "" if unknown.
func (l *Ledger) Preimage(ctx context.Context, paymentHash string) (string, error) {
	sealed, err := l.store.Get(ctx, preimageKey(paymentHash))
	if err != nil {
		return "", fmt.Errorf("failed to read preimage for %s: %w", paymentHash, err)
	}
	if sealed == "" {
		return "", nil
	}
	return l.sealer.Open(sealed, paymentHash)
}

// RecordUserInvoice appends inv to the user's list and indexes its hash back
// to the user.
func (l *Ledger) RecordUserInvoice(ctx context.Context, inv *Invoice, userID string) error {
	rec := Record{
		PaymentRequest: inv.PaymentRequest,
		PaymentHash:    inv.PaymentHash,
		AddIndex:       inv.AddIndex,
		Type:           UserInvoice,
		CreatedAt:      l.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode invoice record: %w", err)
	}

	if _, err := l.store.RPush(ctx, userInvoicesKey(userID), string(data)); err != nil {
		return fmt.Errorf("failed to record invoice for %s: %w", userID, err)
	}
	if err := l.store.Set(ctx, ownerKey(inv.PaymentHash), userID, 0); err != nil {
		return fmt.Errorf("failed to index payment hash %s: %w", inv.PaymentHash, err)
	}
	return nil
}

// OwnerOf resolves the user that issued the invoice with paymentHash.
func (l *Ledger) OwnerOf(ctx context.Context, paymentHash string) (string, error) {
	userID, err := l.store.Get(ctx, ownerKey(paymentHash))
	if err != nil {
		return "", fmt.Errorf("failed to look up owner of %s: %w", paymentHash, err)
	}
	if userID == "" {
		return "", ErrInvoiceNotFound
	}
	return userID, nil
}

// MarkPaid records the settled amount. Repeated calls overwrite.
func (l *Ledger) MarkPaid(ctx context.Context, paymentHash string, amountSat int64) error {
	if err := l.store.Set(ctx, paidKey(paymentHash), strconv.FormatInt(amountSat, 10), 0); err != nil {
		return fmt.Errorf("failed to mark %s paid: %w", paymentHash, err)
	}
	if amountSat > 0 {
		l.paid.Add(paymentHash, amountSat)
	}
	return nil
}

// MarkUnpaid clears the paid flag. Only this process's PaidCache is evicted;
// other processes see the change once their entry expires.
func (l *Ledger) MarkUnpaid(ctx context.Context, paymentHash string) error {
	if _, err := l.store.Delete(ctx, paidKey(paymentHash)); err != nil {
		return fmt.Errorf("failed to mark %s unpaid: %w", paymentHash, err)
	}
	l.paid.Remove(paymentHash)
	return nil
}

// IsPaid returns the settled amount for paymentHash, or 0 if unpaid.
func (l *Ledger) IsPaid(ctx context.Context, paymentHash string) (int64, error) {
	if amt, ok := l.paid.Get(paymentHash); ok {
		return amt, nil
	}

	val, err := l.store.Get(ctx, paidKey(paymentHash))
	if err != nil {
		return 0, fmt.Errorf("failed to read paid status of %s: %w", paymentHash, err)
	}
	if val == "" {
		return 0, nil
	}
	amt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt paid status for %s: %q", paymentHash, val)
	}
	if amt > 0 {
		l.paid.Add(paymentHash, amt)
	}
	return amt, nil
}

// Sync asks the node whether paymentHash settled and records it if so. It
// returns the settled amount, or 0.
func (l *Ledger) Sync(ctx context.Context, paymentHash string) (int64, error) {
	state, err := l.node.LookupInvoice(ctx, paymentHash)
	if err != nil {
		logger.Warn("LookupInvoice failed", zap.String("payment_hash", paymentHash), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrNode, err)
	}
	if !state.Settled {
		return 0, nil
	}

	amt := state.PaidSat()
	if err := l.MarkPaid(ctx, paymentHash, amt); err != nil {
		return 0, err
	}
	return amt, nil
}

// ListUserInvoices returns the user's invoices in creation order. A positive
// limit keeps only the most recent limit entries.
//
// Unpaid invoices younger than LiveCheckLimit are re-checked against the node;
// older unpaid ones are left for the reconciliation sweep.
func (l *Ledger) ListUserInvoices(ctx context.Context, userID string, limit int) ([]Invoice, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := l.store.LRange(ctx, userInvoicesKey(userID), start, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices for %s: %w", userID, err)
	}

	out := make([]Invoice, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			logger.Warn("Skipping corrupt invoice record", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		inv, err := l.enrich(ctx, userID, rec)
		if err != nil {
			return nil, err
		}
		if inv != nil {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (l *Ledger) enrich(ctx context.Context, userID string, rec Record) (*Invoice, error) {
	decoded, err := bolt11.Decode(rec.PaymentRequest, l.net)
	if err != nil {
		logger.Warn("Skipping undecodable invoice", zap.String("user_id", userID), zap.String("payment_hash", rec.PaymentHash), zap.Error(err))
		return nil, nil
	}

	inv := &Invoice{
		PaymentRequest:     rec.PaymentRequest,
		PaymentHash:        decoded.PaymentHash,
		AddIndex:           rec.AddIndex,
		Description:        decoded.Description,
		AmountRequestedSat: decoded.AmountSat,
		Timestamp:          decoded.Timestamp.Unix(),
		ExpireTime:         int64(decoded.Expiry / time.Second),
		Type:               UserInvoice,
	}

	paid, err := l.IsPaid(ctx, inv.PaymentHash)
	if err != nil {
		return nil, err
	}
	if paid == 0 && l.now().Sub(decoded.Timestamp) < LiveCheckLimit {
		paid, err = l.Sync(ctx, inv.PaymentHash)
		if err != nil {
			// The batch sweep will pick it up; report unpaid for now.
			paid = 0
		} else if paid > 0 && l.onSettle != nil {
			inv.IsPaid, inv.AmountPaidSat = true, paid
			l.onSettle(ctx, userID, *inv)
		}
	}

	inv.IsPaid = paid > 0
	inv.AmountPaidSat = paid
	inv.Amount = max(paid, decoded.AmountSat)
	return inv, nil
}
