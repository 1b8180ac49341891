// Package settlement credits users for invoices the node reports as paid.
//
// A Watcher turns the node's invoice subscription into InvoiceSettled
// messages on the settlement stream; a Processor consumes them. Processing
// is idempotent, so replays and redeliveries are harmless.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/queue"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

// RetryDelay is how long the Watcher waits before resubscribing after the
// invoice stream breaks.
const RetryDelay = 5 * time.Second

type Processor struct {
	invoices *invoices.Ledger
	engine   *ledger.Engine
}

func NewProcessor(inv *invoices.Ledger, engine *ledger.Engine) *Processor {
	return &Processor{invoices: inv, engine: engine}
}

// Handle is a stream handler. Malformed messages and invoices the hub does
// not own are acknowledged and dropped; store failures are returned so the
// message is redelivered.
func (p *Processor) Handle(ctx context.Context, messageID string, data []byte) error {
	msg, err := queue.FromJSONInvoiceSettled(data)
	if err != nil {
		logger.Warn("Dropping malformed settlement message", zap.String("message_id", messageID), zap.Error(err))
		return nil
	}
	return p.Settle(ctx, *msg)
}

// Settle records msg against the invoice owner.
func (p *Processor) Settle(ctx context.Context, msg queue.InvoiceSettledMessage) error {
	owner, err := p.invoices.OwnerOf(ctx, msg.PaymentHash)
	if errors.Is(err, invoices.ErrInvoiceNotFound) {
		logger.Debug("Settled invoice has no hub owner", zap.String("payment_hash", msg.PaymentHash))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve owner of %s: %w", msg.PaymentHash, err)
	}

	paid, err := p.invoices.IsPaid(ctx, msg.PaymentHash)
	if err != nil {
		return err
	}
	if paid == 0 {
		if err := p.invoices.MarkPaid(ctx, msg.PaymentHash, msg.AmtPaidSat); err != nil {
			return err
		}
		p.journal(ctx, owner, msg.PaymentHash, msg.AmtPaidSat)
		logger.Info("Invoice settled",
			zap.String("user_id", owner),
			zap.String("payment_hash", msg.PaymentHash),
			zap.Int64("amt", msg.AmtPaidSat),
			zap.Bool("internal", msg.Internal),
		)
	}

	if err := p.engine.ClearCache(ctx, owner); err != nil {
		return err
	}
	return nil
}

// OnLiveCheck is an invoices.SettleHook: it completes the bookkeeping for
// invoices found paid while listing them.
func (p *Processor) OnLiveCheck(ctx context.Context, userID string, inv invoices.Invoice) {
	p.journal(ctx, userID, inv.PaymentHash, inv.AmountPaidSat)
	if err := p.engine.ClearCache(ctx, userID); err != nil {
		logger.Warn("Failed to clear balance cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (p *Processor) journal(ctx context.Context, userID, hash string, amt int64) {
	p.engine.Payments().Record(ctx, ledger.JournalEntry{
		UserID:      userID,
		Kind:        ledger.KindInvoiceSettled,
		PaymentHash: hash,
		AmountSat:   amt,
	})
}

// Publisher is where the Watcher sends settlement messages.
type Publisher interface {
	InvoiceSettled(ctx context.Context, msg queue.InvoiceSettledMessage) error
}

type Watcher struct {
	node lnd.NodeClient
	pub  Publisher
}

func NewWatcher(node lnd.NodeClient, pub Publisher) *Watcher {
	return &Watcher{node: node, pub: pub}
}

// Run follows the node's settled invoices until ctx is cancelled,
// resubscribing after RetryDelay whenever the stream breaks.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.node.SubscribeInvoices(ctx, func(inv lnd.InvoiceState) error {
			return w.publish(ctx, inv)
		})
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("Invoice subscription ended, resubscribing", zap.Duration("delay", RetryDelay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(RetryDelay):
		}
	}
}

func (w *Watcher) publish(ctx context.Context, inv lnd.InvoiceState) error {
	if !inv.Settled {
		return nil
	}
	settledAt := inv.SettleDate
	if settledAt == 0 {
		settledAt = time.Now().Unix()
	}
	msg := queue.InvoiceSettledMessage{
		PaymentHash: inv.PaymentHash,
		Preimage:    inv.Preimage,
		AmtPaidSat:  inv.PaidSat(),
		SettledAt:   settledAt,
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("Skipping settled invoice", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
		return nil
	}
	if err := w.pub.InvoiceSettled(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish settlement of %s: %w", inv.PaymentHash, err)
	}
	return nil
}
