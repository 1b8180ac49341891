// Package reconcile cross-checks the hub's ledger against the node's own
// payment and invoice history. Sweeps run as batch jobs; each user and each
// invoice is processed independently so one failure does not stop the rest.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lnhub/internal/bolt11"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/lock"
	"lnhub/pkg/logger"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

const (
	StaleLockAge    = 24 * time.Hour
	InvoiceLookback = 14 * 24 * time.Hour
)

type Sweeper struct {
	locker   *lock.Locker
	node     lnd.NodeClient
	engine   *ledger.Engine
	invoices *invoices.Ledger
	net      *chaincfg.Params
	hubFee   float64
	now      func() time.Time
}

func NewSweeper(locker *lock.Locker, node lnd.NodeClient, engine *ledger.Engine, inv *invoices.Ledger, net *chaincfg.Params, intraHubFee float64) *Sweeper {
	return &Sweeper{
		locker:   locker,
		node:     node,
		engine:   engine,
		invoices: inv,
		net:      net,
		hubFee:   intraHubFee,
		now:      time.Now,
	}
}

// LockedReport summarizes one locked-payment sweep.
type LockedReport struct {
	Users    int
	Resolved int
	Evicted  int
	Kept     int
	Busy     int
	Errors   int
}

// SweepLockedPayments settles or evicts reservations the live path left
// behind. A reservation whose payment appears as succeeded in the node's
// history is recorded as paid, unless the live path already recorded it; one
// older than StaleLockAge with no success on record is dropped, which returns
// the funds. Users with a payment in flight are left for the next run.
func (s *Sweeper) SweepLockedPayments(ctx context.Context) (*LockedReport, error) {
	history, err := s.node.ListPayments(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list node payments: %w", err)
	}
	succeeded := make(map[string]lnd.Payment, len(history))
	for _, p := range history {
		if p.Status == lnd.PaymentSucceeded {
			succeeded[p.PaymentHash] = p
		}
	}

	payments := s.engine.Payments()
	users, err := payments.UsersWithLockedPayments(ctx)
	if err != nil {
		return nil, err
	}

	report := &LockedReport{Users: len(users)}
	for _, userID := range users {
		err := s.locker.With(ctx, lock.PayingFor(userID), func() error {
			return s.sweepUser(ctx, userID, succeeded, report)
		})
		if errors.Is(err, lock.ErrLockHeld) {
			report.Busy++
			logger.Info("Skipping user with a payment in flight", zap.String("user_id", userID))
			continue
		}
		if err != nil {
			report.Errors++
			logger.Error("Locked payment sweep failed for user", zap.String("user_id", userID), zap.Error(err))
		}
	}

	logger.Info("Locked payment sweep finished",
		zap.Int("users", report.Users),
		zap.Int("resolved", report.Resolved),
		zap.Int("evicted", report.Evicted),
		zap.Int("kept", report.Kept),
		zap.Int("busy", report.Busy),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (s *Sweeper) sweepUser(ctx context.Context, userID string, succeeded map[string]lnd.Payment, report *LockedReport) error {
	payments := s.engine.Payments()
	locked, err := payments.LockedPayments(ctx, userID)
	if err != nil {
		return err
	}
	recorded, err := s.recordedPayments(ctx, userID)
	if err != nil {
		return err
	}

	for _, lp := range locked {
		decoded, err := bolt11.Decode(lp.PaymentRequest, s.net)
		if err != nil {
			// Undecodable reservations can never be matched; let them age out.
			logger.Warn("Undecodable locked payment", zap.String("user_id", userID), zap.Error(err))
			if s.stale(lp) {
				if err := s.release(ctx, userID, lp); err != nil {
					return err
				}
				report.Evicted++
			} else {
				report.Kept++
			}
			continue
		}

		if paid, ok := succeeded[decoded.PaymentHash]; ok {
			if recorded[decoded.PaymentHash] {
				logger.Info("Releasing reservation for payment already on record",
					zap.String("user_id", userID),
					zap.String("payment_hash", decoded.PaymentHash),
				)
			} else {
				if err := s.recordPaid(ctx, userID, lp, decoded, paid); err != nil {
					return err
				}
				recorded[decoded.PaymentHash] = true
			}
			if err := s.release(ctx, userID, lp); err != nil {
				return err
			}
			report.Resolved++
			continue
		}

		if s.stale(lp) {
			logger.Info("Evicting stale locked payment",
				zap.String("user_id", userID),
				zap.String("payment_hash", decoded.PaymentHash),
				zap.Int64("amount", lp.Amount),
			)
			if err := s.release(ctx, userID, lp); err != nil {
				return err
			}
			report.Evicted++
			continue
		}
		report.Kept++
	}
	return nil
}

// recordedPayments returns the payment hashes of the user's paid invoices.
func (s *Sweeper) recordedPayments(ctx context.Context, userID string) (map[string]bool, error) {
	txs, err := s.engine.Payments().Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.Type == ledger.PaidInvoice && tx.PaymentHash != "" {
			out[tx.PaymentHash] = true
		}
	}
	return out, nil
}

func (s *Sweeper) stale(lp ledger.LockedPayment) bool {
	return s.now().Sub(time.Unix(lp.Timestamp, 0)) > StaleLockAge
}

func (s *Sweeper) recordPaid(ctx context.Context, userID string, lp ledger.LockedPayment, decoded *bolt11.Invoice, paid lnd.Payment) error {
	route := paid.Route
	if route == nil {
		route = &lnd.Route{TotalAmt: paid.ValueSat, TotalFees: paid.FeeSat}
	} else {
		r := *route
		route = &r
	}
	route.TotalFees += int64(math.Floor(float64(route.TotalAmt) * s.hubFee))

	return s.engine.Payments().AddTransaction(ctx, userID, ledger.Transaction{
		Type:        ledger.PaidInvoice,
		Timestamp:   paid.CreationTimeNs / int64(time.Second),
		Memo:        decoded.Description,
		PaymentHash: decoded.PaymentHash,
		Preimage:    paid.Preimage,
		PayReq:      lp.PaymentRequest,
		Route:       route,
	})
}

func (s *Sweeper) release(ctx context.Context, userID string, lp ledger.LockedPayment) error {
	if err := s.engine.Payments().UnlockFunds(ctx, userID, lp.PaymentRequest); err != nil {
		return err
	}
	return s.engine.ClearCache(ctx, userID)
}

// InvoiceReport summarizes one unpaid-invoice sweep.
type InvoiceReport struct {
	Scanned int
	Marked  int
	Errors  int
}

// SweepUnpaidInvoices marks every settled node invoice from the lookback
// window as paid. Invoices already marked are skipped.
func (s *Sweeper) SweepUnpaidInvoices(ctx context.Context, maxInvoices uint64) (*InvoiceReport, error) {
	list, err := s.node.ListInvoices(ctx, maxInvoices, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list node invoices: %w", err)
	}

	cutoff := s.now().Add(-InvoiceLookback).Unix()
	report := &InvoiceReport{}
	for _, inv := range list {
		if !inv.Settled || inv.CreationDate < cutoff {
			continue
		}
		report.Scanned++

		marked, err := s.markSettled(ctx, inv)
		if err != nil {
			report.Errors++
			logger.Error("Failed to reconcile invoice", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
			continue
		}
		if marked {
			report.Marked++
		}
	}

	logger.Info("Unpaid invoice sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("marked", report.Marked),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (s *Sweeper) markSettled(ctx context.Context, inv lnd.InvoiceState) (bool, error) {
	already, err := s.invoices.IsPaid(ctx, inv.PaymentHash)
	if err != nil {
		return false, err
	}
	if already > 0 {
		return false, nil
	}

	if err := s.invoices.MarkPaid(ctx, inv.PaymentHash, inv.PaidSat()); err != nil {
		return false, err
	}

	owner, err := s.invoices.OwnerOf(ctx, inv.PaymentHash)
	if err != nil {
		// Not a user invoice (e.g. created directly on the node).
		return true, nil
	}
	if err := s.engine.ClearCache(ctx, owner); err != nil {
		logger.Warn("Failed to clear balance cache", zap.String("user_id", owner), zap.Error(err))
	}
	s.engine.Payments().Record(ctx, ledger.JournalEntry{
		UserID:      owner,
		Kind:        ledger.KindInvoiceSettled,
		PaymentHash: inv.PaymentHash,
		AmountSat:   inv.PaidSat(),
		Memo:        inv.Memo,
	})
	return true, nil
}
