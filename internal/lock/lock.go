// Package lock implements coarse advisory locks on top of the KV store's
// set-if-absent primitive.
//
// A lock is a key holding the unix time it was taken. It expires after TTL so
// a crashed holder cannot block the resource forever. There is no queueing:
// a caller that fails to obtain a lock treats the operation as already in
// progress.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lnhub/pkg/kvstore"
	"lnhub/pkg/logger"

	"go.uber.org/zap"
)

const TTL = 5 * time.Minute

var ErrLockHeld = errors.New("lock is held by another operation")

// PayingFor names the per-user payment slot.
func PayingFor(userID string) string {
	return "invoice_paying_for_" + userID
}

// SettlingInvoice names the slot a payer holds while settling one of the
// hub's own invoices, so two payers cannot both pay it.
func SettlingInvoice(paymentHash string) string {
	return "settling_invoice_" + paymentHash
}

// GeneratingAddressFor names the per-user address generation slot.
func GeneratingAddressFor(userID string) string {
	return "generating_address_" + userID
}

type Locker struct {
	store kvstore.Store
	now   func() time.Time
}

func New(store kvstore.Store) *Locker {
	return &Locker{store: store, now: time.Now}
}

// Obtain takes the lock named key. It returns false, without error, when the
// lock is already held.
func (l *Locker) Obtain(ctx context.Context, key string) (bool, error) {
	value := strconv.FormatInt(l.now().Unix(), 10)
	ok, err := l.store.SetNX(ctx, key, value, TTL)
	if err != nil {
		return false, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	if !ok {
		logger.Debug("Lock already held", zap.String("key", key))
	}
	return ok, nil
}

// Release drops the lock unconditionally.
func (l *Locker) Release(ctx context.Context, key string) error {
	if _, err := l.store.Delete(ctx, key); err != nil {
		logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// With runs fn while holding key, returning ErrLockHeld if it is taken. The
// lock is released on every exit path, including a panic in fn.
func (l *Locker) With(ctx context.Context, key string, fn func() error) error {
	ok, err := l.Obtain(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx), key)
	}()
	return fn()
}
