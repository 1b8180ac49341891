package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lnhub/internal/chain"
	"lnhub/internal/crypto"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/lock"
	"lnhub/internal/testutil"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noAddresses struct{}

func (noAddresses) Address(context.Context, string) (string, error) { return "", nil }

type noReceipts struct{}

func (noReceipts) Receipts(context.Context) ([]chain.Receipt, error) { return nil, nil }

type fixture struct {
	sweeper  *Sweeper
	store    *testutil.MemoryStore
	node     *testutil.FakeNode
	invoices *invoices.Ledger
	engine   *ledger.Engine
	locker   *lock.Locker
	foreign  *testutil.InvoiceFactory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := &chaincfg.RegressionNetParams
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)

	f := &fixture{
		store:   testutil.NewMemoryStore(),
		node:    testutil.NewFakeNode(net),
		foreign: testutil.NewInvoiceFactory(net),
	}
	f.invoices = invoices.NewLedger(f.store, f.node, sealer, net, invoices.NewPaidCache(100, time.Minute))
	f.engine = ledger.NewEngine(f.store, f.invoices, ledger.NewPayments(f.store), noReceipts{}, noAddresses{}, 0.01)
	f.locker = lock.New(f.store)
	f.sweeper = NewSweeper(f.locker, f.node, f.engine, f.invoices, net, 0.003)
	return f
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.engine.Calculate(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestSweepLockedPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	require.NoError(t, p.AddTransaction(ctx, "alice", ledger.Transaction{Type: ledger.Faucet, Value: 10000}))

	paidPR, paidHash := f.foreign.MustInvoice(1000, "paid")
	stalePR, _ := f.foreign.MustInvoice(2000, "stale")
	freshPR, _ := f.foreign.MustInvoice(3000, "fresh")

	require.NoError(t, p.LockFunds(ctx, "alice", paidPR, 1000))
	staleAt := time.Now().Add(-25 * time.Hour).Unix()
	_, err := f.store.RPush(ctx, "locked_payments_for_alice",
		fmt.Sprintf(`{"pay_req":%q,"amount":2000,"timestamp":%d}`, stalePR, staleAt))
	require.NoError(t, err)
	require.NoError(t, p.LockFunds(ctx, "alice", freshPR, 3000))
	// 10000 - 1010 - 2020 - 3030
	assert.Equal(t, int64(3940), f.balance(t, "alice"))

	f.node.Payments = []lnd.Payment{{
		PaymentHash:    paidHash,
		Status:         lnd.PaymentSucceeded,
		Preimage:       "ff",
		CreationTimeNs: time.Now().UnixNano(),
		Route:          &lnd.Route{TotalAmt: 1000, TotalAmtMsat: 1_000_000, TotalFees: 2},
	}}

	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Users)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Evicted)
	assert.Equal(t, 1, report.Kept)
	assert.Zero(t, report.Errors)

	locked, err := p.LockedPayments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, freshPR, locked[0].PaymentRequest)

	// 10000 - (1000 + 2 routing + 3 hub fee) - 3030 still reserved
	assert.Equal(t, int64(5965), f.balance(t, "alice"))

	txs, err := p.Transactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, paidHash, txs[1].PaymentHash)
	assert.Equal(t, "paid", txs[1].Memo)
}

func TestSweepLockedPayments_AlreadyRecordedReleasesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	require.NoError(t, p.AddTransaction(ctx, "alice", ledger.Transaction{Type: ledger.Faucet, Value: 5000}))

	pr, hash := f.foreign.MustInvoice(1000, "leaked")
	route := &lnd.Route{TotalAmt: 1000, TotalAmtMsat: 1_000_000, TotalFees: 5}
	// The live path recorded the payment but failed to drop the reservation.
	require.NoError(t, p.LockFunds(ctx, "alice", pr, 1000))
	require.NoError(t, p.AddTransaction(ctx, "alice", ledger.Transaction{
		Type:        ledger.PaidInvoice,
		Timestamp:   time.Now().Unix(),
		Memo:        "leaked",
		PaymentHash: hash,
		PayReq:      pr,
		Route:       route,
	}))
	assert.Equal(t, int64(5000-1005-1010), f.balance(t, "alice"))

	f.node.Payments = []lnd.Payment{{
		PaymentHash:    hash,
		Status:         lnd.PaymentSucceeded,
		CreationTimeNs: time.Now().UnixNano(),
		Route:          &lnd.Route{TotalAmt: 1000, TotalAmtMsat: 1_000_000, TotalFees: 2},
	}}

	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Zero(t, report.Errors)

	txs, err := p.Transactions(ctx, "alice")
	require.NoError(t, err)
	paid := 0
	for _, tx := range txs {
		if tx.Type == ledger.PaidInvoice {
			paid++
		}
	}
	assert.Equal(t, 1, paid, "payment must be recorded once")

	locked, err := p.LockedPayments(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, locked)
	assert.Equal(t, int64(5000-1005), f.balance(t, "alice"))
}

func TestSweepLockedPayments_SkipsUserWithPaymentInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	pr, hash := f.foreign.MustInvoice(100, "in flight")
	require.NoError(t, p.LockFunds(ctx, "erin", pr, 100))
	f.node.Payments = []lnd.Payment{{PaymentHash: hash, Status: lnd.PaymentSucceeded, ValueSat: 100}}

	ok, err := f.locker.Obtain(ctx, lock.PayingFor("erin"))
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Busy)
	assert.Zero(t, report.Resolved)

	txs, err := p.Transactions(ctx, "erin")
	require.NoError(t, err)
	assert.Empty(t, txs)
	locked, err := p.LockedPayments(ctx, "erin")
	require.NoError(t, err)
	assert.Len(t, locked, 1)

	require.NoError(t, f.locker.Release(ctx, lock.PayingFor("erin")))
	report, err = f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
}

func TestSweepLockedPayments_KeepsRecentUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	pr, _ := f.foreign.MustInvoice(500, "pending")
	require.NoError(t, p.LockFunds(ctx, "bob", pr, 500))

	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kept)

	locked, err := p.LockedPayments(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, locked, 1)
}

func TestSweepLockedPayments_RunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	pr, hash := f.foreign.MustInvoice(100, "x")
	require.NoError(t, p.LockFunds(ctx, "carol", pr, 100))
	f.node.Payments = []lnd.Payment{{PaymentHash: hash, Status: lnd.PaymentSucceeded, ValueSat: 100}}

	_, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Users)
	assert.Equal(t, int64(-100), f.balance(t, "carol"))
}

func TestSweepLockedPayments_OneUserFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.engine.Payments()
	pr1, _ := f.foreign.MustInvoice(100, "a")
	pr2, _ := f.foreign.MustInvoice(100, "b")
	require.NoError(t, p.LockFunds(ctx, "broken", pr1, 100))
	require.NoError(t, p.LockFunds(ctx, "healthy", pr2, 100))

	f.store.Fail = func(op, key string) error {
		if op == "LRange" && key == "locked_payments_for_broken" {
			return errors.New("timeout")
		}
		return nil
	}
	f.sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	report, err := f.sweeper.SweepLockedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Evicted)
}

func TestSweepLockedPayments_NodeError(t *testing.T) {
	f := newFixture(t)
	f.node.Errors["ListPayments"] = errors.New("unavailable")
	_, err := f.sweeper.SweepLockedPayments(context.Background())
	assert.ErrorContains(t, err, "unavailable")
}

func TestSweepUnpaidInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recent, err := f.invoices.Create(ctx, 200, "recent")
	require.NoError(t, err)
	require.NoError(t, f.invoices.RecordUserInvoice(ctx, recent, "dave"))
	open, err := f.invoices.Create(ctx, 300, "open")
	require.NoError(t, err)
	require.NoError(t, f.invoices.RecordUserInvoice(ctx, open, "dave"))

	preimage, oldHash := testutil.RandomPreimage()
	oldPR, err := f.node.Identity.Invoice(50, "old", preimage, time.Now().Add(-15*24*time.Hour), time.Hour)
	require.NoError(t, err)
	f.node.AddForeignInvoice(lnd.InvoiceState{
		PaymentHash:    oldHash,
		PaymentRequest: oldPR,
		CreationDate:   time.Now().Add(-15 * 24 * time.Hour).Unix(),
	})

	f.node.Settle(recent.PaymentHash, 200)
	f.node.Settle(oldHash, 50)

	report, err := f.sweeper.SweepUnpaidInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Marked)

	amt, err := f.invoices.IsPaid(ctx, recent.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, int64(200), amt)

	amt, err = f.invoices.IsPaid(ctx, oldHash)
	require.NoError(t, err)
	assert.Zero(t, amt, "outside the two week window")

	// Second run is a no-op.
	report, err = f.sweeper.SweepUnpaidInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Marked)
}

func TestSweepUnpaidInvoices_NodeError(t *testing.T) {
	f := newFixture(t)
	f.node.Errors["ListInvoices"] = errors.New("unavailable")
	_, err := f.sweeper.SweepUnpaidInvoices(context.Background(), 0)
	assert.Error(t, err)
}
