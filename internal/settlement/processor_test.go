package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lnhub/internal/chain"
	"lnhub/internal/crypto"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/queue"
	"lnhub/internal/testutil"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noAddresses struct{}

func (noAddresses) Address(context.Context, string) (string, error) { return "", nil }

type noReceipts struct{}

func (noReceipts) Receipts(context.Context) ([]chain.Receipt, error) { return nil, nil }

type memJournal struct {
	mu      sync.Mutex
	entries []ledger.JournalEntry
}

func (j *memJournal) Append(_ context.Context, e ledger.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

type chanPublisher struct {
	msgs chan queue.InvoiceSettledMessage
	err  error
}

func (p *chanPublisher) InvoiceSettled(_ context.Context, msg queue.InvoiceSettledMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs <- msg
	return nil
}

type fixture struct {
	store    *testutil.MemoryStore
	node     *testutil.FakeNode
	invoices *invoices.Ledger
	engine   *ledger.Engine
	journal  *memJournal
	proc     *Processor
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
		journal: &memJournal{},
	}
	f.invoices = invoices.NewLedger(f.store, f.node, sealer, net, invoices.NewPaidCache(100, time.Minute))
	payments := ledger.NewPayments(f.store).WithJournal(f.journal)
	f.engine = ledger.NewEngine(f.store, f.invoices, payments, noReceipts{}, noAddresses{}, 0.01)
	f.proc = NewProcessor(f.invoices, f.engine)
	return f
}

func (f *fixture) issue(t *testing.T, userID string, amt int64) *invoices.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.invoices.Create(ctx, amt, "settle me")
	require.NoError(t, err)
	require.NoError(t, f.invoices.RecordUserInvoice(ctx, inv, userID))
	return inv
}

func settledMsg(hash string, amt int64) []byte {
	msg := queue.InvoiceSettledMessage{PaymentHash: hash, AmtPaidSat: amt, SettledAt: time.Now().Unix()}
	data, _ := msg.ToJSON()
	return data
}

func TestHandle_CreditsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "alice", 700)

	bal, err := f.engine.Cached(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	require.NoError(t, f.proc.Handle(ctx, "1-0", settledMsg(inv.PaymentHash, 700)))

	paid, err := f.invoices.IsPaid(ctx, inv.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, int64(700), paid)

	bal, err = f.engine.Cached(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal, "the stale cached balance is cleared")

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, ledger.KindInvoiceSettled, f.journal.entries[0].Kind)
	assert.Equal(t, "alice", f.journal.entries[0].UserID)
	assert.Equal(t, int64(700), f.journal.entries[0].AmountSat)
}

func TestHandle_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "alice", 700)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.proc.Handle(ctx, "1-0", settledMsg(inv.PaymentHash, 700)))
	}

	bal, err := f.engine.Calculate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal)
	assert.Len(t, f.journal.entries, 1)
}

func TestHandle_DropsUnknownAndMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.proc.Handle(ctx, "1-0", []byte(`{not json`)))
	assert.NoError(t, f.proc.Handle(ctx, "1-1", settledMsg("abc", 5)))
	assert.NoError(t, f.proc.Handle(ctx, "1-2", settledMsg(strings.Repeat("cd", 32), 5)))
	assert.Empty(t, f.journal.entries)

	paid, err := f.invoices.IsPaid(ctx, strings.Repeat("cd", 32))
	require.NoError(t, err)
	assert.Zero(t, paid)
}

func TestHandle_StoreErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "alice", 700)

	f.store.Fail = func(op, key string) error {
		if op == "Set" && strings.HasPrefix(key, "ispaid_") {
			return errors.New("READONLY")
		}
		return nil
	}
	assert.Error(t, f.proc.Handle(ctx, "1-0", settledMsg(inv.PaymentHash, 700)))

	f.store.Fail = nil
	require.NoError(t, f.proc.Handle(ctx, "1-0", settledMsg(inv.PaymentHash, 700)))
	paid, err := f.invoices.IsPaid(ctx, inv.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, int64(700), paid)
}

func TestOnLiveCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.invoices.OnSettle(f.proc.OnLiveCheck)
	inv := f.issue(t, "alice", 300)

	_, err := f.engine.Cached(ctx, "alice")
	require.NoError(t, err)
	f.node.Settle(inv.PaymentHash, 300)

	list, err := f.invoices.ListUserInvoices(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPaid)

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, int64(300), f.journal.entries[0].AmountSat)
	bal, err := f.engine.Cached(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)
}

func TestWatcher_PublishesSettledInvoices(t *testing.T) {
	f := newFixture(t)
	paidInv := f.issue(t, "alice", 100)
	f.issue(t, "alice", 200)
	f.node.Settle(paidInv.PaymentHash, 100)

	pub := &chanPublisher{msgs: make(chan queue.InvoiceSettledMessage, 4)}
	w := NewWatcher(f.node, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case msg := <-pub.msgs:
		assert.Equal(t, paidInv.PaymentHash, msg.PaymentHash)
		assert.Equal(t, int64(100), msg.AmtPaidSat)
		assert.NotZero(t, msg.SettledAt)
		assert.Len(t, msg.Preimage, 64)
	case <-time.After(2 * time.Second):
		t.Fatal("no settlement published")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, pub.msgs, "unsettled invoices are not published")
}

func TestWatcher_ResubscribesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.node.Errors["SubscribeInvoices"] = errors.New("stream reset")
	w := NewWatcher(f.node, &chanPublisher{msgs: make(chan queue.InvoiceSettledMessage, 1)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return f.node.Calls("SubscribeInvoices") >= 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}
