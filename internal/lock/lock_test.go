package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"lnhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObtainRelease(t *testing.T) {
	store := testutil.NewMemoryStore()
	l := New(store)
	l.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	ok, err := l.Obtain(ctx, PayingFor("u1"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, _ := store.Get(ctx, "invoice_paying_for_u1")
	assert.Equal(t, "1700000000", v)
	assert.InDelta(t, TTL, store.TTL("invoice_paying_for_u1"), float64(time.Second))

	ok, err = l.Obtain(ctx, PayingFor("u1"))
	require.NoError(t, err)
	assert.False(t, ok, "second obtain must fail while held")

	ok, err = l.Obtain(ctx, PayingFor("u2"))
	require.NoError(t, err)
	assert.True(t, ok, "locks are per key")

	require.NoError(t, l.Release(ctx, PayingFor("u1")))
	ok, err = l.Obtain(ctx, PayingFor("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockSelfHeals(t *testing.T) {
	store := testutil.NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	ok, _ := l.Obtain(ctx, GeneratingAddressFor("u1"))
	require.True(t, ok)

	store.Advance(TTL)
	ok, err := l.Obtain(ctx, GeneratingAddressFor("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestObtain_StoreError(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Fail = func(op, _ string) error {
		if op == "SetNX" {
			return errors.New("connection reset")
		}
		return nil
	}

	ok, err := New(store).Obtain(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection reset")
}

func TestWith(t *testing.T) {
	store := testutil.NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	t.Run("releases after success and failure", func(t *testing.T) {
		require.NoError(t, l.With(ctx, "k", func() error { return nil }))
		assert.Equal(t, time.Duration(-2), store.TTL("k"))

		boom := errors.New("boom")
		assert.ErrorIs(t, l.With(ctx, "k", func() error { return boom }), boom)
		assert.Equal(t, time.Duration(-2), store.TTL("k"))
	})

	t.Run("releases after panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = l.With(ctx, "k", func() error { panic("bad") })
		})
		assert.Equal(t, time.Duration(-2), store.TTL("k"))
	})

	t.Run("held", func(t *testing.T) {
		ok, _ := l.Obtain(ctx, "k")
		require.True(t, ok)
		called := false
		err := l.With(ctx, "k", func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrLockHeld)
		assert.False(t, called)
		assert.NotEqual(t, time.Duration(-2), store.TTL("k"), "a failed With must not release someone else's lock")
	})
}
