package bolt11_test

import (
	"strings"
	"testing"
	"time"

	"lnhub/internal/bolt11"
	"lnhub/internal/testutil"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTrip(t *testing.T) {
	f := testutil.NewInvoiceFactory(&chaincfg.RegressionNetParams)
	preimage, hash := testutil.RandomPreimage()
	created := time.Unix(1700000000, 0)

	for _, amt := range []int64{1, 200, 21_000_000} {
		pr, err := f.Invoice(amt, "x", preimage, created, time.Hour)
		require.NoError(t, err)

		inv, err := bolt11.Decode(pr, &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		assert.Equal(t, amt, inv.AmountSat)
		assert.Equal(t, amt*1000, inv.AmountMsat)
		assert.Equal(t, hash, inv.PaymentHash)
		assert.Equal(t, f.Pubkey(), inv.Destination)
		assert.Equal(t, "x", inv.Description)
		assert.Equal(t, created.Unix(), inv.Timestamp.Unix())
		assert.Equal(t, time.Hour, inv.Expiry)
	}
}

func TestDecode_ZeroAmount(t *testing.T) {
	f := testutil.NewInvoiceFactory(&chaincfg.RegressionNetParams)
	pr, _ := f.MustInvoice(0, "tip jar")

	inv, err := bolt11.Decode(pr, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Zero(t, inv.AmountSat)
	assert.Equal(t, "tip jar", inv.Description)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := bolt11.Decode("not an invoice", &chaincfg.RegressionNetParams)
	assert.ErrorIs(t, err, bolt11.ErrInvalid)

	f := testutil.NewInvoiceFactory(&chaincfg.MainNetParams)
	pr, _ := f.MustInvoice(10, "wrong net")
	_, err = bolt11.Decode(pr, &chaincfg.RegressionNetParams)
	assert.ErrorIs(t, err, bolt11.ErrInvalid)
}

func TestExpired(t *testing.T) {
	inv := &bolt11.Invoice{Timestamp: time.Unix(1000, 0), Expiry: time.Minute}
	assert.False(t, inv.Expired(time.Unix(1059, 0)))
	assert.True(t, inv.Expired(time.Unix(1061, 0)))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "lnbc", bolt11.Prefix(&chaincfg.MainNetParams))
	assert.Equal(t, "lntb", bolt11.Prefix(&chaincfg.TestNet3Params))
	assert.Equal(t, "lnbcrt", bolt11.Prefix(&chaincfg.RegressionNetParams))

	f := testutil.NewInvoiceFactory(&chaincfg.RegressionNetParams)
	pr, _ := f.MustInvoice(10, "")
	assert.True(t, strings.HasPrefix(pr, "lnbcrt"))
}
