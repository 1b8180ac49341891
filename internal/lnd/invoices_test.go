package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInvoice(t *testing.T) {
	preimage := make([]byte, 32)
	mock := &mockLightningClient{
		addInvoiceFn: func(in *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
			assert.Equal(t, "coffee", in.Memo)
			assert.Equal(t, int64(210), in.Value)
			assert.Equal(t, int64(86400), in.Expiry)
			assert.Equal(t, preimage, in.RPreimage)
			return &lnrpc.AddInvoiceResponse{
				RHash:          []byte{0xab, 0xcd},
				PaymentRequest: "lnbcrt2100n1...",
				AddIndex:       7,
			}, nil
		},
	}

	res, err := newTestClient(mock, nil).AddInvoice(context.Background(), AddInvoiceRequest{
		Memo: "coffee", ValueSat: 210, ExpirySecs: 86400, Preimage: preimage,
	})
	require.NoError(t, err)
	assert.Equal(t, "abcd", res.PaymentHash)
	assert.Equal(t, "lnbcrt2100n1...", res.PaymentRequest)
	assert.Equal(t, uint64(7), res.AddIndex)
}

func TestAddInvoice_MissingFields(t *testing.T) {
	mock := &mockLightningClient{
		addInvoiceFn: func(*lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
			return &lnrpc.AddInvoiceResponse{}, nil
		},
	}

	_, err := newTestClient(mock, nil).AddInvoice(context.Background(), AddInvoiceRequest{ValueSat: 1})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodePayReq(t *testing.T) {
	mock := &mockLightningClient{
		decodePayReqFn: func(in *lnrpc.PayReqString) (*lnrpc.PayReq, error) {
			assert.Equal(t, "lnbc1...", in.PayReq)
			return &lnrpc.PayReq{
				Destination: "02dest",
				PaymentHash: "ff00",
				NumSatoshis: 500,
				NumMsat:     500000,
				Description: "x",
				Timestamp:   1700000000,
				Expiry:      3600,
			}, nil
		},
	}

	pr, err := newTestClient(mock, nil).DecodePayReq(context.Background(), "lnbc1...")
	require.NoError(t, err)
	assert.Equal(t, "02dest", pr.Destination)
	assert.Equal(t, int64(500), pr.NumSatoshis)
	assert.Equal(t, int64(1700000000), pr.Timestamp)
}

func TestDecodePayReq_Errors(t *testing.T) {
	t.Run("rpc error", func(t *testing.T) {
		mock := &mockLightningClient{
			decodePayReqFn: func(*lnrpc.PayReqString) (*lnrpc.PayReq, error) {
				return nil, errors.New("invalid index of 1")
			},
		}
		_, err := newTestClient(mock, nil).DecodePayReq(context.Background(), "garbage")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DecodePayReq")
	})

	t.Run("missing destination", func(t *testing.T) {
		mock := &mockLightningClient{
			decodePayReqFn: func(*lnrpc.PayReqString) (*lnrpc.PayReq, error) {
				return &lnrpc.PayReq{PaymentHash: "ff"}, nil
			},
		}
		_, err := newTestClient(mock, nil).DecodePayReq(context.Background(), "lnbc1...")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestLookupInvoice(t *testing.T) {
	hash := "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	mock := &mockLightningClient{
		lookupInvoiceFn: func(in *lnrpc.PaymentHash) (*lnrpc.Invoice, error) {
			assert.Equal(t, hash, hex.EncodeToString(in.RHash))
			return &lnrpc.Invoice{
				RHash:       in.RHash,
				State:       lnrpc.Invoice_SETTLED,
				AmtPaidMsat: 250000,
			}, nil
		},
	}

	inv, err := newTestClient(mock, nil).LookupInvoice(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, inv.Settled)
	assert.Equal(t, hash, inv.PaymentHash)
	assert.Equal(t, int64(250), inv.PaidSat())
}

func TestLookupInvoice_BadHash(t *testing.T) {
	_, err := newTestClient(&mockLightningClient{}, nil).LookupInvoice(context.Background(), "zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hex")
}

func TestListInvoices(t *testing.T) {
	mock := &mockLightningClient{
		listInvoicesFn: func(in *lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error) {
			assert.Equal(t, uint64(1000), in.NumMaxInvoices)
			assert.True(t, in.Reversed)
			return &lnrpc.ListInvoiceResponse{Invoices: []*lnrpc.Invoice{
				{RHash: []byte{1}, State: lnrpc.Invoice_SETTLED, AmtPaidSat: 10, CreationDate: 100},
				{RHash: []byte{2}, State: lnrpc.Invoice_OPEN, CreationDate: 200},
			}}, nil
		},
	}

	invs, err := newTestClient(mock, nil).ListInvoices(context.Background(), 1000, true)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.True(t, invs[0].Settled)
	assert.Equal(t, "01", invs[0].PaymentHash)
	assert.False(t, invs[1].Settled)
}

func TestSubscribeInvoices_OnlySettled(t *testing.T) {
	stream := &mockStream[lnrpc.Invoice]{items: []*lnrpc.Invoice{
		{RHash: []byte{1}, State: lnrpc.Invoice_OPEN},
		{RHash: []byte{2}, State: lnrpc.Invoice_SETTLED, AmtPaidSat: 5},
		{RHash: []byte{3}, State: lnrpc.Invoice_CANCELED},
	}}
	mock := &mockLightningClient{
		subscribeFn: func() (lnrpc.Lightning_SubscribeInvoicesClient, error) { return stream, nil },
	}

	var got []string
	err := newTestClient(mock, nil).SubscribeInvoices(context.Background(), func(inv InvoiceState) error {
		got = append(got, inv.PaymentHash)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"02"}, got)
}

func TestSubscribeInvoices_StreamError(t *testing.T) {
	stream := &mockStream[lnrpc.Invoice]{err: errors.New("connection reset")}
	mock := &mockLightningClient{
		subscribeFn: func() (lnrpc.Lightning_SubscribeInvoicesClient, error) { return stream, nil },
	}

	err := newTestClient(mock, nil).SubscribeInvoices(context.Background(), func(InvoiceState) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
