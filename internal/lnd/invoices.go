package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/lnrpc"
)

func (c *Client) AddInvoice(ctx context.Context, req AddInvoiceRequest) (*AddInvoiceResult, error) {
	resp, err := c.lnClient.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:      req.Memo,
		Value:     req.ValueSat,
		Expiry:    req.ExpirySecs,
		RPreimage: req.Preimage,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd AddInvoice: %w", err)
	}
	if resp.PaymentRequest == "" || len(resp.RHash) == 0 {
		return nil, fmt.Errorf("%w: AddInvoice without payment_request or r_hash", ErrMalformedResponse)
	}

	return &AddInvoiceResult{
		AddIndex:       resp.AddIndex,
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hex.EncodeToString(resp.RHash),
	}, nil
}

func (c *Client) DecodePayReq(ctx context.Context, payReq string) (*PayReq, error) {
	resp, err := c.lnClient.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: payReq})
	if err != nil {
		return nil, fmt.Errorf("lnd DecodePayReq: %w", err)
	}
	if resp.Destination == "" || resp.PaymentHash == "" {
		return nil, fmt.Errorf("%w: DecodePayReq without destination or payment_hash", ErrMalformedResponse)
	}

	return &PayReq{
		Destination: resp.Destination,
		PaymentHash: resp.PaymentHash,
		NumSatoshis: resp.NumSatoshis,
		NumMsat:     resp.NumMsat,
		Description: resp.Description,
		Timestamp:   resp.Timestamp,
		Expiry:      resp.Expiry,
		CltvExpiry:  resp.CltvExpiry,
	}, nil
}

func (c *Client) LookupInvoice(ctx context.Context, paymentHash string) (*InvoiceState, error) {
	rHash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return nil, fmt.Errorf("payment hash must be hex: %w", err)
	}

	inv, err := c.lnClient.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rHash})
	if err != nil {
		return nil, fmt.Errorf("lnd LookupInvoice: %w", err)
	}
	state := invoiceFromRPC(inv)
	return &state, nil
}

func (c *Client) ListInvoices(ctx context.Context, maxInvoices uint64, reversed bool) ([]InvoiceState, error) {
	resp, err := c.lnClient.ListInvoices(ctx, &lnrpc.ListInvoiceRequest{
		NumMaxInvoices: maxInvoices,
		Reversed:       reversed,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd ListInvoices: %w", err)
	}

	out := make([]InvoiceState, 0, len(resp.Invoices))
	for _, inv := range resp.Invoices {
		out = append(out, invoiceFromRPC(inv))
	}
	return out, nil
}

func (c *Client) SubscribeInvoices(ctx context.Context, fn func(InvoiceState) error) error {
	stream, err := c.lnClient.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return fmt.Errorf("lnd SubscribeInvoices: %w", err)
	}

	for {
		inv, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("invoice stream: %w", err)
		}
		if inv.State != lnrpc.Invoice_SETTLED {
			continue
		}
		if err := fn(invoiceFromRPC(inv)); err != nil {
			return err
		}
	}
}

func invoiceFromRPC(inv *lnrpc.Invoice) InvoiceState {
	return InvoiceState{
		PaymentHash:    hex.EncodeToString(inv.RHash),
		PaymentRequest: inv.PaymentRequest,
		Memo:           inv.Memo,
		ValueSat:       inv.Value,
		Settled:        inv.State == lnrpc.Invoice_SETTLED,
		AmtPaidSat:     inv.AmtPaidSat,
		AmtPaidMsat:    inv.AmtPaidMsat,
		CreationDate:   inv.CreationDate,
		SettleDate:     inv.SettleDate,
		SettleIndex:    inv.SettleIndex,
		Preimage:       hex.EncodeToString(inv.RPreimage),
	}
}
