package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lnwire"
)

// SendPayment starts a SendPaymentV2 stream and drains it in the background.
// The returned channel receives one result: SUCCEEDED, FAILED, or UNKNOWN when
// the stream ends (timeout, transport error) before the node decides.
func (c *Client) SendPayment(ctx context.Context, req SendPaymentRequest) (<-chan PaymentResult, error) {
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = int32(c.cfg.PaymentTimeoutSeconds)
	}

	stream, err := c.routerClient.SendPaymentV2(ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: req.PaymentRequest,
		Amt:            req.AmtSat,
		FeeLimitSat:    req.FeeLimitSat,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd SendPaymentV2: %w", err)
	}

	results := make(chan PaymentResult, 1)
	go func() {
		defer close(results)
		results <- awaitPayment(stream)
	}()
	return results, nil
}

// awaitPayment reads status updates until a terminal state.
func awaitPayment(stream routerrpc.Router_SendPaymentV2Client) PaymentResult {
	var last *lnrpc.Payment
	for {
		p, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("payment stream closed before a terminal status")
			}
			res := PaymentResult{Status: PaymentUnknown, Err: err}
			if last != nil {
				res.PaymentHash = last.PaymentHash
			}
			return res
		}
		last = p

		switch p.Status {
		case lnrpc.Payment_SUCCEEDED:
			pay := paymentFromRPC(p)
			if pay.Route == nil {
				return PaymentResult{
					Status:      PaymentUnknown,
					PaymentHash: p.PaymentHash,
					Err:         fmt.Errorf("%w: succeeded payment without a route", ErrMalformedResponse),
				}
			}
			return PaymentResult{
				Status:      PaymentSucceeded,
				PaymentHash: pay.PaymentHash,
				Preimage:    pay.Preimage,
				Route:       pay.Route,
			}
		case lnrpc.Payment_FAILED:
			return PaymentResult{
				Status:        PaymentFailed,
				PaymentHash:   p.PaymentHash,
				FailureReason: p.FailureReason.String(),
			}
		}
	}
}

func (c *Client) SendToRouteSync(ctx context.Context, paymentHash []byte, route *lnrpc.Route) (*PaymentResult, error) {
	resp, err := c.lnClient.SendToRouteSync(ctx, &lnrpc.SendToRouteRequest{
		PaymentHash: paymentHash,
		Route:       route,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd SendToRouteSync: %w", err)
	}

	if resp.PaymentError != "" {
		return &PaymentResult{
			Status:        PaymentFailed,
			PaymentHash:   hex.EncodeToString(paymentHash),
			FailureReason: resp.PaymentError,
		}, nil
	}
	if resp.PaymentRoute == nil {
		return nil, fmt.Errorf("%w: SendToRouteSync without payment_route", ErrMalformedResponse)
	}
	return &PaymentResult{
		Status:      PaymentSucceeded,
		PaymentHash: hex.EncodeToString(paymentHash),
		Preimage:    hex.EncodeToString(resp.PaymentPreimage),
		Route:       routeFromRPC(resp.PaymentRoute),
	}, nil
}

func (c *Client) QueryRoutes(ctx context.Context, req QueryRoutesRequest) ([]Route, error) {
	resp, err := c.lnClient.QueryRoutes(ctx, &lnrpc.QueryRoutesRequest{
		PubKey:       req.DestPubKey,
		SourcePubKey: req.SourcePubKey,
		Amt:          req.AmtSat,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd QueryRoutes: %w", err)
	}

	routes := make([]Route, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		routes = append(routes, *routeFromRPC(r))
	}
	return routes, nil
}

func (c *Client) ListPayments(ctx context.Context, includeIncomplete bool) ([]Payment, error) {
	resp, err := c.lnClient.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
		IncludeIncomplete: includeIncomplete,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd ListPayments: %w", err)
	}

	out := make([]Payment, 0, len(resp.Payments))
	for _, p := range resp.Payments {
		out = append(out, paymentFromRPC(p))
	}
	return out, nil
}

func paymentFromRPC(p *lnrpc.Payment) Payment {
	pay := Payment{
		PaymentHash:    p.PaymentHash,
		PaymentRequest: p.PaymentRequest,
		Preimage:       p.PaymentPreimage,
		ValueSat:       p.ValueSat,
		FeeSat:         p.FeeSat,
		CreationTimeNs: p.CreationTimeNs,
	}

	switch p.Status {
	case lnrpc.Payment_SUCCEEDED:
		pay.Status = PaymentSucceeded
	case lnrpc.Payment_FAILED:
		pay.Status = PaymentFailed
	case lnrpc.Payment_IN_FLIGHT, lnrpc.Payment_INITIATED:
		pay.Status = PaymentInFlight
	}

	for _, htlc := range p.Htlcs {
		if htlc.Status == lnrpc.HTLCAttempt_SUCCEEDED && htlc.Route != nil {
			pay.Route = routeFromRPC(htlc.Route)
		}
	}
	return pay
}

// routeFromRPC derives whole-satoshi totals from the msat fields the same
// way the node does (truncating).
func routeFromRPC(r *lnrpc.Route) *Route {
	return &Route{
		TotalAmt:      int64(lnwire.MilliSatoshi(r.TotalAmtMsat).ToSatoshis()),
		TotalAmtMsat:  r.TotalAmtMsat,
		TotalFees:     int64(lnwire.MilliSatoshi(r.TotalFeesMsat).ToSatoshis()),
		TotalFeesMsat: r.TotalFeesMsat,
		TotalTimeLock: r.TotalTimeLock,
		Hops:          len(r.Hops),
	}
}
