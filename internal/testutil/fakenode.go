package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"lnhub/internal/bolt11"
	"lnhub/internal/lnd"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnrpc"
)

// FakeNode is a scriptable lnd.NodeClient. Invoices it issues are real,
// signed BOLT11 strings from its own identity key.
type FakeNode struct {
	mu sync.Mutex

	Identity *InvoiceFactory
	Info     lnd.NodeInfo

	invoices map[string]*lnd.InvoiceState
	order    []string

	Payments []lnd.Payment
	Txs      []lnd.OnChainTx
	Channels []lnd.Channel
	Graph    *lnd.Graph

	// SendFn decides the outcome of SendPayment. The default succeeds with
	// a zero-fee route for the invoice amount.
	SendFn    func(req lnd.SendPaymentRequest, decoded *bolt11.Invoice) (lnd.PaymentResult, error)
	SendCalls []lnd.SendPaymentRequest
	// Hold, when non-nil, delays every payment result until it is closed.
	Hold chan struct{}

	// Errors forces a method (by name, e.g. "AddInvoice") to fail.
	Errors map[string]error

	calls map[string]int
}

var _ lnd.NodeClient = (*FakeNode)(nil)

func NewFakeNode(net *chaincfg.Params) *FakeNode {
	id := NewInvoiceFactory(net)
	return &FakeNode{
		Identity: id,
		Info: lnd.NodeInfo{
			IdentityPubkey: id.Pubkey(),
			Alias:          "fakenode",
			SyncedToChain:  true,
			SyncedToGraph:  true,
			BlockHeight:    800000,
		},
		invoices: map[string]*lnd.InvoiceState{},
		Errors:   map[string]error{},
		calls:    map[string]int{},
	}
}

func (n *FakeNode) enter(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
	return n.Errors[method]
}

// Calls reports how many times method was invoked.
func (n *FakeNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *FakeNode) AddInvoice(_ context.Context, req lnd.AddInvoiceRequest) (*lnd.AddInvoiceResult, error) {
	if err := n.enter("AddInvoice"); err != nil {
		return nil, err
	}

	expiry := time.Duration(req.ExpirySecs) * time.Second
	created := time.Now()
	pr, err := n.Identity.Invoice(req.ValueSat, req.Memo, req.Preimage, created, expiry)
	if err != nil {
		return nil, err
	}
	decoded, err := bolt11.Decode(pr, n.Identity.Net)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.invoices[decoded.PaymentHash] = &lnd.InvoiceState{
		PaymentHash:    decoded.PaymentHash,
		PaymentRequest: pr,
		Memo:           req.Memo,
		ValueSat:       req.ValueSat,
		CreationDate:   created.Unix(),
		Preimage:       hex.EncodeToString(req.Preimage),
	}
	n.order = append(n.order, decoded.PaymentHash)
	return &lnd.AddInvoiceResult{
		AddIndex:       uint64(len(n.order)),
		PaymentRequest: pr,
		PaymentHash:    decoded.PaymentHash,
	}, nil
}

// AddForeignInvoice registers an invoice not created through AddInvoice, e.g.
// one backdated with InvoiceFactory.Invoice.
func (n *FakeNode) AddForeignInvoice(state lnd.InvoiceState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := state
	n.invoices[state.PaymentHash] = &s
	n.order = append(n.order, state.PaymentHash)
}

// Settle marks an issued invoice as paid, as if a payer's HTLC arrived.
func (n *FakeNode) Settle(paymentHash string, amountSat int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if inv, ok := n.invoices[paymentHash]; ok {
		inv.Settled = true
		inv.AmtPaidSat = amountSat
		inv.AmtPaidMsat = amountSat * 1000
		inv.SettleDate = time.Now().Unix()
	}
}

func (n *FakeNode) DecodePayReq(_ context.Context, payReq string) (*lnd.PayReq, error) {
	if err := n.enter("DecodePayReq"); err != nil {
		return nil, err
	}

	inv, err := bolt11.Decode(payReq, n.Identity.Net)
	if err != nil {
		return nil, err
	}
	return &lnd.PayReq{
		Destination: inv.Destination,
		PaymentHash: inv.PaymentHash,
		NumSatoshis: inv.AmountSat,
		NumMsat:     inv.AmountMsat,
		Description: inv.Description,
		Timestamp:   inv.Timestamp.Unix(),
		Expiry:      int64(inv.Expiry / time.Second),
	}, nil
}

func (n *FakeNode) LookupInvoice(_ context.Context, paymentHash string) (*lnd.InvoiceState, error) {
	if err := n.enter("LookupInvoice"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invoices[paymentHash]
	if !ok {
		return nil, fmt.Errorf("unable to locate invoice %s", paymentHash)
	}
	c := *inv
	return &c, nil
}

func (n *FakeNode) ListInvoices(_ context.Context, maxInvoices uint64, reversed bool) ([]lnd.InvoiceState, error) {
	if err := n.enter("ListInvoices"); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]lnd.InvoiceState, 0, len(n.order))
	for _, h := range n.order {
		out = append(out, *n.invoices[h])
	}
	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if maxInvoices > 0 && uint64(len(out)) > maxInvoices {
		out = out[:maxInvoices]
	}
	return out, nil
}

func (n *FakeNode) SubscribeInvoices(ctx context.Context, fn func(lnd.InvoiceState) error) error {
	if err := n.enter("SubscribeInvoices"); err != nil {
		return err
	}
	for _, inv := range n.settled() {
		if err := fn(inv); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (n *FakeNode) settled() []lnd.InvoiceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []lnd.InvoiceState
	for _, h := range n.order {
		if inv := n.invoices[h]; inv.Settled {
			out = append(out, *inv)
		}
	}
	return out
}

func (n *FakeNode) SendPayment(_ context.Context, req lnd.SendPaymentRequest) (<-chan lnd.PaymentResult, error) {
	if err := n.enter("SendPayment"); err != nil {
		return nil, err
	}

	decoded, err := bolt11.Decode(req.PaymentRequest, n.Identity.Net)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.SendCalls = append(n.SendCalls, req)
	sendFn, hold := n.SendFn, n.Hold
	n.mu.Unlock()

	if sendFn == nil {
		sendFn = succeedAtFace
	}
	res, err := sendFn(req, decoded)
	if err != nil {
		return nil, err
	}
	if res.PaymentHash == "" {
		res.PaymentHash = decoded.PaymentHash
	}
	if res.Status == lnd.PaymentSucceeded || res.Status == lnd.PaymentFailed {
		n.recordPayment(req, decoded, res)
	}

	results := make(chan lnd.PaymentResult, 1)
	go func() {
		defer close(results)
		if hold != nil {
			<-hold
		}
		results <- res
	}()
	return results, nil
}

func succeedAtFace(req lnd.SendPaymentRequest, decoded *bolt11.Invoice) (lnd.PaymentResult, error) {
	amt := decoded.AmountSat
	if amt == 0 {
		amt = req.AmtSat
	}
	return lnd.PaymentResult{
		Status:   lnd.PaymentSucceeded,
		Preimage: "00",
		Route:    &lnd.Route{TotalAmt: amt, TotalAmtMsat: amt * 1000, Hops: 1},
	}, nil
}

func (n *FakeNode) recordPayment(req lnd.SendPaymentRequest, decoded *bolt11.Invoice, res lnd.PaymentResult) {
	n.mu.Lock()
	defer n.mu.Unlock()

	status := lnd.PaymentFailed
	if res.Status == lnd.PaymentSucceeded {
		status = lnd.PaymentSucceeded
	}
	p := lnd.Payment{
		PaymentHash:    res.PaymentHash,
		PaymentRequest: req.PaymentRequest,
		Preimage:       res.Preimage,
		Status:         status,
		ValueSat:       decoded.AmountSat,
		CreationTimeNs: time.Now().UnixNano(),
		Route:          res.Route,
	}
	if res.Route != nil {
		p.FeeSat = res.Route.TotalFees
	}
	n.Payments = append(n.Payments, p)
}

func (n *FakeNode) SendToRouteSync(_ context.Context, paymentHash []byte, _ *lnrpc.Route) (*lnd.PaymentResult, error) {
	if err := n.enter("SendToRouteSync"); err != nil {
		return nil, err
	}
	return &lnd.PaymentResult{Status: lnd.PaymentFailed, PaymentHash: hex.EncodeToString(paymentHash), FailureReason: "not supported"}, nil
}

func (n *FakeNode) QueryRoutes(_ context.Context, req lnd.QueryRoutesRequest) ([]lnd.Route, error) {
	if err := n.enter("QueryRoutes"); err != nil {
		return nil, err
	}
	return []lnd.Route{{TotalAmt: req.AmtSat, TotalAmtMsat: req.AmtSat * 1000, Hops: 1}}, nil
}

func (n *FakeNode) ListPayments(_ context.Context, _ bool) ([]lnd.Payment, error) {
	if err := n.enter("ListPayments"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]lnd.Payment(nil), n.Payments...), nil
}

func (n *FakeNode) GetInfo(_ context.Context) (*lnd.NodeInfo, error) {
	if err := n.enter("GetInfo"); err != nil {
		return nil, err
	}
	info := n.Info
	return &info, nil
}

func (n *FakeNode) ListChannels(_ context.Context) ([]lnd.Channel, error) {
	if err := n.enter("ListChannels"); err != nil {
		return nil, err
	}
	return n.Channels, nil
}

// NewAddress returns a fresh, valid P2WPKH address on the node's network.
func (n *FakeNode) NewAddress(_ context.Context) (string, error) {
	if err := n.enter("NewAddress"); err != nil {
		return "", err
	}
	var program [20]byte
	if _, err := rand.Read(program[:]); err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(program[:], n.Identity.Net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (n *FakeNode) GetTransactions(_ context.Context) ([]lnd.OnChainTx, error) {
	if err := n.enter("GetTransactions"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]lnd.OnChainTx(nil), n.Txs...), nil
}

func (n *FakeNode) DescribeGraph(_ context.Context) (*lnd.Graph, error) {
	if err := n.enter("DescribeGraph"); err != nil {
		return nil, err
	}
	if n.Graph == nil {
		return &lnd.Graph{}, nil
	}
	return n.Graph, nil
}

func (n *FakeNode) Close() error { return nil }
