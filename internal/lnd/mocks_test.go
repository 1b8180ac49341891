package lnd

import (
	"context"
	"io"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// mockLightningClient embeds lnrpc.LightningClient; only the methods a test
// sets are usable, anything else panics on the nil embedded interface.
type mockLightningClient struct {
	lnrpc.LightningClient

	addInvoiceFn      func(*lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error)
	decodePayReqFn    func(*lnrpc.PayReqString) (*lnrpc.PayReq, error)
	lookupInvoiceFn   func(*lnrpc.PaymentHash) (*lnrpc.Invoice, error)
	listInvoicesFn    func(*lnrpc.ListInvoiceRequest) (*lnrpc.ListInvoiceResponse, error)
	listPaymentsFn    func(*lnrpc.ListPaymentsRequest) (*lnrpc.ListPaymentsResponse, error)
	sendToRouteSyncFn func(*lnrpc.SendToRouteRequest) (*lnrpc.SendResponse, error)
	queryRoutesFn     func(*lnrpc.QueryRoutesRequest) (*lnrpc.QueryRoutesResponse, error)
	getInfoFn         func() (*lnrpc.GetInfoResponse, error)
	listChannelsFn    func() (*lnrpc.ListChannelsResponse, error)
	newAddressFn      func(*lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error)
	getTransactionsFn func() (*lnrpc.TransactionDetails, error)
	describeGraphFn   func() (*lnrpc.ChannelGraph, error)
	subscribeFn       func() (lnrpc.Lightning_SubscribeInvoicesClient, error)
}

func (m *mockLightningClient) AddInvoice(_ context.Context, in *lnrpc.Invoice, _ ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error) {
	return m.addInvoiceFn(in)
}

func (m *mockLightningClient) DecodePayReq(_ context.Context, in *lnrpc.PayReqString, _ ...grpc.CallOption) (*lnrpc.PayReq, error) {
	return m.decodePayReqFn(in)
}

func (m *mockLightningClient) LookupInvoice(_ context.Context, in *lnrpc.PaymentHash, _ ...grpc.CallOption) (*lnrpc.Invoice, error) {
	return m.lookupInvoiceFn(in)
}

func (m *mockLightningClient) ListInvoices(_ context.Context, in *lnrpc.ListInvoiceRequest, _ ...grpc.CallOption) (*lnrpc.ListInvoiceResponse, error) {
	return m.listInvoicesFn(in)
}

func (m *mockLightningClient) ListPayments(_ context.Context, in *lnrpc.ListPaymentsRequest, _ ...grpc.CallOption) (*lnrpc.ListPaymentsResponse, error) {
	return m.listPaymentsFn(in)
}

func (m *mockLightningClient) SendToRouteSync(_ context.Context, in *lnrpc.SendToRouteRequest, _ ...grpc.CallOption) (*lnrpc.SendResponse, error) {
	return m.sendToRouteSyncFn(in)
}

func (m *mockLightningClient) QueryRoutes(_ context.Context, in *lnrpc.QueryRoutesRequest, _ ...grpc.CallOption) (*lnrpc.QueryRoutesResponse, error) {
	return m.queryRoutesFn(in)
}

func (m *mockLightningClient) GetInfo(_ context.Context, _ *lnrpc.GetInfoRequest, _ ...grpc.CallOption) (*lnrpc.GetInfoResponse, error) {
	return m.getInfoFn()
}

func (m *mockLightningClient) ListChannels(_ context.Context, _ *lnrpc.ListChannelsRequest, _ ...grpc.CallOption) (*lnrpc.ListChannelsResponse, error) {
	return m.listChannelsFn()
}

func (m *mockLightningClient) NewAddress(_ context.Context, in *lnrpc.NewAddressRequest, _ ...grpc.CallOption) (*lnrpc.NewAddressResponse, error) {
	return m.newAddressFn(in)
}

func (m *mockLightningClient) GetTransactions(_ context.Context, _ *lnrpc.GetTransactionsRequest, _ ...grpc.CallOption) (*lnrpc.TransactionDetails, error) {
	return m.getTransactionsFn()
}

func (m *mockLightningClient) DescribeGraph(_ context.Context, _ *lnrpc.ChannelGraphRequest, _ ...grpc.CallOption) (*lnrpc.ChannelGraph, error) {
	return m.describeGraphFn()
}

func (m *mockLightningClient) SubscribeInvoices(_ context.Context, _ *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (lnrpc.Lightning_SubscribeInvoicesClient, error) {
	return m.subscribeFn()
}

type mockRouterClient struct {
	routerrpc.RouterClient

	sendPaymentV2Fn func(*routerrpc.SendPaymentRequest) (routerrpc.Router_SendPaymentV2Client, error)
}

func (m *mockRouterClient) SendPaymentV2(_ context.Context, in *routerrpc.SendPaymentRequest, _ ...grpc.CallOption) (routerrpc.Router_SendPaymentV2Client, error) {
	return m.sendPaymentV2Fn(in)
}

// mockStream replays a fixed sequence of messages, then returns err (io.EOF by default).
type mockStream[T any] struct {
	grpc.ClientStream
	items []*T
	err   error
	idx   int
}

func (s *mockStream[T]) Recv() (*T, error) {
	if s.idx >= len(s.items) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	item := s.items[s.idx]
	s.idx++
	return item, nil
}

func (s *mockStream[T]) Header() (metadata.MD, error) { return nil, nil }
func (s *mockStream[T]) Trailer() metadata.MD         { return nil }
func (s *mockStream[T]) CloseSend() error             { return nil }
func (s *mockStream[T]) Context() context.Context     { return context.Background() }
func (s *mockStream[T]) SendMsg(m interface{}) error  { return nil }
func (s *mockStream[T]) RecvMsg(m interface{}) error  { return nil }

func newTestClient(ln lnrpc.LightningClient, router routerrpc.RouterClient) *Client {
	return &Client{
		lnClient:     ln,
		routerClient: router,
		cfg: Config{
			PaymentTimeoutSeconds: 5,
			AddressType:           "p2wkh",
		},
	}
}
