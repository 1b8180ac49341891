package lnd

import (
	"context"
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	mock := &mockLightningClient{
		getInfoFn: func() (*lnrpc.GetInfoResponse, error) {
			return &lnrpc.GetInfoResponse{
				IdentityPubkey:    "02hub",
				Alias:             "hub",
				BlockHeight:       800000,
				SyncedToChain:     true,
				NumActiveChannels: 3,
			}, nil
		},
	}

	info, err := newTestClient(mock, nil).GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "02hub", info.IdentityPubkey)
	assert.Equal(t, uint32(800000), info.BlockHeight)
	assert.True(t, info.SyncedToChain)
}

func TestGetInfo_Errors(t *testing.T) {
	mock := &mockLightningClient{
		getInfoFn: func() (*lnrpc.GetInfoResponse, error) { return &lnrpc.GetInfoResponse{}, nil },
	}
	_, err := newTestClient(mock, nil).GetInfo(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)

	mock.getInfoFn = func() (*lnrpc.GetInfoResponse, error) { return nil, errors.New("wallet locked") }
	_, err = newTestClient(mock, nil).GetInfo(context.Background())
	assert.ErrorContains(t, err, "wallet locked")
}

func TestListChannels(t *testing.T) {
	mock := &mockLightningClient{
		listChannelsFn: func() (*lnrpc.ListChannelsResponse, error) {
			return &lnrpc.ListChannelsResponse{Channels: []*lnrpc.Channel{
				{ChanId: 1, Active: true, Capacity: 1_000_000, LocalBalance: 600_000},
			}}, nil
		},
	}

	chans, err := newTestClient(mock, nil).ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, int64(600_000), chans[0].LocalBalance)
}

func TestNewAddress(t *testing.T) {
	tests := []struct {
		addrType string
		want     lnrpc.AddressType
	}{
		{"p2wkh", lnrpc.AddressType_WITNESS_PUBKEY_HASH},
		{"np2wkh", lnrpc.AddressType_NESTED_PUBKEY_HASH},
		{"p2tr", lnrpc.AddressType_TAPROOT_PUBKEY},
		{"", lnrpc.AddressType_WITNESS_PUBKEY_HASH},
	}

	for _, tt := range tests {
		t.Run(tt.addrType, func(t *testing.T) {
			mock := &mockLightningClient{
				newAddressFn: func(in *lnrpc.NewAddressRequest) (*lnrpc.NewAddressResponse, error) {
					assert.Equal(t, tt.want, in.Type)
					return &lnrpc.NewAddressResponse{Address: "bcrt1qexample"}, nil
				},
			}
			c := newTestClient(mock, nil)
			c.cfg.AddressType = tt.addrType

			addr, err := c.NewAddress(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "bcrt1qexample", addr)
		})
	}
}

func TestGetTransactions_KeepsOwnOutputs(t *testing.T) {
	mock := &mockLightningClient{
		getTransactionsFn: func() (*lnrpc.TransactionDetails, error) {
			return &lnrpc.TransactionDetails{Transactions: []*lnrpc.Transaction{{
				TxHash:           "tx1",
				NumConfirmations: 4,
				TimeStamp:        1700000000,
				OutputDetails: []*lnrpc.OutputDetail{
					{Address: "bcrt1qours", Amount: 5000, IsOurAddress: true},
					{Address: "bcrt1qchange", Amount: 100, IsOurAddress: false},
				},
			}}}, nil
		},
	}

	txs, err := newTestClient(mock, nil).GetTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int32(4), txs[0].NumConfirmations)
	assert.Equal(t, []TxOutput{{Address: "bcrt1qours", Amount: 5000}}, txs[0].Outputs)
}

func TestDescribeGraph(t *testing.T) {
	mock := &mockLightningClient{
		describeGraphFn: func() (*lnrpc.ChannelGraph, error) {
			return &lnrpc.ChannelGraph{
				Nodes: []*lnrpc.LightningNode{{PubKey: "02a", Alias: "a"}},
				Edges: []*lnrpc.ChannelEdge{
					{ChannelId: 42, Node1Pub: "02a", Node2Pub: "02b", Capacity: 500,
						Node1Policy: &lnrpc.RoutingPolicy{FeeBaseMsat: 1000, FeeRateMilliMsat: 1}},
				},
			}, nil
		},
	}

	g, err := newTestClient(mock, nil).DescribeGraph(context.Background())
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)

	edge, ok := g.Edge(42)
	require.True(t, ok)
	assert.Equal(t, "02b", edge.Node2Pub)
	require.NotNil(t, edge.Node1Policy)
	assert.Equal(t, int64(1000), edge.Node1Policy.FeeBaseMsat)
	assert.Nil(t, edge.Node2Policy)

	_, ok = g.Edge(7)
	assert.False(t, ok)
}
