package lnd

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
)

func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	resp, err := c.lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, fmt.Errorf("lnd GetInfo: %w", err)
	}
	if resp.IdentityPubkey == "" {
		return nil, fmt.Errorf("%w: GetInfo without identity_pubkey", ErrMalformedResponse)
	}

	return &NodeInfo{
		IdentityPubkey:    resp.IdentityPubkey,
		Alias:             resp.Alias,
		Version:           resp.Version,
		NumActiveChannels: resp.NumActiveChannels,
		NumPeers:          resp.NumPeers,
		BlockHeight:       resp.BlockHeight,
		BlockHash:         resp.BlockHash,
		SyncedToChain:     resp.SyncedToChain,
		SyncedToGraph:     resp.SyncedToGraph,
		URIs:              resp.Uris,
	}, nil
}

func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	resp, err := c.lnClient.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, fmt.Errorf("lnd ListChannels: %w", err)
	}

	out := make([]Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, Channel{
			ChanID:        ch.ChanId,
			ChannelPoint:  ch.ChannelPoint,
			RemotePubkey:  ch.RemotePubkey,
			Active:        ch.Active,
			Capacity:      ch.Capacity,
			LocalBalance:  ch.LocalBalance,
			RemoteBalance: ch.RemoteBalance,
		})
	}
	return out, nil
}

func addressType(name string) lnrpc.AddressType {
	switch name {
	case "np2wkh":
		return lnrpc.AddressType_NESTED_PUBKEY_HASH
	case "p2tr":
		return lnrpc.AddressType_TAPROOT_PUBKEY
	default:
		return lnrpc.AddressType_WITNESS_PUBKEY_HASH
	}
}

func (c *Client) NewAddress(ctx context.Context) (string, error) {
	resp, err := c.lnClient.NewAddress(ctx, &lnrpc.NewAddressRequest{
		Type: addressType(c.cfg.AddressType),
	})
	if err != nil {
		return "", fmt.Errorf("lnd NewAddress: %w", err)
	}
	if resp.Address == "" {
		return "", fmt.Errorf("%w: NewAddress returned no address", ErrMalformedResponse)
	}
	return resp.Address, nil
}

// GetTransactions lists wallet transactions, keeping only outputs that pay
// addresses owned by the node wallet.
func (c *Client) GetTransactions(ctx context.Context) ([]OnChainTx, error) {
	resp, err := c.lnClient.GetTransactions(ctx, &lnrpc.GetTransactionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("lnd GetTransactions: %w", err)
	}

	out := make([]OnChainTx, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		otx := OnChainTx{
			TxHash:           tx.TxHash,
			NumConfirmations: tx.NumConfirmations,
			TimeStamp:        tx.TimeStamp,
		}
		for _, od := range tx.OutputDetails {
			if od.IsOurAddress && od.Address != "" {
				otx.Outputs = append(otx.Outputs, TxOutput{Address: od.Address, Amount: od.Amount})
			}
		}
		out = append(out, otx)
	}
	return out, nil
}

func (c *Client) DescribeGraph(ctx context.Context) (*Graph, error) {
	resp, err := c.lnClient.DescribeGraph(ctx, &lnrpc.ChannelGraphRequest{})
	if err != nil {
		return nil, fmt.Errorf("lnd DescribeGraph: %w", err)
	}

	g := &Graph{
		Nodes: make([]GraphNode, 0, len(resp.Nodes)),
		Edges: make([]ChannelEdge, 0, len(resp.Edges)),
	}
	for _, n := range resp.Nodes {
		g.Nodes = append(g.Nodes, GraphNode{PubKey: n.PubKey, Alias: n.Alias})
	}
	for _, e := range resp.Edges {
		g.Edges = append(g.Edges, ChannelEdge{
			ChannelID:   e.ChannelId,
			ChanPoint:   e.ChanPoint,
			Node1Pub:    e.Node1Pub,
			Node2Pub:    e.Node2Pub,
			Capacity:    e.Capacity,
			Node1Policy: policyFromRPC(e.Node1Policy),
			Node2Policy: policyFromRPC(e.Node2Policy),
		})
	}
	return g, nil
}

func policyFromRPC(p *lnrpc.RoutingPolicy) *RoutingPolicy {
	if p == nil {
		return nil
	}
	return &RoutingPolicy{
		TimeLockDelta:    p.TimeLockDelta,
		MinHtlc:          p.MinHtlc,
		MaxHtlcMsat:      p.MaxHtlcMsat,
		FeeBaseMsat:      p.FeeBaseMsat,
		FeeRateMilliMsat: p.FeeRateMilliMsat,
		Disabled:         p.Disabled,
	}
}
