package lnd

type AddInvoiceRequest struct {
	Memo       string
	ValueSat   int64
	ExpirySecs int64
	Preimage   []byte
}

type AddInvoiceResult struct {
	AddIndex       uint64 `json:"add_index"`
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"r_hash"` // hex
}

// PayReq is a BOLT11 request as decoded by the node.
type PayReq struct {
	Destination string `json:"destination"`
	PaymentHash string `json:"payment_hash"`
	NumSatoshis int64  `json:"num_satoshis"`
	NumMsat     int64  `json:"num_msat"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
	Expiry      int64  `json:"expiry"`
	CltvExpiry  int64  `json:"cltv_expiry"`
}

type InvoiceState struct {
	PaymentHash    string
	PaymentRequest string
	Memo           string
	ValueSat       int64
	Settled        bool
	AmtPaidSat     int64
	AmtPaidMsat    int64
	CreationDate   int64
	SettleDate     int64
	SettleIndex    uint64
	Preimage       string // hex
}

// PaidSat is the settled amount in satoshis, falling back to the msat field
// when the node left the sat field empty.
func (i InvoiceState) PaidSat() int64 {
	if i.AmtPaidSat > 0 {
		return i.AmtPaidSat
	}
	return i.AmtPaidMsat / 1000
}

type PaymentStatus int

const (
	PaymentUnknown PaymentStatus = iota
	PaymentSucceeded
	PaymentFailed
	PaymentInFlight
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentSucceeded:
		return "SUCCEEDED"
	case PaymentFailed:
		return "FAILED"
	case PaymentInFlight:
		return "IN_FLIGHT"
	default:
		return "UNKNOWN"
	}
}

type SendPaymentRequest struct {
	PaymentRequest string
	AmtSat         int64 // only for zero-amount invoices
	FeeLimitSat    int64
	TimeoutSeconds int32
}

// Route is the summary of the route a payment took.
type Route struct {
	TotalAmt      int64  `json:"total_amt"`
	TotalAmtMsat  int64  `json:"total_amt_msat"`
	TotalFees     int64  `json:"total_fees"`
	TotalFeesMsat int64  `json:"total_fees_msat"`
	TotalTimeLock uint32 `json:"total_time_lock"`
	Hops          int    `json:"hops"`
}

// PaymentResult is the terminal outcome of one payment submission. Status
// is PaymentUnknown when the stream ended without a verdict, with Err set.
type PaymentResult struct {
	Status        PaymentStatus
	PaymentHash   string
	Preimage      string
	Route         *Route
	FailureReason string
	Err           error
}

type Payment struct {
	PaymentHash    string
	PaymentRequest string
	Preimage       string
	Status         PaymentStatus
	ValueSat       int64
	FeeSat         int64
	CreationTimeNs int64
	Route          *Route
}

type QueryRoutesRequest struct {
	SourcePubKey string
	DestPubKey   string
	AmtSat       int64
}

type NodeInfo struct {
	IdentityPubkey    string   `json:"identity_pubkey"`
	Alias             string   `json:"alias"`
	Version           string   `json:"version"`
	NumActiveChannels uint32   `json:"num_active_channels"`
	NumPeers          uint32   `json:"num_peers"`
	BlockHeight       uint32   `json:"block_height"`
	BlockHash         string   `json:"block_hash"`
	SyncedToChain     bool     `json:"synced_to_chain"`
	SyncedToGraph     bool     `json:"synced_to_graph"`
	URIs              []string `json:"uris"`
}

type Channel struct {
	ChanID        uint64 `json:"chan_id"`
	ChannelPoint  string `json:"channel_point"`
	RemotePubkey  string `json:"remote_pubkey"`
	Active        bool   `json:"active"`
	Capacity      int64  `json:"capacity"`
	LocalBalance  int64  `json:"local_balance"`
	RemoteBalance int64  `json:"remote_balance"`
}

// OnChainTx is a wallet transaction, reduced to outputs paying our own addresses.
type OnChainTx struct {
	TxHash           string
	NumConfirmations int32
	TimeStamp        int64
	Outputs          []TxOutput
}

type TxOutput struct {
	Address string
	Amount  int64
}

type RoutingPolicy struct {
	TimeLockDelta    uint32 `json:"time_lock_delta"`
	MinHtlc          int64  `json:"min_htlc"`
	MaxHtlcMsat      uint64 `json:"max_htlc_msat"`
	FeeBaseMsat      int64  `json:"fee_base_msat"`
	FeeRateMilliMsat int64  `json:"fee_rate_milli_msat"`
	Disabled         bool   `json:"disabled"`
}

type ChannelEdge struct {
	ChannelID   uint64         `json:"channel_id"`
	ChanPoint   string         `json:"chan_point"`
	Node1Pub    string         `json:"node1_pub"`
	Node2Pub    string         `json:"node2_pub"`
	Capacity    int64          `json:"capacity"`
	Node1Policy *RoutingPolicy `json:"node1_policy,omitempty"`
	Node2Policy *RoutingPolicy `json:"node2_policy,omitempty"`
}

type GraphNode struct {
	PubKey string `json:"pub_key"`
	Alias  string `json:"alias"`
}

type Graph struct {
	Nodes []GraphNode
	Edges []ChannelEdge
}

// Edge returns the channel with the given short channel id.
func (g *Graph) Edge(chanID uint64) (ChannelEdge, bool) {
	for _, e := range g.Edges {
		if e.ChannelID == chanID {
			return e, true
		}
	}
	return ChannelEdge{}, false
}
