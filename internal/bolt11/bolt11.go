// Package bolt11 decodes Lightning payment requests locally, without a node
// round trip.
package bolt11

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

var ErrInvalid = errors.New("bolt11: invalid payment request")

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Destination    string
	Description    string
	AmountSat      int64
	AmountMsat     int64
	Timestamp      time.Time
	Expiry         time.Duration
}

func (i *Invoice) ExpiresAt() time.Time {
	return i.Timestamp.Add(i.Expiry)
}

func (i *Invoice) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt())
}

// Decode parses payReq for the given network.
func Decode(payReq string, net *chaincfg.Params) (*Invoice, error) {
	inv, err := zpay32.Decode(payReq, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if inv.PaymentHash == nil || inv.Destination == nil {
		return nil, fmt.Errorf("%w: missing payment hash or destination", ErrInvalid)
	}

	out := &Invoice{
		PaymentRequest: payReq,
		PaymentHash:    hex.EncodeToString(inv.PaymentHash[:]),
		Destination:    hex.EncodeToString(inv.Destination.SerializeCompressed()),
		Timestamp:      inv.Timestamp,
		Expiry:         inv.Expiry(),
	}
	if inv.MilliSat != nil {
		out.AmountMsat = int64(*inv.MilliSat)
		out.AmountSat = int64(inv.MilliSat.ToSatoshis())
	}
	if inv.Description != nil {
		out.Description = *inv.Description
	}
	return out, nil
}

// Prefix is the human-readable part every payment request on net starts with.
func Prefix(net *chaincfg.Params) string {
	return "ln" + net.Bech32HRPSegwit
}
