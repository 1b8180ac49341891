package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// InvoiceFactory signs real BOLT11 payment requests as a given node identity.
type InvoiceFactory struct {
	Net *chaincfg.Params
	key *btcec.PrivateKey
}

func NewInvoiceFactory(net *chaincfg.Params) *InvoiceFactory {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(fmt.Errorf("could not generate node key: %w", err))
	}
	return &InvoiceFactory{Net: net, key: key}
}

// Pubkey is the hex compressed identity key, as LND reports it.
func (f *InvoiceFactory) Pubkey() string {
	return hex.EncodeToString(f.key.PubKey().SerializeCompressed())
}

// RandomPreimage returns 32 random bytes and their payment hash (hex).
func RandomPreimage() ([]byte, string) {
	p := make([]byte, 32)
	if _, err := rand.Read(p); err != nil {
		panic(err)
	}
	h := sha256.Sum256(p)
	return p, hex.EncodeToString(h[:])
}

// Invoice encodes a payment request. amountSat 0 produces a zero-amount invoice.
func (f *InvoiceFactory) Invoice(amountSat int64, memo string, preimage []byte, created time.Time, expiry time.Duration) (string, error) {
	hash := sha256.Sum256(preimage)

	var addr [32]byte
	if _, err := rand.Read(addr[:]); err != nil {
		return "", err
	}

	opts := []func(*zpay32.Invoice){
		zpay32.Description(memo),
		zpay32.PaymentAddr(addr),
	}
	if amountSat > 0 {
		opts = append(opts, zpay32.Amount(lnwire.NewMSatFromSatoshis(btcutil.Amount(amountSat))))
	}
	if expiry > 0 {
		opts = append(opts, zpay32.Expiry(expiry))
	}

	inv, err := zpay32.NewInvoice(f.Net, hash, created, opts...)
	if err != nil {
		return "", fmt.Errorf("could not create payment request: %w", err)
	}

	return inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(f.key, chainhash.HashB(msg), true), nil
		},
	})
}

// MustInvoice is Invoice with a fresh preimage, created now, panicking on error.
// It returns the payment request and the payment hash.
func (f *InvoiceFactory) MustInvoice(amountSat int64, memo string) (string, string) {
	preimage, hash := RandomPreimage()
	pr, err := f.Invoice(amountSat, memo, preimage, time.Now(), time.Hour)
	if err != nil {
		panic(err)
	}
	return pr, hash
}
