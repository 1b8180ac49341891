// Package chain holds network parameters and the on-chain receipt sources
// (bitcoind watch-only wallet or the LND wallet) used for deposits.
package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Params resolves a network name from config.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// ValidateAddress checks that addr decodes and belongs to net.
func ValidateAddress(addr string, net *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if !decoded.IsForNet(net) {
		return fmt.Errorf("address %q is not for %s", addr, net.Name)
	}
	return nil
}
