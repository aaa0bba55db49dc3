package pkg

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// GetAddressByScriptPubKeyResult 获取唯一地址
// An empty address is returned for scripts that pay to no address or to
// more than one (bare multisig); only single-owner outputs are tracked.
func GetAddressByScriptPubKeyResult(sp btcjson.ScriptPubKeyResult, params *chaincfg.Params) (string, error) {
	script, err := hex.DecodeString(sp.Hex)
	if err != nil {
		return "", fmt.Errorf("decode script hex: %w", err)
	}

	_, addresses, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return "", nil
	}
	if len(addresses) != 1 {
		return "", nil
	}
	return addresses[0].EncodeAddress(), nil
}

// ChainParams maps a network name from the config to its parameters.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}
