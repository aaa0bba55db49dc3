package indexer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
)

// ToSatoshis converts a node amount in BTC to satoshis.
func ToSatoshis(value float64) (int64, error) {
	amt, err := btcutil.NewAmount(value)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		return 0, fmt.Errorf("negative amount: %d", amt)
	}
	return int64(amt), nil
}

// convertTransaction maps a decoded transaction to the model. Inputs come
// back unresolved except for coinbase inputs, which spend nothing.
func convertTransaction(raw *btcjson.TxRawResult, params *chaincfg.Params) (*model.Transaction, error) {
	tx := &model.Transaction{
		TxID:    raw.Txid,
		Inputs:  make([]*model.Input, 0, len(raw.Vin)),
		Outputs: make([]*model.Output, 0, len(raw.Vout)),
	}
	for _, vin := range raw.Vin {
		if vin.IsCoinBase() {
			tx.Inputs = append(tx.Inputs, &model.Input{Coinbase: true})
			continue
		}
		tx.Inputs = append(tx.Inputs, &model.Input{TxID: vin.Txid, Vout: vin.Vout})
	}
	for i, vout := range raw.Vout {
		if int(vout.N) != i {
			return nil, fmt.Errorf("tx %s: output %d listed at position %d", raw.Txid, vout.N, i)
		}
		value, err := ToSatoshis(vout.Value)
		if err != nil {
			return nil, fmt.Errorf("tx %s output %d value: %w", raw.Txid, i, err)
		}
		address, err := pkg.GetAddressByScriptPubKeyResult(vout.ScriptPubKey, params)
		if err != nil {
			return nil, fmt.Errorf("tx %s output %d script: %w", raw.Txid, i, err)
		}
		tx.Outputs = append(tx.Outputs, &model.Output{Value: value, Address: address})
	}
	return tx, nil
}

// resolveInput copies the spent output of prev into in.
func resolveInput(in *model.Input, prev *model.Transaction) error {
	if int(in.Vout) >= len(prev.Outputs) {
		return fmt.Errorf("input spends %s:%d but it has %d outputs", in.TxID, in.Vout, len(prev.Outputs))
	}
	out := prev.Outputs[in.Vout]
	in.Value = out.Value
	in.Address = out.Address
	in.Resolved = true
	return nil
}
