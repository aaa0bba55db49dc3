package indexer

import (
	"context"
	"fmt"

	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
)

// BalanceLedger turns transactions into per-cluster balance deltas.
type BalanceLedger struct {
	db *db.DB
}

func NewBalanceLedger(store *db.DB) *BalanceLedger {
	return &BalanceLedger{db: store}
}

// Deltas returns one entry per cluster touched by tx, in order of first
// appearance: minus the inputs it owns plus the outputs paid to it. A
// cluster whose inputs and outputs cancel out still gets a zero entry.
func (l *BalanceLedger) Deltas(ctx context.Context, height, txIndex int64, tx *model.Transaction) ([]model.BalanceEntry, error) {
	var order []string
	byAddress := make(map[string]int64)
	add := func(address string, v int64) {
		if _, ok := byAddress[address]; !ok {
			order = append(order, address)
		}
		byAddress[address] += v
	}
	for _, in := range tx.Inputs {
		if in.Coinbase {
			continue
		}
		if !in.Resolved {
			return nil, fmt.Errorf("tx %s spends unresolved output %s:%d", tx.TxID, in.TxID, in.Vout)
		}
		if in.Address != "" {
			add(in.Address, -in.Value)
		}
	}
	for _, out := range tx.Outputs {
		if out.Address != "" {
			add(out.Address, out.Value)
		}
	}
	if len(order) == 0 {
		return nil, nil
	}

	clusters, err := l.db.ClustersOf(ctx, order)
	if err != nil {
		return nil, err
	}
	var entries []model.BalanceEntry
	index := make(map[int64]int)
	for _, a := range order {
		id, ok := clusters[a]
		if !ok {
			return nil, fmt.Errorf("%w: address %s in tx %s at height %d", ErrClusterMissing, a, tx.TxID, height)
		}
		if i, ok := index[id]; ok {
			entries[i].Delta += byAddress[a]
			continue
		}
		index[id] = len(entries)
		entries = append(entries, model.BalanceEntry{
			ClusterID: id,
			Height:    height,
			TxIndex:   txIndex,
			TxID:      tx.TxID,
			Delta:     byAddress[a],
		})
	}
	return entries, nil
}

// Apply stages the entries of one transaction into batch.
func (l *BalanceLedger) Apply(batch *db.Batch, entries []model.BalanceEntry) error {
	for _, e := range entries {
		if err := batch.ApplyDelta(e); err != nil {
			return fmt.Errorf("apply delta of cluster %d: %w", e.ClusterID, err)
		}
	}
	return nil
}
