package db

import (
	"fmt"
	"sort"

	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
)

// Balance returns the current balance of the cluster id (or of the
// cluster it was merged into).
func (db *DB) Balance(id int64) (int64, error) {
	root, err := db.Root(id)
	if err != nil {
		return 0, err
	}
	bal, _, err := currentBalances.Get(db.db, root)
	return bal, err
}

// History returns one entry per transaction touching the cluster,
// including the history of every cluster merged into it, ordered by
// height then position in block.
func (db *DB) History(id int64) ([]model.BalanceEntry, error) {
	root, err := db.Root(id)
	if err != nil {
		return nil, err
	}
	absorbed, err := db.MergedFrom(root)
	if err != nil {
		return nil, err
	}

	var rows []model.BalanceEntry
	for _, cid := range append([]int64{root}, absorbed...) {
		err := balanceHistory.Scan(db.db, pkg.Key(cid), false, func(k HistoryKey, v HistoryValue) (bool, error) {
			rows = append(rows, model.BalanceEntry{
				ClusterID: root,
				Height:    k.Height,
				TxIndex:   k.TxIndex,
				TxID:      v.TxID,
				Delta:     v.Delta,
			})
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Height != rows[j].Height {
			return rows[i].Height < rows[j].Height
		}
		return rows[i].TxIndex < rows[j].TxIndex
	})

	// a transaction seen by two clusters before they merged has two rows
	merged := rows[:0]
	for _, r := range rows {
		if n := len(merged); n > 0 && merged[n-1].Height == r.Height && merged[n-1].TxIndex == r.TxIndex {
			merged[n-1].Delta += r.Delta
			continue
		}
		merged = append(merged, r)
	}
	return merged, nil
}

// TopClusters returns up to limit clusters by descending balance.
func (db *DB) TopClusters(limit int) ([]BalanceKey, error) {
	var top []BalanceKey
	if limit <= 0 {
		return top, nil
	}
	err := balanceIndex.Scan(db.db, nil, true, func(k BalanceKey, _ none) (bool, error) {
		top = append(top, k)
		return len(top) < limit, nil
	})
	return top, err
}

// ApplyDelta stages one history row and moves the cluster's current
// balance and its index entry. The cluster must be a surviving one.
func (b *Batch) ApplyDelta(e model.BalanceEntry) error {
	key := HistoryKey{ClusterID: e.ClusterID, Height: e.Height, TxIndex: e.TxIndex}
	if err := balanceHistory.Put(b, key, HistoryValue{TxID: e.TxID, Delta: e.Delta}); err != nil {
		return err
	}

	old, ok, err := currentBalances.Get(b.db.db, e.ClusterID)
	if err != nil {
		return fmt.Errorf("read balance of cluster %d: %w", e.ClusterID, err)
	}
	if ok {
		if err := balanceIndex.Delete(b, BalanceKey{Balance: old, ClusterID: e.ClusterID}); err != nil {
			return err
		}
	}
	return b.putBalance(e.ClusterID, old+e.Delta)
}

func (b *Batch) putBalance(id, balance int64) error {
	if err := currentBalances.Put(b, id, balance); err != nil {
		return err
	}
	return balanceIndex.Put(b, BalanceKey{Balance: balance, ClusterID: id}, none{})
}

func (b *Batch) absorbBalances(target int64, from []int64) error {
	var (
		sum     int64
		touched bool
	)
	for _, id := range append([]int64{target}, from...) {
		bal, ok, err := currentBalances.Get(b.db.db, id)
		if err != nil {
			return fmt.Errorf("read balance of cluster %d: %w", id, err)
		}
		if !ok {
			continue
		}
		touched = true
		sum += bal
		if err := balanceIndex.Delete(b, BalanceKey{Balance: bal, ClusterID: id}); err != nil {
			return err
		}
		if id != target {
			if err := currentBalances.Delete(b, id); err != nil {
				return err
			}
		}
	}
	if !touched {
		return nil
	}
	return b.putBalance(target, sum)
}
