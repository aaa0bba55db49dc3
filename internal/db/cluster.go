package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/wx-shi/utxo-cluster-indexer/pkg"
	"golang.org/x/sync/errgroup"
)

const lookupWorkers = 8

// Root follows the forwarding record of id, if any. Merges re-point every
// absorbed cluster at the final survivor, so one hop always suffices.
func (db *DB) Root(id int64) (int64, error) {
	to, ok, err := mergedTo.Get(db.db, id)
	if err != nil {
		return 0, fmt.Errorf("read forwarding of cluster %d: %w", id, err)
	}
	if ok {
		return to, nil
	}
	return id, nil
}

// ClusterOf returns the surviving cluster that address belongs to.
func (db *DB) ClusterOf(address string) (int64, bool, error) {
	id, ok, err := addressClusters.Get(db.db, address)
	if err != nil {
		return 0, false, fmt.Errorf("read cluster of %s: %w", address, err)
	}
	if !ok {
		return 0, false, nil
	}
	root, err := db.Root(id)
	return root, true, err
}

// ClustersOf resolves many addresses at once. Unmapped addresses are
// absent from the result.
func (db *DB) ClustersOf(ctx context.Context, addresses []string) (map[string]int64, error) {
	type found struct {
		id int64
		ok bool
	}
	results := make([]found, len(addresses))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupWorkers)
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, ok, err := db.ClusterOf(addr)
			if err != nil {
				return err
			}
			results[i] = found{id: id, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(addresses))
	for i, r := range results {
		if r.ok {
			m[addresses[i]] = r.id
		}
	}
	return m, nil
}

// MergedFrom lists the clusters forwarded into target, ascending.
func (db *DB) MergedFrom(target int64) ([]int64, error) {
	var ids []int64
	err := mergedFrom.Scan(db.db, pkg.Key(target), false, func(k MergeKey, _ none) (bool, error) {
		ids = append(ids, k.From)
		return true, nil
	})
	return ids, err
}

// ClusterAddresses lists the members of id and of every cluster merged
// into it, sorted.
func (db *DB) ClusterAddresses(id int64) ([]string, error) {
	root, err := db.Root(id)
	if err != nil {
		return nil, err
	}
	absorbed, err := db.MergedFrom(root)
	if err != nil {
		return nil, err
	}

	var addresses []string
	for _, cid := range append([]int64{root}, absorbed...) {
		err := clusterMembers.Scan(db.db, pkg.Key(cid), false, func(k MemberKey, _ none) (bool, error) {
			addresses = append(addresses, k.Address)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(addresses)
	return addresses, nil
}

// AssignAddresses registers addresses as members of clusterID.
func (b *Batch) AssignAddresses(clusterID int64, addresses []string) error {
	for _, addr := range addresses {
		if err := addressClusters.Put(b, addr, clusterID); err != nil {
			return err
		}
		if err := clusterMembers.Put(b, MemberKey{ClusterID: clusterID, Address: addr}, none{}); err != nil {
			return err
		}
	}
	return nil
}

// MergeClusters forwards every cluster in from to target. Clusters that
// were already forwarded into a merged cluster are re-pointed at target,
// and the current balances of the merged clusters move to target.
func (b *Batch) MergeClusters(target int64, from []int64) error {
	if len(from) == 0 {
		return nil
	}
	for _, f := range from {
		if f == target {
			return fmt.Errorf("merge cluster %d into itself", f)
		}
		absorbed, err := b.db.MergedFrom(f)
		if err != nil {
			return err
		}
		for _, g := range append(absorbed, f) {
			if err := mergedTo.Put(b, g, target); err != nil {
				return err
			}
			if err := mergedFrom.Put(b, MergeKey{Target: target, From: g}, none{}); err != nil {
				return err
			}
			if g != f {
				if err := mergedFrom.Delete(b, MergeKey{Target: f, From: g}); err != nil {
					return err
				}
			}
		}
	}
	return b.absorbBalances(target, from)
}
