package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/scylladb/go-set/strset"
	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/zap"
)

// isMixing reports whether tx has the shape of a mixing round: two or more
// inputs of one known value and as many outputs of that same value.
func isMixing(tx *model.Transaction) bool {
	n := len(tx.Inputs)
	if n < 2 || len(tx.Outputs) != n {
		return false
	}
	first := tx.Inputs[0]
	if first.Coinbase || !first.Resolved {
		return false
	}
	for _, in := range tx.Inputs {
		if in.Coinbase || !in.Resolved || in.Value != first.Value {
			return false
		}
	}
	for _, out := range tx.Outputs {
		if out.Value != first.Value {
			return false
		}
	}
	return true
}

// candidate is a provisional cluster built from one transaction's inputs.
type candidate struct {
	ids   []int64  // existing clusters, encounter order
	fresh []string // addresses without a cluster, encounter order
}

// disjointSet is a union-find over candidate indices. The lower index
// always becomes the root so groups keep first-transaction order.
type disjointSet []int

func newDisjointSet(n int) disjointSet {
	d := make(disjointSet, n)
	for i := range d {
		d[i] = i
	}
	return d
}

func (d disjointSet) find(i int) int {
	for d[i] != i {
		d[i] = d[d[i]]
		i = d[i]
	}
	return i
}

func (d disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	switch {
	case ra < rb:
		d[rb] = ra
	case rb < ra:
		d[ra] = rb
	}
}

// ClusterStats summarizes what one block did to the cluster mapping.
type ClusterStats struct {
	Created int
	Merged  int
	Members int
}

// ClusterEngine computes and merges the address clusters of one block.
type ClusterEngine struct {
	db     *db.DB
	logger *zap.Logger
}

func NewClusterEngine(store *db.DB, logger *zap.Logger) *ClusterEngine {
	return &ClusterEngine{db: store, logger: logger}
}

// MergeBlock stages the cluster changes of b into batch. nextID is the next
// unallocated cluster id and is advanced past every id allocated here.
func (e *ClusterEngine) MergeBlock(ctx context.Context, b *model.Block, batch *db.Batch, nextID *int64) (ClusterStats, error) {
	var stats ClusterStats

	// addresses to cluster per transaction, and every address in the block
	toCluster := make([][]string, len(b.Tx))
	var all []string
	seen := strset.New()
	addr := func(a string) {
		if a != "" && !seen.Has(a) {
			seen.Add(a)
			all = append(all, a)
		}
	}
	for i, tx := range b.Tx {
		mixing := isMixing(tx)
		inTx := strset.New()
		for _, in := range tx.Inputs {
			addr(in.Address)
			if mixing || in.Address == "" || inTx.Has(in.Address) {
				continue
			}
			inTx.Add(in.Address)
			toCluster[i] = append(toCluster[i], in.Address)
		}
		for _, out := range tx.Outputs {
			addr(out.Address)
		}
	}

	existing, err := e.db.ClustersOf(ctx, all)
	if err != nil {
		return stats, fmt.Errorf("resolve clusters of block %d: %w", b.Height, err)
	}

	var cands []candidate
	for _, addrs := range toCluster {
		if len(addrs) == 0 {
			continue
		}
		var c candidate
		for _, a := range addrs {
			if id, ok := existing[a]; ok {
				c.ids = append(c.ids, id)
			} else {
				c.fresh = append(c.fresh, a)
			}
		}
		cands = append(cands, c)
	}

	set := newDisjointSet(len(cands))
	firstByAddr := make(map[string]int)
	firstByID := make(map[int64]int)
	for i, c := range cands {
		for _, a := range c.fresh {
			if j, ok := firstByAddr[a]; ok {
				set.union(i, j)
			} else {
				firstByAddr[a] = i
			}
		}
		for _, id := range c.ids {
			if j, ok := firstByID[id]; ok {
				set.union(i, j)
			} else {
				firstByID[id] = i
			}
		}
	}

	// collect groups keyed by root, in order of their first candidate
	groups := make(map[int]*candidate)
	var roots []int
	for i, c := range cands {
		r := set.find(i)
		g, ok := groups[r]
		if !ok {
			g = &candidate{}
			groups[r] = g
			roots = append(roots, r)
		}
		g.ids = append(g.ids, c.ids...)
		g.fresh = append(g.fresh, c.fresh...)
	}

	for _, r := range roots {
		g := groups[r]
		fresh := dedupStrings(g.fresh)
		ids := dedupIDs(g.ids)
		if len(ids) == 0 {
			target := *nextID
			*nextID++
			stats.Created++
			stats.Members += len(fresh)
			if err := batch.AssignAddresses(target, fresh); err != nil {
				return stats, err
			}
			continue
		}
		target, from := ids[0], ids[1:]
		if err := batch.AssignAddresses(target, fresh); err != nil {
			return stats, err
		}
		if err := batch.MergeClusters(target, from); err != nil {
			return stats, fmt.Errorf("merge into cluster %d: %w", target, err)
		}
		stats.Members += len(fresh)
		stats.Merged += len(from)
	}

	// singletons for whatever is still unmapped
	for _, a := range all {
		if _, ok := existing[a]; ok {
			continue
		}
		if _, ok := firstByAddr[a]; ok {
			continue
		}
		if err := batch.AssignAddresses(*nextID, []string{a}); err != nil {
			return stats, err
		}
		*nextID++
		stats.Created++
		stats.Members++
	}

	e.logger.Debug("ClusterEngine::MergeBlock",
		zap.Int64("height", b.Height),
		zap.Int("candidates", len(cands)),
		zap.Int("groups", len(roots)),
		zap.Int("created", stats.Created),
		zap.Int("merged", stats.Merged))
	return stats, nil
}

func dedupStrings(in []string) []string {
	set := strset.NewWithSize(len(in))
	out := in[:0:0]
	for _, s := range in {
		if !set.Has(s) {
			set.Add(s)
			out = append(out, s)
		}
	}
	return out
}

// dedupIDs returns the distinct ids ascending.
func dedupIDs(in []int64) []int64 {
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
