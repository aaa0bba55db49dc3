package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/zap"
)

func inputs(values ...int64) []*model.Input {
	out := make([]*model.Input, len(values))
	for i, v := range values {
		out[i] = &model.Input{TxID: "prev", Vout: uint32(i), Resolved: true, Value: v}
	}
	return out
}

func outputs(values ...int64) []*model.Output {
	out := make([]*model.Output, len(values))
	for i, v := range values {
		out[i] = &model.Output{Value: v}
	}
	return out
}

func TestIsMixing(t *testing.T) {
	const coin = 100000000
	tests := []struct {
		name string
		tx   *model.Transaction
		want bool
	}{
		{
			name: "equal inputs and outputs",
			tx:   &model.Transaction{Inputs: inputs(coin, coin, coin), Outputs: outputs(coin, coin, coin)},
			want: true,
		},
		{
			name: "unequal outputs",
			tx:   &model.Transaction{Inputs: inputs(coin, coin), Outputs: outputs(coin, 90000000)},
		},
		{
			name: "single input",
			tx:   &model.Transaction{Inputs: inputs(coin), Outputs: outputs(coin)},
		},
		{
			name: "output count differs",
			tx:   &model.Transaction{Inputs: inputs(coin, coin), Outputs: outputs(coin, coin, coin)},
		},
		{
			name: "unequal inputs",
			tx:   &model.Transaction{Inputs: inputs(coin, 2*coin), Outputs: outputs(coin, coin)},
		},
		{
			name: "unresolved first input",
			tx: &model.Transaction{
				Inputs:  []*model.Input{{TxID: "prev"}, {TxID: "prev", Vout: 1, Resolved: true}},
				Outputs: outputs(0, 0),
			},
		},
		{
			name: "coinbase",
			tx: &model.Transaction{
				Inputs:  []*model.Input{{Coinbase: true}, {Coinbase: true}},
				Outputs: outputs(0, 0),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isMixing(tt.tx))
		})
	}
}

func TestDisjointSet(t *testing.T) {
	d := newDisjointSet(5)
	d.union(3, 1)
	d.union(4, 3)
	d.union(2, 2)

	require.Equal(t, 1, d.find(4))
	require.Equal(t, 1, d.find(3))
	require.Equal(t, 2, d.find(2))
	require.Equal(t, 0, d.find(0))
}

func spend(address string, value int64) *model.Input {
	return &model.Input{TxID: "prev", Resolved: true, Value: value, Address: address}
}

func pays(address string, value int64) *model.Output {
	return &model.Output{Value: value, Address: address}
}

func TestMergeBlockTransitiveNewCluster(t *testing.T) {
	store := newTestStore(t)
	engine := NewClusterEngine(store.db, zap.NewNop())

	b := &model.Block{Height: 1, Tx: []*model.Transaction{
		{TxID: "t1", Inputs: []*model.Input{spend("A", 5), spend("B", 5)}, Outputs: []*model.Output{pays("O1", 9)}},
		{TxID: "t2", Inputs: []*model.Input{spend("B", 5), spend("C", 5)}, Outputs: []*model.Output{pays("O2", 9)}},
		{TxID: "t3", Inputs: []*model.Input{spend("D", 5)}, Outputs: []*model.Output{pays("A", 4)}},
	}}

	next := int64(7)
	batch := store.db.NewBatch()
	stats, err := engine.MergeBlock(context.Background(), b, batch, &next)
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	// {A,B,C} takes 7, {D} takes 8, outputs O1 and O2 become singletons
	require.Equal(t, int64(11), next)
	require.Equal(t, ClusterStats{Created: 4, Merged: 0, Members: 6}, stats)
	for name, want := range map[string]int64{"A": 7, "B": 7, "C": 7, "D": 8, "O1": 9, "O2": 10} {
		id, ok, err := store.db.ClusterOf(name)
		require.NoError(t, err)
		require.True(t, ok, name)
		require.Equal(t, want, id, name)
	}
}

func TestMergeBlockLowestExistingIDSurvives(t *testing.T) {
	store := newTestStore(t)
	batch := store.db.NewBatch()
	require.NoError(t, batch.AssignAddresses(2, []string{"A"}))
	require.NoError(t, batch.AssignAddresses(5, []string{"B"}))
	require.NoError(t, batch.AssignAddresses(9, []string{"C"}))
	require.NoError(t, batch.Commit())

	b := &model.Block{Height: 3, Tx: []*model.Transaction{
		{TxID: "t1", Inputs: []*model.Input{spend("C", 1), spend("B", 1), spend("N", 1)}, Outputs: []*model.Output{pays("", 2)}},
		{TxID: "t2", Inputs: []*model.Input{spend("A", 1), spend("C", 1)}},
	}}
	next := int64(10)
	batch = store.db.NewBatch()
	stats, err := NewClusterEngine(store.db, zap.NewNop()).MergeBlock(context.Background(), b, batch, &next)
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	require.Equal(t, int64(10), next)
	require.Equal(t, 2, stats.Merged)
	for _, a := range []string{"A", "B", "C", "N"} {
		id, _, err := store.db.ClusterOf(a)
		require.NoError(t, err)
		require.Equal(t, int64(2), id, a)
	}
	from, err := store.db.MergedFrom(2)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 9}, from)
}

func TestMergeBlockMixingInputsBecomeSingletons(t *testing.T) {
	store := newTestStore(t)
	b := &model.Block{Height: 1, Tx: []*model.Transaction{{
		TxID:    "mix",
		Inputs:  []*model.Input{spend("A", 3), spend("B", 3)},
		Outputs: []*model.Output{pays("X", 3), pays("X", 3)},
	}}}
	next := int64(0)
	batch := store.db.NewBatch()
	_, err := NewClusterEngine(store.db, zap.NewNop()).MergeBlock(context.Background(), b, batch, &next)
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	require.Equal(t, int64(3), next)
	for name, want := range map[string]int64{"A": 0, "B": 1, "X": 2} {
		id, _, err := store.db.ClusterOf(name)
		require.NoError(t, err)
		require.Equal(t, want, id, name)
	}
}

func TestDedupIDs(t *testing.T) {
	require.Equal(t, []int64{1, 4, 9}, dedupIDs([]int64{9, 1, 4, 1, 9}))
	require.Empty(t, dedupIDs(nil))
}
