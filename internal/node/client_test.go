package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
)

type fakeChain struct {
	count int64
	err   error
	block *btcjson.GetBlockVerboseResult
}

func (f *fakeChain) GetBlockCount() (int64, error) { return f.count, f.err }

func (f *fakeChain) GetBlockHash(height int64) (*chainhash.Hash, error) {
	if f.err != nil {
		return nil, f.err
	}
	var h chainhash.Hash
	h[0] = byte(height)
	return &h, nil
}

func (f *fakeChain) GetBlockVerbose(*chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	return f.block, f.err
}

type fakeBatcher struct {
	mu      sync.Mutex
	sizes   []int
	failTx  string
	failAll error
}

func (f *fakeBatcher) GetRawTransactions(_ context.Context, txids []string) ([]Result[string], error) {
	f.mu.Lock()
	f.sizes = append(f.sizes, len(txids))
	f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	res := make([]Result[string], len(txids))
	for i, id := range txids {
		if id == f.failTx {
			res[i].Err = errors.New("No such mempool or blockchain transaction")
			continue
		}
		res[i].Value = "raw-" + id
	}
	return res, nil
}

func (f *fakeBatcher) DecodeRawTransactions(_ context.Context, raws []string) ([]Result[*btcjson.TxRawResult], error) {
	res := make([]Result[*btcjson.TxRawResult], len(raws))
	for i, raw := range raws {
		res[i].Value = &btcjson.TxRawResult{Txid: raw[len("raw-"):]}
	}
	return res, nil
}

type fakeMetrics struct {
	mu  sync.Mutex
	ops map[string]int
}

func (m *fakeMetrics) Observe(operation string, _ error, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = map[string]int{}
	}
	m.ops[operation]++
}

func (m *fakeMetrics) ObserveBatch(string, int) {}

func newTestClient(chain *fakeChain, batch *fakeBatcher) (*Client, *fakeMetrics) {
	m := &fakeMetrics{}
	return NewClient(chain, batch, &config.BitcoinRPCConfig{MaxBatchSize: 500, FetchWorkers: 3}, m), m
}

func txids(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("tx%04d", i)
	}
	return ids
}

func TestChunks(t *testing.T) {
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks([]int{1, 2, 3, 4, 5}, 2))
	require.Empty(t, chunks([]int{}, 2))
	require.Equal(t, [][]int{{1, 2}}, chunks([]int{1, 2}, 0))
}

func TestGetRawTransactionsChunksAndKeepsOrder(t *testing.T) {
	batch := &fakeBatcher{}
	c, m := newTestClient(&fakeChain{}, batch)

	ids := txids(1201)
	raws, err := c.GetRawTransactions(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, raws, len(ids))
	for i, id := range ids {
		require.Equal(t, "raw-"+id, raws[i])
	}
	require.ElementsMatch(t, []int{500, 500, 201}, batch.sizes)
	require.Equal(t, 3, m.ops["getrawtransaction"])
}

func TestGetRawTransactionsItemError(t *testing.T) {
	c, _ := newTestClient(&fakeChain{}, &fakeBatcher{failTx: "tx0007"})

	_, err := c.GetRawTransactions(context.Background(), txids(10))
	require.ErrorContains(t, err, "tx0007")
}

func TestGetRawTransactionsBatchError(t *testing.T) {
	boom := errors.New("413 request entity too large")
	c, _ := newTestClient(&fakeChain{}, &fakeBatcher{failAll: boom})

	_, err := c.GetRawTransactions(context.Background(), txids(10))
	require.ErrorIs(t, err, boom)
}

func TestGetTransactions(t *testing.T) {
	c, _ := newTestClient(&fakeChain{}, &fakeBatcher{})

	txs, err := c.GetTransactions(context.Background(), []string{"b", "a"})
	require.NoError(t, err)
	require.Equal(t, "b", txs[0].Txid)
	require.Equal(t, "a", txs[1].Txid)

	txs, err = c.GetTransactions(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestGetBlock(t *testing.T) {
	chain := &fakeChain{block: &btcjson.GetBlockVerboseResult{
		Hash:         "00000000000000000000000000000000000000000000000000000000000000aa",
		Height:       7,
		PreviousHash: "prev",
		NextHash:     "next",
		Tx:           []string{"t1", "t2"},
	}}
	c, m := newTestClient(chain, &fakeBatcher{})

	b, err := c.GetBlock(context.Background(), chain.block.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(7), b.Height)
	require.Equal(t, "prev", b.PrevHash)
	require.Equal(t, "next", b.NextHash)
	require.Equal(t, []string{"t1", "t2"}, b.TxIDs)
	require.Equal(t, 1, m.ops["getblock"])

	_, err = c.GetBlock(context.Background(), "not-a-hash")
	require.Error(t, err)
}

func TestSingleCalls(t *testing.T) {
	c, _ := newTestClient(&fakeChain{count: 800000}, &fakeBatcher{})

	n, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(800000), n)

	hash, err := c.GetBlockHash(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, hash, 64)

	c, _ = newTestClient(&fakeChain{err: errors.New("connection refused")}, &fakeBatcher{})
	_, err = c.GetBlockHash(context.Background(), 1)
	require.ErrorContains(t, err, "connection refused")
}

func TestCanceledContext(t *testing.T) {
	c, m := newTestClient(&fakeChain{count: 1}, &fakeBatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetBlockCount(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, m.ops["getblockcount"])
}
