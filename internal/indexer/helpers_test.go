package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	tmdb "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/zap"
)

var params = &chaincfg.MainNetParams

func testAddress(t *testing.T, name string) btcutil.Address {
	t.Helper()
	a, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte(name)), params)
	require.NoError(t, err)
	return a
}

// addr is the encoded P2PKH address derived from name.
func addr(t *testing.T, name string) string {
	return testAddress(t, name).EncodeAddress()
}

func scriptHex(t *testing.T, name string) string {
	t.Helper()
	var (
		script []byte
		err    error
	)
	if name == "" {
		script, err = txscript.NullDataScript([]byte("memo"))
	} else {
		script, err = txscript.PayToAddrScript(testAddress(t, name))
	}
	require.NoError(t, err)
	return hex.EncodeToString(script)
}

type pay struct {
	to  string
	btc float64
}

type outpoint struct {
	txid string
	vout uint32
}

// fakeNode serves a chain built by the test.
type fakeNode struct {
	mu     sync.Mutex
	blocks []*model.BlockHeader
	txs    map[string]*btcjson.TxRawResult
	// fail makes the next GetTransactions that asks for the txid fail
	fail      map[string]error
	calls     map[string]int
	requested [][]string
}

func (n *fakeNode) GetBlockCount(context.Context) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return int64(len(n.blocks) - 1), nil
}

func (n *fakeNode) GetBlockHash(_ context.Context, height int64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height < 0 || height >= int64(len(n.blocks)) {
		return "", fmt.Errorf("block height out of range: %d", height)
	}
	return n.blocks[height].Hash, nil
}

func (n *fakeNode) GetBlock(_ context.Context, hash string) (*model.BlockHeader, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, b := range n.blocks {
		if b.Hash != hash {
			continue
		}
		h := *b
		h.NextHash = ""
		if i+1 < len(n.blocks) {
			h.NextHash = n.blocks[i+1].Hash
		}
		return &h, nil
	}
	return nil, fmt.Errorf("block not found: %s", hash)
}

func (n *fakeNode) GetTransactions(_ context.Context, txids []string) ([]*btcjson.TxRawResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls["GetTransactions"]++
	n.requested = append(n.requested, append([]string(nil), txids...))
	out := make([]*btcjson.TxRawResult, len(txids))
	for i, id := range txids {
		if err, ok := n.fail[id]; ok {
			delete(n.fail, id)
			return nil, err
		}
		tx, ok := n.txs[id]
		if !ok {
			return nil, fmt.Errorf("No such mempool or blockchain transaction: %s", id)
		}
		out[i] = tx
	}
	return out, nil
}

// testChain builds blocks and transactions for a fakeNode.
type testChain struct {
	t    *testing.T
	node *fakeNode
	seq  int
	fork int
}

func newTestChain(t *testing.T) *testChain {
	c := &testChain{t: t, node: &fakeNode{
		txs:   map[string]*btcjson.TxRawResult{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}}
	c.mine(c.coinbase(pay{"genesis", 50}))
	return c
}

func (c *testChain) txid() string {
	c.seq++
	return fmt.Sprintf("%064x", c.seq)
}

func (c *testChain) outputs(pays []pay) []btcjson.Vout {
	vout := make([]btcjson.Vout, len(pays))
	for i, p := range pays {
		vout[i] = btcjson.Vout{
			Value:        p.btc,
			N:            uint32(i),
			ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: scriptHex(c.t, p.to)},
		}
	}
	return vout
}

func (c *testChain) coinbase(pays ...pay) string {
	id := c.txid()
	c.node.txs[id] = &btcjson.TxRawResult{
		Txid: id,
		Vin:  []btcjson.Vin{{Coinbase: "03a0bb0d"}},
		Vout: c.outputs(pays),
	}
	return id
}

func (c *testChain) tx(ins []outpoint, pays ...pay) string {
	id := c.txid()
	vin := make([]btcjson.Vin, len(ins))
	for i, in := range ins {
		vin[i] = btcjson.Vin{Txid: in.txid, Vout: in.vout}
	}
	c.node.txs[id] = &btcjson.TxRawResult{Txid: id, Vin: vin, Vout: c.outputs(pays)}
	return id
}

func (c *testChain) header(height int64, txids []string) *model.BlockHeader {
	h := &model.BlockHeader{
		Height: height,
		Hash:   fmt.Sprintf("%032x%032x", c.fork, height),
		TxIDs:  txids,
	}
	if height > 0 {
		h.PrevHash = c.node.blocks[height-1].Hash
	}
	return h
}

// mine appends a block holding txids.
func (c *testChain) mine(txids ...string) {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	c.node.blocks = append(c.node.blocks, c.header(int64(len(c.node.blocks)), txids))
}

// reorg replaces every block from height on with one new block holding txids.
func (c *testChain) reorg(height int64, txids ...string) {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	c.fork++
	c.node.blocks = c.node.blocks[:height]
	c.node.blocks = append(c.node.blocks, c.header(height, txids))
}

type fakeMetrics struct {
	mu           sync.Mutex
	checkpoints  []model.Checkpoints
	onCheckpoint func(model.Checkpoints)
}

func (m *fakeMetrics) SetPhase(string) {}

func (m *fakeMetrics) SetCheckpoints(cp model.Checkpoints) {
	m.mu.Lock()
	m.checkpoints = append(m.checkpoints, cp)
	hook := m.onCheckpoint
	m.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
}

func (m *fakeMetrics) ObserveBlock(string, error, int, time.Time) {}

func (m *fakeMetrics) ObserveClusters(int, int) {}

type testStore struct {
	mem *tmdb.MemDB
	db  *db.DB
}

func newTestStore(t *testing.T) *testStore {
	mem := tmdb.NewMemDB()
	s := &testStore{mem: mem, db: db.NewDBWithBackend(mem, zap.NewNop())}
	t.Cleanup(func() { _ = s.db.Close() })
	return s
}

// dump returns every key and value in the store.
func (s *testStore) dump(t *testing.T) map[string]string {
	t.Helper()
	it, err := s.mem.Iterator(nil, nil)
	require.NoError(t, err)
	defer it.Close()
	out := map[string]string{}
	for ; it.Valid(); it.Next() {
		out[string(it.Key())] = hex.EncodeToString(it.Value())
	}
	return out
}

func testIndexerConfig() *config.IndexerConfig {
	return &config.IndexerConfig{
		StayBehind:     0,
		StartHeight:    1,
		InFlightBlocks: 2,
		PollInterval:   time.Millisecond,
		RetryDelay:     time.Millisecond,
	}
}

func newTestCoordinator(conf *config.IndexerConfig, s *testStore, node Node, m *fakeMetrics) *Coordinator {
	return NewCoordinator(conf, s.db, node, params, m, zap.NewNop())
}

// runUntilIdle runs passes until one finds nothing to do and returns the
// errors of the failed passes.
func runUntilIdle(t *testing.T, ctx context.Context, c *Coordinator) []error {
	t.Helper()
	var errs []error
	for i := 0; i < 50; i++ {
		phase, err := c.Pass(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if phase == PhaseIdle {
			return errs
		}
	}
	t.Fatalf("coordinator did not become idle, errors: %v", errs)
	return nil
}
