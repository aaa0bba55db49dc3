// Package node adapts the bitcoind JSON-RPC interface to what the indexer
// consumes: single calls for the chain tip and block headers, and chunked
// batch calls for transactions.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/ratelimit"
)

type (
	// ChainRPC is the subset of *rpcclient.Client used for single calls.
	ChainRPC interface {
		GetBlockCount() (int64, error)
		GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
		GetBlockVerbose(blockHash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error)
	}

	// Batcher issues one round trip per call, whatever the number of
	// requests. Callers keep each call within the node's batch limit.
	Batcher interface {
		GetRawTransactions(ctx context.Context, txids []string) ([]Result[string], error)
		DecodeRawTransactions(ctx context.Context, raws []string) ([]Result[*btcjson.TxRawResult], error)
	}

	// RPCMetrics records metrics for RPC calls.
	RPCMetrics interface {
		Observe(operation string, err error, started time.Time)
		ObserveBatch(operation string, size int)
	}
)

// Client is the node as seen by the indexer.
type Client struct {
	rpc      ChainRPC
	batch    Batcher
	limiter  ratelimit.Limiter
	metrics  RPCMetrics
	maxBatch int
	workers  int
	shutdown []func()
}

// NewClient wraps already constructed transports.
func NewClient(rpc ChainRPC, batch Batcher, conf *config.BitcoinRPCConfig, metrics RPCMetrics) *Client {
	limiter := ratelimit.NewUnlimited()
	if conf.MaxRPS > 0 {
		limiter = ratelimit.New(conf.MaxRPS)
	}
	maxBatch := conf.MaxBatchSize
	if maxBatch <= 0 || maxBatch > config.MaxBatchSize {
		maxBatch = config.MaxBatchSize
	}
	return &Client{
		rpc:      rpc,
		batch:    batch,
		limiter:  limiter,
		metrics:  metrics,
		maxBatch: maxBatch,
		workers:  conf.FetchWorkers,
	}
}

// Dial connects to the node over HTTP POST: one client for single calls
// and one batch client per fetch worker.
func Dial(conf *config.BitcoinRPCConfig, metrics RPCMetrics) (*Client, error) {
	connConfig := &rpcclient.ConnConfig{
		Host:         conf.URL,
		User:         conf.User,
		Pass:         conf.Password,
		HTTPPostMode: true, // Bitcoin core only supports HTTP POST mode
		DisableTLS:   true, // Bitcoin core does not provide TLS by default
	}
	single, err := rpcclient.New(connConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}

	shutdown := []func(){single.Shutdown}
	workers := conf.FetchWorkers
	if workers <= 0 {
		workers = 1
	}
	batchClients := make([]*rpcclient.Client, 0, workers)
	for i := 0; i < workers; i++ {
		bc, err := rpcclient.NewBatch(connConfig)
		if err != nil {
			for _, f := range shutdown {
				f()
			}
			return nil, fmt.Errorf("create batch rpc client: %w", err)
		}
		batchClients = append(batchClients, bc)
		shutdown = append(shutdown, bc.Shutdown)
	}

	c := NewClient(single, NewBtcdBatcher(batchClients...), conf, metrics)
	c.shutdown = shutdown
	return c, nil
}

// Shutdown releases the underlying connections.
func (c *Client) Shutdown() {
	for _, f := range c.shutdown {
		f()
	}
}

func (c *Client) call(ctx context.Context, operation string, fn func() error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.limiter.Take()
	started := time.Now()
	defer func() {
		c.metrics.Observe(operation, err, started)
	}()
	return fn()
}

// GetBlockCount returns the height of the node's best chain.
func (c *Client) GetBlockCount(ctx context.Context) (count int64, err error) {
	err = c.call(ctx, "getblockcount", func() error {
		count, err = c.rpc.GetBlockCount()
		return err
	})
	return count, err
}

// GetBlockHash returns the hash of the best-chain block at height.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash *chainhash.Hash
	err := c.call(ctx, "getblockhash", func() (err error) {
		hash, err = c.rpc.GetBlockHash(height)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("getblockhash %d: %w", height, err)
	}
	return hash.String(), nil
}

// GetBlock returns the header and txids of the block with hash.
func (c *Client) GetBlock(ctx context.Context, hash string) (*model.BlockHeader, error) {
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, fmt.Errorf("parse block hash %s: %w", hash, err)
	}
	var res *btcjson.GetBlockVerboseResult
	err = c.call(ctx, "getblock", func() (err error) {
		res, err = c.rpc.GetBlockVerbose(h)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	return &model.BlockHeader{
		Height:   res.Height,
		Hash:     res.Hash,
		PrevHash: res.PreviousHash,
		NextHash: res.NextHash,
		TxIDs:    res.Tx,
	}, nil
}

// GetRawTransactions fetches the hex of every txid, in order. Any
// per-transaction error fails the call.
func (c *Client) GetRawTransactions(ctx context.Context, txids []string) ([]string, error) {
	results, err := fanOut(ctx, txids, c.maxBatch, c.workers, func(ctx context.Context, in []string) (res []Result[string], err error) {
		c.metrics.ObserveBatch("getrawtransaction", len(in))
		err = c.call(ctx, "getrawtransaction", func() (err error) {
			res, err = c.batch.GetRawTransactions(ctx, in)
			return err
		})
		return res, err
	})
	if err != nil {
		return nil, err
	}
	raws := make([]string, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("getrawtransaction %s: %w", txids[i], r.Err)
		}
		raws[i] = r.Value
	}
	return raws, nil
}

// DecodeRawTransactions decodes every hex transaction, in order.
func (c *Client) DecodeRawTransactions(ctx context.Context, raws []string) ([]*btcjson.TxRawResult, error) {
	results, err := fanOut(ctx, raws, c.maxBatch, c.workers, func(ctx context.Context, in []string) (res []Result[*btcjson.TxRawResult], err error) {
		c.metrics.ObserveBatch("decoderawtransaction", len(in))
		err = c.call(ctx, "decoderawtransaction", func() (err error) {
			res, err = c.batch.DecodeRawTransactions(ctx, in)
			return err
		})
		return res, err
	})
	if err != nil {
		return nil, err
	}
	txs := make([]*btcjson.TxRawResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("decoderawtransaction #%d: %w", i, r.Err)
		}
		if r.Value == nil {
			return nil, fmt.Errorf("decoderawtransaction #%d: empty result", i)
		}
		txs[i] = r.Value
	}
	return txs, nil
}

// GetTransactions fetches and decodes the transactions with txids, in order.
func (c *Client) GetTransactions(ctx context.Context, txids []string) ([]*btcjson.TxRawResult, error) {
	raws, err := c.GetRawTransactions(ctx, txids)
	if err != nil {
		return nil, err
	}
	txs, err := c.DecodeRawTransactions(ctx, raws)
	if err != nil {
		return nil, err
	}
	for i, tx := range txs {
		if tx.Txid != txids[i] {
			return nil, fmt.Errorf("decoded %s where %s was requested", tx.Txid, txids[i])
		}
	}
	return txs, nil
}
