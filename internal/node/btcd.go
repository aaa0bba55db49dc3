package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
)

// BtcdBatcher sends batched JSON-RPC requests through btcd batch clients.
// A batch client accumulates one request list until Send, so each client
// is checked out by a single round trip at a time.
type BtcdBatcher struct {
	pool chan *rpcclient.Client
}

func NewBtcdBatcher(clients ...*rpcclient.Client) *BtcdBatcher {
	pool := make(chan *rpcclient.Client, len(clients))
	for _, c := range clients {
		pool <- c
	}
	return &BtcdBatcher{pool: pool}
}

func (b *BtcdBatcher) acquire(ctx context.Context) (*rpcclient.Client, error) {
	select {
	case c := <-b.pool:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *BtcdBatcher) release(c *rpcclient.Client) {
	b.pool <- c
}

// GetRawTransactions fetches the hex of every txid in one round trip.
func (b *BtcdBatcher) GetRawTransactions(ctx context.Context, txids []string) ([]Result[string], error) {
	c, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.release(c)

	futures := make([]rpcclient.FutureRawResult, len(txids))
	for i, txid := range txids {
		param, err := json.Marshal(txid)
		if err != nil {
			return nil, err
		}
		futures[i] = c.RawRequestAsync("getrawtransaction", []json.RawMessage{param})
	}
	if err := c.Send(); err != nil {
		return nil, fmt.Errorf("send getrawtransaction batch: %w", err)
	}

	results := make([]Result[string], len(txids))
	for i, f := range futures {
		raw, err := f.Receive()
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Err = json.Unmarshal(raw, &results[i].Value)
	}
	return results, nil
}

// DecodeRawTransactions decodes every hex transaction in one round trip.
func (b *BtcdBatcher) DecodeRawTransactions(ctx context.Context, raws []string) ([]Result[*btcjson.TxRawResult], error) {
	c, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.release(c)

	results := make([]Result[*btcjson.TxRawResult], len(raws))
	futures := make([]rpcclient.FutureDecodeRawTransactionResult, len(raws))
	queued := make([]bool, len(raws))
	n := 0
	for i, raw := range raws {
		serialized, err := hex.DecodeString(raw)
		if err != nil {
			results[i].Err = fmt.Errorf("decode transaction hex: %w", err)
			continue
		}
		futures[i] = c.DecodeRawTransactionAsync(serialized)
		queued[i] = true
		n++
	}
	if n == 0 {
		return results, nil
	}
	if err := c.Send(); err != nil {
		return nil, fmt.Errorf("send decoderawtransaction batch: %w", err)
	}

	for i, f := range futures {
		if !queued[i] {
			continue
		}
		results[i].Value, results[i].Err = f.Receive()
	}
	return results, nil
}
