package indexer

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/zap"
)

// BlockSource walks the node's chain forward by next-block links.
type BlockSource struct {
	node   Node
	logger *zap.Logger
}

func NewBlockSource(node Node, logger *zap.Logger) *BlockSource {
	return &BlockSource{node: node, logger: logger}
}

// Stream sends the block with hash start and its successors to out, up to
// and including height to, or until the tip if it is reached first. The
// send blocks while out is full. Stream closes out when it returns.
func (s *BlockSource) Stream(ctx context.Context, start string, to int64, out chan<- *model.BlockHeader) error {
	defer close(out)

	hash := start
	var prev *model.BlockHeader
	for hash != "" {
		h, err := s.node.GetBlock(ctx, hash)
		if err != nil {
			return err
		}
		if prev != nil && (h.Height != prev.Height+1 || h.PrevHash != prev.Hash) {
			return fmt.Errorf("%w: block %s at %d does not follow %s at %d",
				ErrReorgDetected, h.Hash, h.Height, prev.Hash, prev.Height)
		}
		if h.Height > to {
			return nil
		}
		select {
		case out <- h:
		case <-ctx.Done():
			return ctx.Err()
		}
		if h.Height == to {
			return nil
		}
		prev, hash = h, h.NextHash
	}
	if prev != nil {
		s.logger.Debug("BlockSource::Stream reached tip", zap.String("hash", prev.Hash), zap.Int64("height", prev.Height))
	}
	return nil
}

// Enricher turns block headers into blocks with transactions and inputs
// resolved against the outputs they spend.
type Enricher struct {
	node   Node
	params *chaincfg.Params
	logger *zap.Logger
}

func NewEnricher(node Node, params *chaincfg.Params, logger *zap.Logger) *Enricher {
	return &Enricher{node: node, params: params, logger: logger}
}

// AttachTransactions fetches and decodes every transaction of the block.
func (e *Enricher) AttachTransactions(ctx context.Context, h *model.BlockHeader) (*model.Block, error) {
	raws, err := e.node.GetTransactions(ctx, h.TxIDs)
	if err != nil {
		return nil, fmt.Errorf("block %d transactions: %w", h.Height, err)
	}
	b := &model.Block{
		Height:   h.Height,
		Hash:     h.Hash,
		PrevHash: h.PrevHash,
		NextHash: h.NextHash,
		Tx:       make([]*model.Transaction, 0, len(raws)),
	}
	for _, raw := range raws {
		tx, err := convertTransaction(raw, e.params)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", h.Height, err)
		}
		b.Tx = append(b.Tx, tx)
	}
	return b, nil
}

// AttachInputs resolves the value and address of every input. Outputs of
// earlier transactions of the same block are used first; everything else
// is fetched from the node in one deduplicated batch. Spending a later
// transaction of the same block fails the block.
func (e *Enricher) AttachInputs(ctx context.Context, b *model.Block) error {
	position := make(map[string]int, len(b.Tx))
	for i, tx := range b.Tx {
		position[tx.TxID] = i
	}
	earlier := make(map[string]*model.Transaction, len(b.Tx))
	var pending []*model.Input
	for i, tx := range b.Tx {
		for _, in := range tx.Inputs {
			if in.Coinbase || in.Resolved {
				continue
			}
			if prev, ok := earlier[in.TxID]; ok {
				if err := resolveInput(in, prev); err != nil {
					return fmt.Errorf("block %d tx %s: %w", b.Height, tx.TxID, err)
				}
				continue
			}
			if j, ok := position[in.TxID]; ok && j >= i {
				return fmt.Errorf("block %d tx %d (%s) spends tx %d of the same block", b.Height, i, tx.TxID, j)
			}
			pending = append(pending, in)
		}
		earlier[tx.TxID] = tx
	}
	if len(pending) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(pending))
	txids := make([]string, 0, len(pending))
	for _, in := range pending {
		if _, ok := seen[in.TxID]; ok {
			continue
		}
		seen[in.TxID] = struct{}{}
		txids = append(txids, in.TxID)
	}
	raws, err := e.node.GetTransactions(ctx, txids)
	if err != nil {
		return fmt.Errorf("block %d spent transactions: %w", b.Height, err)
	}
	if len(raws) != len(txids) {
		return fmt.Errorf("block %d: node returned %d of %d spent transactions", b.Height, len(raws), len(txids))
	}
	spent := make(map[string]*model.Transaction, len(raws))
	for i, raw := range raws {
		tx, err := convertTransaction(raw, e.params)
		if err != nil {
			return fmt.Errorf("block %d: %w", b.Height, err)
		}
		spent[txids[i]] = tx
	}
	for _, in := range pending {
		if err := resolveInput(in, spent[in.TxID]); err != nil {
			return fmt.Errorf("block %d: %w", b.Height, err)
		}
	}
	e.logger.Debug("Enricher::AttachInputs",
		zap.Int64("height", b.Height),
		zap.Int("inputs", len(pending)),
		zap.Int("fetched", len(txids)))
	return nil
}
