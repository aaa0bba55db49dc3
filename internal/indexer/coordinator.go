package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
	"go.uber.org/zap"
)

// Coordinator drives the two phase import: merging clusters block by
// block up to the tip minus the stay-behind margin, then saving balances
// transaction by transaction up to the last merged block.
type Coordinator struct {
	conf     *config.IndexerConfig
	db       *db.DB
	node     Node
	pipeline *Pipeline
	engine   *ClusterEngine
	ledger   *BalanceLedger
	metrics  Metrics
	logger   *zap.Logger

	// last committed checkpoints, nil until read from the store
	cp *model.Checkpoints
}

func NewCoordinator(conf *config.IndexerConfig, store *db.DB, node Node, params *chaincfg.Params,
	metrics Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		conf: conf,
		db:   store,
		node: node,
		pipeline: NewPipeline(
			NewBlockSource(node, logger.Named("source")),
			NewEnricher(node, params, logger.Named("enricher")),
			conf.InFlightBlocks),
		engine:  NewClusterEngine(store, logger.Named("cluster")),
		ledger:  NewBalanceLedger(store),
		metrics: metrics,
		logger:  logger,
	}
}

// Run repeats passes until ctx is done or the store is found inconsistent.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		phase, err := c.Pass(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Coordinator::Run stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		}

		wait := time.Duration(0)
		switch {
		case errors.Is(err, ErrClusterMissing):
			c.logger.Error("Coordinator::Run integrity violation", zap.String("phase", string(phase)), zap.Error(err))
			return err
		case errors.Is(err, ErrReorgDetected):
			c.logger.Error("Coordinator::Run reorg", zap.String("phase", string(phase)), zap.Error(err))
			wait = c.conf.RetryDelay
		case err != nil:
			c.logger.Error("Coordinator::Run", zap.String("phase", string(phase)), zap.Error(err))
			wait = c.conf.RetryDelay
		case phase == PhaseIdle:
			wait = c.conf.PollInterval
		}
		if wait > 0 {
			if err := pkg.SleepWithContext(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// Pass evaluates the checkpoints against the tip and runs the phase that
// is due, if any.
func (c *Coordinator) Pass(ctx context.Context) (Phase, error) {
	cp, err := c.checkpoints()
	if err != nil {
		return PhaseIdle, err
	}
	tip, err := c.node.GetBlockCount(ctx)
	if err != nil {
		return PhaseIdle, fmt.Errorf("getblockcount: %w", err)
	}

	target := tip - c.conf.StayBehind
	if from := c.mergeStart(cp); from <= target {
		c.metrics.SetPhase(string(PhaseMerging))
		return PhaseMerging, c.merge(ctx, from, target)
	}
	if cp.LastSavedTxHeight < cp.LastMergedHeight {
		c.metrics.SetPhase(string(PhaseSaving))
		return PhaseSaving, c.save(ctx, c.saveStart(cp), cp.LastMergedHeight)
	}
	c.metrics.SetPhase(string(PhaseIdle))
	return PhaseIdle, nil
}

func (c *Coordinator) mergeStart(cp model.Checkpoints) int64 {
	return max(cp.LastMergedHeight+1, c.conf.StartHeight)
}

func (c *Coordinator) saveStart(cp model.Checkpoints) int64 {
	return max(cp.LastSavedTxHeight+1, c.conf.StartHeight)
}

// checkpoints returns the cached checkpoints, reading them on first use.
func (c *Coordinator) checkpoints() (model.Checkpoints, error) {
	if c.cp != nil {
		return *c.cp, nil
	}
	cp, err := c.db.Checkpoints()
	if err != nil {
		return cp, err
	}
	c.cp = &cp
	c.metrics.SetCheckpoints(cp)
	c.logger.Info("Coordinator::checkpoints",
		zap.Int64("lastMergedHeight", cp.LastMergedHeight),
		zap.Int64("lastSavedTxHeight", cp.LastSavedTxHeight),
		zap.Int64("lastSavedTxN", cp.LastSavedTxN),
		zap.Int64("nextClusterId", cp.NextClusterID))
	return cp, nil
}

// commit writes cp with the rest of batch and only then makes it current.
func (c *Coordinator) commit(batch *db.Batch, cp model.Checkpoints) error {
	if err := batch.PutCheckpoints(cp); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	c.cp = &cp
	c.metrics.SetCheckpoints(cp)
	return nil
}

func (c *Coordinator) merge(ctx context.Context, from, to int64) error {
	if err := c.checkLastMerged(ctx, from-1); err != nil {
		return err
	}
	start, err := c.node.GetBlockHash(ctx, from)
	if err != nil {
		return err
	}
	c.logger.Info("Coordinator::merge", zap.Int64("from", from), zap.Int64("to", to))
	return c.pipeline.Run(ctx, start, to, c.mergeBlock)
}

// checkLastMerged compares the hash merged at height with the node's.
func (c *Coordinator) checkLastMerged(ctx context.Context, height int64) error {
	stored, ok, err := c.db.BlockHash(height)
	if err != nil || !ok {
		return err
	}
	current, err := c.node.GetBlockHash(ctx, height)
	if err != nil {
		return err
	}
	if current == stored {
		return nil
	}
	return c.reorgAt(ctx, height)
}

// reorgAt walks back from height to the last block both chains share and
// reports how deep the fork is.
func (c *Coordinator) reorgAt(ctx context.Context, height int64) error {
	fork := height
	for fork >= c.conf.StartHeight {
		stored, ok, err := c.db.BlockHash(fork)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		current, err := c.node.GetBlockHash(ctx, fork)
		if err != nil {
			return err
		}
		if current == stored {
			break
		}
		fork--
	}
	c.logger.Error("Coordinator::reorg",
		zap.Int64("height", height),
		zap.Int64("forkHeight", fork),
		zap.Int64("depth", height-fork))
	return fmt.Errorf("%w: merged blocks %d..%d left the best chain", ErrReorgDetected, fork+1, height)
}

func (c *Coordinator) mergeBlock(ctx context.Context, b *model.Block) (err error) {
	started := time.Now()
	defer func() {
		c.metrics.ObserveBlock(string(PhaseMerging), err, len(b.Tx), started)
	}()

	cp := *c.cp
	if b.Height != c.mergeStart(cp) {
		return fmt.Errorf("merge block %d after %d", b.Height, cp.LastMergedHeight)
	}
	if prev, ok, err := c.db.BlockHash(b.Height - 1); err != nil {
		return err
	} else if ok && prev != b.PrevHash {
		return c.reorgAt(ctx, b.Height-1)
	}

	batch := c.db.NewBatch()
	stats, err := c.engine.MergeBlock(ctx, b, batch, &cp.NextClusterID)
	if err != nil {
		batch.Discard()
		return err
	}
	if err := batch.PutBlockHash(b.Height, b.Hash); err != nil {
		batch.Discard()
		return err
	}
	cp.LastMergedHeight = b.Height
	if err := c.commit(batch, cp); err != nil {
		return err
	}
	c.metrics.ObserveClusters(stats.Created, stats.Merged)
	c.logger.Debug("Coordinator::mergeBlock",
		zap.Int64("height", b.Height),
		zap.Int("txs", len(b.Tx)),
		zap.Int64("nextClusterId", cp.NextClusterID),
		zap.Duration("ttl", time.Since(started)))
	return nil
}

func (c *Coordinator) save(ctx context.Context, from, to int64) error {
	start, ok, err := c.db.BlockHash(from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no merged block at height %d", from)
	}
	c.logger.Info("Coordinator::save", zap.Int64("from", from), zap.Int64("to", to))
	return c.pipeline.Run(ctx, start, to, c.saveBlock)
}

func (c *Coordinator) saveBlock(ctx context.Context, b *model.Block) (err error) {
	started := time.Now()
	defer func() {
		c.metrics.ObserveBlock(string(PhaseSaving), err, len(b.Tx), started)
	}()

	merged, ok, err := c.db.BlockHash(b.Height)
	if err != nil {
		return err
	}
	if !ok || merged != b.Hash {
		return c.reorgAt(ctx, b.Height)
	}

	cp := *c.cp
	if b.Height != c.saveStart(cp) {
		return fmt.Errorf("save block %d after %d", b.Height, cp.LastSavedTxHeight)
	}
	// transactions up to lastSavedTxN of this block were committed before a restart
	first := cp.LastSavedTxN + 1
	if len(b.Tx) == 0 {
		cp.LastSavedTxHeight = b.Height
		cp.LastSavedTxN = -1
		return c.commit(c.db.NewBatch(), cp)
	}
	for i := first; i < int64(len(b.Tx)); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := c.ledger.Deltas(ctx, b.Height, i, b.Tx[i])
		if err != nil {
			return err
		}
		batch := c.db.NewBatch()
		if err := c.ledger.Apply(batch, entries); err != nil {
			batch.Discard()
			return err
		}
		if i == int64(len(b.Tx))-1 {
			cp.LastSavedTxHeight = b.Height
			cp.LastSavedTxN = -1
		} else {
			cp.LastSavedTxN = i
		}
		if err := c.commit(batch, cp); err != nil {
			return err
		}
	}
	c.logger.Debug("Coordinator::saveBlock",
		zap.Int64("height", b.Height),
		zap.Int64("resumedAt", first),
		zap.Int("txs", len(b.Tx)),
		zap.Duration("ttl", time.Since(started)))
	return nil
}
