package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
)

var (
	// ErrClusterMissing means an address reached the balance phase before
	// the merge phase mapped it. It is never retried.
	ErrClusterMissing = errors.New("cluster missing")
	// ErrReorgDetected means the node's chain no longer contains a block
	// that was already merged.
	ErrReorgDetected = errors.New("reorg detected")
)

// Phase is the state the coordinator is in for one pass.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseMerging Phase = "merging"
	PhaseSaving  Phase = "saving"
)

type (
	// Node is the source node capability.
	Node interface {
		GetBlockCount(ctx context.Context) (int64, error)
		GetBlockHash(ctx context.Context, height int64) (string, error)
		GetBlock(ctx context.Context, hash string) (*model.BlockHeader, error)
		GetTransactions(ctx context.Context, txids []string) ([]*btcjson.TxRawResult, error)
	}

	// Metrics records coordinator progress.
	Metrics interface {
		SetPhase(phase string)
		SetCheckpoints(cp model.Checkpoints)
		ObserveBlock(phase string, err error, txs int, started time.Time)
		ObserveClusters(created, merged int)
	}
)
