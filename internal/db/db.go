package db

import (
	"fmt"
	"time"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/wx-shi/utxo-cluster-indexer/internal/config"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"go.uber.org/zap"
)

// DB is the flat ordered keyspace every table lives in. All mutations go
// through a Batch so a block's effects and its checkpoint land together.
type DB struct {
	db     tmdb.DB
	logger *zap.Logger
}

func NewDB(conf *config.DBConfig, logger *zap.Logger) (*DB, error) {
	kv, err := tmdb.NewDB(conf.Name, tmdb.BackendType(conf.DBType), conf.Dir)
	if err != nil {
		return nil, fmt.Errorf("open %s db %s: %w", conf.DBType, conf.Dir, err)
	}
	return NewDBWithBackend(kv, logger), nil
}

// NewDBWithBackend wraps an already opened store, e.g. tmdb.NewMemDB().
func NewDBWithBackend(kv tmdb.DB, logger *zap.Logger) *DB {
	return &DB{
		db:     kv,
		logger: logger,
	}
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Batch stages writes that are committed together or not at all.
type Batch struct {
	db    *DB
	wb    tmdb.Batch
	ops   int
	start time.Time
}

func (db *DB) NewBatch() *Batch {
	return &Batch{
		db:    db,
		wb:    db.db.NewBatch(),
		start: time.Now(),
	}
}

func (b *Batch) Set(key, value []byte) error {
	b.ops++
	return b.wb.Set(key, value)
}

func (b *Batch) Delete(key []byte) error {
	b.ops++
	return b.wb.Delete(key)
}

// Commit writes the batch durably and releases it.
func (b *Batch) Commit() error {
	defer b.wb.Close()
	if err := b.wb.WriteSync(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	b.db.logger.Debug("Batch::Commit",
		zap.Int("ops", b.ops),
		zap.Duration("ttl", time.Since(b.start)))
	return nil
}

// Discard drops an uncommitted batch.
func (b *Batch) Discard() {
	_ = b.wb.Close()
}

// Checkpoints hydrates the progress markers; missing counters take the
// values of a fresh store.
func (db *DB) Checkpoints() (model.Checkpoints, error) {
	cp := model.EmptyCheckpoints()
	fields := []struct {
		key string
		dst *int64
	}{
		{lastMergedHeightKey, &cp.LastMergedHeight},
		{lastSavedTxHeightKey, &cp.LastSavedTxHeight},
		{lastSavedTxNKey, &cp.LastSavedTxN},
		{nextClusterIDKey, &cp.NextClusterID},
	}
	for _, f := range fields {
		v, ok, err := counters.Get(db.db, f.key)
		if err != nil {
			return cp, fmt.Errorf("read counter %s: %w", f.key, err)
		}
		if ok {
			*f.dst = v
		}
	}
	return cp, nil
}

// PutCheckpoints stages all progress markers in the batch.
func (b *Batch) PutCheckpoints(cp model.Checkpoints) error {
	if err := counters.Put(b, lastMergedHeightKey, cp.LastMergedHeight); err != nil {
		return err
	}
	if err := counters.Put(b, lastSavedTxHeightKey, cp.LastSavedTxHeight); err != nil {
		return err
	}
	if err := counters.Put(b, lastSavedTxNKey, cp.LastSavedTxN); err != nil {
		return err
	}
	return counters.Put(b, nextClusterIDKey, cp.NextClusterID)
}

func (b *Batch) PutBlockHash(height int64, hash string) error {
	return blockHashes.Put(b, height, hash)
}

func (db *DB) BlockHash(height int64) (string, bool, error) {
	return blockHashes.Get(db.db, height)
}

// LastBlock returns the highest height with a recorded hash.
func (db *DB) LastBlock() (height int64, hash string, ok bool, err error) {
	err = blockHashes.Scan(db.db, nil, true, func(h int64, v string) (bool, error) {
		height, hash, ok = h, v, true
		return false, nil
	})
	return height, hash, ok, err
}
