package indexer

import (
	"context"

	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"golang.org/x/sync/errgroup"
)

// Pipeline chains read, attach transactions, attach inputs and persist.
// Each stage runs in its own goroutine and buffers at most inFlight
// blocks; the first failure cancels every stage.
type Pipeline struct {
	source   *BlockSource
	enricher *Enricher
	inFlight int
}

func NewPipeline(source *BlockSource, enricher *Enricher, inFlight int) *Pipeline {
	if inFlight <= 0 {
		inFlight = 1
	}
	return &Pipeline{source: source, enricher: enricher, inFlight: inFlight}
}

// Run streams blocks from start up to height to and hands each enriched
// block to sink, in height order.
func (p *Pipeline) Run(ctx context.Context, start string, to int64, sink func(context.Context, *model.Block) error) error {
	g, ctx := errgroup.WithContext(ctx)

	headers := make(chan *model.BlockHeader, p.inFlight)
	withTxs := make(chan *model.Block, p.inFlight)
	enriched := make(chan *model.Block, p.inFlight)

	g.Go(func() error {
		return p.source.Stream(ctx, start, to, headers)
	})
	g.Go(func() error {
		defer close(withTxs)
		for h := range headers {
			b, err := p.enricher.AttachTransactions(ctx, h)
			if err != nil {
				return err
			}
			if err := send(ctx, withTxs, b); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(enriched)
		for b := range withTxs {
			if err := p.enricher.AttachInputs(ctx, b); err != nil {
				return err
			}
			if err := send(ctx, enriched, b); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for b := range enriched {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sink(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
