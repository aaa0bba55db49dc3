package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one logical request inside a batch: either a
// value or the error the node returned for that request alone.
type Result[T any] struct {
	Value T
	Err   error
}

// RoundTrip sends one batch of requests and returns one result per
// request, in request order. The returned error fails the whole batch.
type RoundTrip[In, Out any] func(ctx context.Context, in []In) ([]Result[Out], error)

// chunks splits items into consecutive slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/max(size, 1))
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// fanOut issues items in chunks of at most size, at most workers chunks at
// a time, and writes every result back at the position of its request.
func fanOut[In, Out any](ctx context.Context, items []In, size, workers int, rt RoundTrip[In, Out]) ([]Result[Out], error) {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	offset := 0
	for _, chunk := range chunks(items, size) {
		chunk, offset := chunk, offset
		g.Go(func() error {
			res, err := rt(ctx, chunk)
			if err != nil {
				return err
			}
			if len(res) != len(chunk) {
				return fmt.Errorf("batch returned %d results for %d requests", len(res), len(chunk))
			}
			copy(results[offset:], res)
			return nil
		})
		offset += len(chunk)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
