package transfer

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// TransferFunc moves one range. partNumber is the 1-based position of r in
// the planned sequence.
type TransferFunc func(ctx context.Context, partNumber int32, r ByteRange) (ChunkResult, error)

// Pool runs range transfers on a bounded number of workers.
type Pool struct {
	workers int
	sink    ProgressSink
}

// NewPool creates a pool with the given worker count. A nil sink discards
// progress.
func NewPool(workers int, sink ProgressSink) (*Pool, error) {
	if workers <= 0 {
		return nil, &ConfigurationError{Field: "worker count", Value: workers}
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Pool{workers: workers, sink: sink}, nil
}

// Run applies fn to every range and returns the results indexed like
// ranges. The first failure stops dispatch of queued ranges; ranges already
// running finish, but neither their results nor their bytes are reported.
func (p *Pool) Run(ctx context.Context, ranges []ByteRange, fn TransferFunc) ([]ChunkResult, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	queue := make(chan int, len(ranges))
	for i := range ranges {
		queue <- i
	}
	close(queue)

	results := make([]ChunkResult, len(ranges))
	var stopped atomic.Bool

	var g errgroup.Group
	for range min(p.workers, len(ranges)) {
		g.Go(func() error {
			for idx := range queue {
				if stopped.Load() {
					return nil
				}
				if err := ctx.Err(); err != nil {
					stopped.Store(true)
					return err
				}

				res, err := fn(ctx, int32(idx+1), ranges[idx])
				if err != nil {
					stopped.Store(true)
					return err
				}

				if stopped.Load() {
					return nil
				}
				results[idx] = res
				p.sink.Advance(res.Bytes)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
