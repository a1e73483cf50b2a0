package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/yuya-takeyama/s3smart/internal/logging"
	"github.com/yuya-takeyama/s3smart/internal/plan"
	"github.com/yuya-takeyama/s3smart/internal/progress"
	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

// Transferer moves one file. *transfer.Engine implements it.
type Transferer interface {
	Upload(ctx context.Context, localPath string, target transfer.Target, sink transfer.ProgressSink) transfer.Outcome
	Download(ctx context.Context, target transfer.Target, localPath string, sink transfer.ProgressSink) transfer.Outcome
}

// Result represents the result of one plan item
type Result struct {
	Item     plan.Item
	Outcome  transfer.Outcome
	Duration time.Duration
}

// Pool runs plan items through the engine, one file at a time unless
// configured for parallel files. A failed file never stops its siblings.
type Pool struct {
	engine      Transferer
	concurrency int
	logger      *logging.Logger
	bar         progress.Bar
}

// NewPool creates a new worker pool
func NewPool(engine Transferer, concurrency int, logger *logging.Logger, bar progress.Bar) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if bar == nil {
		bar = progress.NoOp{}
	}
	return &Pool{
		engine:      engine,
		concurrency: concurrency,
		logger:      logger,
		bar:         bar,
	}
}

type job struct {
	index int
	item  plan.Item
}

// Execute runs every item and returns results in item order with the
// accumulated statistics.
func (p *Pool) Execute(ctx context.Context, items []plan.Item) ([]Result, *Stats) {
	stats := &Stats{}
	results := make([]Result, len(items))

	for _, item := range items {
		if item.Action == plan.ActionSkip {
			continue
		}
		p.bar.IncrementTotalFiles()
		p.bar.AddTotalBytes(item.Size)
	}
	p.bar.Start()
	defer p.bar.Finish()

	jobs := make(chan job, len(items))
	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < min(p.concurrency, max(len(items), 1)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := p.run(ctx, j.item)
				results[j.index] = res
				stats.Record(res)
			}
		}()
	}
	wg.Wait()

	return results, stats
}

func (p *Pool) run(ctx context.Context, item plan.Item) Result {
	start := time.Now()
	res := Result{Item: item}

	if err := ctx.Err(); err != nil {
		res.Outcome = transfer.Outcome{Status: transfer.StatusFailed, Err: err}
		return res
	}

	switch item.Action {
	case plan.ActionSkip:
		p.logger.Debug("skip: %s (%s)", item.LocalPath, item.Reason)
		res.Outcome = transfer.Outcome{Status: transfer.StatusSkipped}
		return res
	case plan.ActionUpload:
		p.logger.Info("upload: %s to %s", item.LocalPath, item.Target())
		res.Outcome = p.engine.Upload(ctx, item.LocalPath, item.Target(), p.bar)
	case plan.ActionDownload:
		p.logger.Info("download: %s to %s", item.Target(), item.LocalPath)
		res.Outcome = p.engine.Download(ctx, item.Target(), item.LocalPath, p.bar)
	default:
		res.Outcome = transfer.Outcome{Status: transfer.StatusFailed, Err: fmt.Errorf("unknown action %q", item.Action)}
	}
	res.Duration = time.Since(start)

	if res.Outcome.Err != nil {
		p.logger.Error("%s failed: %s: %v", item.Action, describe(item), res.Outcome.Err)
	} else {
		p.logger.Debug("%s done: %s (%d parts, %s)", item.Action, describe(item), res.Outcome.Parts, res.Duration.Round(time.Millisecond))
	}
	p.bar.IncrementCompletedFiles()
	return res
}

func describe(item plan.Item) string {
	if item.Action == plan.ActionDownload {
		return item.Target().String()
	}
	return item.LocalPath
}

// Stats tracks transfer statistics
type Stats struct {
	Uploaded   int64
	Downloaded int64
	Skipped    int64
	Failed     int64
	Bytes      int64

	mu   sync.Mutex
	errs *multierror.Error
}

// Record counts one result. Safe for concurrent use.
func (s *Stats) Record(res Result) {
	switch res.Outcome.Status {
	case transfer.StatusSkipped:
		atomic.AddInt64(&s.Skipped, 1)
		return
	case transfer.StatusFailed:
		atomic.AddInt64(&s.Failed, 1)
		s.mu.Lock()
		err := fmt.Errorf("%s: %w", describe(res.Item), res.Outcome.Err)
		s.errs = multierror.Append(s.errs, err)
		s.mu.Unlock()
		return
	}

	atomic.AddInt64(&s.Bytes, res.Outcome.Bytes)
	switch res.Item.Action {
	case plan.ActionUpload:
		atomic.AddInt64(&s.Uploaded, 1)
	case plan.ActionDownload:
		atomic.AddInt64(&s.Downloaded, 1)
	}
}

// Err returns every per-file failure, or nil.
func (s *Stats) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.ErrorOrNil()
}

// Summary converts the counters for the final report.
func (s *Stats) Summary() logging.Summary {
	s.mu.Lock()
	var failures []string
	if s.errs != nil {
		for _, err := range s.errs.Errors {
			failures = append(failures, err.Error())
		}
	}
	s.mu.Unlock()

	return logging.Summary{
		Uploaded:   atomic.LoadInt64(&s.Uploaded),
		Downloaded: atomic.LoadInt64(&s.Downloaded),
		Skipped:    atomic.LoadInt64(&s.Skipped),
		Failed:     atomic.LoadInt64(&s.Failed),
		Bytes:      atomic.LoadInt64(&s.Bytes),
		Failures:   failures,
	}
}
