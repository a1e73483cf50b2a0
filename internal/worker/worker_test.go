package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/s3smart/internal/logging"
	"github.com/yuya-takeyama/s3smart/internal/plan"
	"github.com/yuya-takeyama/s3smart/pkg/transfer"
	"github.com/yuya-takeyama/s3smart/pkg/transfer/transfertest"
)

func testLogger() (*logging.Logger, *bytes.Buffer) {
	var out bytes.Buffer
	return logging.NewLogger(logging.Options{Out: &out, Err: &out}), &out
}

func testEngine(t *testing.T, store transfer.ObjectStore, opts transfer.Options) *transfer.Engine {
	t.Helper()
	e, err := transfer.NewEngine(store, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o644))
	return path
}

func TestExecuteFailureDoesNotStopSiblings(t *testing.T) {
	store := transfertest.NewStore()
	store.UploadPartFunc = func(target transfer.Target, part int32) error {
		if target.Key == "bad.bin" && part == 2 {
			return errors.New("simulated store error")
		}
		return nil
	}

	dir := t.TempDir()
	items := []plan.Item{
		{Action: plan.ActionUpload, LocalPath: writeFile(t, dir, "bad.bin", 1000), Bucket: "b", Key: "bad.bin", Size: 1000},
		{Action: plan.ActionUpload, LocalPath: writeFile(t, dir, "good.bin", 1000), Bucket: "b", Key: "good.bin", Size: 1000},
	}

	logger, out := testLogger()
	pool := NewPool(testEngine(t, store, transfer.Options{Workers: 3, ChunkSize: 400}), 1, logger, nil)
	results, stats := pool.Execute(context.Background(), items)

	require.Len(t, results, 2)
	assert.Equal(t, transfer.StatusFailed, results[0].Outcome.Status)
	assert.Equal(t, transfer.StatusSucceeded, results[1].Outcome.Status)

	assert.Equal(t, int64(1), stats.Uploaded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1000), stats.Bytes)
	require.Error(t, stats.Err())
	assert.Contains(t, stats.Err().Error(), "simulated store error")

	_, ok := store.Object(transfer.Target{Bucket: "b", Key: "good.bin"})
	assert.True(t, ok)
	assert.Equal(t, 0, store.OpenUploads())
	assert.Contains(t, out.String(), "ERROR: upload failed")
}

func TestExecuteCountsSkipsAndDownloads(t *testing.T) {
	store := transfertest.NewStore()
	store.SetObject(transfer.Target{Bucket: "b", Key: "remote.bin"}, []byte("remote data"))

	dir := t.TempDir()
	items := []plan.Item{
		{Action: plan.ActionSkip, LocalPath: filepath.Join(dir, "same.bin"), Bucket: "b", Key: "same.bin", Reason: "size matches"},
		{Action: plan.ActionDownload, LocalPath: filepath.Join(dir, "out", "remote.bin"), Bucket: "b", Key: "remote.bin", Size: 11},
	}

	logger, _ := testLogger()
	pool := NewPool(testEngine(t, store, transfer.Options{Workers: 2, ChunkSize: 4}), 2, logger, nil)
	results, stats := pool.Execute(context.Background(), items)

	assert.Equal(t, transfer.StatusSkipped, results[0].Outcome.Status)
	assert.Equal(t, transfer.StatusSucceeded, results[1].Outcome.Status)
	assert.NoError(t, stats.Err())

	s := stats.Summary()
	assert.Equal(t, int64(1), s.Skipped)
	assert.Equal(t, int64(1), s.Downloaded)
	assert.Equal(t, int64(0), s.Failed)
	assert.Equal(t, int64(11), s.Bytes)

	got, err := os.ReadFile(filepath.Join(dir, "out", "remote.bin"))
	require.NoError(t, err)
	assert.Equal(t, "remote data", string(got))
}

type slowTransferer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowTransferer) track() transfer.Outcome {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	s.inFlight.Add(-1)
	return transfer.Outcome{Status: transfer.StatusSucceeded, Bytes: 1, Parts: 1}
}

func (s *slowTransferer) Upload(context.Context, string, transfer.Target, transfer.ProgressSink) transfer.Outcome {
	return s.track()
}

func (s *slowTransferer) Download(context.Context, transfer.Target, string, transfer.ProgressSink) transfer.Outcome {
	return s.track()
}

func TestExecuteParallelFiles(t *testing.T) {
	items := make([]plan.Item, 6)
	for i := range items {
		items[i] = plan.Item{Action: plan.ActionUpload, LocalPath: "f", Bucket: "b", Key: "k", Size: 1}
	}

	tests := []struct {
		name     string
		parallel int
		wantPeak int32
	}{
		{name: "sequential", parallel: 1, wantPeak: 1},
		{name: "three at a time", parallel: 3, wantPeak: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &slowTransferer{}
			logger, _ := testLogger()
			_, stats := NewPool(tr, tt.parallel, logger, nil).Execute(context.Background(), items)
			assert.Equal(t, int64(6), stats.Uploaded)
			assert.LessOrEqual(t, tr.peak.Load(), tt.wantPeak)
			if tt.parallel == 1 {
				assert.Equal(t, int32(1), tr.peak.Load())
			}
		})
	}
}

func TestExecuteCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger, _ := testLogger()
	tr := &slowTransferer{}
	results, stats := NewPool(tr, 1, logger, nil).Execute(ctx, []plan.Item{
		{Action: plan.ActionUpload, LocalPath: "f", Bucket: "b", Key: "k"},
	})

	assert.ErrorIs(t, results[0].Outcome.Err, context.Canceled)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int32(0), tr.peak.Load())
}

func TestStatsSummaryListsEachFailure(t *testing.T) {
	var stats Stats
	stats.Record(Result{
		Item:    plan.Item{Action: plan.ActionUpload, LocalPath: "/tmp/a.bin", Bucket: "b", Key: "a.bin"},
		Outcome: transfer.Outcome{Status: transfer.StatusFailed, Err: errors.New("part 2 rejected")},
	})
	stats.Record(Result{
		Item:    plan.Item{Action: plan.ActionDownload, LocalPath: "/tmp/c.bin", Bucket: "b", Key: "c.bin"},
		Outcome: transfer.Outcome{Status: transfer.StatusFailed, Err: errors.New("range 0-9 short")},
	})
	stats.Record(Result{
		Item:    plan.Item{Action: plan.ActionUpload, LocalPath: "/tmp/d.bin", Bucket: "b", Key: "d.bin"},
		Outcome: transfer.Outcome{Status: transfer.StatusSucceeded, Bytes: 5},
	})

	var merr *multierror.Error
	require.True(t, errors.As(stats.Err(), &merr))
	require.Len(t, merr.Errors, 2)

	s := stats.Summary()
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, []string{
		"/tmp/a.bin: part 2 rejected",
		"s3://b/c.bin: range 0-9 short",
	}, s.Failures)
	for i, err := range merr.Errors {
		assert.Equal(t, err.Error(), s.Failures[i])
	}
}

func TestStatsSummaryWithoutFailures(t *testing.T) {
	var stats Stats
	assert.NoError(t, stats.Err())
	assert.Empty(t, stats.Summary().Failures)
}
