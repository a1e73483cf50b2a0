package transfer

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/yuya-takeyama/s3smart/internal/checksum"
)

// MaxParts is the largest part count a multipart upload may use.
const MaxParts = 10000

// Options are the numeric inputs of a transfer.
type Options struct {
	Workers           int
	ChunkSize         int64
	MaxBytesPerSecond float64
	VerifyChecksum    bool
}

// Validate checks the options before any network call is made.
func (o Options) Validate() error {
	if o.Workers <= 0 {
		return &ConfigurationError{Field: "worker count", Value: o.Workers}
	}
	if o.ChunkSize <= 0 {
		return &ConfigurationError{Field: "chunk size", Value: o.ChunkSize}
	}
	if math.IsNaN(o.MaxBytesPerSecond) || math.IsInf(o.MaxBytesPerSecond, 0) {
		return &ConfigurationError{Field: "rate limit", Value: o.MaxBytesPerSecond}
	}
	return nil
}

// Engine drives single-file uploads and downloads. Every file transferred
// through one engine draws from the same token bucket.
type Engine struct {
	store   ObjectStore
	opts    Options
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewEngine validates opts and returns an engine bound to store.
func NewEngine(store ObjectStore, opts Options, logger *slog.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		opts:    opts,
		limiter: NewRateLimiter(opts.MaxBytesPerSecond),
		logger:  logger,
	}, nil
}

// Options returns the engine's options.
func (e *Engine) Options() Options {
	return e.opts
}

// Upload sends localPath to target. Empty files use a single put; anything
// else goes through a multipart session that is aborted on failure.
func (e *Engine) Upload(ctx context.Context, localPath string, target Target, sink ProgressSink) Outcome {
	if err := target.Validate(); err != nil {
		return failed(err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return failed(fmt.Errorf("stat %s: %w", localPath, err))
	}
	if info.IsDir() {
		return failed(fmt.Errorf("%s is a directory", localPath))
	}
	size := info.Size()

	if size == 0 {
		etag, err := e.store.PutObject(ctx, target, nil)
		if err != nil {
			return failed(fmt.Errorf("put object: %w", err))
		}
		if e.opts.VerifyChecksum {
			if err := e.verifyETag(checksum.EmptyMD5, etag); err != nil {
				return failed(err)
			}
		}
		return succeeded(0, 0)
	}

	ranges, err := PlanRanges(size, e.opts.ChunkSize)
	if err != nil {
		return failed(err)
	}
	if len(ranges) > MaxParts {
		return failed(fmt.Errorf("%w: %s needs %d parts, limit is %d", ErrTooManyParts, localPath, len(ranges), MaxParts))
	}

	file, err := os.Open(localPath)
	if err != nil {
		return failed(fmt.Errorf("open file: %w", err))
	}
	defer file.Close()

	pool, err := NewPool(e.opts.Workers, sink)
	if err != nil {
		return failed(err)
	}

	session := NewMultipartSession(e.store, target, int32(len(ranges)), e.logger)
	if err := session.Open(ctx); err != nil {
		return failed(err)
	}
	uploadID := session.UploadID()

	results, err := pool.Run(ctx, ranges, func(ctx context.Context, part int32, r ByteRange) (ChunkResult, error) {
		buf := make([]byte, r.Len())
		n, err := file.ReadAt(buf, r.Start)
		if int64(n) != r.Len() {
			if err == nil || errors.Is(err, io.EOF) {
				return ChunkResult{}, &ShortReadError{Range: r, Got: int64(n)}
			}
			return ChunkResult{}, fmt.Errorf("read range %d-%d: %w", r.Start, r.End, err)
		}

		if err := e.limiter.Consume(ctx, r.Len()); err != nil {
			return ChunkResult{}, err
		}

		tag, err := e.store.UploadPart(ctx, target, uploadID, part, buf)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("upload part %d: %w", part, err)
		}
		if err := session.RegisterPart(part, tag); err != nil {
			return ChunkResult{}, err
		}

		res := ChunkResult{Range: r, PartNumber: part, Bytes: r.Len(), Tag: tag}
		if e.opts.VerifyChecksum {
			sum := md5.Sum(buf)
			res.Digest = sum[:]
		}
		return res, nil
	})
	if err != nil {
		session.Abort(ctx)
		return failed(err)
	}

	etag, err := session.Commit(ctx)
	if err != nil {
		session.Abort(ctx)
		return failed(err)
	}

	if e.opts.VerifyChecksum {
		digests := make([][]byte, len(results))
		for i, res := range results {
			digests[i] = res.Digest
		}
		if err := e.verifyETag(checksum.MultipartETag(digests), etag); err != nil {
			return failed(err)
		}
	}

	return succeeded(size, len(ranges))
}

// Download fetches target into localPath with parallel ranged reads. On
// failure the partially written file is left in place.
func (e *Engine) Download(ctx context.Context, target Target, localPath string, sink ProgressSink) Outcome {
	if err := target.Validate(); err != nil {
		return failed(err)
	}

	info, err := e.store.HeadObject(ctx, target)
	if err != nil {
		return failed(fmt.Errorf("head object: %w", err))
	}
	size := info.Size

	asm, err := Preallocate(localPath, size)
	if err != nil {
		return failed(err)
	}
	if size == 0 {
		return succeeded(0, 0)
	}

	ranges, err := PlanRanges(size, e.opts.ChunkSize)
	if err != nil {
		return failed(err)
	}

	pool, err := NewPool(e.opts.Workers, sink)
	if err != nil {
		return failed(err)
	}

	_, err = pool.Run(ctx, ranges, func(ctx context.Context, part int32, r ByteRange) (ChunkResult, error) {
		if err := e.limiter.Consume(ctx, r.Len()); err != nil {
			return ChunkResult{}, err
		}

		data, err := e.store.GetObjectRange(ctx, target, r)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("get range %s: %w", r.HTTPRange(), err)
		}
		if err := asm.WriteRange(r, data); err != nil {
			return ChunkResult{}, err
		}
		return ChunkResult{Range: r, PartNumber: part, Bytes: int64(len(data))}, nil
	})
	if err != nil {
		return failed(err)
	}

	if e.opts.VerifyChecksum {
		if err := e.verifyFile(localPath, info.ETag); err != nil {
			return failed(err)
		}
	}

	return succeeded(size, len(ranges))
}

// verifyETag compares a locally computed ETag with the store's. A store
// ETag that is not MD5 based is accepted with a debug log.
func (e *Engine) verifyETag(expected, actual string) error {
	if _, _, ok := checksum.ParseETag(actual); !ok {
		e.logger.Debug("etag not verifiable", "etag", actual)
		return nil
	}
	if !checksum.CompareETags(expected, actual) {
		return &ChecksumMismatchError{Expected: expected, Actual: checksum.Normalize(actual)}
	}
	return nil
}

func (e *Engine) verifyFile(localPath, etag string) error {
	_, parts, ok := checksum.ParseETag(etag)
	if !ok {
		e.logger.Debug("etag not verifiable", "path", localPath, "etag", etag)
		return nil
	}

	var (
		local string
		err   error
	)
	if parts == 0 {
		local, err = checksum.CalculateFileMD5(localPath)
	} else {
		local, err = checksum.FileMultipartETag(localPath, e.opts.ChunkSize)
	}
	if err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}

	if _, localParts, _ := checksum.ParseETag(local); localParts != parts {
		e.logger.Debug("etag uses a different part size", "path", localPath, "etag", etag)
		return nil
	}
	if !checksum.CompareETags(local, etag) {
		return &ChecksumMismatchError{Expected: checksum.Normalize(etag), Actual: local}
	}
	return nil
}
