package transfer

import (
	"context"
	"fmt"
)

// Target identifies one object in the store.
type Target struct {
	Bucket string
	Key    string
}

// Validate reports whether t can be used for a file-level operation.
func (t Target) Validate() error {
	if t.Bucket == "" {
		return fmt.Errorf("%w: bucket is empty", ErrInvalidTarget)
	}
	if t.Key == "" {
		return fmt.Errorf("%w: key is empty for s3://%s", ErrInvalidTarget, t.Bucket)
	}
	return nil
}

func (t Target) String() string {
	return fmt.Sprintf("s3://%s/%s", t.Bucket, t.Key)
}

// ObjectInfo is the metadata returned by a HEAD request.
type ObjectInfo struct {
	Size int64
	ETag string
}

// CompletedPart is one entry of the manifest sent at commit time.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// ObjectStore is the set of primitive object-store calls the engine needs.
// Implementations are expected to retry transient failures themselves.
type ObjectStore interface {
	CreateMultipartUpload(ctx context.Context, target Target) (string, error)
	UploadPart(ctx context.Context, target Target, uploadID string, partNumber int32, data []byte) (string, error)
	CompleteMultipartUpload(ctx context.Context, target Target, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, target Target, uploadID string) error
	HeadObject(ctx context.Context, target Target) (*ObjectInfo, error)
	GetObjectRange(ctx context.Context, target Target, r ByteRange) ([]byte, error)
	PutObject(ctx context.Context, target Target, data []byte) (string, error)
}

// ProgressSink observes bytes moved. It must be safe for concurrent use.
type ProgressSink interface {
	Advance(n int64)
}

type nopSink struct{}

func (nopSink) Advance(int64) {}

// ChunkResult is the outcome of transferring one range. Tag is only set on
// the upload path.
type ChunkResult struct {
	Range      ByteRange
	PartNumber int32
	Bytes      int64
	Tag        string
	Digest     []byte
}

// Status is the per-file outcome category.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome reports how a single file transfer ended.
type Outcome struct {
	Status Status
	Bytes  int64
	Parts  int
	Err    error
}

func succeeded(bytes int64, parts int) Outcome {
	return Outcome{Status: StatusSucceeded, Bytes: bytes, Parts: parts}
}

func failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}
