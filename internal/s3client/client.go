package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

const (
	DefaultMaxRetries = 8
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// API is the subset of the S3 client used here.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectEntry is one listed object.
type ObjectEntry struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Client wraps the S3 API with retry logic and implements
// transfer.ObjectStore.
type Client struct {
	api        API
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff overrides the exponential backoff bounds.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client around api.
func New(api API, opts ...Option) *Client {
	c := &Client{
		api:        api,
		maxRetries: DefaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client from an AWS config. A non-empty endpoint
// switches to path-style addressing for S3-compatible stores.
func NewFromConfig(cfg aws.Config, endpoint string, opts ...Option) *Client {
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return New(api, opts...)
}

func (c *Client) HeadObject(ctx context.Context, target transfer.Target) (*transfer.ObjectInfo, error) {
	out, err := withRetry(ctx, c, "HeadObject", func(ctx context.Context) (*s3.HeadObjectOutput, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(target.Bucket),
			Key:    aws.String(target.Key),
		})
	})
	if err != nil {
		return nil, wrapError("HeadObject", target.Bucket, target.Key, err)
	}
	return &transfer.ObjectInfo{
		Size: aws.ToInt64(out.ContentLength),
		ETag: aws.ToString(out.ETag),
	}, nil
}

func (c *Client) GetObjectRange(ctx context.Context, target transfer.Target, r transfer.ByteRange) ([]byte, error) {
	data, err := withRetry(ctx, c, "GetObject", func(ctx context.Context) ([]byte, error) {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(target.Bucket),
			Key:    aws.String(target.Key),
			Range:  aws.String(r.HTTPRange()),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		buf := bytes.NewBuffer(make([]byte, 0, r.Len()))
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, wrapError("GetObject", target.Bucket, target.Key, err)
	}
	return data, nil
}

func (c *Client) PutObject(ctx context.Context, target transfer.Target, data []byte) (string, error) {
	out, err := withRetry(ctx, c, "PutObject", func(ctx context.Context) (*s3.PutObjectOutput, error) {
		input := &s3.PutObjectInput{
			Bucket:        aws.String(target.Bucket),
			Key:           aws.String(target.Key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		}
		if ct := GuessContentType(target.Key); ct != "" {
			input.ContentType = aws.String(ct)
		}
		return c.api.PutObject(ctx, input)
	})
	if err != nil {
		return "", wrapError("PutObject", target.Bucket, target.Key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *Client) CreateMultipartUpload(ctx context.Context, target transfer.Target) (string, error) {
	out, err := withRetry(ctx, c, "CreateMultipartUpload", func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(target.Bucket),
			Key:    aws.String(target.Key),
		}
		if ct := GuessContentType(target.Key); ct != "" {
			input.ContentType = aws.String(ct)
		}
		return c.api.CreateMultipartUpload(ctx, input)
	})
	if err != nil {
		return "", wrapError("CreateMultipartUpload", target.Bucket, target.Key, err)
	}
	if aws.ToString(out.UploadId) == "" {
		return "", wrapError("CreateMultipartUpload", target.Bucket, target.Key, errors.New("empty upload id"))
	}
	return aws.ToString(out.UploadId), nil
}

func (c *Client) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int32, data []byte) (string, error) {
	out, err := withRetry(ctx, c, "UploadPart", func(ctx context.Context) (*s3.UploadPartOutput, error) {
		return c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(target.Bucket),
			Key:           aws.String(target.Key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
	})
	if err != nil {
		return "", wrapError("UploadPart", target.Bucket, target.Key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, target transfer.Target, uploadID string, parts []transfer.CompletedPart) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := withRetry(ctx, c, "CompleteMultipartUpload", func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
		return c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(target.Bucket),
			Key:             aws.String(target.Key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
	})
	if err != nil {
		return "", wrapError("CompleteMultipartUpload", target.Bucket, target.Key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, target transfer.Target, uploadID string) error {
	_, err := withRetry(ctx, c, "AbortMultipartUpload", func(ctx context.Context) (*s3.AbortMultipartUploadOutput, error) {
		return c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(target.Bucket),
			Key:      aws.String(target.Key),
			UploadId: aws.String(uploadID),
		})
	})
	if err != nil {
		return wrapError("AbortMultipartUpload", target.Bucket, target.Key, err)
	}
	return nil
}

// ListObjects returns every object under prefix, following continuation
// tokens. Keys ending in "/" (folder markers) are skipped.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	var entries []ObjectEntry

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, "ListObjectsV2", func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, wrapError("ListObjectsV2", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || key[len(key)-1] == '/' {
				continue
			}
			entries = append(entries, ObjectEntry{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return entries, nil
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the retry budget is spent.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}

		if !isRetryableError(err) {
			return zero, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			delay := c.calculateDelay(attempt)
			c.logger.Debug("retrying s3 request", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException",
			"InternalError", "Throttling", "ThrottlingException", "RequestThrottled":
			return true
		}
	}

	// Retry on 5xx errors
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		code := httpErr.HTTPStatusCode()
		return code >= 500 && code < 600
	}
	if apiErr != nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay calculates the retry delay with exponential backoff and jitter
func (c *Client) calculateDelay(attempt int) time.Duration {
	base := float64(c.baseDelay)
	delay := base * math.Pow(2.0, float64(attempt))

	// Add jitter (±25%)
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	return time.Duration(delay)
}

var _ transfer.ObjectStore = (*Client)(nil)
