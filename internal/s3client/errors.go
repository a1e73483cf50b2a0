package s3client

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	ErrNotFound       = errors.New("s3: object not found")
	ErrBucketNotFound = errors.New("s3: bucket not found")
	ErrAccessDenied   = errors.New("s3: access denied")
)

// Error is an S3 operation failure with the object it concerned.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError attaches operation context and, for well-known error codes, a
// sentinel that errors.Is can match.
func wrapError(op, bucket, key string, err error) error {
	if sentinel := classify(err); sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return ErrNotFound
	case "NoSuchBucket":
		return ErrBucketNotFound
	case "AccessDenied", "Forbidden":
		return ErrAccessDenied
	}
	return nil
}
