package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is returned when a session method is called in a state
	// that does not allow it.
	ErrInvalidState = errors.New("invalid multipart session state")

	// ErrInvalidTarget is returned for a target without bucket or key.
	ErrInvalidTarget = errors.New("invalid transfer target")

	// ErrTooManyParts is returned when a file would need more parts than the
	// store accepts.
	ErrTooManyParts = errors.New("too many parts")
)

// ConfigurationError is raised for numeric inputs the engine cannot work
// with. It aborts the whole invocation rather than one file.
type ConfigurationError struct {
	Field string
	Value any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// SessionOpenError wraps the store's refusal to start a multipart upload.
type SessionOpenError struct {
	Target Target
	Err    error
}

func (e *SessionOpenError) Error() string {
	return fmt.Sprintf("open multipart upload for %s: %v", e.Target, e.Err)
}

func (e *SessionOpenError) Unwrap() error {
	return e.Err
}

// IncompleteUploadError is returned by Commit when part numbers are missing.
type IncompleteUploadError struct {
	Missing []int32
}

func (e *IncompleteUploadError) Error() string {
	nums := make([]string, 0, len(e.Missing))
	for _, n := range e.Missing {
		nums = append(nums, fmt.Sprint(n))
	}
	return fmt.Sprintf("incomplete upload: missing parts [%s]", strings.Join(nums, ","))
}

// ShortReadError is returned when a chunk does not match its range length.
type ShortReadError struct {
	Range ByteRange
	Got   int64
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read for range %d-%d: expected %d bytes, got %d",
		e.Range.Start, e.Range.End, e.Range.Len(), e.Got)
}

// ChecksumMismatchError is returned when the stored ETag disagrees with the
// locally computed one.
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// IsConfigurationError reports whether err should abort the invocation.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
