package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// SessionState is the lifecycle position of a MultipartSession.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionOpened
	SessionCompleting
	SessionCommitted
	SessionAborting
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionOpened:
		return "opened"
	case SessionCompleting:
		return "completing"
	case SessionCommitted:
		return "committed"
	case SessionAborting:
		return "aborting"
	case SessionAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MultipartSession tracks one multipart upload. Parts may be registered
// from any goroutine in any order; Commit sends them sorted.
type MultipartSession struct {
	store      ObjectStore
	target     Target
	totalParts int32
	logger     *slog.Logger

	mu       sync.Mutex
	state    SessionState
	uploadID string
	parts    map[int32]string
}

// NewMultipartSession prepares a session expecting totalParts parts.
func NewMultipartSession(store ObjectStore, target Target, totalParts int32, logger *slog.Logger) *MultipartSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultipartSession{
		store:      store,
		target:     target,
		totalParts: totalParts,
		logger:     logger,
		parts:      make(map[int32]string, totalParts),
	}
}

// Open requests an upload id from the store.
func (s *MultipartSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionNew {
		return fmt.Errorf("%w: open from %s", ErrInvalidState, s.state)
	}

	uploadID, err := s.store.CreateMultipartUpload(ctx, s.target)
	if err != nil {
		return &SessionOpenError{Target: s.target, Err: err}
	}
	s.uploadID = uploadID
	s.state = SessionOpened
	return nil
}

// UploadID returns the id assigned by Open.
func (s *MultipartSession) UploadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadID
}

// State returns the current lifecycle state.
func (s *MultipartSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RegisterPart records the tag for partNumber.
func (s *MultipartSession) RegisterPart(partNumber int32, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpened {
		return fmt.Errorf("%w: register part from %s", ErrInvalidState, s.state)
	}
	if partNumber < 1 || partNumber > s.totalParts {
		return fmt.Errorf("part number %d out of range 1..%d", partNumber, s.totalParts)
	}
	s.parts[partNumber] = tag
	return nil
}

// Commit completes the upload. It refuses to contact the store unless every
// part 1..N has a tag. The returned string is the object's ETag.
func (s *MultipartSession) Commit(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != SessionOpened {
		state := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("%w: commit from %s", ErrInvalidState, state)
	}

	var missing []int32
	for n := int32(1); n <= s.totalParts; n++ {
		if _, ok := s.parts[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		s.mu.Unlock()
		return "", &IncompleteUploadError{Missing: missing}
	}

	manifest := make([]CompletedPart, 0, len(s.parts))
	for n, tag := range s.parts {
		manifest = append(manifest, CompletedPart{PartNumber: n, ETag: tag})
	}
	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].PartNumber < manifest[j].PartNumber
	})
	s.state = SessionCompleting
	uploadID := s.uploadID
	s.mu.Unlock()

	etag, err := s.store.CompleteMultipartUpload(ctx, s.target, uploadID, manifest)
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}

	s.mu.Lock()
	s.state = SessionCommitted
	s.mu.Unlock()
	return etag, nil
}

// Abort cancels the upload. Failures are logged, not returned, since abort
// always runs as cleanup for another error.
func (s *MultipartSession) Abort(ctx context.Context) {
	s.mu.Lock()
	if s.state != SessionOpened && s.state != SessionCompleting {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("abort skipped", "target", s.target.String(), "state", state.String())
		return
	}
	s.state = SessionAborting
	uploadID := s.uploadID
	s.mu.Unlock()

	if err := s.store.AbortMultipartUpload(context.WithoutCancel(ctx), s.target, uploadID); err != nil {
		s.logger.Warn("abort multipart upload failed",
			"target", s.target.String(), "upload_id", uploadID, "error", err)
	}

	s.mu.Lock()
	s.state = SessionAborted
	s.mu.Unlock()
}
