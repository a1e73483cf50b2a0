// Package transfertest provides an in-memory ObjectStore for tests.
package transfertest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

// ErrNotFound is returned by HeadObject and GetObjectRange for unknown keys.
var ErrNotFound = errors.New("object not found")

// Call is one recorded store invocation.
type Call struct {
	Op         string
	Target     transfer.Target
	UploadID   string
	PartNumber int32
	Range      transfer.ByteRange
	Parts      []transfer.CompletedPart
}

type upload struct {
	target transfer.Target
	parts  map[int32][]byte
	tags   map[int32]string
}

// Store is a concurrency-safe fake object store. Hook fields, when set,
// run before the default behavior; a non-nil error is returned as is.
type Store struct {
	CreateMultipartUploadFunc func(target transfer.Target) error
	UploadPartFunc            func(target transfer.Target, partNumber int32) error
	CompleteFunc              func(target transfer.Target) error
	AbortFunc                 func(target transfer.Target) error
	GetObjectRangeFunc        func(target transfer.Target, r transfer.ByteRange, data []byte) ([]byte, error)

	mu      sync.Mutex
	objects map[transfer.Target][]byte
	uploads map[string]*upload
	calls   []Call
	nextID  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		objects: make(map[transfer.Target][]byte),
		uploads: make(map[string]*upload),
	}
}

// SetObject stores data under target.
func (s *Store) SetObject(target transfer.Target, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[target] = append([]byte(nil), data...)
}

// Object returns the stored bytes for target.
func (s *Store) Object(target transfer.Target) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[target]
	return data, ok
}

// Targets returns every stored object's target.
func (s *Store) Targets() []transfer.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]transfer.Target, 0, len(s.objects))
	for t := range s.objects {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })
	return targets
}

// Calls returns a copy of the recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times op was called.
func (s *Store) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// OpenUploads returns the number of multipart uploads neither completed
// nor aborted.
func (s *Store) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *Store) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Store) CreateMultipartUpload(ctx context.Context, target transfer.Target) (string, error) {
	s.record(Call{Op: "CreateMultipartUpload", Target: target})
	if s.CreateMultipartUploadFunc != nil {
		if err := s.CreateMultipartUploadFunc(target); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("upload-%d", s.nextID)
	s.uploads[id] = &upload{
		target: target,
		parts:  make(map[int32][]byte),
		tags:   make(map[int32]string),
	}
	return id, nil
}

func (s *Store) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int32, data []byte) (string, error) {
	s.record(Call{Op: "UploadPart", Target: target, UploadID: uploadID, PartNumber: partNumber})
	if s.UploadPartFunc != nil {
		if err := s.UploadPartFunc(target, partNumber); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}
	tag := etagOf(data)
	up.parts[partNumber] = append([]byte(nil), data...)
	up.tags[partNumber] = tag
	return tag, nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, target transfer.Target, uploadID string, parts []transfer.CompletedPart) (string, error) {
	s.record(Call{Op: "CompleteMultipartUpload", Target: target, UploadID: uploadID, Parts: append([]transfer.CompletedPart(nil), parts...)})
	if s.CompleteFunc != nil {
		if err := s.CompleteFunc(target); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		return "", errors.New("parts must be in ascending order")
	}

	var (
		body    []byte
		digests []byte
	)
	for _, p := range parts {
		data, ok := up.parts[p.PartNumber]
		if !ok || up.tags[p.PartNumber] != p.ETag {
			return "", fmt.Errorf("invalid part %d", p.PartNumber)
		}
		body = append(body, data...)
		sum := md5.Sum(data)
		digests = append(digests, sum[:]...)
	}
	sum := md5.Sum(digests)
	etag := fmt.Sprintf(`"%s-%d"`, hex.EncodeToString(sum[:]), len(parts))

	s.objects[target] = body
	delete(s.uploads, uploadID)
	return etag, nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, target transfer.Target, uploadID string) error {
	s.record(Call{Op: "AbortMultipartUpload", Target: target, UploadID: uploadID})
	if s.AbortFunc != nil {
		if err := s.AbortFunc(target); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) HeadObject(ctx context.Context, target transfer.Target) (*transfer.ObjectInfo, error) {
	s.record(Call{Op: "HeadObject", Target: target})

	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[target]
	if !ok {
		return nil, ErrNotFound
	}
	return &transfer.ObjectInfo{Size: int64(len(data)), ETag: etagOf(data)}, nil
}

func (s *Store) GetObjectRange(ctx context.Context, target transfer.Target, r transfer.ByteRange) ([]byte, error) {
	s.record(Call{Op: "GetObjectRange", Target: target, Range: r})

	s.mu.Lock()
	data, ok := s.objects[target]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if r.Start < 0 || r.Start >= int64(len(data)) {
		return nil, fmt.Errorf("range not satisfiable: %s", r.HTTPRange())
	}
	end := min(r.End+1, int64(len(data)))
	chunk := append([]byte(nil), data[r.Start:end]...)

	if s.GetObjectRangeFunc != nil {
		return s.GetObjectRangeFunc(target, r, chunk)
	}
	return chunk, nil
}

func (s *Store) PutObject(ctx context.Context, target transfer.Target, data []byte) (string, error) {
	s.record(Call{Op: "PutObject", Target: target})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[target] = append([]byte(nil), data...)
	return etagOf(data), nil
}

var _ transfer.ObjectStore = (*Store)(nil)
