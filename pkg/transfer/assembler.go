package transfer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Assembler writes downloaded ranges into a pre-sized destination file.
// Ranges never overlap, so writers need no coordination once Preallocate
// has returned.
type Assembler struct {
	path string
	size int64
}

// Preallocate creates or truncates path to exactly size bytes, creating
// parent directories as needed.
func Preallocate(path string, size int64) (*Assembler, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("resize destination: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close destination: %w", err)
	}

	return &Assembler{path: path, size: size}, nil
}

// Path returns the destination file path.
func (a *Assembler) Path() string {
	return a.path
}

// WriteRange writes data at r.Start using its own file handle. data must be
// exactly r.Len() bytes.
func (a *Assembler) WriteRange(r ByteRange, data []byte) error {
	if int64(len(data)) != r.Len() {
		return &ShortReadError{Range: r, Got: int64(len(data))}
	}
	if r.Start < 0 || r.End >= a.size {
		return fmt.Errorf("range %d-%d outside file of %d bytes", r.Start, r.End, a.size)
	}

	f, err := os.OpenFile(a.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	if _, err := f.WriteAt(data, r.Start); err != nil {
		f.Close()
		return fmt.Errorf("write range %d-%d: %w", r.Start, r.End, err)
	}
	return f.Close()
}
