package plan

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/s3smart/internal/checksum"
	"github.com/yuya-takeyama/s3smart/internal/s3client"
)

type fakeLister struct {
	entries  []s3client.ObjectEntry
	err      error
	prefixes []string
}

func (f *fakeLister) ListObjects(_ context.Context, _ string, prefix string) ([]s3client.ObjectEntry, error) {
	f.prefixes = append(f.prefixes, prefix)
	if f.err != nil {
		return nil, f.err
	}
	var out []s3client.ObjectEntry
	for _, e := range f.entries {
		if strings.HasPrefix(e.Key, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

func md5ETag(body string) string {
	sum := md5.Sum([]byte(body))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func makeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func byKey(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.Key] = it
	}
	return m
}

func TestUploadKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		rel    string
		single bool
		want   string
	}{
		{name: "single file to exact key", key: "backups/db.dump", rel: "local.dump", single: true, want: "backups/db.dump"},
		{name: "single file to prefix", key: "backups/", rel: "local.dump", single: true, want: "backups/local.dump"},
		{name: "single file to bucket root", key: "", rel: "local.dump", single: true, want: "local.dump"},
		{name: "tree under prefix", key: "backups", rel: "a/b.txt", want: "backups/a/b.txt"},
		{name: "tree under prefix with slash", key: "backups/", rel: "a/b.txt", want: "backups/a/b.txt"},
		{name: "tree to bucket root", key: "", rel: "a/b.txt", want: "a/b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UploadKey(tt.key, tt.rel, tt.single))
		})
	}
}

func TestPlanUploadTree(t *testing.T) {
	root := makeTree(t, map[string]string{"a.txt": "a", "sub/b.txt": "bb", "skip.tmp": "x"})
	p := NewPlanner(&fakeLister{}, Options{Excludes: []string{"*.tmp"}}, nil)

	items, err := p.PlanUpload(root, "bucket", "dest")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "dest/a.txt", items[0].Key)
	assert.Equal(t, "dest/sub/b.txt", items[1].Key)
	assert.Equal(t, int64(2), items[1].Size)
	for _, it := range items {
		assert.Equal(t, ActionUpload, it.Action)
		assert.Equal(t, "bucket", it.Bucket)
	}
}

func TestPlanDownload(t *testing.T) {
	lister := &fakeLister{entries: []s3client.ObjectEntry{
		{Key: "data/a.txt", Size: 1},
		{Key: "data/sub/b.txt", Size: 2},
		{Key: "data/../evil", Size: 3},
		{Key: "data2/other.txt", Size: 4},
		{Key: "single.bin", Size: 5},
	}}
	p := NewPlanner(lister, Options{}, discardLogger())
	dest := t.TempDir()

	t.Run("prefix", func(t *testing.T) {
		items, err := p.PlanDownload(context.Background(), "bucket", "data", dest)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, filepath.Join(dest, "a.txt"), items[0].LocalPath)
		assert.Equal(t, filepath.Join(dest, "sub", "b.txt"), items[1].LocalPath)
		assert.Equal(t, "data/sub/b.txt", items[1].Key)
		assert.Equal(t, ActionDownload, items[1].Action)
	})

	t.Run("exact object", func(t *testing.T) {
		items, err := p.PlanDownload(context.Background(), "bucket", "single.bin", dest)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, filepath.Join(dest, "single.bin"), items[0].LocalPath)
		assert.Equal(t, int64(5), items[0].Size)
	})

	t.Run("listing failure", func(t *testing.T) {
		failing := NewPlanner(&fakeLister{err: errors.New("denied")}, Options{}, nil)
		_, err := failing.PlanDownload(context.Background(), "bucket", "data/", dest)
		assert.Error(t, err)
	})
}

func TestPlanSyncUpload(t *testing.T) {
	files := map[string]string{
		"same.txt":    "unchanged",
		"edited.txt":  "new body!",
		"resized.txt": "longer than before",
		"new.txt":     "fresh",
	}
	root := makeTree(t, files)
	remote := []s3client.ObjectEntry{
		{Key: "p/same.txt", Size: int64(len(files["same.txt"])), ETag: md5ETag(files["same.txt"])},
		{Key: "p/edited.txt", Size: int64(len(files["edited.txt"])), ETag: md5ETag("old body!")},
		{Key: "p/resized.txt", Size: 3, ETag: md5ETag("old")},
	}

	tests := []struct {
		name    string
		opts    Options
		skipped []string
	}{
		{name: "size only", opts: Options{}, skipped: []string{"p/edited.txt", "p/same.txt"}},
		{name: "checksum", opts: Options{Checksum: true, PartSize: 1024}, skipped: []string{"p/same.txt"}},
		{name: "force", opts: Options{Force: true, Checksum: true}, skipped: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{entries: remote}
			items, err := NewPlanner(lister, tt.opts, nil).PlanSyncUpload(context.Background(), root, "bucket", "p")
			require.NoError(t, err)
			require.Len(t, items, 4)
			assert.Equal(t, []string{"p/"}, lister.prefixes)

			var skipped []string
			for _, it := range items {
				if it.Action == ActionSkip {
					skipped = append(skipped, it.Key)
				} else {
					assert.Equal(t, ActionUpload, it.Action)
				}
			}
			assert.Equal(t, tt.skipped, skipped)
			if !tt.opts.Force {
				assert.Equal(t, "new file", byKey(items)["p/new.txt"].Reason)
			}
		})
	}
}

func TestPlanSyncUploadMultipartETag(t *testing.T) {
	root := makeTree(t, map[string]string{"big.bin": "0123456789"})
	etag, err := checksum.FileMultipartETag(filepath.Join(root, "big.bin"), 4)
	require.NoError(t, err)

	lister := &fakeLister{entries: []s3client.ObjectEntry{{Key: "big.bin", Size: 10, ETag: `"` + etag + `"`}}}

	items, err := NewPlanner(lister, Options{Checksum: true, PartSize: 4}, nil).
		PlanSyncUpload(context.Background(), filepath.Join(root, "big.bin"), "bucket", "big.bin")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ActionSkip, items[0].Action)
	assert.Equal(t, "checksum matches", items[0].Reason)
	assert.Equal(t, []string{"big.bin"}, lister.prefixes)

	// a different part size cannot prove equality
	items, err = NewPlanner(lister, Options{Checksum: true, PartSize: 5}, nil).
		PlanSyncUpload(context.Background(), filepath.Join(root, "big.bin"), "bucket", "big.bin")
	require.NoError(t, err)
	assert.Equal(t, ActionUpload, items[0].Action)
	assert.Equal(t, "etag uses a different part size", items[0].Reason)
}

func TestPlanSyncUploadOpaqueETag(t *testing.T) {
	root := makeTree(t, map[string]string{"a.txt": "abc"})
	lister := &fakeLister{entries: []s3client.ObjectEntry{{Key: "a.txt", Size: 3, ETag: `"kms-encrypted"`}}}

	items, err := NewPlanner(lister, Options{Checksum: true, PartSize: 4}, nil).
		PlanSyncUpload(context.Background(), root, "bucket", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ActionSkip, items[0].Action)
}

func TestPlanSyncDownload(t *testing.T) {
	dest := makeTree(t, map[string]string{"same.txt": "same", "stale.txt": "old"})
	lister := &fakeLister{entries: []s3client.ObjectEntry{
		{Key: "d/same.txt", Size: 4, ETag: md5ETag("same")},
		{Key: "d/stale.txt", Size: 5, ETag: md5ETag("newer")},
		{Key: "d/missing.txt", Size: 1, ETag: md5ETag("m")},
	}}

	items, err := NewPlanner(lister, Options{Checksum: true, PartSize: 8}, nil).
		PlanSyncDownload(context.Background(), "bucket", "d/", dest)
	require.NoError(t, err)

	m := byKey(items)
	require.Len(t, m, 3)
	assert.Equal(t, ActionSkip, m["d/same.txt"].Action)
	assert.Equal(t, ActionDownload, m["d/stale.txt"].Action)
	assert.Equal(t, ActionDownload, m["d/missing.txt"].Action)
	assert.Equal(t, "missing locally", m["d/missing.txt"].Reason)
	assert.Equal(t, filepath.Join(dest, "missing.txt"), m["d/missing.txt"].LocalPath)
}
