package plan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yuya-takeyama/s3smart/internal/checksum"
	"github.com/yuya-takeyama/s3smart/internal/s3client"
	"github.com/yuya-takeyama/s3smart/internal/walker"
	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

// Action represents what happens to one file
type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionSkip     Action = "skip"
)

// Item represents a plan item
type Item struct {
	Action    Action
	LocalPath string
	Bucket    string
	Key       string
	Size      int64
	Reason    string // Why this action was chosen
}

// Target returns the remote side of the item.
func (i Item) Target() transfer.Target {
	return transfer.Target{Bucket: i.Bucket, Key: i.Key}
}

// Lister lists remote objects under a prefix.
type Lister interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]s3client.ObjectEntry, error)
}

// Options tune how sync decides whether a file is already up to date.
type Options struct {
	// Checksum compares content digests when sizes match.
	Checksum bool
	// Force transfers every file.
	Force bool
	// PartSize is the part size used to compute composite ETags.
	PartSize int64
	Excludes []string
	// HashConcurrency bounds concurrent local digest computations.
	HashConcurrency int
}

// Planner creates transfer plans
type Planner struct {
	lister Lister
	opts   Options
	logger *slog.Logger
}

// NewPlanner creates a new planner
func NewPlanner(lister Lister, opts Options, logger *slog.Logger) *Planner {
	if opts.HashConcurrency <= 0 {
		opts.HashConcurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{lister: lister, opts: opts, logger: logger}
}

// UploadKey returns the object key for a local file. A single file goes to
// key itself unless key is empty or ends in "/", in which case the base
// name is appended. Files of a tree go under key as a directory.
func UploadKey(key, relPath string, single bool) string {
	if single && key != "" && !strings.HasSuffix(key, "/") {
		return key
	}
	return s3client.JoinKey(key, relPath)
}

// PlanUpload lists local files under src for upload to bucket/key.
func (p *Planner) PlanUpload(src, bucket, key string) ([]Item, error) {
	w, err := walker.NewWalker(src, p.opts.Excludes)
	if err != nil {
		return nil, err
	}
	files, err := w.Walk()
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(files))
	for _, f := range files {
		items = append(items, Item{
			Action:    ActionUpload,
			LocalPath: f.Path,
			Bucket:    bucket,
			Key:       UploadKey(key, f.RelPath, w.IsFile()),
			Size:      f.Size,
			Reason:    "upload",
		})
	}
	return items, nil
}

type remoteFile struct {
	rel   string
	entry s3client.ObjectEntry
}

// listRemote returns the objects key denotes: the object itself when key
// names one exactly, otherwise everything below key as a directory.
func (p *Planner) listRemote(ctx context.Context, bucket, key string) ([]remoteFile, error) {
	entries, err := p.lister.ListObjects(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	if key != "" && !strings.HasSuffix(key, "/") {
		for _, e := range entries {
			if e.Key == key {
				return []remoteFile{{rel: path.Base(key), entry: e}}, nil
			}
		}
	}

	excludes := walker.Excludes(p.opts.Excludes)
	dir := key
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	var files []remoteFile
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, dir) {
			continue
		}
		rel := strings.TrimPrefix(e.Key, dir)
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			p.logger.Warn("skipping object with unsafe key", "bucket", bucket, "key", e.Key)
			continue
		}
		if excludes.Match(rel) {
			continue
		}
		files = append(files, remoteFile{rel: rel, entry: e})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// PlanDownload lists the objects bucket/key denotes for download into the
// directory dest, preserving paths relative to key.
func (p *Planner) PlanDownload(ctx context.Context, bucket, key, dest string) ([]Item, error) {
	files, err := p.listRemote(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(files))
	for _, f := range files {
		items = append(items, Item{
			Action:    ActionDownload,
			LocalPath: filepath.Join(dest, filepath.FromSlash(f.rel)),
			Bucket:    bucket,
			Key:       f.entry.Key,
			Size:      f.entry.Size,
			Reason:    "download",
		})
	}
	return items, nil
}

// PlanSyncUpload compares local files under src with bucket/key and skips
// the ones already up to date.
func (p *Planner) PlanSyncUpload(ctx context.Context, src, bucket, key string) ([]Item, error) {
	items, err := p.PlanUpload(src, bucket, key)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return items, nil
	}

	// A single file mapped onto key is looked up by its exact key
	prefix := key
	single := len(items) == 1 && items[0].Key == key
	if !single && prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	entries, err := p.lister.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	remote := make(map[string]s3client.ObjectEntry, len(entries))
	for _, e := range entries {
		remote[e.Key] = e
	}

	err = p.compare(items, func(it *Item) (*s3client.ObjectEntry, int64, bool, error) {
		e, ok := remote[it.Key]
		if !ok {
			return nil, it.Size, true, nil
		}
		return &e, it.Size, true, nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PlanSyncDownload compares objects under bucket/key with files in dest and
// skips the ones already up to date.
func (p *Planner) PlanSyncDownload(ctx context.Context, bucket, key, dest string) ([]Item, error) {
	files, err := p.listRemote(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(files))
	entries := make(map[string]s3client.ObjectEntry, len(files))
	for i, f := range files {
		items[i] = Item{
			Action:    ActionDownload,
			LocalPath: filepath.Join(dest, filepath.FromSlash(f.rel)),
			Bucket:    bucket,
			Key:       f.entry.Key,
			Size:      f.entry.Size,
			Reason:    "download",
		}
		entries[f.entry.Key] = f.entry
	}

	err = p.compare(items, func(it *Item) (*s3client.ObjectEntry, int64, bool, error) {
		e := entries[it.Key]
		info, err := os.Stat(it.LocalPath)
		if errors.Is(err, fs.ErrNotExist) {
			return &e, 0, false, nil
		}
		if err != nil {
			return nil, 0, false, fmt.Errorf("stat %s: %w", it.LocalPath, err)
		}
		if info.IsDir() {
			return nil, 0, false, fmt.Errorf("%s is a directory", it.LocalPath)
		}
		return &e, info.Size(), true, nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// sides reports the remote entry (nil when absent), the local size and
// whether the local file exists.
type sides func(it *Item) (remote *s3client.ObjectEntry, localSize int64, localExists bool, err error)

// compare turns items that are already in sync into skips. Digests are
// computed concurrently.
func (p *Planner) compare(items []Item, lookup sides) error {
	if p.opts.Force {
		for i := range items {
			items[i].Reason = "forced"
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.opts.HashConcurrency)

	for i := range items {
		it := &items[i]
		remote, localSize, localExists, err := lookup(it)
		if err != nil {
			_ = g.Wait()
			return err
		}

		switch {
		case remote == nil:
			it.Reason = "new file"
			continue
		case !localExists:
			it.Reason = "missing locally"
			continue
		case remote.Size != localSize:
			it.Reason = fmt.Sprintf("size differs (local: %d, remote: %d)", localSize, remote.Size)
			continue
		case !p.opts.Checksum:
			it.Action = ActionSkip
			it.Reason = "size matches"
			continue
		}

		etag := remote.ETag
		g.Go(func() error {
			same, reason, err := p.sameContent(it.LocalPath, etag)
			if err != nil {
				return fmt.Errorf("compare %s: %w", it.LocalPath, err)
			}
			if same {
				it.Action = ActionSkip
			}
			it.Reason = reason
			return nil
		})
	}

	return g.Wait()
}

func (p *Planner) sameContent(localPath, etag string) (bool, string, error) {
	_, parts, ok := checksum.ParseETag(etag)
	if !ok {
		return true, "size matches (etag not comparable)", nil
	}
	if parts > 0 && p.opts.PartSize <= 0 {
		return false, "etag uses a different part size", nil
	}

	var (
		local string
		err   error
	)
	if parts == 0 {
		local, err = checksum.CalculateFileMD5(localPath)
	} else {
		local, err = checksum.FileMultipartETag(localPath, p.opts.PartSize)
	}
	if err != nil {
		return false, "", err
	}

	if checksum.CompareETags(local, etag) {
		return true, "checksum matches", nil
	}
	if _, localParts, _ := checksum.ParseETag(local); localParts != parts {
		return false, "etag uses a different part size", nil
	}
	return false, "checksum differs", nil
}
