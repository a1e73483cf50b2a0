package s3client

import (
	"fmt"
	"path"
	"strings"
)

// IsS3URI reports whether s looks like an s3:// URI.
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

// ParseS3URI splits an S3 URI into bucket and key. The key is returned as
// written, so a trailing "/" marks a prefix.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("invalid S3 URI %q: must start with s3://", uri)
	}

	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing bucket name", uri)
	}

	return bucket, key, nil
}

// JoinKey joins an S3 prefix and a slash-separated relative path.
func JoinKey(prefix, rel string) string {
	switch {
	case prefix == "":
		return rel
	case rel == "":
		return prefix
	case strings.HasSuffix(prefix, "/"):
		return prefix + rel
	}
	return prefix + "/" + rel
}

// TrimKeyPrefix returns key relative to prefix. A prefix that does not end
// in "/" is treated as a directory name.
func TrimKeyPrefix(key, prefix string) string {
	if prefix == "" {
		return key
	}
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	if strings.HasPrefix(key, dir) {
		return strings.TrimPrefix(key, dir)
	}
	if key == prefix {
		return path.Base(key)
	}
	return key
}
