// Package checksum computes and compares S3-style ETags.
//
// A single-part object's ETag is the hex MD5 of its content. A multipart
// object's ETag is the hex MD5 of the concatenated binary part MD5s,
// followed by "-" and the part count.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const bufferSize = 64 * 1024 // 64KB buffer

// EmptyMD5 is the ETag of a zero-byte object.
const EmptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

// CalculateFileMD5 returns the hex MD5 of a file.
func CalculateFileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return CalculateMD5(file)
}

// CalculateMD5 returns the hex MD5 of everything read from r.
func CalculateMD5(r io.Reader) (string, error) {
	hash := md5.New()
	buffer := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(hash, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// MultipartETag builds the composite ETag from per-part binary digests in
// part-number order.
func MultipartETag(partDigests [][]byte) string {
	hash := md5.New()
	for _, d := range partDigests {
		hash.Write(d)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(hash.Sum(nil)), len(partDigests))
}

// FileMultipartETag computes the composite ETag a file would get when
// uploaded with partSize parts.
func FileMultipartETag(filePath string, partSize int64) (string, error) {
	if partSize <= 0 {
		return "", fmt.Errorf("part size must be positive: %d", partSize)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var digests [][]byte
	buffer := make([]byte, bufferSize)
	for {
		hash := md5.New()
		n, err := io.CopyBuffer(hash, io.LimitReader(file, partSize), buffer)
		if err != nil {
			return "", fmt.Errorf("read part %d: %w", len(digests)+1, err)
		}
		if n == 0 {
			break
		}
		digests = append(digests, hash.Sum(nil))
		if n < partSize {
			break
		}
	}
	return MultipartETag(digests), nil
}

// Normalize strips quotes and lowercases an ETag.
func Normalize(etag string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(etag), `"`))
}

// ParseETag splits a normalized ETag into its digest and part count. Parts
// is zero for a single-part ETag. ok is false when the ETag is not an MD5
// based value (for example SSE-KMS objects).
func ParseETag(etag string) (digest string, parts int, ok bool) {
	etag = Normalize(etag)
	digest = etag
	if i := strings.IndexByte(etag, '-'); i >= 0 {
		n, err := strconv.Atoi(etag[i+1:])
		if err != nil || n <= 0 {
			return "", 0, false
		}
		digest, parts = etag[:i], n
	}
	if len(digest) != 32 {
		return "", 0, false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", 0, false
	}
	return digest, parts, true
}

// CompareETags reports whether two ETags denote the same content.
func CompareETags(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
