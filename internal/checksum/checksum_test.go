package checksum

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMD5(t *testing.T) {
	got, err := CalculateMD5(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, EmptyMD5, got)

	got, err = CalculateMD5(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", got)
}

func TestFileMultipartETag(t *testing.T) {
	data := []byte("abcdefghij")
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	p1 := md5.Sum(data[:4])
	p2 := md5.Sum(data[4:8])
	p3 := md5.Sum(data[8:])
	want := MultipartETag([][]byte{p1[:], p2[:], p3[:]})

	got, err := FileMultipartETag(path, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, strings.HasSuffix(got, "-3"))

	// exact multiple of the part size does not add an empty part
	got, err = FileMultipartETag(path, 5)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "-2"))

	_, err = FileMultipartETag(path, 0)
	assert.Error(t, err)
}

func TestParseETag(t *testing.T) {
	tests := []struct {
		etag   string
		digest string
		parts  int
		ok     bool
	}{
		{etag: `"5EB63BBBE01EEED093CB22BB8F5ACDC3"`, digest: "5eb63bbbe01eeed093cb22bb8f5acdc3", ok: true},
		{etag: "5eb63bbbe01eeed093cb22bb8f5acdc3-12", digest: "5eb63bbbe01eeed093cb22bb8f5acdc3", parts: 12, ok: true},
		{etag: "5eb63bbbe01eeed093cb22bb8f5acdc3-0"},
		{etag: "5eb63bbbe01eeed093cb22bb8f5acdc3-x"},
		{etag: "not-an-md5"},
		{etag: "zzb63bbbe01eeed093cb22bb8f5acdc3"},
		{etag: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.etag, func(t *testing.T) {
			digest, parts, ok := ParseETag(tt.etag)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.digest, digest)
			assert.Equal(t, tt.parts, parts)
		})
	}
}

func TestCompareETags(t *testing.T) {
	assert.True(t, CompareETags(`"ABC-2"`, "abc-2"))
	assert.False(t, CompareETags("abc-2", "abc-3"))
}
