package s3client

import (
	"mime"
	"path"
)

// GuessContentType returns the MIME type for key's extension, or "" when
// unknown.
func GuessContentType(key string) string {
	ext := path.Ext(key)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
