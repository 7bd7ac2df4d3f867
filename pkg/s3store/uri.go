package s3store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURI is returned for locations that are not s3://bucket[/key].
var ErrInvalidURI = errors.New("invalid s3 uri")

// IsS3URI reports whether s looks like an s3:// URI.
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

// ParseS3URI splits s3://bucket/key. The key may be empty.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("%w: %q lacks the s3:// scheme", ErrInvalidURI, uri)
	}

	path := strings.TrimPrefix(uri, "s3://")
	bucket, key, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// JoinKey joins an object key prefix and a relative name with a single '/'.
func JoinKey(prefix, name string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	name = strings.TrimPrefix(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
