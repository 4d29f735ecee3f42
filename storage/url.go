package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURL is returned when a string does not name a bucket.
var ErrInvalidURL = errors.New("invalid S3 URL")

const scheme = "s3://"

// URL is an S3 location. A Key that is empty or ends with "/" names a folder.
type URL struct {
	Bucket string
	Key    string
}

// Clean strips a leading s3:// in any letter case.
func Clean(s string) string {
	if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
		return s[len(scheme):]
	}
	return s
}

// IsURL reports whether s starts with s3:// in any letter case.
func IsURL(s string) bool {
	return Clean(s) != s
}

// ParseURL splits "s3://bucket/key" (scheme optional) into bucket and key.
func ParseURL(s string) (URL, error) {
	bucket, key, _ := strings.Cut(Clean(s), "/")
	if bucket == "" {
		return URL{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidURL, s)
	}
	return URL{Bucket: bucket, Key: key}, nil
}

// MustParseURL is like ParseURL but panics on error.
func MustParseURL(s string) URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u URL) String() string {
	return scheme + u.Bucket + "/" + u.Key
}

// IsFolder reports whether the key names a folder.
func (u URL) IsFolder() bool {
	return u.Key == "" || strings.HasSuffix(u.Key, "/")
}

// Filename returns the last element of the key, or "" for a folder.
func (u URL) Filename() string {
	if i := strings.LastIndex(u.Key, "/"); i >= 0 {
		return u.Key[i+1:]
	}
	return u.Key
}

// Folder returns the key up to and including its last "/", or "" when the
// key is at the top of the bucket.
func (u URL) Folder() string {
	if i := strings.LastIndex(u.Key, "/"); i >= 0 {
		return u.Key[:i+1]
	}
	return ""
}

// Join returns the location of name inside this URL's folder.
func (u URL) Join(name string) URL {
	return URL{Bucket: u.Bucket, Key: u.Folder() + name}
}
