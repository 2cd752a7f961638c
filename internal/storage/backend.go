// Package storage defines the Backend interface for the mirror target.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Backend is the interface for mirror targets. Keys are slash-separated
// paths relative to the target root; the empty key is the root itself.
type Backend interface {
	// MkdirAll creates the directory key and any missing parents. It
	// succeeds when the directory already exists.
	MkdirAll(ctx context.Context, key string) error

	// Create opens key for writing. Nothing is visible at key until the
	// writer is committed.
	Create(ctx context.Context, key string) (ObjectWriter, error)

	// Copy duplicates the object at srcKey to dstKey.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Location renders key for humans (a filesystem path or s3:// URL).
	Location(key string) string

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ObjectWriter receives the content of one object.
type ObjectWriter interface {
	io.Writer

	// Commit publishes the written content at the destination key.
	Commit() error

	// Abort discards the written content. It is a no-op after Commit, so
	// callers may defer it unconditionally.
	Abort() error
}

// Join joins key elements with slashes, dropping empty elements.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// Target is a parsed -d argument.
type Target struct {
	Scheme string // "local" or "s3"
	Path   string // local root directory
	Bucket string
	Prefix string
}

// ParseTarget recognises s3://bucket[/prefix]; anything else is a local path.
func ParseTarget(target string) (Target, error) {
	rest, ok := strings.CutPrefix(target, "s3://")
	if !ok {
		if target == "" {
			return Target{}, fmt.Errorf("empty target")
		}
		return Target{Scheme: "local", Path: target}, nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Target{}, fmt.Errorf("target %q: missing bucket", target)
	}
	return Target{Scheme: "s3", Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}
