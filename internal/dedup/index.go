// Package dedup remembers which mirrored directory first produced a given
// listing fingerprint.
package dedup

import "github.com/dumpftp/dumpftp/internal/listing"

// Index maps listing fingerprints to the first target path that produced them.
// It lives for one run, is never pruned, and is not safe for concurrent use.
type Index struct {
	paths map[listing.Fingerprint]string
}

// New returns an empty index.
func New() *Index {
	return &Index{paths: make(map[listing.Fingerprint]string)}
}

// Lookup returns the canonical path for fp, if one was recorded.
func (i *Index) Lookup(fp listing.Fingerprint) (string, bool) {
	p, ok := i.paths[fp]
	return p, ok
}

// RecordIfAbsent registers path as canonical for fp unless fp is already
// known. It reports whether path was recorded.
func (i *Index) RecordIfAbsent(fp listing.Fingerprint, path string) bool {
	if _, ok := i.paths[fp]; ok {
		return false
	}
	i.paths[fp] = path
	return true
}

// Len returns the number of distinct fingerprints seen.
func (i *Index) Len() int { return len(i.paths) }
