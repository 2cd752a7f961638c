// Package listing parses remote directory listings into typed entries and
// fingerprints them for duplicate detection.
package listing

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
)

// Kind distinguishes directories from files.
type Kind int

const (
	File Kind = iota
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "dir"
	}
	return "file"
}

// Entry is one parsed line of a listing.
type Entry struct {
	Timestamp string
	Kind      Kind
	Size      uint64 // only meaningful for files
	Name      string // a single path segment
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == Directory }

// Fingerprint identifies a listing by the SHA-1 of its raw lines.
type Fingerprint [sha1.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Listing is the parsed content of one remote directory.
type Listing struct {
	Entries     []Entry
	Fingerprint Fingerprint
}

// Fingerprinter accumulates raw listing lines in arrival order.
type Fingerprinter struct {
	h hash.Hash
}

// NewFingerprinter returns an empty fingerprint accumulator.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{h: sha1.New()}
}

// Add feeds one raw line. Line boundaries are part of the digest.
func (f *Fingerprinter) Add(line string) {
	f.h.Write([]byte(line))
	f.h.Write([]byte{'\n'})
}

// Sum returns the fingerprint of every line added so far.
func (f *Fingerprinter) Sum() Fingerprint {
	var fp Fingerprint
	copy(fp[:], f.h.Sum(nil))
	return fp
}
