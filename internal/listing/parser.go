package listing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedListing is returned when a line does not follow the listing grammar.
var ErrMalformedListing = errors.New("malformed listing")

// DirMarker is the size column value that marks a directory.
const DirMarker = "<DIR>"

// DATE TIME(AM|PM) (<DIR>|SIZE) NAME
var linePattern = regexp.MustCompile(`^(\d+-\d+-\d+\s+\d+:\d+(A|P)M)\s+(<DIR>|\d+)\s+(.*)$`)

// Parse converts the raw lines of one directory into a Listing.
// Any line that fails the grammar rejects the whole listing.
func Parse(lines []string) (*Listing, error) {
	fp := NewFingerprinter()
	entries := make([]Entry, 0, len(lines))

	for i, line := range lines {
		fp.Add(line)

		entry, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}

	return &Listing{
		Entries:     entries,
		Fingerprint: fp.Sum(),
	}, nil
}

// ParseLine parses a single listing line.
func ParseLine(line string) (Entry, error) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedListing, line)
	}

	name := m[4]
	if !validName(name) {
		return Entry{}, fmt.Errorf("%w: invalid entry name %q", ErrMalformedListing, name)
	}

	entry := Entry{
		Timestamp: m[1],
		Name:      name,
	}
	if m[3] == DirMarker {
		entry.Kind = Directory
		return entry, nil
	}

	size, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: size %q: %v", ErrMalformedListing, m[3], err)
	}
	entry.Kind = File
	entry.Size = size
	return entry, nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
