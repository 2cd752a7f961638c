package listing

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Entries(t *testing.T) {
	lines := []string{
		"02-14-14  10:30AM       <DIR>          pub",
		"02-14-14  01:05PM               12345 release notes.txt",
		"11-03-09  12:00AM                   0 empty",
	}

	l, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(l.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(l.Entries))
	}

	tests := []struct {
		name      string
		kind      Kind
		size      uint64
		timestamp string
	}{
		{"pub", Directory, 0, "02-14-14  10:30AM"},
		{"release notes.txt", File, 12345, "02-14-14  01:05PM"},
		{"empty", File, 0, "11-03-09  12:00AM"},
	}
	for i, tt := range tests {
		e := l.Entries[i]
		if e.Name != tt.name {
			t.Errorf("entry %d: name = %q, want %q", i, e.Name, tt.name)
		}
		if e.Kind != tt.kind {
			t.Errorf("entry %d: kind = %v, want %v", i, e.Kind, tt.kind)
		}
		if e.Size != tt.size {
			t.Errorf("entry %d: size = %d, want %d", i, e.Size, tt.size)
		}
		if e.Timestamp != tt.timestamp {
			t.Errorf("entry %d: timestamp = %q, want %q", i, e.Timestamp, tt.timestamp)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	l, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(l.Entries) != 0 {
		t.Errorf("got %d entries, want 0", len(l.Entries))
	}
	if l.Fingerprint != NewFingerprinter().Sum() {
		t.Error("empty listing fingerprint should equal the empty accumulator")
	}
}

func TestParse_Malformed(t *testing.T) {
	bad := []string{
		"drwxr-xr-x   2 ftp ftp 4096 Jan 01 10:00 pub",
		"02-14-14  10:30 <DIR> pub",
		"02-14-14  10:30AM  -12 neg",
		"02-14-14  10:30AM  <DIR>  a/b",
		"02-14-14  10:30AM  <DIR>  ..",
		"",
	}
	for _, line := range bad {
		lines := []string{"02-14-14  10:30AM  <DIR>  ok", line}
		_, err := Parse(lines)
		if err == nil {
			t.Errorf("Parse(%q) succeeded, want error", line)
			continue
		}
		if !errors.Is(err, ErrMalformedListing) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformedListing", line, err)
		}
	}
}

func TestParse_FingerprintDeterministic(t *testing.T) {
	lines := []string{
		"02-14-14  10:30AM  100 x",
		"02-14-14  10:30AM  50 y",
	}
	a, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse(append([]string(nil), lines...))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("identical listings produced %s and %s", a.Fingerprint, b.Fingerprint)
	}
}

func TestParse_FingerprintOrderSensitive(t *testing.T) {
	a, _ := Parse([]string{"02-14-14  10:30AM  100 x", "02-14-14  10:30AM  50 y"})
	b, _ := Parse([]string{"02-14-14  10:30AM  50 y", "02-14-14  10:30AM  100 x"})
	if a.Fingerprint == b.Fingerprint {
		t.Error("reordered listings must not share a fingerprint")
	}
}

func TestFingerprint_LineBoundaries(t *testing.T) {
	a := NewFingerprinter()
	a.Add("ab")
	a.Add("c")
	b := NewFingerprinter()
	b.Add("a")
	b.Add("bc")
	if a.Sum() == b.Sum() {
		t.Error("line boundaries must be part of the fingerprint")
	}
	if len(a.Sum().String()) != 40 {
		t.Errorf("hex fingerprint length = %d, want 40", len(a.Sum().String()))
	}
}

func TestFormatLine_RoundTrip(t *testing.T) {
	mod := time.Date(2014, 2, 14, 13, 5, 0, 0, time.UTC)

	dir, err := ParseLine(FormatLine(mod, true, 0, "sub dir"))
	if err != nil {
		t.Fatalf("ParseLine(dir): %v", err)
	}
	if !dir.IsDir() || dir.Name != "sub dir" {
		t.Errorf("dir entry = %+v", dir)
	}

	file, err := ParseLine(FormatLine(mod, false, 987654321, "a.bin"))
	if err != nil {
		t.Fatalf("ParseLine(file): %v", err)
	}
	if file.IsDir() || file.Size != 987654321 || file.Name != "a.bin" {
		t.Errorf("file entry = %+v", file)
	}
	if file.Timestamp != "02-14-14  01:05PM" {
		t.Errorf("timestamp = %q", file.Timestamp)
	}
}

func TestFormattable(t *testing.T) {
	mod := time.Date(2014, 2, 14, 13, 5, 0, 0, time.UTC)
	tests := []struct {
		name string
		ok   bool
	}{
		{"plain.txt", true},
		{"trailing ", true},
		{"in side", true},
		{"  lead.txt", false},
		{"\ttab", false},
		{"two\nlines", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Formattable(tt.name); got != tt.ok {
			t.Errorf("Formattable(%q) = %v, want %v", tt.name, got, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		e, err := ParseLine(FormatLine(mod, false, 1, tt.name))
		if err != nil || e.Name != tt.name {
			t.Errorf("round trip of %q = %q, %v", tt.name, e.Name, err)
		}
	}
}
