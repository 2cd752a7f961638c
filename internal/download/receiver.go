// Package download streams remote file content into local storage while
// fingerprinting it and reporting progress.
package download

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"
	"math/bits"
	"strconv"
)

// ErrSizeMismatch reports a transfer whose length differs from the listed size.
var ErrSizeMismatch = errors.New("size mismatch")

// SizePolicy decides what happens when the received length differs from the
// declared one.
type SizePolicy int

const (
	// SizeLenient keeps writing past the declared size and warns.
	SizeLenient SizePolicy = iota
	// SizeStrict fails the transfer.
	SizeStrict
)

// ParseSizePolicy parses "lenient" or "strict".
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch s {
	case "", "lenient":
		return SizeLenient, nil
	case "strict":
		return SizeStrict, nil
	default:
		return SizeLenient, fmt.Errorf("unknown size policy %q", s)
	}
}

func (p SizePolicy) String() string {
	if p == SizeStrict {
		return "strict"
	}
	return "lenient"
}

// Progress is one progress update for a transfer.
type Progress struct {
	Name     string
	Received uint64
	Expected uint64
	Percent  int
}

// Completion is emitted once, when the received size reaches the declared size.
type Completion struct {
	Name   string
	Size   uint64
	Digest string
}

// Sink receives progress events from a Receiver.
type Sink interface {
	Progress(p Progress)
	Complete(c Completion)
	Warn(name, msg string)
}

// Result describes a finished transfer.
type Result struct {
	Expected uint64
	Received uint64
	Digest   string
}

// Complete reports whether every declared byte arrived.
func (r Result) Complete() bool { return r.Received == r.Expected }

// Receiver consumes one file's chunks in arrival order.
type Receiver struct {
	name     string
	w        io.Writer
	sink     Sink
	policy   SizePolicy
	expected uint64
	received uint64
	digest   hash.Hash
	done     bool
	overflow bool
}

// NewReceiver returns a receiver writing to w and expecting size bytes.
func NewReceiver(name string, w io.Writer, size uint64, sink Sink, policy SizePolicy) *Receiver {
	return &Receiver{
		name:     name,
		w:        w,
		sink:     sink,
		policy:   policy,
		expected: size,
		digest:   NewBlobHash(size),
	}
}

// NewBlobHash returns a SHA-1 seeded with the "blob <size>\0" header, so the
// final sum equals the git object id of the content.
func NewBlobHash(size uint64) hash.Hash {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.FormatUint(size, 10) + "\x00"))
	return h
}

// Write implements io.Writer on top of OnChunk.
func (r *Receiver) Write(p []byte) (int, error) {
	if err := r.OnChunk(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// OnChunk appends one chunk, extends the digest and reports progress.
func (r *Receiver) OnChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	if r.received+uint64(len(p)) > r.expected {
		if r.policy == SizeStrict {
			return fmt.Errorf("%w: %s: received more than the declared %d bytes", ErrSizeMismatch, r.name, r.expected)
		}
		if !r.overflow {
			r.overflow = true
			r.sink.Warn(r.name, fmt.Sprintf("received more than the declared %d bytes", r.expected))
		}
	}

	if _, err := r.w.Write(p); err != nil {
		return fmt.Errorf("write %s: %w", r.name, err)
	}
	r.digest.Write(p)
	r.received += uint64(len(p))

	r.sink.Progress(Progress{
		Name:     r.name,
		Received: r.received,
		Expected: r.expected,
		Percent:  r.percent(),
	})

	if r.received == r.expected && !r.done {
		r.done = true
		r.sink.Complete(Completion{Name: r.name, Size: r.received, Digest: r.Digest()})
	}
	return nil
}

// Finish closes the record once the stream has ended.
func (r *Receiver) Finish() (Result, error) {
	res := r.Result()

	if r.expected == 0 && r.received == 0 && !r.done {
		r.done = true
		r.sink.Complete(Completion{Name: r.name, Size: 0, Digest: res.Digest})
	}

	if r.received < r.expected {
		msg := fmt.Sprintf("stream ended after %d of %d bytes", r.received, r.expected)
		if r.policy == SizeStrict {
			return res, fmt.Errorf("%w: %s: %s", ErrSizeMismatch, r.name, msg)
		}
		r.sink.Warn(r.name, msg)
	}
	return res, nil
}

// Result returns the current state of the transfer.
func (r *Receiver) Result() Result {
	return Result{
		Expected: r.expected,
		Received: r.received,
		Digest:   r.Digest(),
	}
}

// Overflowed reports whether more bytes arrived than were declared.
func (r *Receiver) Overflowed() bool { return r.overflow }

// Digest returns the lowercase hex digest of the bytes received so far.
func (r *Receiver) Digest() string {
	return hex.EncodeToString(r.digest.Sum(nil))
}

func (r *Receiver) percent() int {
	if r.expected == 0 {
		return 100
	}
	hi, lo := bits.Mul64(r.received, 100)
	if hi >= r.expected {
		return math.MaxInt
	}
	q, _ := bits.Div64(hi, lo, r.expected)
	if q > math.MaxInt {
		return math.MaxInt
	}
	return int(q)
}
