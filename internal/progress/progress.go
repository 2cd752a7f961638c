// Package progress renders transfer progress events.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dumpftp/dumpftp/internal/download"
	"github.com/dumpftp/dumpftp/internal/logging"
)

const barWidth = 100

// Bar draws a single-line console bar per transfer, redrawn in place with
// a carriage return, and ends it with the content digest.
type Bar struct {
	out  io.Writer
	open bool // a bar line is on screen and not yet terminated
	full bool // the open line already shows the final state
}

// NewBar returns a bar writing to out.
func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

func (b *Bar) draw(percent int) {
	fill := min(max(percent, 0), barWidth)
	fmt.Fprintf(b.out, "% 4d%%[%s%s]", percent, strings.Repeat("=", fill), strings.Repeat(" ", barWidth-fill))
}

// Progress redraws the bar.
func (b *Bar) Progress(p download.Progress) {
	b.draw(p.Percent)
	b.open = true
	b.full = p.Received == p.Expected
	if !b.full {
		fmt.Fprint(b.out, "\r")
	}
}

// Complete terminates the line with the digest.
func (b *Bar) Complete(c download.Completion) {
	if !b.full {
		b.draw(100)
	}
	fmt.Fprintf(b.out, " (%s) \n", c.Digest)
	b.open, b.full = false, false
}

// Warn moves off the bar line and logs the warning.
func (b *Bar) Warn(name, msg string) {
	if b.open {
		fmt.Fprint(b.out, "\n")
		b.open, b.full = false, false
	}
	logging.Warn(msg, logging.String("file", name))
}

// LogSink reports transfers through the logger only.
type LogSink struct{}

// Progress logs at debug level.
func (LogSink) Progress(p download.Progress) {
	logging.Debug("progress",
		logging.String("file", p.Name),
		logging.Uint64("received", p.Received),
		logging.Uint64("expected", p.Expected),
	)
}

// Complete logs the finished transfer.
func (LogSink) Complete(c download.Completion) {
	logging.Info("received",
		logging.String("file", c.Name),
		logging.Uint64("size", c.Size),
		logging.String("digest", c.Digest),
	)
}

// Warn logs at warn level.
func (LogSink) Warn(name, msg string) {
	logging.Warn(msg, logging.String("file", name))
}

// Discard drops every event.
type Discard struct{}

func (Discard) Progress(download.Progress)   {}
func (Discard) Complete(download.Completion) {}
func (Discard) Warn(string, string)          {}

// Select returns the sink for mode: "bar", "log", "none", or "auto" which
// draws a bar only when out is a terminal.
func Select(mode string, out *os.File) (download.Sink, error) {
	switch mode {
	case "bar":
		return NewBar(out), nil
	case "log":
		return LogSink{}, nil
	case "none":
		return Discard{}, nil
	case "", "auto":
		if term.IsTerminal(int(out.Fd())) {
			return NewBar(out), nil
		}
		return LogSink{}, nil
	default:
		return nil, fmt.Errorf("unknown progress mode %q", mode)
	}
}
