// Package dumper mirrors a remote directory tree onto a storage backend.
//
// The traversal is depth-first and sequential over a single session. Remote
// access failures skip the affected entry; every other failure aborts the run.
package dumper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danwakefield/fnmatch"
	"go.uber.org/zap"

	"github.com/dumpftp/dumpftp/internal/dedup"
	"github.com/dumpftp/dumpftp/internal/download"
	"github.com/dumpftp/dumpftp/internal/listing"
	"github.com/dumpftp/dumpftp/internal/logging"
	"github.com/dumpftp/dumpftp/internal/metrics"
	"github.com/dumpftp/dumpftp/internal/progress"
	"github.com/dumpftp/dumpftp/internal/remote"
	"github.com/dumpftp/dumpftp/internal/storage"
)

// MatchAll is the default file name filter.
const MatchAll = "*"

// Options controls one mirror run.
type Options struct {
	// Filter is a case-sensitive shell pattern matched against file names.
	// Directories are always traversed.
	Filter string

	// CreateEmptyDirs creates every remote directory on the target, even
	// when no file ends up inside it.
	CreateEmptyDirs bool

	// DetectDuplicates copies files of a directory whose listing is
	// byte-identical to one already mirrored instead of downloading them.
	DetectDuplicates bool

	SizePolicy download.SizePolicy
}

// Stats counts what a run did.
type Stats struct {
	Directories     int
	Duplicates      int
	Downloads       int
	Copies          int
	Filtered        int
	DirsDenied      int
	FilesDenied     int
	BytesDownloaded uint64
	BytesCopied     uint64
}

// Dumper walks the session's current directory into a target backend.
type Dumper struct {
	session remote.Session
	target  storage.Backend
	sink    download.Sink
	opts    Options
	index   *dedup.Index
	dirs    map[string]bool // target directories known to exist
	stats   Stats
}

// New returns a Dumper. A nil sink discards progress events.
func New(session remote.Session, target storage.Backend, sink download.Sink, opts Options) *Dumper {
	if opts.Filter == "" {
		opts.Filter = MatchAll
	}
	if sink == nil {
		sink = progress.Discard{}
	}
	d := &Dumper{
		session: session,
		target:  target,
		sink:    sink,
		opts:    opts,
		dirs:    make(map[string]bool),
	}
	if opts.DetectDuplicates {
		d.index = dedup.New()
	}
	return d
}

// Stats returns the counters of the run so far.
func (d *Dumper) Stats() Stats { return d.stats }

// Run mirrors the session's current remote directory into targetRoot, a
// key of the target backend ("" for its root).
func (d *Dumper) Run(ctx context.Context, targetRoot string) error {
	if err := d.ensureDir(ctx, targetRoot); err != nil {
		return err
	}
	return d.dump(ctx, targetRoot)
}

func (d *Dumper) dump(ctx context.Context, targetDir string) error {
	l, err := d.list(ctx, targetDir)
	if err != nil {
		return err
	}
	return d.walk(ctx, targetDir, l)
}

// list reads and parses the current remote directory.
func (d *Dumper) list(ctx context.Context, targetDir string) (*listing.Listing, error) {
	lines, err := d.session.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.target.Location(targetDir), err)
	}
	l, err := listing.Parse(lines)
	if err != nil {
		return nil, fmt.Errorf("listing for %s: %w", d.target.Location(targetDir), err)
	}
	d.stats.Directories++
	return l, nil
}

func (d *Dumper) walk(ctx context.Context, targetDir string, l *listing.Listing) error {
	var duplicateSource string
	duplicate := false
	if d.index != nil {
		if src, ok := d.index.Lookup(l.Fingerprint); ok {
			duplicateSource, duplicate = src, true
			d.stats.Duplicates++
			logging.WithContext(ctx).Debug("duplicate listing",
				zap.String("target", d.target.Location(targetDir)),
				zap.String("source", d.target.Location(src)),
				zap.Stringer("fingerprint", l.Fingerprint),
			)
		} else {
			d.index.RecordIfAbsent(l.Fingerprint, targetDir)
		}
	}
	metrics.RecordListing(duplicate)

	for _, e := range l.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if e.IsDir() {
			err = d.dumpDir(ctx, targetDir, e)
		} else {
			err = d.dumpFile(ctx, targetDir, e, duplicateSource, duplicate)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dumper) dumpDir(ctx context.Context, targetDir string, e listing.Entry) (err error) {
	child := storage.Join(targetDir, e.Name)
	log := logging.WithContext(ctx)

	if d.opts.CreateEmptyDirs {
		log.Info("create", zap.String("path", d.target.Location(child)))
		if err := d.ensureDir(ctx, child); err != nil {
			return err
		}
	}

	leave, err := remote.Enter(ctx, d.session, e.Name)
	if err != nil {
		if remote.IsAccessDenied(err) {
			d.deniedDir(ctx, e.Name, err)
			return nil
		}
		return err
	}
	defer func() {
		if lerr := leave(); lerr != nil && err == nil {
			err = lerr
		}
	}()

	// SFTP reports an unreadable directory at listing time, not on entry.
	l, err := d.list(ctx, child)
	if err != nil {
		if remote.IsAccessDenied(err) {
			d.deniedDir(ctx, e.Name, err)
			return nil
		}
		return err
	}
	return d.walk(ctx, child, l)
}

func (d *Dumper) deniedDir(ctx context.Context, name string, err error) {
	d.stats.DirsDenied++
	metrics.RecordAccessDenied("dir")
	logging.WithContext(ctx).Warn("unable to access directory", zap.String("name", name), zap.Error(err))
}

func (d *Dumper) dumpFile(ctx context.Context, targetDir string, e listing.Entry, duplicateSource string, duplicate bool) error {
	if !fnmatch.Match(d.opts.Filter, e.Name, 0) {
		d.stats.Filtered++
		metrics.RecordFiltered()
		logging.WithContext(ctx).Debug("skip", zap.String("name", e.Name), zap.String("filter", d.opts.Filter))
		return nil
	}

	if err := d.ensureDir(ctx, targetDir); err != nil {
		return err
	}
	key := storage.Join(targetDir, e.Name)

	if duplicate {
		src := storage.Join(duplicateSource, e.Name)
		exists, err := d.target.Exists(ctx, src)
		if err != nil {
			return err
		}
		if exists {
			return d.copy(ctx, src, key, e.Size)
		}
	}
	return d.download(ctx, key, e)
}

func (d *Dumper) copy(ctx context.Context, src, dst string, size uint64) error {
	logging.WithContext(ctx).Info("copy",
		zap.String("from", d.target.Location(src)),
		zap.String("path", d.target.Location(dst)),
	)
	if err := d.target.Copy(ctx, src, dst); err != nil {
		return err
	}
	d.stats.Copies++
	d.stats.BytesCopied += size
	metrics.RecordCopy(size)
	return nil
}

func (d *Dumper) download(ctx context.Context, key string, e listing.Entry) error {
	log := logging.WithContext(ctx)
	log.Info("download", zap.String("path", d.target.Location(key)))

	w, err := d.target.Create(ctx, key)
	if err != nil {
		return err
	}
	defer w.Abort()

	start := time.Now()
	rcv := download.NewReceiver(e.Name, w, e.Size, d.sink, d.opts.SizePolicy)
	if err := d.session.Retrieve(ctx, e.Name, rcv.OnChunk); err != nil {
		if remote.IsAccessDenied(err) {
			d.stats.FilesDenied++
			metrics.RecordAccessDenied("file")
			log.Warn("unable to access file", zap.String("name", e.Name), zap.Error(err))
			return nil
		}
		if errors.Is(err, download.ErrSizeMismatch) {
			metrics.RecordSizeMismatch("over")
		}
		return fmt.Errorf("download %s: %w", d.target.Location(key), err)
	}

	res, err := rcv.Finish()
	if rcv.Overflowed() {
		metrics.RecordSizeMismatch("over")
	}
	if res.Received < res.Expected {
		metrics.RecordSizeMismatch("under")
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", d.target.Location(key), err)
	}
	if err := w.Commit(); err != nil {
		return err
	}

	metrics.RecordDownload(time.Since(start))
	metrics.AddBytesDownloaded(res.Received)
	d.stats.Downloads++
	d.stats.BytesDownloaded += res.Received
	return nil
}

func (d *Dumper) ensureDir(ctx context.Context, key string) error {
	if d.dirs[key] {
		return nil
	}
	if err := d.target.MkdirAll(ctx, key); err != nil {
		return err
	}
	d.dirs[key] = true
	return nil
}
