// Package ftp implements remote.Session over FTP and FTPS.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"github.com/dumpftp/dumpftp/internal/listing"
	"github.com/dumpftp/dumpftp/internal/logging"
	"github.com/dumpftp/dumpftp/internal/remote"
)

// DefaultPort is the FTP control port. TLS on this port is negotiated with
// AUTH TLS; TLS on any other port is implicit.
const DefaultPort = "21"

const chunkSize = 8192

// Config holds connection settings.
type Config struct {
	Addr     string // host:port
	User     string
	Password string
	TLS      bool
	Insecure bool // skip certificate verification
	Timeout  time.Duration
}

// Session is an authenticated FTP control connection.
type Session struct {
	conn *goftp.ServerConn
	addr string
}

var _ remote.Session = (*Session)(nil)

// Dial connects and logs in.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", cfg.Addr, err)
	}

	opts := []goftp.DialOption{goftp.DialWithContext(ctx)}
	if cfg.Timeout > 0 {
		opts = append(opts, goftp.DialWithTimeout(cfg.Timeout))
	}
	if cfg.TLS {
		tlsCfg := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: cfg.Insecure,
			MinVersion:         tls.VersionTLS12,
		}
		if port == DefaultPort {
			opts = append(opts, goftp.DialWithExplicitTLS(tlsCfg))
		} else {
			opts = append(opts, goftp.DialWithTLS(tlsCfg))
		}
	}

	conn, err := goftp.Dial(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("login %s as %s: %w", cfg.Addr, cfg.User, err)
	}

	return &Session{conn: conn, addr: cfg.Addr}, nil
}

// IsTransient reports whether a Dial error is worth retrying. Replies from
// the server (bad credentials, refused TLS) are final.
func IsTransient(err error) bool {
	var tpErr *textproto.Error
	return err != nil && !errors.As(err, &tpErr)
}

// List runs LIST in the current directory.
func (s *Session) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.conn.List("")
	if err != nil {
		return nil, classify("list", ".", err)
	}
	return renderEntries(entries), nil
}

func renderEntries(entries []*goftp.Entry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if !listing.Formattable(e.Name) {
			logging.Warn("skipping unlistable name", logging.String("name", e.Name))
			continue
		}
		isDir := e.Type == goftp.EntryTypeFolder
		size := e.Size
		if isDir {
			size = 0
		}
		lines = append(lines, listing.FormatLine(e.Time, isDir, size, e.Name))
	}
	return lines
}

// ChangeDir sends CWD.
func (s *Session) ChangeDir(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("cwd", name, s.conn.ChangeDir(name))
}

// ChangeDirUp sends CDUP.
func (s *Session) ChangeDirUp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("cdup", "..", s.conn.ChangeDirToParent())
}

// Retrieve sends RETR and streams the data connection to onChunk.
func (s *Session) Retrieve(ctx context.Context, name string, onChunk func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.conn.Retr(name)
	if err != nil {
		return classify("retr", name, err)
	}

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			resp.Close()
			return err
		}
		n, rerr := resp.Read(buf)
		if n > 0 {
			if err := onChunk(buf[:n]); err != nil {
				resp.Close()
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			resp.Close()
			return fmt.Errorf("retr %s: %w", name, rerr)
		}
	}
	return classify("retr", name, resp.Close())
}

// Close sends QUIT.
func (s *Session) Close() error {
	return s.conn.Quit()
}

// classify turns permanent negative replies (5xx) into access failures.
func classify(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600 {
		return remote.AccessDenied(op, name, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
