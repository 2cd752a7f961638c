// Package sftp implements remote.Session over SSH File Transfer Protocol.
//
// SFTP has no server-side working directory, so the session tracks one
// client-side and resolves every operation against it.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	sftpc "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/dumpftp/dumpftp/internal/listing"
	"github.com/dumpftp/dumpftp/internal/logging"
	"github.com/dumpftp/dumpftp/internal/remote"
)

// DefaultPort is the SSH port.
const DefaultPort = "22"

const chunkSize = 32 * 1024

// Config holds connection settings. With Insecure unset, host keys are
// checked against KnownHostsFile.
type Config struct {
	Addr           string
	User           string
	Password       string
	KnownHostsFile string
	Insecure       bool
	Timeout        time.Duration
}

// Session is an SFTP client with a tracked working directory.
type Session struct {
	ssh    *ssh.Client
	client *sftpc.Client
	cwd    string
}

var _ remote.Session = (*Session)(nil)

// Dial opens the SSH connection, authenticates and starts the SFTP
// subsystem. The initial directory is the server's login directory.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, cfg.Addr, config)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", cfg.Addr, err)
	}
	sc := ssh.NewClient(c, chans, reqs)

	client, err := sftpc.NewClient(sc)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	cwd, err := client.Getwd()
	if err != nil {
		client.Close()
		sc.Close()
		return nil, fmt.Errorf("resolve login directory: %w", err)
	}

	return &Session{ssh: sc, client: client, cwd: cwd}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("known_hosts file required unless host key checking is disabled")
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// IsTransient reports whether a Dial error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF)
}

// List reads the current directory and renders it in DOS listing layout.
func (s *Session) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.client.ReadDir(s.cwd)
	if err != nil {
		return nil, classify("list", s.cwd, err)
	}
	return renderInfos(infos), nil
}

func renderInfos(infos []os.FileInfo) []string {
	lines := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		if !listing.Formattable(name) {
			logging.Warn("skipping unlistable name", logging.String("name", name))
			continue
		}
		var size uint64
		if !fi.IsDir() && fi.Size() > 0 {
			size = uint64(fi.Size())
		}
		lines = append(lines, listing.FormatLine(fi.ModTime(), fi.IsDir(), size, name))
	}
	return lines
}

// ChangeDir enters name if it is a directory.
func (s *Session) ChangeDir(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := path.Join(s.cwd, name)
	fi, err := s.client.Stat(target)
	if err != nil {
		return classify("cwd", name, err)
	}
	if !fi.IsDir() {
		return remote.AccessDenied("cwd", name, fmt.Errorf("%s: not a directory", target))
	}
	s.cwd = target
	return nil
}

// ChangeDirUp moves the tracked directory to its parent.
func (s *Session) ChangeDirUp(ctx context.Context) error {
	s.cwd = parent(s.cwd)
	return nil
}

func parent(dir string) string {
	return path.Dir(path.Clean(dir))
}

// Retrieve opens name and streams it to onChunk.
func (s *Session) Retrieve(ctx context.Context, name string, onChunk func([]byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := s.client.Open(path.Join(s.cwd, name))
	if err != nil {
		return classify("retr", name, err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := onChunk(buf[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return classify("retr", name, rerr)
		}
	}
}

// Close ends the SFTP subsystem and the SSH connection.
func (s *Session) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

func classify(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
		return remote.AccessDenied(op, name, err)
	}
	var status *sftpc.StatusError
	if errors.As(err, &status) && status.FxCode() == sftpc.ErrSSHFxPermissionDenied {
		return remote.AccessDenied(op, name, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
