package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dumpftp/dumpftp/internal/listing"
	"github.com/dumpftp/dumpftp/internal/remote"
)

type testFile struct {
	name    string
	dir     bool
	content string
	denied  bool
}

// testServer answers the subset of FTP a Session uses, over loopback.
type testServer struct {
	ln       net.Listener
	password string
	tree     map[string][]testFile // directory -> entries in listing order
	wg       sync.WaitGroup
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{
		ln:       ln,
		password: "secret",
		tree: map[string][]testFile{
			"/": {
				{name: "pub", dir: true},
				{name: "hello.txt", content: "hello world"},
				{name: "private.key", content: "k", denied: true},
			},
			"/pub": {
				{name: "inner.bin", content: "0123456789"},
			},
		},
	}
	srv.wg.Add(1)
	go srv.serve()
	t.Cleanup(func() {
		ln.Close()
		srv.wg.Wait()
	})
	return srv
}

func (srv *testServer) addr() string { return srv.ln.Addr().String() }

func (srv *testServer) serve() {
	defer srv.wg.Done()
	for {
		c, err := srv.ln.Accept()
		if err != nil {
			return
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handle(c)
		}()
	}
}

func (srv *testServer) lookup(dir, name string) (testFile, bool) {
	for _, f := range srv.tree[dir] {
		if f.name == name {
			return f, true
		}
	}
	return testFile{}, false
}

func (srv *testServer) handle(c net.Conn) {
	tp := textproto.NewConn(c)
	defer tp.Close()

	cwd := "/"
	var data net.Listener
	closeData := func() {
		if data != nil {
			data.Close()
			data = nil
		}
	}
	defer closeData()

	tp.PrintfLine("220 test server ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch strings.ToUpper(cmd) {
		case "USER":
			tp.PrintfLine("331 password required")
		case "PASS":
			if arg != srv.password {
				tp.PrintfLine("530 Login incorrect")
				continue
			}
			tp.PrintfLine("230 logged in")
		case "FEAT":
			tp.PrintfLine("211-Features:")
			tp.PrintfLine(" EPSV")
			tp.PrintfLine("211 End")
		case "TYPE":
			tp.PrintfLine("200 ok")
		case "EPSV":
			closeData()
			if data, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
				tp.PrintfLine("425 cannot open data connection")
				continue
			}
			tp.PrintfLine("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "CWD":
			target := path.Join(cwd, arg)
			if _, ok := srv.tree[target]; !ok {
				tp.PrintfLine("550 %s: No such directory", arg)
				continue
			}
			cwd = target
			tp.PrintfLine("250 ok")
		case "CDUP":
			cwd = path.Dir(cwd)
			tp.PrintfLine("250 ok")
		case "LIST":
			var b strings.Builder
			for _, f := range srv.tree[cwd] {
				mode, size := "-rw-r--r--", len(f.content)
				if f.dir {
					mode, size = "drwxr-xr-x", 4096
				}
				fmt.Fprintf(&b, "%s 1 ftp ftp %d Feb 14 2014 %s\r\n", mode, size, f.name)
			}
			srv.transfer(tp, data, b.String())
			data = nil
		case "RETR":
			f, ok := srv.lookup(cwd, arg)
			if !ok || f.dir || f.denied {
				closeData()
				tp.PrintfLine("550 %s: Permission denied", arg)
				continue
			}
			srv.transfer(tp, data, f.content)
			data = nil
		case "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 %s not implemented", cmd)
		}
	}
}

func (srv *testServer) transfer(tp *textproto.Conn, data net.Listener, payload string) {
	if data == nil {
		tp.PrintfLine("425 use EPSV first")
		return
	}
	defer data.Close()
	dc, err := data.Accept()
	if err != nil {
		tp.PrintfLine("425 data connection failed")
		return
	}
	tp.PrintfLine("150 opening data connection")
	dc.Write([]byte(payload))
	dc.Close()
	tp.PrintfLine("226 transfer complete")
}

func dialTest(t *testing.T, srv *testServer) *Session {
	t.Helper()
	s, err := Dial(context.Background(), Config{
		Addr:     srv.addr(),
		User:     "anonymous",
		Password: srv.password,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_ListAndNavigate(t *testing.T) {
	srv := newTestServer(t)
	s := dialTest(t, srv)
	ctx := context.Background()

	lines, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	l, err := listing.Parse(lines)
	if err != nil {
		t.Fatalf("Parse(%q): %v", lines, err)
	}
	if len(l.Entries) != 3 {
		t.Fatalf("got %d entries: %+v", len(l.Entries), l.Entries)
	}
	if !l.Entries[0].IsDir() || l.Entries[0].Name != "pub" {
		t.Errorf("entry 0 = %+v", l.Entries[0])
	}
	if l.Entries[1].Name != "hello.txt" || l.Entries[1].Size != 11 {
		t.Errorf("entry 1 = %+v", l.Entries[1])
	}

	if err := s.ChangeDir(ctx, "pub"); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}
	lines, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List pub: %v", err)
	}
	if len(lines) != 1 || !strings.HasSuffix(lines[0], " inner.bin") {
		t.Errorf("pub listing = %q", lines)
	}
	if err := s.ChangeDirUp(ctx); err != nil {
		t.Fatalf("ChangeDirUp: %v", err)
	}

	if err := s.ChangeDir(ctx, "missing"); !remote.IsAccessDenied(err) {
		t.Errorf("ChangeDir(missing) = %v, want access denied", err)
	}
}

func TestSession_Retrieve(t *testing.T) {
	srv := newTestServer(t)
	s := dialTest(t, srv)
	ctx := context.Background()

	var got strings.Builder
	err := s.Retrieve(ctx, "hello.txt", func(p []byte) error {
		got.Write(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.String() != "hello world" {
		t.Errorf("content = %q", got.String())
	}

	err = s.Retrieve(ctx, "private.key", func([]byte) error { return nil })
	if !remote.IsAccessDenied(err) {
		t.Errorf("Retrieve(private.key) = %v, want access denied", err)
	}

	// The control connection is still usable after a refused transfer.
	if _, err := s.List(ctx); err != nil {
		t.Errorf("List after refused RETR: %v", err)
	}
}

func TestSession_RetrieveCallbackError(t *testing.T) {
	srv := newTestServer(t)
	s := dialTest(t, srv)

	stop := errors.New("disk full")
	err := s.Retrieve(context.Background(), "hello.txt", func([]byte) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Retrieve = %v, want callback error", err)
	}
}

func TestDial_BadPassword(t *testing.T) {
	srv := newTestServer(t)
	_, err := Dial(context.Background(), Config{
		Addr:     srv.addr(),
		User:     "anonymous",
		Password: "wrong",
		Timeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected login failure")
	}
	if IsTransient(err) {
		t.Errorf("login failure %v should not be retried", err)
	}
}
