// Package memremote is an in-memory remote tree implementing remote.Session,
// used to exercise the mirror engine without a server.
package memremote

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dumpftp/dumpftp/internal/listing"
	"github.com/dumpftp/dumpftp/internal/remote"
)

// DefaultModTime is the timestamp given to nodes unless overridden.
var DefaultModTime = time.Date(2014, 2, 14, 10, 30, 0, 0, time.UTC)

type node struct {
	name         string
	dir          bool
	content      []byte
	modTime      time.Time
	locked       bool
	declaredSize *uint64
	children     []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Tree is a remote directory hierarchy. Children keep insertion order.
type Tree struct {
	mu          sync.Mutex
	root        *node
	retrievals  map[string]int
	listings    int
	ChunkSize   int
	ListHook    func(dir string) ([]string, error)
	RetrieveErr map[string]error
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		root:        &node{dir: true, modTime: DefaultModTime},
		retrievals:  make(map[string]int),
		ChunkSize:   4096,
		RetrieveErr: make(map[string]error),
	}
}

func split(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (t *Tree) lookup(p string) *node {
	n := t.root
	for _, seg := range split(p) {
		if n = n.child(seg); n == nil {
			return nil
		}
	}
	return n
}

// MkdirAll creates p and any missing parents.
func (t *Tree) MkdirAll(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mkdirAll(split(p))
}

func (t *Tree) mkdirAll(segs []string) *node {
	n := t.root
	for _, seg := range segs {
		c := n.child(seg)
		if c == nil {
			c = &node{name: seg, dir: true, modTime: DefaultModTime}
			n.children = append(n.children, c)
		}
		n = c
	}
	return n
}

// AddFile creates a file at p, creating parent directories as needed.
func (t *Tree) AddFile(p string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	segs := split(p)
	parent := t.mkdirAll(segs[:len(segs)-1])
	parent.children = append(parent.children, &node{
		name:    segs[len(segs)-1],
		content: content,
		modTime: DefaultModTime,
	})
}

// Lock makes p inaccessible: entering or retrieving it is denied.
func (t *Tree) Lock(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustLookup(p).locked = true
}

// SetDeclaredSize makes the listing report size for the file at p
// regardless of its real content length.
func (t *Tree) SetDeclaredSize(p string, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustLookup(p).declaredSize = &size
}

// SetModTime changes the listed timestamp of p.
func (t *Tree) SetModTime(p string, mod time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustLookup(p).modTime = mod
}

func (t *Tree) mustLookup(p string) *node {
	n := t.lookup(p)
	if n == nil {
		panic(fmt.Sprintf("memremote: no node at %q", p))
	}
	return n
}

// Retrievals returns how often the file at p was retrieved.
func (t *Tree) Retrievals(p string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retrievals[path.Clean("/"+p)]
}

// TotalRetrievals returns the number of retrievals across all files.
func (t *Tree) TotalRetrievals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.retrievals {
		total += n
	}
	return total
}

// Listings returns how many LIST operations were served.
func (t *Tree) Listings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listings
}

// Session opens a session positioned at the root.
func (t *Tree) Session() *Session {
	return &Session{tree: t, stack: []*node{t.root}}
}

// Session navigates a Tree.
type Session struct {
	tree  *Tree
	stack []*node
}

var _ remote.Session = (*Session)(nil)

func (s *Session) cwd() *node { return s.stack[len(s.stack)-1] }

// Dir returns the current directory as an absolute path.
func (s *Session) Dir() string {
	names := make([]string, 0, len(s.stack))
	for _, n := range s.stack[1:] {
		names = append(names, n.name)
	}
	return "/" + strings.Join(names, "/")
}

// List renders the current directory in DOS listing layout.
func (s *Session) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	s.tree.listings++
	hook := s.tree.ListHook
	s.tree.mu.Unlock()

	if hook != nil {
		if lines, err := hook(s.Dir()); lines != nil || err != nil {
			return lines, err
		}
	}

	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	lines := make([]string, 0, len(s.cwd().children))
	for _, c := range s.cwd().children {
		size := uint64(len(c.content))
		if c.declaredSize != nil {
			size = *c.declaredSize
		}
		lines = append(lines, listing.FormatLine(c.modTime, c.dir, size, c.name))
	}
	return lines, nil
}

// ChangeDir enters a child directory.
func (s *Session) ChangeDir(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()

	c := s.cwd().child(name)
	if c == nil || !c.dir {
		return remote.AccessDenied("cwd", name, fmt.Errorf("550 %s: no such directory", name))
	}
	if c.locked {
		return remote.AccessDenied("cwd", name, fmt.Errorf("550 %s: permission denied", name))
	}
	s.stack = append(s.stack, c)
	return nil
}

// ChangeDirUp returns to the parent directory.
func (s *Session) ChangeDirUp(ctx context.Context) error {
	if len(s.stack) == 1 {
		return fmt.Errorf("cdup: already at root")
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// Retrieve streams a file of the current directory in ChunkSize pieces.
func (s *Session) Retrieve(ctx context.Context, name string, onChunk func([]byte) error) error {
	s.tree.mu.Lock()
	c := s.cwd().child(name)
	full := path.Join(s.Dir(), name)
	chunk := s.tree.ChunkSize
	injected := s.tree.RetrieveErr[full]
	s.tree.mu.Unlock()

	if c == nil || c.dir {
		return remote.AccessDenied("retr", name, fmt.Errorf("550 %s: no such file", name))
	}
	if c.locked {
		return remote.AccessDenied("retr", name, fmt.Errorf("550 %s: permission denied", name))
	}
	if injected != nil {
		return injected
	}

	s.tree.mu.Lock()
	s.tree.retrievals[full]++
	s.tree.mu.Unlock()

	if chunk <= 0 {
		chunk = len(c.content)
	}
	for off := 0; off < len(c.content); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+chunk, len(c.content))
		if err := onChunk(c.content[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (s *Session) Close() error { return nil }
