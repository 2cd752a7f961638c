// Package remote defines the session contract the mirror engine drives and
// the classification of remote access failures.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrAccessDenied marks a remote permission or existence failure. The engine
// skips the affected entry and continues with its siblings.
var ErrAccessDenied = errors.New("access denied")

// Session is an authenticated, stateful connection to the remote store.
// Navigation is relative to the session's current directory.
type Session interface {
	// List returns the raw listing lines of the current directory.
	List(ctx context.Context) ([]string, error)

	// ChangeDir enters the named child of the current directory.
	ChangeDir(ctx context.Context, name string) error

	// ChangeDirUp returns to the parent directory.
	ChangeDirUp(ctx context.Context) error

	// Retrieve streams the named file of the current directory in binary
	// mode, calling onChunk for each received chunk in order. An error
	// returned by onChunk aborts the transfer and is returned unchanged.
	Retrieve(ctx context.Context, name string, onChunk func([]byte) error) error

	// Close terminates the session.
	Close() error
}

// AccessError wraps a protocol error classified as access denied.
type AccessError struct {
	Op   string
	Name string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAccessDenied) hold for every AccessError.
func (e *AccessError) Is(target error) bool { return target == ErrAccessDenied }

// AccessDenied wraps err as an access failure of op on name.
func AccessDenied(op, name string, err error) error {
	if err == nil {
		err = ErrAccessDenied
	}
	return &AccessError{Op: op, Name: name, Err: err}
}

// IsAccessDenied reports whether err is a recoverable access failure. A
// failure to restore the parent directory never is, whatever its cause.
func IsAccessDenied(err error) bool {
	var re *RestoreError
	if errors.As(err, &re) {
		return false
	}
	return errors.Is(err, ErrAccessDenied)
}

// RestoreError reports that the session could not return to the parent of
// Dir. The session's working directory is then unknown.
type RestoreError struct {
	Dir string
	Err error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("leave %s: %v", e.Dir, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Enter changes into name and returns a function restoring the parent
// directory. Callers defer or call leave on every exit path once Enter
// succeeds; leave ignores cancellation of ctx so the session is left where
// the caller found it.
func Enter(ctx context.Context, s Session, name string) (leave func() error, err error) {
	if err := s.ChangeDir(ctx, name); err != nil {
		return nil, err
	}
	restoreCtx := context.WithoutCancel(ctx)
	done := false
	return func() error {
		if done {
			return nil
		}
		done = true
		if err := s.ChangeDirUp(restoreCtx); err != nil {
			return &RestoreError{Dir: name, Err: err}
		}
		return nil
	}, nil
}
