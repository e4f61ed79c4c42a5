package generator

import (
	"errors"
	"fmt"
	"syscall"
)

// WriteError is returned when a migration file or its folder cannot be
// written. Callers can tell it apart from a SynthesisError to decide between
// retrying and aborting.
type WriteError struct {
	Op   string
	Path string
	// Code is the symbolic OS error code (EACCES, ENOSPC, ...), empty when
	// the cause is not an OS error.
	Code  string
	Errno syscall.Errno
	Err   error
}

func (e *WriteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

var errnoNames = map[syscall.Errno]string{
	syscall.EACCES:  "EACCES",
	syscall.EPERM:   "EPERM",
	syscall.ENOSPC:  "ENOSPC",
	syscall.EROFS:   "EROFS",
	syscall.ENOENT:  "ENOENT",
	syscall.EEXIST:  "EEXIST",
	syscall.ENOTDIR: "ENOTDIR",
	syscall.EISDIR:  "EISDIR",
}

func newWriteError(op, path string, err error) *WriteError {
	we := &WriteError{Op: op, Path: path, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		we.Errno = errno
		we.Code = errnoNames[errno]
		if we.Code == "" {
			we.Code = fmt.Sprintf("errno %d", int(errno))
		}
	}
	return we
}

// SynthesisError is returned when a diff cannot be turned into a migration.
type SynthesisError struct {
	Collection string
	Message    string
}

func (e *SynthesisError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("synthesizing migration for %q: %s", e.Collection, e.Message)
	}
	return "synthesizing migration: " + e.Message
}
