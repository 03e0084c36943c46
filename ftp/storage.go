package ftp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
)

// FeatureRestart is set in Storage.Features when the backend can resume a
// transfer at an offset. FEAT advertises REST STREAM for it.
const FeatureRestart uint32 = 1 << 0

// User is the identity a session is authenticated as. It is nil until PASS
// succeeds, and storage backends must accept a nil User.
type User interface {
	Name() string
}

// Storage is the capability set the handlers need from a backend:
// directory operations and metadata, each keyed by the session's User.
// Paths are slash separated and rooted at the backend's root.
type Storage interface {
	// Features returns a bitmask of Feature* flags.
	Features() uint32
	// ChangeDir validates that path is a directory the user may enter.
	ChangeDir(ctx context.Context, user User, path string) error
	// Stat returns the metadata of path.
	Stat(ctx context.Context, user User, path string) (fs.FileInfo, error)
	// Rename moves from to to.
	Rename(ctx context.Context, user User, from, to string) error
}

// Authenticator checks credentials sent with USER and PASS.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, remote net.Addr) (User, error)
}

var (
	// ErrSessionClosed is returned when session state is touched after the
	// control connection went away.
	ErrSessionClosed = errors.New("session closed")
	// ErrAuthFailed is sent when PASS does not match.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrInvalidUsername is returned by USER for a name that is not UTF-8.
	ErrInvalidUsername = errors.New("username is not valid UTF-8")
	// ErrNoRenameSource is returned by RNTO without a preceding RNFR.
	ErrNoRenameSource = errors.New("no rename source, send RNFR first")
	// ErrLineTooLong is returned by ParseCommand for a line that does not
	// fit the reader's buffer.
	ErrLineTooLong = errors.New("command line too long")
)

// StorageErrorKind is the closed set of failures a backend reports.
type StorageErrorKind int

const (
	// ErrKindLocalError is an unexpected failure inside the backend.
	ErrKindLocalError StorageErrorKind = iota
	// ErrKindPermanentFileNotAvailable means the path does not exist or is
	// the wrong type.
	ErrKindPermanentFileNotAvailable
	// ErrKindTransientFileNotAvailable means the path is busy.
	ErrKindTransientFileNotAvailable
	// ErrKindPermissionDenied means the user may not touch the path.
	ErrKindPermissionDenied
	// ErrKindFileNameNotAllowed means the name is rejected, e.g. it escapes
	// the root.
	ErrKindFileNameNotAllowed
)

var storageErrorKindText = map[StorageErrorKind]string{
	ErrKindLocalError:                "local error",
	ErrKindPermanentFileNotAvailable: "file not available",
	ErrKindTransientFileNotAvailable: "file busy",
	ErrKindPermissionDenied:          "permission denied",
	ErrKindFileNameNotAllowed:        "file name not allowed",
}

func (k StorageErrorKind) String() string {
	return storageErrorKindText[k]
}

// StatusCode maps the kind to the reply sent to the client.
func (k StorageErrorKind) StatusCode() StatusCode {
	switch k {
	case ErrKindPermanentFileNotAvailable, ErrKindPermissionDenied:
		return StatusFileUnavailable
	case ErrKindTransientFileNotAvailable:
		return StatusRequestedFileActionNotTaken
	case ErrKindFileNameNotAllowed:
		return StatusFileNameNotAllowed
	default:
		return StatusLocalProcessingError
	}
}

// StorageError is the error type backends return.
type StorageError struct {
	Kind StorageErrorKind
	Err  error
}

// NewStorageError wraps err with a kind.
func NewStorageError(kind StorageErrorKind, err error) *StorageError {
	return &StorageError{Kind: kind, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErrorKind classifies any error coming back from a backend.
func storageErrorKind(err error) StorageErrorKind {
	var se *StorageError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, fs.ErrNotExist):
		return ErrKindPermanentFileNotAvailable
	case errors.Is(err, fs.ErrPermission):
		return ErrKindPermissionDenied
	default:
		return ErrKindLocalError
	}
}
