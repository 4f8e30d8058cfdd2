package clierr

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"syscall"
)

// Kind categorizes a user-facing error so collaborators can pick a message box,
// an inline notification or a silent log line.
type Kind string

const (
	CatalogUnavailable         Kind = "catalog_unavailable"
	NetworkTransient           Kind = "network_transient"
	FilesystemDenied           Kind = "filesystem_denied"
	ArchivePasswordOrFormat    Kind = "archive_password_or_format"
	ExecutableNotFoundInSource Kind = "executable_not_found_in_source"
	BlockingProcessesDeclined  Kind = "blocking_processes_declined"
	ExternalToolFailed         Kind = "external_tool_failed"
	FingerprintMismatch        Kind = "fingerprint_mismatch"

	Validation Kind = "validation"
	NotFound   Kind = "not_found"
	InProgress Kind = "in_progress"
	Cancelled  Kind = "cancelled"
	Internal   Kind = "internal"
)

// Error is a structured user-facing error.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional underlying error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// New constructs a new Error.
func New(k Kind, msg string, err error) *Error { return &Error{Kind: k, Message: msg, Err: err} }

// KindOf returns the kind of the outermost *Error in the chain, or Internal
// when the chain carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Surfaced reports whether an error of this kind is shown to the user.
// Transient network failures and fingerprint mismatches are only logged.
func (k Kind) Surfaced() bool {
	switch k {
	case NetworkTransient, FingerprintMismatch, "":
		return false
	}
	return true
}

// Windows sharing and lock violations.
const (
	errSharingViolation syscall.Errno = 32
	errLockViolation    syscall.Errno = 33
)

// FromFS classifies a filesystem error. Permission and sharing violations
// become FilesystemDenied; everything else is returned unchanged.
func FromFS(msg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) || os.IsPermission(err) {
		return New(FilesystemDenied, msg, err)
	}
	if runtime.GOOS == "windows" {
		var errno syscall.Errno
		if errors.As(err, &errno) && (errno == errSharingViolation || errno == errLockViolation) {
			return New(FilesystemDenied, msg, err)
		}
	}
	return err
}
