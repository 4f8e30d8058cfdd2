package clierr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *Error
		wantMsg string
	}{
		{
			name:    "simple error message",
			err:     New(Validation, "invalid input", nil),
			wantMsg: "invalid input",
		},
		{
			name:    "error with underlying error",
			err:     New(ExternalToolFailed, "aria2c exited with code 3", errors.New("exit status 3")),
			wantMsg: "aria2c exited with code 3",
		},
		{
			name:    "empty message",
			err:     New(Internal, "", nil),
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestError_UnwrapChain(t *testing.T) {
	root := errors.New("root cause")
	err := New(Internal, "cli error", root)

	if !errors.Is(err, root) {
		t.Error("errors.Is should find wrapped error")
	}
	if err.Unwrap() != root {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), root)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), Internal},
		{"direct", New(CatalogUnavailable, "no catalog", nil), CatalogUnavailable},
		{"wrapped", fmt.Errorf("loading: %w", New(NetworkTransient, "timeout", nil)), NetworkTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("install: %w", New(BlockingProcessesDeclined, "declined", nil))
	if !Is(err, BlockingProcessesDeclined) {
		t.Error("Is should match wrapped kind")
	}
	if Is(err, Cancelled) {
		t.Error("Is should not match a different kind")
	}
	if Is(nil, Internal) {
		t.Error("Is(nil) should be false")
	}
}

func TestSurfaced(t *testing.T) {
	if NetworkTransient.Surfaced() || FingerprintMismatch.Surfaced() {
		t.Error("transient and mismatch kinds are log-only")
	}
	for _, k := range []Kind{CatalogUnavailable, FilesystemDenied, ArchivePasswordOrFormat, ExecutableNotFoundInSource, ExternalToolFailed} {
		if !k.Surfaced() {
			t.Errorf("%s should be surfaced", k)
		}
	}
}

func TestFromFS(t *testing.T) {
	perm := &os.PathError{Op: "open", Path: "FC24.exe", Err: fs.ErrPermission}
	if got := FromFS("copy failed", perm); !Is(got, FilesystemDenied) {
		t.Errorf("permission error should map to FilesystemDenied, got %v", KindOf(got))
	}

	other := errors.New("disk on fire")
	if got := FromFS("copy failed", other); got != other {
		t.Errorf("unrelated error should pass through unchanged")
	}

	if FromFS("x", nil) != nil {
		t.Error("nil stays nil")
	}
}
