package hasher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// BufferSize is the chunk size used when streaming executables through the digest.
const BufferSize = 64 * 1024

// FingerprintLength is the length of a hex-encoded SHA-1 digest.
const FingerprintLength = 40

// Fingerprint streams the file at path through SHA-1 and returns the lowercase hex digest.
func Fingerprint(ctx context.Context, fs afero.Fs, path string) (string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return FingerprintReader(ctx, file)
}

// FingerprintReader hashes r in BufferSize chunks, checking ctx between chunks
// so multi-gigabyte files can be abandoned quickly.
func FingerprintReader(ctx context.Context, r io.Reader) (string, error) {
	h := sha1.New()
	buf := make([]byte, BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsFingerprint checks that s looks like a hex-encoded SHA-1 digest.
func IsFingerprint(s string) bool {
	if len(s) != FingerprintLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Normalize lowercases and trims a fingerprint read from a manifest or config file.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
