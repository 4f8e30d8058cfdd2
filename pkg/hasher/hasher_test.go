package hasher_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/habedi/fcrollback/pkg/hasher"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/FC24.exe", []byte("hello world"), 0o644))

	first, err := hasher.Fingerprint(context.Background(), fs, "/game/FC24.exe")
	require.NoError(t, err)
	second, err := hasher.Fingerprint(context.Background(), fs, "/game/FC24.exe")
	require.NoError(t, err)

	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", first)
	assert.Equal(t, first, second)
	assert.Len(t, first, hasher.FingerprintLength)
	assert.Equal(t, strings.ToLower(first), first)
}

func TestFingerprint_SpansSeveralChunks(t *testing.T) {
	data := bytes.Repeat([]byte("a"), hasher.BufferSize*3+17)
	got, err := hasher.FingerprintReader(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	again, err := hasher.FingerprintReader(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestFingerprint_MissingFile(t *testing.T) {
	_, err := hasher.Fingerprint(context.Background(), afero.NewMemMapFs(), "/nope.exe")
	assert.Error(t, err)
}

func TestFingerprint_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hasher.FingerprintReader(ctx, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsFingerprint(t *testing.T) {
	assert.True(t, hasher.IsFingerprint("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"))
	assert.True(t, hasher.IsFingerprint(strings.Repeat("a", 40)))
	assert.False(t, hasher.IsFingerprint(strings.Repeat("g", 40)))
	assert.False(t, hasher.IsFingerprint("abc"))
	assert.False(t, hasher.IsFingerprint(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "abcdef", hasher.Normalize("  ABCdef\n"))
}
