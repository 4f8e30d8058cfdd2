package catalog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"
)

// SnapshotFormat is bumped whenever the serialized layout changes.
const SnapshotFormat = 1

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeSnapshot serializes s deterministically and zlib-compresses it, so
// equal snapshots always produce equal bytes.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	s.FormatVersion = SnapshotFormat
	raw, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot and rejects unknown format versions.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var s Snapshot
	if err := cbor.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.FormatVersion != SnapshotFormat {
		return Snapshot{}, fmt.Errorf("unsupported snapshot format %d", s.FormatVersion)
	}
	if s.Catalog == nil {
		s.Catalog = Catalog{}
	}
	return s, nil
}

// Digest identifies the compressed form of a snapshot.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}
