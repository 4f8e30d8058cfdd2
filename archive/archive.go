// Package archive unpacks update artifacts (zip, 7z, rar or a plain folder)
// into a destination tree.
package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodgit/sevenzip"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

type Format string

const (
	FormatZip      Format = "zip"
	FormatSevenZip Format = "7z"
	FormatRar      Format = "rar"
	FormatFolder   Format = "folder"
)

var magics = []struct {
	sig    []byte
	format Format
}{
	{[]byte("PK\x03\x04"), FormatZip},
	{[]byte("7z\xBC\xAF\x27\x1C"), FormatSevenZip},
	{[]byte("Rar!\x1A\x07"), FormatRar},
}

// DetectFormat identifies src by its leading bytes, falling back to the
// extension.
func DetectFormat(fs afero.Fs, src string) (Format, error) {
	info, err := fs.Stat(src)
	if err != nil {
		return "", clierr.FromFS("failed to open "+src, err)
	}
	if info.IsDir() {
		return FormatFolder, nil
	}
	f, err := fs.Open(src)
	if err != nil {
		return "", clierr.FromFS("failed to open "+src, err)
	}
	defer f.Close()
	head := make([]byte, 8)
	n, _ := io.ReadFull(f, head)
	for _, m := range magics {
		if bytes.HasPrefix(head[:n], m.sig) {
			return m.format, nil
		}
	}
	switch strings.ToLower(filepath.Ext(src)) {
	case ".zip":
		return FormatZip, nil
	case ".7z":
		return FormatSevenZip, nil
	case ".rar":
		return FormatRar, nil
	}
	return "", clierr.New(clierr.ArchivePasswordOrFormat, src+" is not a zip, 7z or rar archive", nil)
}

// Entry is one member of an archive. Name uses forward slashes.
type Entry struct {
	Name     string
	IsDir    bool
	Size     int64
	Mode     os.FileMode
	Modified time.Time
}

// WalkFunc receives each entry with a reader over its content. The reader
// is only valid during the call.
type WalkFunc func(e Entry, r io.Reader) error

// Archive is the uniform handle over every supported format.
type Archive interface {
	Format() Format
	Entries() []Entry
	// Walk visits the entries in the order of Entries.
	Walk(ctx context.Context, fn WalkFunc) error
	Close() error
}

// Open returns a handle over the archive at src.
func Open(fs afero.Fs, src, password string) (Archive, error) {
	format, err := DetectFormat(fs, src)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatZip:
		return openZip(fs, src)
	case FormatSevenZip:
		return openSevenZip(fs, src, password)
	case FormatRar:
		return openRar(fs, src, password)
	}
	return nil, clierr.New(clierr.ArchivePasswordOrFormat, src+" is a folder, not an archive", nil)
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	return name
}

func formatError(src string, err error) error {
	return clierr.New(clierr.ArchivePasswordOrFormat,
		"the archive "+filepath.Base(src)+" could not be read (wrong password or damaged file)", err)
}

func openFile(fs afero.Fs, src string) (afero.File, int64, error) {
	f, err := fs.Open(src)
	if err != nil {
		return nil, 0, clierr.FromFS("failed to open "+src, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, eris.Wrap(err, "stat archive")
	}
	return f, info.Size(), nil
}

type zipArchive struct {
	f       afero.File
	r       *zip.Reader
	entries []Entry
}

func openZip(fs afero.Fs, src string) (Archive, error) {
	f, size, err := openFile(fs, src)
	if err != nil {
		return nil, err
	}
	r, err := zip.NewReader(f, size)
	// non-local names are tolerated here and sanitized when planning
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && r != nil) {
		f.Close()
		return nil, formatError(src, err)
	}
	a := &zipArchive{f: f, r: r}
	for _, zf := range r.File {
		info := zf.FileInfo()
		a.entries = append(a.entries, Entry{
			Name:     cleanName(zf.Name),
			IsDir:    info.IsDir(),
			Size:     int64(zf.UncompressedSize64),
			Mode:     info.Mode(),
			Modified: zf.Modified,
		})
	}
	return a, nil
}

func (a *zipArchive) Format() Format   { return FormatZip }
func (a *zipArchive) Entries() []Entry { return a.entries }
func (a *zipArchive) Close() error     { return a.f.Close() }

func (a *zipArchive) Walk(ctx context.Context, fn WalkFunc) error {
	for i, zf := range a.r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walkOne(a.entries[i], zf.Open, fn); err != nil {
			return err
		}
	}
	return nil
}

type sevenZipArchive struct {
	f       afero.File
	r       *sevenzip.Reader
	entries []Entry
}

func openSevenZip(fs afero.Fs, src, password string) (Archive, error) {
	f, size, err := openFile(fs, src)
	if err != nil {
		return nil, err
	}
	r, err := sevenzip.NewReaderWithPassword(f, size, password)
	if err != nil {
		f.Close()
		return nil, formatError(src, err)
	}
	a := &sevenZipArchive{f: f, r: r}
	for _, sf := range r.File {
		info := sf.FileInfo()
		a.entries = append(a.entries, Entry{
			Name:     cleanName(sf.Name),
			IsDir:    info.IsDir(),
			Size:     int64(sf.UncompressedSize),
			Mode:     info.Mode(),
			Modified: sf.Modified,
		})
	}
	return a, nil
}

func (a *sevenZipArchive) Format() Format   { return FormatSevenZip }
func (a *sevenZipArchive) Entries() []Entry { return a.entries }
func (a *sevenZipArchive) Close() error     { return a.f.Close() }

func (a *sevenZipArchive) Walk(ctx context.Context, fn WalkFunc) error {
	for i, sf := range a.r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walkOne(a.entries[i], sf.Open, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkOne(e Entry, open func() (io.ReadCloser, error), fn WalkFunc) error {
	if e.IsDir {
		return fn(e, bytes.NewReader(nil))
	}
	rc, err := open()
	if err != nil {
		return &readError{name: e.Name, err: err}
	}
	defer rc.Close()
	return fn(e, &sourceReader{name: e.Name, r: rc})
}

// rarArchive streams, so listing and walking each take a pass over the file.
type rarArchive struct {
	fs       afero.Fs
	src      string
	password string
	entries  []Entry
}

func openRar(fs afero.Fs, src, password string) (Archive, error) {
	a := &rarArchive{fs: fs, src: src, password: password}
	err := a.pass(context.Background(), func(h *rardecode.FileHeader, _ io.Reader) error {
		a.entries = append(a.entries, rarEntry(h))
		return nil
	})
	if err != nil {
		if clierr.KindOf(err) == clierr.FilesystemDenied {
			return nil, err
		}
		return nil, formatError(src, err)
	}
	return a, nil
}

func rarEntry(h *rardecode.FileHeader) Entry {
	return Entry{
		Name:     cleanName(h.Name),
		IsDir:    h.IsDir,
		Size:     h.UnPackedSize,
		Mode:     h.Mode(),
		Modified: h.ModificationTime,
	}
}

func (a *rarArchive) pass(ctx context.Context, fn func(*rardecode.FileHeader, io.Reader) error) error {
	f, _, err := openFile(a.fs, a.src)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := rardecode.NewReader(f, a.password)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(h, r); err != nil {
			return err
		}
	}
}

func (a *rarArchive) Format() Format   { return FormatRar }
func (a *rarArchive) Entries() []Entry { return a.entries }
func (a *rarArchive) Close() error     { return nil }

func (a *rarArchive) Walk(ctx context.Context, fn WalkFunc) error {
	err := a.pass(ctx, func(h *rardecode.FileHeader, r io.Reader) error {
		if err := fn(rarEntry(h), &sourceReader{name: h.Name, r: r}); err != nil {
			return &walkError{err: err}
		}
		return nil
	})
	var we *walkError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &we):
		return we.err
	case ctx.Err() != nil:
		return ctx.Err()
	case clierr.KindOf(err) == clierr.FilesystemDenied:
		return err
	}
	return &readError{name: a.src, err: err}
}

// readError marks failures that come from decoding the archive rather than
// writing the destination.
type readError struct {
	name string
	err  error
}

func (e *readError) Error() string { return "reading " + e.name + ": " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

type sourceReader struct {
	name string
	r    io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &readError{name: s.name, err: err}
	}
	return n, err
}

// walkError carries a callback error through the rar pass untouched.
type walkError struct{ err error }

func (e *walkError) Error() string { return e.err.Error() }
func (e *walkError) Unwrap() error { return e.err }
