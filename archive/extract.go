package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Progress is emitted once per extracted entry.
type Progress struct {
	Index int // 1-based
	Total int
	Path  string // relative to the destination
}

type Sink func(Progress)

// ExternalExtractor unpacks an archive the built-in readers rejected, such
// as a RAR variant rardecode cannot handle, into a directory on disk.
type ExternalExtractor func(ctx context.Context, src, dst, password string) error

type Options struct {
	Password string
	// Executables are the expected game executable names. When set, only the
	// subtree holding the first match is extracted; when empty, a single
	// root folder is stripped instead.
	Executables []string
	// External is tried for RAR sources that fail to open.
	External ExternalExtractor
}

// Result describes what was written.
type Result struct {
	Format     Format
	Files      []string // relative to the destination
	Executable string   // relative path of the detected executable, if any
}

// Extract unpacks src (an archive or a folder) into dst. On failure or
// cancellation the files written so far are removed again.
func Extract(ctx context.Context, fs afero.Fs, src, dst string, opts Options, sink Sink) (Result, error) {
	format, err := DetectFormat(fs, src)
	if err != nil {
		return Result{}, err
	}
	if format == FormatFolder {
		return extractFolder(ctx, fs, src, dst, opts, sink)
	}

	a, err := Open(fs, src, opts.Password)
	if err != nil {
		if format == FormatRar && opts.External != nil && clierr.Is(err, clierr.ArchivePasswordOrFormat) {
			return extractExternal(ctx, fs, src, dst, opts, sink)
		}
		return Result{}, err
	}
	defer a.Close()

	p, err := makePlan(a.Entries(), opts.Executables, src)
	if err != nil {
		return Result{}, err
	}
	res := Result{Format: format, Executable: p.executable}
	log.Info().Str("src", src).Str("dst", dst).Str("format", string(format)).
		Int("entries", p.total).Msg("Extracting archive")

	index := 0
	err = a.Walk(ctx, func(e Entry, r io.Reader) error {
		rel, ok := p.targets[e.Name]
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(rel))
		if e.IsDir {
			return fs.MkdirAll(target, 0o755)
		}
		if err := writeEntry(fs, target, e, r); err != nil {
			return err
		}
		res.Files = append(res.Files, filepath.FromSlash(rel))
		index++
		if sink != nil {
			sink(Progress{Index: index, Total: p.total, Path: rel})
		}
		return nil
	})
	if err != nil {
		cleanup(fs, dst, res.Files)
		return Result{}, classify(ctx, src, err)
	}
	return res, nil
}

func writeEntry(fs afero.Fs, target string, e Entry, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	perm := e.Mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !e.Modified.IsZero() {
		_ = fs.Chtimes(target, e.Modified, e.Modified)
	}
	return nil
}

func cleanup(fs afero.Fs, dst string, written []string) {
	if len(written) == 0 {
		return
	}
	if err := fsutil.RemoveFiles(fs, dst, written); err != nil {
		log.Warn().Err(err).Str("dst", dst).Msg("Failed to remove partially extracted files")
	}
}

func classify(ctx context.Context, src string, err error) error {
	var re *readError
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return clierr.New(clierr.Cancelled, "extraction cancelled", err)
	case errors.As(err, &re):
		return formatError(src, err)
	case clierr.KindOf(err) != clierr.Internal:
		return err
	}
	if fe := clierr.FromFS("failed to write extracted files", err); clierr.Is(fe, clierr.FilesystemDenied) {
		return fe
	}
	return eris.Wrap(err, "extraction failed")
}

func extractFolder(ctx context.Context, fs afero.Fs, src, dst string, opts Options, sink Sink) (Result, error) {
	files, err := fsutil.ListFiles(fs, src, fsutil.Exclusions{})
	if err != nil {
		return Result{}, clierr.FromFS("failed to read "+src, err)
	}
	entries := make([]Entry, len(files))
	for i, f := range files {
		entries[i] = Entry{Name: filepath.ToSlash(f)}
	}
	p, err := makePlan(entries, opts.Executables, src)
	if err != nil {
		return Result{}, err
	}

	res := Result{Format: FormatFolder, Executable: p.executable}
	index := 0
	for _, e := range entries {
		rel, ok := p.targets[e.Name]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			cleanup(fs, dst, res.Files)
			return Result{}, clierr.New(clierr.Cancelled, "copy cancelled", err)
		}
		from := filepath.Join(src, filepath.FromSlash(e.Name))
		to := filepath.Join(dst, filepath.FromSlash(rel))
		if err := fsutil.CopyFile(fs, from, to); err != nil {
			cleanup(fs, dst, res.Files)
			return Result{}, classify(ctx, src, err)
		}
		res.Files = append(res.Files, filepath.FromSlash(rel))
		index++
		if sink != nil {
			sink(Progress{Index: index, Total: p.total, Path: rel})
		}
	}
	return res, nil
}

// extractExternal runs the external tool into a scratch folder next to dst
// and then copies from there, so the result goes through the same plan.
func extractExternal(ctx context.Context, fs afero.Fs, src, dst string, opts Options, sink Sink) (Result, error) {
	scratch := strings.TrimRight(dst, `/\`) + ".unpack"
	if err := fs.MkdirAll(scratch, 0o755); err != nil {
		return Result{}, clierr.FromFS("failed to create "+scratch, err)
	}
	defer func() {
		if err := fs.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("Failed to remove scratch folder")
		}
	}()
	log.Info().Str("src", src).Msg("Falling back to the external RAR extractor")
	if err := opts.External(ctx, src, scratch, opts.Password); err != nil {
		if ctx.Err() != nil {
			return Result{}, clierr.New(clierr.Cancelled, "extraction cancelled", err)
		}
		if clierr.KindOf(err) != clierr.Internal {
			return Result{}, err
		}
		return Result{}, formatError(src, err)
	}
	res, err := extractFolder(ctx, fs, scratch, dst, opts, sink)
	res.Format = FormatRar
	return res, err
}

type plan struct {
	targets    map[string]string // entry name -> relative destination path
	total      int               // files to write
	executable string
}

// makePlan maps entry names to destination paths. With expected
// executables it keeps the subtree of the shallowest match; otherwise it
// strips a single shared root folder.
func makePlan(entries []Entry, executables []string, src string) (plan, error) {
	p := plan{targets: map[string]string{}}
	root := ""
	if len(executables) > 0 {
		best := -1
		for _, e := range entries {
			if e.IsDir || !matchesAny(path.Base(e.Name), executables) {
				continue
			}
			depth := strings.Count(e.Name, "/")
			if best == -1 || depth < best {
				best = depth
				root = path.Dir(e.Name)
				p.executable = e.Name
			}
		}
		if best == -1 {
			return plan{}, clierr.New(clierr.ExecutableNotFoundInSource,
				"no game executable found in "+filepath.Base(src)+"; expected one of "+strings.Join(executables, ", "), nil)
		}
		if root == "." {
			root = ""
		}
	} else {
		root = singleRoot(entries)
	}

	for _, e := range entries {
		rel := e.Name
		if root != "" {
			if !strings.HasPrefix(rel, root+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, root+"/")
		}
		if rel == "" || rel == "." {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return plan{}, clierr.New(clierr.ArchivePasswordOrFormat, "archive entry "+e.Name+" escapes the destination", nil)
		}
		p.targets[e.Name] = rel
		if !e.IsDir {
			p.total++
		}
	}
	if p.executable != "" {
		p.executable = filepath.FromSlash(p.targets[p.executable])
	}
	return p, nil
}

// singleRoot returns the folder every entry lives under, if there is one
// and no file sits beside it.
func singleRoot(entries []Entry) string {
	root := ""
	for _, e := range entries {
		first, _, nested := strings.Cut(e.Name, "/")
		if !nested && !e.IsDir {
			return ""
		}
		if root == "" {
			root = first
		} else if root != first {
			return ""
		}
	}
	return root
}

func matchesAny(name string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}
