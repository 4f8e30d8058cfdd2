// Package fsutil holds the afero-based file helpers shared by the profile
// store, the archive extractor and the install controller.
package fsutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Exclusions skips directories during a walk. Names match top-level
// directories case-insensitively; Prefixes match directories at any depth.
type Exclusions struct {
	Names    []string
	Prefixes []string
}

// Skip reports whether the directory at rel should be left out.
func (e Exclusions) Skip(rel string, info os.FileInfo) bool {
	if info == nil || !info.IsDir() || rel == "." {
		return false
	}
	base := info.Name()
	if !strings.ContainsAny(rel, `/\`) {
		for _, n := range e.Names {
			if strings.EqualFold(base, n) {
				return true
			}
		}
	}
	lower := strings.ToLower(base)
	for _, p := range e.Prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// CopyOptions controls CopyTree.
type CopyOptions struct {
	Exclude  Exclusions
	Progress func(done, total int, rel string)
}

// ListFiles walks root and returns the relative paths of all regular files,
// sorted, honoring the exclusions.
func ListFiles(fs afero.Fs, root string, ex Exclusions) ([]string, error) {
	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if info.IsDir() {
			if ex.Skip(rel, info) {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// CopyFile copies src to dst, creating parent directories and keeping the file mode.
func CopyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree recursively copies src into dst, checking ctx between files.
// It returns the relative paths written so far, also on error, so callers
// can clean up a partial copy.
func CopyTree(ctx context.Context, fs afero.Fs, src, dst string, opts CopyOptions) ([]string, error) {
	files, err := ListFiles(fs, src, opts.Exclude)
	if err != nil {
		return nil, err
	}
	written := make([]string, 0, len(files))
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := CopyFile(fs, filepath.Join(src, rel), filepath.Join(dst, rel)); err != nil {
			return written, err
		}
		written = append(written, rel)
		if opts.Progress != nil {
			opts.Progress(i+1, len(files), rel)
		}
	}
	return written, nil
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// so readers never observe a half-written file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".partial"
	if err := afero.WriteFile(fs, tmp, data, perm); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// Exists reports whether path exists; stat errors other than not-exist count as absent.
func Exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

// IsDir reports whether path is an existing directory.
func IsDir(fs afero.Fs, path string) bool {
	ok, err := afero.IsDir(fs, path)
	return err == nil && ok
}

// RemoveFiles deletes the given relative paths under root and then prunes
// directories left empty. Missing files are ignored.
func RemoveFiles(fs afero.Fs, root string, rels []string) error {
	var firstErr error
	dirs := map[string]struct{}{}
	for _, rel := range rels {
		p := filepath.Join(root, rel)
		if err := fs.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		for d := filepath.Dir(rel); d != "." && d != string(filepath.Separator); d = filepath.Dir(d) {
			dirs[d] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	// deepest first
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, d := range ordered {
		p := filepath.Join(root, d)
		if entries, err := afero.ReadDir(fs, p); err == nil && len(entries) == 0 {
			_ = fs.Remove(p)
		}
	}
	return firstErr
}

// DirSize sums the sizes of all regular files under root.
func DirSize(fs afero.Fs, root string) (int64, error) {
	var total int64
	err := afero.Walk(fs, root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Move renames src to dst, replacing dst. When the rename fails, as it does
// across volumes, the content is copied and src removed.
func Move(ctx context.Context, fs afero.Fs, src, dst string) error {
	if err := fs.RemoveAll(dst); err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}
	if IsDir(fs, src) {
		if _, err := CopyTree(ctx, fs, src, dst, CopyOptions{}); err != nil {
			_ = fs.RemoveAll(dst)
			return err
		}
	} else if err := CopyFile(fs, src, dst); err != nil {
		_ = fs.Remove(dst)
		return err
	}
	return fs.RemoveAll(src)
}
