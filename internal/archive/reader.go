package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrFormat is returned when the input is not a ZIP archive at all.
	ErrFormat = errors.New("not a zip archive")

	// ErrUnsafePath is returned for entry names that would resolve outside
	// the extraction root, or for entries that are not plain files or directories.
	ErrUnsafePath = errors.New("unsafe archive entry")
)

// Entry is a single member of an archive.
type Entry struct {
	// Name is the cleaned, slash-separated relative name.
	Name  string
	IsDir bool
	// Size is the declared uncompressed size. It is not trusted for limits.
	Size uint64

	file *zip.File
}

// Open returns a reader for the entry content. Reading to EOF verifies the
// stored checksum.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.IsDir {
		return nil, fmt.Errorf("cannot open directory entry %s", e.Name)
	}
	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", e.Name, err)
	}
	return rc, nil
}

// Reader reads the entries of a ZIP archive held in a random-access source.
type Reader struct {
	entries []*Entry
}

// NewReader parses the central directory of the archive in r. Entry names
// are validated up front, so a Reader never hands out an unsafe name.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty input", ErrFormat)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	entries := make([]*Entry, 0, len(zr.File))
	for _, f := range zr.File {
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 || (!mode.IsDir() && !mode.IsRegular()) {
			return nil, fmt.Errorf("%w: %q is not a regular file or directory", ErrUnsafePath, f.Name)
		}

		name, err := SafeName(f.Name)
		if err != nil {
			return nil, err
		}

		entries = append(entries, &Entry{
			Name:  name,
			IsDir: mode.IsDir() || strings.HasSuffix(f.Name, "/"),
			Size:  f.UncompressedSize64,
			file:  f,
		})
	}

	return &Reader{entries: entries}, nil
}

// Walk calls fn for each entry in archive order, stopping at the first error
// or when ctx is cancelled.
func (r *Reader) Walk(ctx context.Context, fn func(e *Entry) error) error {
	for _, e := range r.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the entry with the given cleaned name, or nil.
func (r *Reader) Find(name string) *Entry {
	for _, e := range r.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// SafeName cleans an archive entry name and rejects anything that could
// escape the extraction root: absolute names, ".." segments that climb
// out, backslashes and empty names.
func SafeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("%w: %q contains a backslash", ErrUnsafePath, name)
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, name)
	}

	clean := path.Clean(name)
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q escapes the archive root", ErrUnsafePath, name)
	}
	return clean, nil
}
