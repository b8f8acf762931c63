// Package archive holds the ZIP primitives used by backup and restore.
// Entry names are always slash-separated and relative.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// Writer streams entries into a ZIP archive. Nothing written through a Writer
// is a usable archive until Close returns nil.
type Writer struct {
	zw    *zip.Writer
	count int
}

// NewWriter creates a Writer that writes the archive to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// AddFile appends the file at srcPath under the entry name.
func (w *Writer) AddFile(name string, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", srcPath)
	}

	return w.AddReader(name, f, info.ModTime())
}

// AddReader appends the content of r under the entry name.
func (w *Writer) AddReader(name string, r io.Reader, modTime time.Time) error {
	if err := checkWriteName(name); err != nil {
		return err
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime.UTC(),
	}
	hdr.SetMode(0644)

	dst, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("writing entry %s: %w", name, err)
	}

	w.count++
	return nil
}

// AddDir appends an explicit directory entry. name must not end with "/".
func (w *Writer) AddDir(name string, modTime time.Time) error {
	if err := checkWriteName(name); err != nil {
		return err
	}

	hdr := &zip.FileHeader{
		Name:     name + "/",
		Method:   zip.Store,
		Modified: modTime.UTC(),
	}
	hdr.SetMode(os.ModeDir | 0755)

	if _, err := w.zw.CreateHeader(hdr); err != nil {
		return fmt.Errorf("creating directory entry %s: %w", name, err)
	}
	return nil
}

// AddJSON appends v encoded as indented JSON.
func (w *Writer) AddJSON(name string, v any, modTime time.Time) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	data = append(data, '\n')
	return w.AddReader(name, bytes.NewReader(data), modTime)
}

// Count returns the number of file entries written so far.
func (w *Writer) Count() int {
	return w.count
}

// Close writes the central directory. The underlying writer is not closed.
func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// checkWriteName rejects names the Reader would refuse, so every archive we
// produce can be restored.
func checkWriteName(name string) error {
	clean, err := SafeName(name)
	if err != nil {
		return err
	}
	if clean != name || path.IsAbs(name) {
		return fmt.Errorf("%w: %q is not a clean relative name", ErrUnsafePath, name)
	}
	return nil
}
