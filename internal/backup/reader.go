package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"boxes-go/internal/archive"
	"boxes-go/internal/boxes"
	"boxes-go/internal/staging"
)

const (
	restorePrefix = "restore-"

	maxManifestSize = 1 << 20
)

// sqliteMagic starts every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// ReaderOptions bound what an uploaded archive may cost.
type ReaderOptions struct {
	// MaxUploadSize rejects archives larger than this many bytes.
	MaxUploadSize int64
	// MaxExtractedSize caps the total bytes written while extracting.
	MaxExtractedSize int64
	// StrictVersion rejects manifests with a different format version.
	StrictVersion bool
}

// ArchiveReader extracts uploaded archives into private staging
// directories and validates them. It never touches live data.
type ArchiveReader struct {
	area      *staging.Area
	storeFile string
	opts      ReaderOptions
	logger    boxes.Logger
}

// NewArchiveReader creates an ArchiveReader. storeFile is the live store's
// base name, used when an archive carries no manifest.
func NewArchiveReader(area *staging.Area, storeFile string, opts ReaderOptions, logger boxes.Logger) *ArchiveReader {
	if logger == nil {
		logger = boxes.NewNopLogger()
	}
	return &ArchiveReader{area: area, storeFile: storeFile, opts: opts, logger: logger}
}

// Staged is an extracted archive. Close removes it.
type Staged struct {
	dir       *staging.Dir
	storeFile string
	Manifest  *Manifest
}

// Path returns the staging directory.
func (s *Staged) Path() string { return s.dir.Path() }

// StorePath returns the staged primary store file.
func (s *Staged) StorePath() string {
	return filepath.Join(s.dir.Path(), dataPrefix, s.storeFile)
}

// UploadsDir returns the staged attachment tree.
func (s *Staged) UploadsDir() string {
	return filepath.Join(s.dir.Path(), uploadsPrefix)
}

// Close removes the staging directory.
func (s *Staged) Close() error {
	return s.dir.Remove()
}

// Extract checks src and unpacks it into a fresh staging directory. Size
// and format are checked before the directory is created. On any error the
// directory is gone when Extract returns.
func (r *ArchiveReader) Extract(ctx context.Context, src io.ReaderAt, size int64) (*Staged, error) {
	if r.opts.MaxUploadSize > 0 && size > r.opts.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrUploadTooLarge, size, r.opts.MaxUploadSize)
	}

	zr, err := archive.NewReader(src, size)
	if err != nil {
		if errors.Is(err, archive.ErrUnsafePath) {
			return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	manifest, err := r.readManifest(zr)
	if err != nil {
		return nil, err
	}
	storeFile := r.storeFile
	if manifest != nil && manifest.StoreFile != "" {
		storeFile = manifest.StoreFile
	}

	dir, err := r.area.Create(restorePrefix)
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	if err := r.unpack(ctx, zr, dir); err != nil {
		dir.Remove()
		return nil, err
	}

	r.logger.Info("archive extracted", "staging", dir.Path(), "bytes", dir.Size())
	return &Staged{dir: dir, storeFile: storeFile, Manifest: manifest}, nil
}

func (r *ArchiveReader) readManifest(zr *archive.Reader) (*Manifest, error) {
	e := zr.Find(ManifestName)
	if e == nil || e.IsDir {
		r.logger.Warn("archive has no manifest")
		return nil, nil
	}

	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %w", ErrCorruptArchive, err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("%w: manifest too large", ErrCorruptArchive)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %w", ErrCorruptArchive, err)
	}
	if m.StoreFile != "" && (m.StoreFile != filepath.Base(m.StoreFile) || strings.ContainsAny(m.StoreFile, `/\`) || m.StoreFile == "." || m.StoreFile == "..") {
		return nil, fmt.Errorf("%w: manifest names store file %q", ErrCorruptArchive, m.StoreFile)
	}

	if m.Version != FormatVersion {
		if r.opts.StrictVersion {
			return nil, fmt.Errorf("%w: archive format version %q, want %q", ErrInvalidFormat, m.Version, FormatVersion)
		}
		r.logger.Warn("archive format version differs", "archive_version", m.Version, "supported_version", FormatVersion)
	} else {
		r.logger.Debug("archive manifest", "version", m.Version, "created_at", m.CreatedAt)
	}
	return &m, nil
}

func (r *ArchiveReader) unpack(ctx context.Context, zr *archive.Reader, dir *staging.Dir) error {
	var extracted int64
	limit := r.opts.MaxExtractedSize

	return zr.Walk(ctx, func(e *archive.Entry) error {
		top, _, _ := strings.Cut(e.Name, "/")
		if top != dataPrefix && top != uploadsPrefix {
			if e.Name != ManifestName {
				r.logger.Debug("skipping unknown archive entry", "name", e.Name)
			}
			return nil
		}

		if e.IsDir {
			if err := dir.Mkdir(e.Name); err != nil {
				return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
			}
			return nil
		}

		rc, err := e.Open()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
		}
		defer rc.Close()

		var src io.Reader = rc
		if limit > 0 {
			src = io.LimitReader(rc, limit-extracted+1)
		}
		n, err := dir.WriteFile(e.Name, src)
		if err != nil {
			if errors.Is(err, staging.ErrBudgetExceeded) {
				return fmt.Errorf("%w: %w", ErrUploadTooLarge, err)
			}
			return fmt.Errorf("%w: extracting %s: %w", ErrCorruptArchive, e.Name, err)
		}
		extracted += n
		if limit > 0 && extracted > limit {
			return fmt.Errorf("%w: archive expands beyond %d bytes", ErrUploadTooLarge, limit)
		}
		return nil
	})
}

// Validate checks that the staged archive holds a usable store file and
// that everything Replace will move has the expected shape.
func (r *ArchiveReader) Validate(s *Staged) error {
	if err := validateStore(s); err != nil {
		return err
	}

	for _, suffix := range sideSuffixes {
		info, err := os.Lstat(s.StorePath() + suffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat staged %s: %w", s.storeFile+suffix, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a file", ErrCorruptArchive, storeEntry(s.storeFile+suffix))
		}
	}

	info, err := os.Lstat(s.UploadsDir())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("stat staged attachment tree: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrCorruptArchive, uploadsPrefix)
	}
	return nil
}

func validateStore(s *Staged) error {
	f, err := os.Open(s.StorePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: expected %s", ErrMissingStoreInArchive, storeEntry(s.storeFile))
		}
		return fmt.Errorf("opening staged store: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat staged store: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", ErrMissingStoreInArchive, storeEntry(s.storeFile))
	}

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, sqliteMagic) {
		return fmt.Errorf("%w: %s is not a SQLite database", ErrCorruptArchive, storeEntry(s.storeFile))
	}
	return nil
}
