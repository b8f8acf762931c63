package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"boxes-go/internal/boxes"
)

// FileSystemVault stores archives as files in a directory, typically on
// removable or network storage:
//
//	<root>/
//	  archives/
//	    boxes-backup-<timestamp>.zip[.age]
type FileSystemVault struct {
	name        string
	root        string
	archivesDir string
}

var _ boxes.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a filesystem vault rooted at root.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	archivesDir := filepath.Join(root, "archives")
	if err := os.MkdirAll(archivesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archives directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, archivesDir: archivesDir}, nil
}

func (v *FileSystemVault) Name() string { return v.name }

// PutArchive writes the archive atomically. An existing archive with the
// same key is replaced.
func (v *FileSystemVault) PutArchive(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return v.writeFile(ctx, filepath.Join(v.archivesDir, key), r, size)
}

func (v *FileSystemVault) GetArchive(ctx context.Context, key string, w io.Writer) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(v.archivesDir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, key)
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	return nil
}

// ListArchives uses file modification times as creation times.
func (v *FileSystemVault) ListArchives(ctx context.Context) ([]boxes.ArchiveInfo, error) {
	entries, err := os.ReadDir(v.archivesDir)
	if err != nil {
		return nil, fmt.Errorf("reading archives directory: %w", err)
	}

	var out []boxes.ArchiveInfo
	for _, e := range entries {
		if !e.Type().IsRegular() || ValidateKey(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, boxes.ArchiveInfo{Key: e.Name(), Size: info.Size(), CreatedAt: info.ModTime().UTC()})
	}
	sortNewestFirst(out)
	return out, nil
}

// ValidateSetup verifies the vault directories exist and are writable.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.archivesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	f, err := os.CreateTemp(v.archivesDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("vault is not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFile writes r to destPath through a temp file and rename.
func (v *FileSystemVault) writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := checkSize(expectedSize, written); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
