// Package boxes holds the interfaces shared by the services: logging, time,
// identifiers, off-site archive storage and encryption.
package boxes

import (
	"context"
	"io"
	"time"
)

// ArchiveInfo describes one archive stored in a vault.
type ArchiveInfo struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Vault stores backup archives off-site. All operations stream, so an
// archive is never held in memory as a whole.
type Vault interface {
	// Name returns the configured vault name.
	Name() string

	// PutArchive stores the archive read from r under key. size is the
	// number of bytes that will be read from r, or -1 if unknown.
	PutArchive(ctx context.Context, key string, r io.Reader, size int64) error

	// GetArchive writes the archive stored under key to w.
	GetArchive(ctx context.Context, key string, w io.Writer) error

	// ListArchives returns the stored archives, newest first.
	ListArchives(ctx context.Context) ([]ArchiveInfo, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
