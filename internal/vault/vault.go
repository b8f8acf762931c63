// Package vault implements boxes.Vault backends for off-site archive
// storage: a local directory, S3-compatible object storage, and an
// in-memory vault for tests.
package vault

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"boxes-go/internal/boxes"
)

var (
	// ErrArchiveNotFound is returned by GetArchive for unknown keys.
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrInvalidKey is returned for keys that are not plain file names.
	ErrInvalidKey = errors.New("invalid archive key")
	// ErrSizeMismatch is returned when fewer or more bytes than announced arrive.
	ErrSizeMismatch = errors.New("size mismatch")
)

// ValidateKey accepts plain, non-hidden file names only.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// sortNewestFirst orders archives by creation time, newest first, with the
// key as tie breaker.
func sortNewestFirst(archives []boxes.ArchiveInfo) {
	sort.Slice(archives, func(i, j int) bool {
		a, b := archives[i], archives[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Key > b.Key
	})
}

func checkSize(want, got int64) error {
	if want >= 0 && want != got {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, want, got)
	}
	return nil
}
