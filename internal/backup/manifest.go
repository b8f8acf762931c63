package backup

import (
	"path/filepath"
	"strings"
	"time"

	"boxes-go/internal/fs"
)

const (
	// FormatVersion is written to every manifest.
	FormatVersion = "1"
	// Product names the application in manifests and archive filenames.
	Product = "boxes"
	// ManifestName is the manifest entry at the archive root.
	ManifestName = "backup-metadata.json"

	dataPrefix    = "data"
	uploadsPrefix = "uploads"
)

// sideSuffixes are the journal files SQLite may keep next to the store.
var sideSuffixes = []string{"-wal", "-shm", "-journal"}

// Manifest describes an archive.
type Manifest struct {
	Version     string   `json:"version"`
	CreatedAt   string   `json:"createdAt"`
	Product     string   `json:"product"`
	StoreFile   string   `json:"storeFile"`
	SideFiles   []string `json:"sideFiles,omitempty"`
	Attachments int      `json:"attachments"`
}

// Filename returns the download name for an archive created at t, e.g.
// boxes-backup-2026-10-19T123456789Z.zip.
func Filename(t time.Time) string {
	ts := t.UTC().Format(time.RFC3339Nano)
	ts = strings.NewReplacer(":", "", ".", "").Replace(ts)
	return Product + "-backup-" + ts + ".zip"
}

// Layout locates the live data a backup covers.
type Layout struct {
	// StorePath is the primary store file.
	StorePath string
	// UploadsDir is the attachment tree root.
	UploadsDir string
	// Ignore filters attachment paths out of snapshots.
	Ignore *fs.IgnoreMatcher
	// Exclude lists directories inside UploadsDir that are never archived
	// nor replaced, such as a nested staging root.
	Exclude []string
}

// StoreFile returns the base name of the store file.
func (l Layout) StoreFile() string {
	return filepath.Base(l.StorePath)
}

func (l Layout) dataDir() string {
	return filepath.Dir(l.StorePath)
}

// excludedNames returns the names of excluded directories that are direct
// children of the attachment root.
func (l Layout) excludedNames() map[string]bool {
	names := make(map[string]bool)
	root, err := filepath.Abs(l.UploadsDir)
	if err != nil {
		return names
	}
	for _, e := range l.Exclude {
		abs, err := filepath.Abs(e)
		if err != nil {
			continue
		}
		if filepath.Dir(abs) == root {
			names[filepath.Base(abs)] = true
		}
	}
	return names
}

func storeEntry(name string) string {
	return dataPrefix + "/" + name
}
