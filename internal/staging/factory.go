package staging

import (
	"path/filepath"

	"boxes-go/internal/config"
)

// DefaultMaxSize is the default budget for one staging directory (1 GiB).
const DefaultMaxSize int64 = 1 << 30

// NewAreaFromConfig creates the Area described by cfg. An empty dir places
// the staging root at <dataDir>/temp so renames into the live data
// directory stay on one filesystem.
func NewAreaFromConfig(cfg config.StagingConfig, dataDir string) (*Area, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	root := cfg.Dir
	if root == "" {
		root = filepath.Join(dataDir, "temp")
	}
	return NewArea(root, maxSize)
}
