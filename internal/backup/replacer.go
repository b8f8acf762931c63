package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"boxes-go/internal/boxes"
	"boxes-go/internal/fs"
	"boxes-go/internal/staging"
)

const rollbackPrefix = "rollback-"

// Replacer swaps staged data into the live locations by rename. The store
// files are replaced first, then the attachment tree. The previous files
// are moved aside into a rollback directory rather than deleted.
type Replacer struct {
	layout Layout
	area   *staging.Area
	logger boxes.Logger
}

// NewReplacer creates a Replacer. The rollback directories live in area,
// which should share a filesystem with the live data so moves are renames.
func NewReplacer(layout Layout, area *staging.Area, logger boxes.Logger) *Replacer {
	if logger == nil {
		logger = boxes.NewNopLogger()
	}
	return &Replacer{layout: layout, area: area, logger: logger}
}

// Rollback holds the live files moved aside by Replace and records what
// was actually moved in each direction, so Undo never touches live entries
// Replace did not reach.
type Rollback struct {
	dir *staging.Dir

	// storeOut lists the store suffixes ("" is the primary file) moved
	// into the rollback directory.
	storeOut []string
	// storeIn is set once staged store files started moving in. All
	// original store files are set aside by then.
	storeIn bool
	// uploadsOut and uploadsIn list top-level attachment entries moved out
	// of and into the live tree.
	uploadsOut []string
	uploadsIn  []string
}

// Path returns the rollback directory.
func (rb *Rollback) Path() string { return rb.dir.Path() }

func (rb *Rollback) dataDir() string    { return filepath.Join(rb.dir.Path(), dataPrefix) }
func (rb *Rollback) uploadsDir() string { return filepath.Join(rb.dir.Path(), uploadsPrefix) }

// Discard removes the previous files once the restored data is in use.
func (rb *Rollback) Discard() error {
	return rb.dir.Remove()
}

// Replace moves the live store files and attachment entries into a new
// rollback directory and the staged ones into their place. It must only be
// called with the store detached and after Validate succeeded. A nil
// Rollback with an error means nothing was touched.
func (r *Replacer) Replace(s *Staged) (*Rollback, error) {
	dir, err := r.area.Create(rollbackPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: creating rollback directory: %w", ErrRollbackUnavailable, err)
	}
	rb := &Rollback{dir: dir}
	if err := os.MkdirAll(rb.dataDir(), 0755); err != nil {
		dir.Remove()
		return nil, fmt.Errorf("%w: %w", ErrRollbackUnavailable, err)
	}

	if err := r.replaceStore(s, rb); err != nil {
		return rb, fmt.Errorf("%w: store files: %w", ErrReplaceFailed, err)
	}
	if err := r.replaceUploads(s, rb); err != nil {
		return rb, fmt.Errorf("%w: attachment tree: %w", ErrReplaceFailed, err)
	}

	r.logger.Info("live data replaced", "store", r.layout.StorePath, "rollback", rb.Path())
	return rb, nil
}

func (r *Replacer) replaceStore(s *Staged, rb *Rollback) error {
	live := r.layout.StorePath
	name := r.layout.StoreFile()

	for _, suffix := range append([]string{""}, sideSuffixes...) {
		moved, err := moveIfExists(live+suffix, filepath.Join(rb.dataDir(), name+suffix))
		if err != nil {
			return err
		}
		if moved {
			rb.storeOut = append(rb.storeOut, suffix)
		}
	}

	rb.storeIn = true
	if err := fs.Move(s.StorePath(), live); err != nil {
		return err
	}
	for _, suffix := range sideSuffixes {
		if _, err := moveIfExists(s.StorePath()+suffix, live+suffix); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replacer) replaceUploads(s *Staged, rb *Rollback) error {
	root := r.layout.UploadsDir
	if root == "" {
		return nil
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating attachment root: %w", err)
	}

	excluded := r.layout.excludedNames()
	skip := func(name string) bool { return excluded[name] }

	out, err := fs.MoveEntries(root, rb.uploadsDir(), skip)
	rb.uploadsOut = out
	if err != nil {
		return err
	}
	in, err := fs.MoveEntries(s.UploadsDir(), root, skip)
	rb.uploadsIn = in
	return err
}

// Undo puts the files saved in rb back. Only what Replace moved is
// touched: entries it moved in are removed, entries it moved out are
// returned. On success rb is discarded; on failure it is kept so an
// operator can recover by hand.
func (r *Replacer) Undo(rb *Rollback) error {
	live := r.layout.StorePath
	name := r.layout.StoreFile()

	// Side files next to a restored primary belong to it, including any a
	// failed reconnect created, so all of them go once staged files moved in.
	if rb.storeIn {
		for _, suffix := range append([]string{""}, sideSuffixes...) {
			if err := os.Remove(live + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing restored %s: %w", name+suffix, err)
			}
		}
	}
	for _, suffix := range rb.storeOut {
		if err := fs.Move(filepath.Join(rb.dataDir(), name+suffix), live+suffix); err != nil {
			return fmt.Errorf("restoring %s: %w", name+suffix, err)
		}
	}

	if root := r.layout.UploadsDir; root != "" {
		for _, entry := range rb.uploadsIn {
			if err := os.RemoveAll(filepath.Join(root, entry)); err != nil {
				return fmt.Errorf("removing restored attachment %s: %w", entry, err)
			}
		}
		for _, entry := range rb.uploadsOut {
			if err := fs.Move(filepath.Join(rb.uploadsDir(), entry), filepath.Join(root, entry)); err != nil {
				return fmt.Errorf("restoring attachment %s: %w", entry, err)
			}
		}
	}

	if err := rb.Discard(); err != nil {
		r.logger.Warn("could not remove rollback directory", "path", rb.Path(), "error", err)
	}
	r.logger.Info("previous data put back", "store", live)
	return nil
}

// moveIfExists moves src to dst when src exists and reports whether it did.
func moveIfExists(src, dst string) (bool, error) {
	ok, err := fs.Exists(src)
	if err != nil || !ok {
		return false, err
	}
	if err := fs.Move(src, dst); err != nil {
		return false, err
	}
	return true, nil
}
