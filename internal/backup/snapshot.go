package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"time"

	"boxes-go/internal/archive"
	"boxes-go/internal/boxes"
	"boxes-go/internal/fs"
	"boxes-go/internal/staging"
)

// Store is the part of the store handle that backup and restore drive.
type Store interface {
	// Path returns the primary store file.
	Path() string
	// Checkpoint merges journaled writes into the primary file.
	Checkpoint(ctx context.Context) error
	// Freeze runs fn while no writer can modify the store files.
	Freeze(ctx context.Context, fn func() error) error
	// Detach closes the connection and blocks all queries until Attach.
	Detach() error
	// Attach reopens the store file, ensures its schema, never seeds, and
	// unblocks queries.
	Attach(ctx context.Context) error
}

const snapshotPrefix = "snapshot-"

// StagingPrefixes name the staging directories that are safe to sweep at
// startup. Rollback directories are not swept: after a failed rollback they
// hold the only copy of the previous data.
var StagingPrefixes = []string{restorePrefix, snapshotPrefix}

// Builder produces archives of the live store and attachment tree.
type Builder struct {
	store  Store
	layout Layout
	area   *staging.Area
	clock  boxes.Clock
	logger boxes.Logger
}

// NewBuilder creates a Builder. area holds the private copies of the store
// files taken while writers are paused.
func NewBuilder(store Store, layout Layout, area *staging.Area, clock boxes.Clock, logger boxes.Logger) *Builder {
	if clock == nil {
		clock = boxes.RealClock{}
	}
	if logger == nil {
		logger = boxes.NewNopLogger()
	}
	return &Builder{store: store, layout: layout, area: area, clock: clock, logger: logger}
}

// Snapshot is a consistent copy of the store files, ready to be streamed
// together with the attachment tree. Close it when done.
type Snapshot struct {
	dir       *staging.Dir
	storeFile string
	sideFiles []string
	createdAt time.Time
	layout    Layout
	logger    boxes.Logger

	store      Store
	generation uint64
}

// generationer is implemented by stores that can tell whether their files
// were swapped since an earlier call.
type generationer interface {
	Generation() uint64
}

func storeGeneration(s Store) uint64 {
	if g, ok := s.(generationer); ok {
		return g.Generation()
	}
	return 0
}

// Prepare checkpoints the store and copies its files into a private
// workspace while writers are paused. Nothing is sent to the caller yet, so
// a failure here can still be reported cleanly.
func (b *Builder) Prepare(ctx context.Context) (*Snapshot, error) {
	storePath := b.store.Path()
	if err := checkStoreFile(storePath); err != nil {
		return nil, err
	}

	if err := b.store.Checkpoint(ctx); err != nil {
		return nil, fmt.Errorf("checkpointing store: %w", err)
	}

	dir, err := b.area.Create(snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot workspace: %w", err)
	}

	snap := &Snapshot{
		dir:       dir,
		storeFile: b.layout.StoreFile(),
		createdAt: b.clock.Now(),
		layout:    b.layout,
		logger:    b.logger,

		store:      b.store,
		generation: storeGeneration(b.store),
	}

	err = b.store.Freeze(ctx, func() error {
		if err := checkStoreFile(storePath); err != nil {
			return err
		}
		if err := copyInto(dir, storeEntry(snap.storeFile), storePath); err != nil {
			return err
		}
		for _, suffix := range sideSuffixes {
			side := storePath + suffix
			ok, err := fs.Exists(side)
			if err != nil {
				return fmt.Errorf("stat %s: %w", side, err)
			}
			if !ok {
				continue
			}
			if err := copyInto(dir, storeEntry(snap.storeFile+suffix), side); err != nil {
				return err
			}
			snap.sideFiles = append(snap.sideFiles, snap.storeFile+suffix)
		}
		return nil
	})
	if err != nil {
		dir.Remove()
		return nil, err
	}

	b.logger.Debug("snapshot prepared", "store", storePath, "side_files", len(snap.sideFiles))
	return snap, nil
}

// Create prepares a snapshot and streams it to w.
func (b *Builder) Create(ctx context.Context, w io.Writer) (*Manifest, error) {
	snap, err := b.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.Stream(ctx, w)
}

// Filename returns the download name for this snapshot.
func (s *Snapshot) Filename() string {
	return Filename(s.createdAt)
}

// Stream writes the archive to w: the store files, the attachment tree, then
// the manifest. Any error means w holds an unusable partial archive.
func (s *Snapshot) Stream(ctx context.Context, w io.Writer) (*Manifest, error) {
	aw := archive.NewWriter(w)

	if err := aw.AddFile(storeEntry(s.storeFile), s.localPath(s.storeFile)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	for _, side := range s.sideFiles {
		if err := aw.AddFile(storeEntry(side), s.localPath(side)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}

	attachments, err := s.addAttachments(ctx, aw)
	if err != nil {
		return nil, err
	}
	// The store copy predates the restore, the attachment walk may not.
	if storeGeneration(s.store) != s.generation {
		return nil, fmt.Errorf("%w: live data was replaced by a restore during the backup", ErrWriteFailed)
	}

	m := &Manifest{
		Version:     FormatVersion,
		CreatedAt:   s.createdAt.UTC().Format(time.RFC3339),
		Product:     Product,
		StoreFile:   s.storeFile,
		SideFiles:   s.sideFiles,
		Attachments: attachments,
	}
	if err := aw.AddJSON(ManifestName, m, s.createdAt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.logger.Info("backup written", "store", s.storeFile, "attachments", attachments)
	return m, nil
}

// Close removes the snapshot workspace.
func (s *Snapshot) Close() error {
	return s.dir.Remove()
}

func (s *Snapshot) localPath(name string) string {
	p, _ := s.dir.Join(storeEntry(name))
	return p
}

func (s *Snapshot) addAttachments(ctx context.Context, aw *archive.Writer) (int, error) {
	root := s.layout.UploadsDir
	if root == "" {
		return 0, nil
	}
	ok, err := fs.Exists(root)
	if err != nil {
		return 0, fmt.Errorf("%w: stat attachment tree: %w", ErrWriteFailed, err)
	}
	if !ok {
		return 0, nil
	}
	if err := aw.AddDir(uploadsPrefix, s.createdAt); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	count := 0
	err = fs.WalkFiles(ctx, root, s.layout.Ignore, s.layout.Exclude, func(rel, abs string, info iofs.FileInfo) error {
		f, err := os.Open(abs)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				s.logger.Warn("attachment vanished during backup", "path", rel)
				return nil
			}
			return err
		}
		defer f.Close()

		if err := aw.AddReader(uploadsPrefix+"/"+rel, f, info.ModTime()); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("%w: archiving attachments: %w", ErrWriteFailed, err)
	}
	return count, nil
}

func checkStoreFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingStore, path)
		}
		return fmt.Errorf("stat store file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrMissingStore, path)
	}
	return nil
}

func copyInto(dir *staging.Dir, rel, src string) error {
	dst, err := dir.Join(rel)
	if err != nil {
		return err
	}
	if err := fs.CopyFile(src, dst); err != nil {
		return fmt.Errorf("copying store file: %w", err)
	}
	return nil
}
