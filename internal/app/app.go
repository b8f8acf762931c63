// Package app wires the boxes services together from a config and exposes
// the operations the CLI and the HTTP server run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"boxes-go/internal/backup"
	"boxes-go/internal/boxes"
	"boxes-go/internal/config"
	"boxes-go/internal/database"
	"boxes-go/internal/encryption"
	"boxes-go/internal/fs"
	"boxes-go/internal/inventory"
	"boxes-go/internal/server"
	"boxes-go/internal/staging"
	"boxes-go/internal/vault"
)

// Options override the defaults NewBoxesApp uses. Tests inject a clock,
// ids, or a logger that does not write files.
type Options struct {
	Clock  boxes.Clock
	IDs    boxes.IDGenerator
	Logger boxes.Logger
}

// BoxesApp is the application layer between the CLI and the services.
// It constructs all dependencies from config and closes them on Close.
type BoxesApp struct {
	cfg       *config.Config
	store     *database.SQLiteStore
	area      *staging.Area
	builder   *backup.Builder
	restorer  *backup.Restorer
	inventory *inventory.Service
	encryptor boxes.Encryptor
	clock     boxes.Clock
	logger    boxes.Logger
	op        *Operation
	logFile   *os.File
}

// NewBoxesApp creates a fully wired BoxesApp from the given config.
// operation names the command being run (e.g. "Backup", "Serve").
// The caller must call Close when done.
func NewBoxesApp(ctx context.Context, cfg *config.Config, operation string) (*BoxesApp, error) {
	return NewBoxesAppWithOptions(ctx, cfg, operation, Options{})
}

// NewBoxesAppWithOptions is NewBoxesApp with injected clock, ids and logger.
func NewBoxesAppWithOptions(ctx context.Context, cfg *config.Config, operation string, opts Options) (*BoxesApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = boxes.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = boxes.UUIDGenerator{}
	}

	a := &BoxesApp{cfg: cfg, clock: clock}
	a.op = NewOperation(operation, "", clock.Now())

	a.logger = opts.Logger
	if a.logger == nil {
		l, f, err := newLogger(cfg.LogDir, a.op.ID, cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.logger = &slogAdapter{l: l}
		a.logFile = f
	}

	store, err := database.NewStoreFromConfig(ctx, cfg, database.Options{Clock: clock, IDs: ids, Logger: a.logger})
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = store

	if err := a.wire(ids); err != nil {
		a.store.Close()
		a.closeLog()
		return nil, err
	}

	a.logger.Debug("operation started", "operation", operation)
	return a, nil
}

func (a *BoxesApp) wire(ids boxes.IDGenerator) error {
	cfg := a.cfg

	dataDir := cfg.Database.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(cfg.BaseDir, "data")
	}
	area, err := staging.NewAreaFromConfig(cfg.Staging, dataDir)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}
	if n, err := area.Sweep(backup.StagingPrefixes...); err != nil {
		a.logger.Warn("could not sweep staging area", "root", area.Root(), "error", err)
	} else if n > 0 {
		a.logger.Info("removed leftover staging directories", "count", n)
	}
	a.area = area

	if err := os.MkdirAll(cfg.Uploads.Dir, 0755); err != nil {
		return fmt.Errorf("creating uploads directory: %w", err)
	}
	ignore, err := fs.LoadIgnoreMatcher(cfg.Uploads.Dir, cfg.Uploads.Ignore)
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}

	layout := backup.Layout{
		StorePath:  a.store.Path(),
		UploadsDir: cfg.Uploads.Dir,
		Ignore:     ignore,
		Exclude:    nestedExcludes(cfg.Uploads.Dir, area.Root()),
	}

	a.builder = backup.NewBuilder(a.store, layout, area, a.clock, a.logger)
	reader := backup.NewArchiveReader(area, layout.StoreFile(), backup.ReaderOptions{
		MaxUploadSize:    cfg.Backup.MaxUploadSize,
		MaxExtractedSize: cfg.Backup.MaxExtractedSize,
		StrictVersion:    cfg.Backup.StrictVersion,
	}, a.logger)
	replacer := backup.NewReplacer(layout, area, a.logger)
	a.restorer = backup.NewRestorer(reader, replacer, a.store, backup.RestorerOptions{
		Rollback: cfg.Backup.RollbackEnabled(),
		Clock:    a.clock,
		Logger:   a.logger,
	})

	a.inventory = inventory.NewService(a.store, cfg.Uploads.Dir, a.logger, a.clock, ids)

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc
	return nil
}

// nestedExcludes returns the top-level name under uploadsDir that holds the
// staging root, if the staging root lives inside the attachment tree.
func nestedExcludes(uploadsDir, stagingRoot string) []string {
	rel, err := filepath.Rel(uploadsDir, stagingRoot)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return nil
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return []string{first}
}

// Config returns the application config.
func (a *BoxesApp) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *BoxesApp) Logger() boxes.Logger { return a.logger }

// Inventory returns the inventory service.
func (a *BoxesApp) Inventory() *inventory.Service { return a.inventory }

// Restorer returns the restorer.
func (a *BoxesApp) Restorer() *backup.Restorer { return a.restorer }

// SetParameters records the command arguments on the current operation.
func (a *BoxesApp) SetParameters(params string) {
	a.op.Parameters = params
}

// Fail marks the current operation as failed.
func (a *BoxesApp) Fail() {
	a.op.Fail()
}

// Handler returns the HTTP API backed by this app.
func (a *BoxesApp) Handler() (http.Handler, error) {
	return server.NewHTTPHandler(server.Dependencies{
		Inventory:      a.inventory,
		Builder:        a.builder,
		Restorer:       a.restorer,
		Store:          a.store,
		Logger:         a.logger,
		MaxUploadSize:  a.cfg.Backup.MaxUploadSize,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
}

// Backup writes a backup archive to w.
func (a *BoxesApp) Backup(ctx context.Context, w io.Writer) (*backup.Manifest, error) {
	return a.builder.Create(ctx, w)
}

// BackupToFile writes a backup archive to out. An empty out or a directory
// gets the default archive filename. The archive appears at its final path
// only when complete. Returns the path written.
func (a *BoxesApp) BackupToFile(ctx context.Context, out string) (string, *backup.Manifest, error) {
	snap, err := a.builder.Prepare(ctx)
	if err != nil {
		return "", nil, err
	}
	defer snap.Close()

	path := out
	if path == "" {
		path = snap.Filename()
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, snap.Filename())
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".boxes-backup-*.partial")
	if err != nil {
		return "", nil, fmt.Errorf("creating output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	m, err := snap.Stream(ctx, tmp)
	if err != nil {
		tmp.Close()
		return "", nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", nil, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", nil, fmt.Errorf("moving archive into place: %w", err)
	}

	a.logger.Info("backup written", "path", path, "attachments", m.Attachments)
	return path, m, nil
}

// Restore replaces the live data with the archive at path.
func (a *BoxesApp) Restore(ctx context.Context, path string) (*backup.Result, error) {
	res, err := a.restorer.RestoreFile(ctx, path)
	if err != nil {
		return res, err
	}
	a.inventory.RecordRestore(ctx, filepath.Base(path))
	return res, nil
}

// Vault opens the named vault, or the first configured one for "".
func (a *BoxesApp) Vault(ctx context.Context, name string) (boxes.Vault, error) {
	vc, err := a.cfg.Vault(name)
	if err != nil {
		return nil, err
	}
	v, err := vault.NewVaultFromConfig(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	return v, nil
}

// PushBackup uploads a fresh archive to the named vault, encrypted when
// encryption is enabled. Returns the vault key.
func (a *BoxesApp) PushBackup(ctx context.Context, vaultName string) (string, *backup.Manifest, error) {
	v, err := a.Vault(ctx, vaultName)
	if err != nil {
		return "", nil, err
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return "", nil, fmt.Errorf("vault %s not ready: %w", v.Name(), err)
	}
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return "", nil, encryption.ErrNotConfigured
	}
	return a.builder.Push(ctx, v, a.encryptor)
}

// ListArchives lists the archives stored in the named vault.
func (a *BoxesApp) ListArchives(ctx context.Context, vaultName string) ([]boxes.ArchiveInfo, error) {
	v, err := a.Vault(ctx, vaultName)
	if err != nil {
		return nil, err
	}
	return v.ListArchives(ctx)
}

// IsEncryptedArchive reports whether a vault key names an encrypted archive.
func IsEncryptedArchive(key string) bool {
	return strings.HasSuffix(key, backup.EncryptedSuffix)
}

// RestoreFromVault downloads an archive from the named vault and restores
// it. passphrase unlocks the private key for encrypted archives.
func (a *BoxesApp) RestoreFromVault(ctx context.Context, vaultName, key, passphrase string) (*backup.Result, error) {
	v, err := a.Vault(ctx, vaultName)
	if err != nil {
		return nil, err
	}

	var dec boxes.DecryptionContext
	if IsEncryptedArchive(key) {
		enc := a.encryptor
		if enc == nil {
			if enc, err = encryption.NewKeyManager(a.cfg.Encryption); err != nil {
				return nil, err
			}
		}
		if dec, err = enc.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	path, err := backup.Fetch(ctx, v, key, dec, a.area.Root())
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	res, err := a.restorer.RestoreFile(ctx, path)
	if err != nil {
		return res, err
	}
	a.inventory.RecordRestore(ctx, v.Name()+"/"+key)
	return res, nil
}

// Close finishes the operation and closes all resources.
func (a *BoxesApp) Close() error {
	d := a.op.Finish(a.clock.Now())
	a.logger.Debug("operation finished", "operation", a.op.Name, "parameters", a.op.Parameters, "status", a.op.Status, "duration", d)

	var firstErr error
	if err := a.store.Close(); err != nil && !errors.Is(err, database.ErrStoreUnavailable) {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	a.closeLog()
	return firstErr
}

func (a *BoxesApp) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
