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
	"sync"
	"testing"
	"time"

	"boxes-go/internal/archive"
	"boxes-go/internal/model"
	"boxes-go/internal/testutil"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{
			in:   time.Date(2026, 10, 19, 12, 34, 56, 789000000, time.UTC),
			want: "boxes-backup-2026-10-19T123456789Z.zip",
		},
		{
			in:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			want: "boxes-backup-2024-01-15T103000Z.zip",
		},
		{
			in:   time.Date(2024, 1, 15, 12, 30, 0, 0, time.FixedZone("CET", 2*3600)),
			want: "boxes-backup-2024-01-15T103000Z.zip",
		},
	}
	for _, tt := range tests {
		if got := Filename(tt.in); got != tt.want {
			t.Errorf("Filename(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLiveStateChanged(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: ErrUploadTooLarge, want: false},
		{err: ErrInvalidFormat, want: false},
		{err: ErrCorruptArchive, want: false},
		{err: ErrMissingStoreInArchive, want: false},
		{err: ErrRollbackUnavailable, want: false},
		{err: ErrRestoreInProgress, want: false},
		{err: ErrReplaceFailed, want: true},
		{err: ErrReconnectFailed, want: true},
		{err: ErrRestartRequired, want: true},
		{err: errors.Join(errors.New("x"), ErrReconnectFailed), want: true},
	}
	for _, tt := range tests {
		if got := LiveStateChanged(tt.err); got != tt.want {
			t.Errorf("LiveStateChanged(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCreate_ArchiveLayout(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	e.writeUpload(t, ".DS_Store", "junk")

	data := e.backupBytes(t)

	zr, err := archive.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive.NewReader() error = %v", err)
	}
	if zr.Find("data/boxes.db") == nil {
		t.Error("archive lacks data/boxes.db")
	}
	if zr.Find("uploads/receipts/r1.pdf") == nil {
		t.Error("archive lacks uploads/receipts/r1.pdf")
	}
	if zr.Find("uploads/.DS_Store") != nil {
		t.Error("archive contains an ignored file")
	}

	me := zr.Find(ManifestName)
	if me == nil {
		t.Fatal("archive lacks manifest")
	}
	rc, err := me.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if m.Version != FormatVersion || m.Product != Product || m.StoreFile != "boxes.db" {
		t.Errorf("manifest = %+v", m)
	}
	if m.CreatedAt != "2024-01-15T10:30:00Z" {
		t.Errorf("manifest CreatedAt = %q", m.CreatedAt)
	}
	if m.Attachments != 1 {
		t.Errorf("manifest Attachments = %d, want 1", m.Attachments)
	}

	if dirs := e.stagingDirs(t, snapshotPrefix); len(dirs) != 0 {
		t.Errorf("snapshot workspaces left behind: %v", dirs)
	}
}

func TestCreate_MissingStore(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	b := NewBuilder(missingStore{path: filepath.Join(e.root, "nope.db")}, e.layout, e.area, nil, nil)

	var buf bytes.Buffer
	_, err := b.Create(context.Background(), &buf)
	if !errors.Is(err, ErrMissingStore) {
		t.Fatalf("Create() error = %v, want ErrMissingStore", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Create() wrote %d bytes before failing", buf.Len())
	}
}

type missingStore struct{ path string }

func (s missingStore) Path() string                                  { return s.path }
func (missingStore) Checkpoint(context.Context) error                { return nil }
func (missingStore) Freeze(_ context.Context, fn func() error) error { return fn() }
func (missingStore) Detach() error                                   { return nil }
func (missingStore) Attach(context.Context) error                    { return nil }

// failingWriter accepts up to limit bytes in total and fails the write that
// would go past it, keeping the bytes that still fit.
type failingWriter struct {
	limit   int
	written int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	room := w.limit - w.written
	if len(p) > room {
		w.written += room
		return room, errors.New("disk full")
	}
	w.written += len(p)
	return len(p), nil
}

func TestCreate_WriteFailure(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	for _, limit := range []int{0, 512} {
		_, err := e.builder.Create(context.Background(), &failingWriter{limit: limit})
		if !errors.Is(err, ErrWriteFailed) {
			t.Fatalf("Create() with %d bytes of room error = %v, want ErrWriteFailed", limit, err)
		}
	}
	if dirs := e.stagingDirs(t, snapshotPrefix); len(dirs) != 0 {
		t.Errorf("snapshot workspaces left behind: %v", dirs)
	}
}

// Restoring an archive taken from state S brings back exactly S.
func TestRoundTripIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	e.store.CreateBox(ctx, &model.Box{ID: "box-2", Name: "Attic", CreatedAt: testTime.Add(time.Hour)})
	e.store.CreateItem(ctx, &model.Item{ID: "item-2", BoxID: "box-2", Name: "Lights", Quantity: 6, Details: "warm", CreatedAt: testTime})
	e.store.CreateLocation(ctx, &model.Location{ID: "loc-1", Name: "Shelf A", Description: ptr("by the door"), CreatedAt: testTime})
	e.store.CreateLocation(ctx, &model.Location{ID: "loc-2", Name: "Loft", CreatedAt: testTime})
	e.writeUpload(t, "misc/notes.txt", "not referenced by any item")

	wantState := e.state(t)
	wantTree := testutil.HashTree(t, e.layout.UploadsDir)
	data := e.backupBytes(t)

	// Diverge from S.
	e.store.DeleteBox(ctx, "box-2")
	e.store.CreateBox(ctx, &model.Box{ID: "box-3", Name: "New", CreatedAt: testTime})
	e.store.DeleteLocation(ctx, "loc-2")
	os.Remove(filepath.Join(e.layout.UploadsDir, "misc", "notes.txt"))
	e.writeUpload(t, "receipts/extra.pdf", "added after backup")

	res, err := e.restoreBytes(data)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.Manifest == nil || res.Manifest.Version != FormatVersion {
		t.Errorf("Result.Manifest = %+v", res.Manifest)
	}

	assertStateEqual(t, e.state(t), wantState)
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
		t.Errorf("attachment tree = %v, want %v", got, wantTree)
	}

	if st := e.restorer.Status(); st.Phase != PhaseIdle || st.LastError != "" {
		t.Errorf("Status() = %+v, want idle without error", st)
	}
	for _, prefix := range []string{restorePrefix, rollbackPrefix, snapshotPrefix} {
		if dirs := e.stagingDirs(t, prefix); len(dirs) != 0 {
			t.Errorf("%s directories left behind: %v", prefix, dirs)
		}
	}
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Backups never change the records or the attachment tree.
func TestBackupIsNonDestructive(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	wantState := e.state(t)
	wantTree := testutil.HashTree(t, e.layout.UploadsDir)

	for i := 0; i < 3; i++ {
		e.backupBytes(t)
	}

	assertStateEqual(t, e.state(t), wantState)
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
		t.Errorf("attachment tree changed: %v, want %v", got, wantTree)
	}
}

// Backups interleave with writes; each archive is a consistent snapshot.
func TestBackupConcurrentWithWrites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			id := fmt.Sprintf("bulk-%02d", i)
			if err := e.store.CreateBox(ctx, &model.Box{ID: id, Name: id, CreatedAt: testTime}); err != nil {
				t.Errorf("CreateBox() error = %v", err)
				return
			}
		}
	}()

	var archives [][]byte
	for i := 0; i < 3; i++ {
		archives = append(archives, e.backupBytes(t))
	}
	wg.Wait()

	for i, data := range archives {
		re := newEnv(t, defaultEnvOptions())
		if _, err := re.restoreBytes(data); err != nil {
			t.Fatalf("archive %d: Restore() error = %v", i, err)
		}
		b, err := re.store.GetBox(ctx, "box-1")
		if err != nil {
			t.Errorf("archive %d: store unreadable after restore: %v", i, err)
		} else if b == nil {
			t.Errorf("archive %d: box-1 missing", i)
		}
	}
}

// Feeding bad archives to restore changes nothing.
func TestInvalidArchiveNeverMutates(t *testing.T) {
	db := sqliteBytes(t)

	tests := []struct {
		name    string
		data    func(t *testing.T) []byte
		wantErr error
	}{
		{
			name:    "not an archive",
			data:    func(*testing.T) []byte { return []byte("definitely not a zip file") },
			wantErr: ErrInvalidFormat,
		},
		{
			name:    "empty upload",
			data:    func(*testing.T) []byte { return nil },
			wantErr: ErrInvalidFormat,
		},
		{
			name: "no store file",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"uploads/receipts/r1.pdf": []byte("pdf")})
			},
			wantErr: ErrMissingStoreInArchive,
		},
		{
			name: "store file is not sqlite",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"data/boxes.db": []byte("plain text pretending to be a database")})
			},
			wantErr: ErrCorruptArchive,
		},
		{
			name: "path traversal",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"data/boxes.db": db, "../../escape.txt": []byte("evil")})
			},
			wantErr: ErrCorruptArchive,
		},
		{
			name: "truncated archive",
			data: func(t *testing.T) []byte {
				full := rawZip(t, map[string][]byte{"data/boxes.db": db})
				return full[:len(full)/2]
			},
			wantErr: ErrInvalidFormat,
		},
		{
			name: "attachment tree is a file",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"data/boxes.db": db, "uploads": []byte("not a directory")})
			},
			wantErr: ErrCorruptArchive,
		},
		{
			name: "journal side file is a directory",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"data/boxes.db": db, "data/boxes.db-wal/frames": []byte("x")})
			},
			wantErr: ErrCorruptArchive,
		},
		{
			name: "undecodable manifest",
			data: func(t *testing.T) []byte {
				return rawZip(t, map[string][]byte{"data/boxes.db": db, ManifestName: []byte("{not json")})
			},
			wantErr: ErrCorruptArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, defaultEnvOptions())
			e.seedGarage(t)
			if err := e.store.Checkpoint(context.Background()); err != nil {
				t.Fatal(err)
			}

			info, err := os.Stat(e.layout.StorePath)
			if err != nil {
				t.Fatal(err)
			}
			wantHash := testutil.HashFile(t, e.layout.StorePath)
			wantTree := testutil.HashTree(t, e.layout.UploadsDir)
			wantState := e.state(t)

			_, err = e.restoreBytes(tt.data(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Restore() error = %v, want %v", err, tt.wantErr)
			}
			if LiveStateChanged(err) {
				t.Errorf("LiveStateChanged(%v) = true", err)
			}

			after, err := os.Stat(e.layout.StorePath)
			if err != nil {
				t.Fatal(err)
			}
			if !after.ModTime().Equal(info.ModTime()) {
				t.Errorf("store mtime changed: %v -> %v", info.ModTime(), after.ModTime())
			}
			if got := testutil.HashFile(t, e.layout.StorePath); got != wantHash {
				t.Error("store content changed")
			}
			if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
				t.Errorf("attachment tree changed: %v", got)
			}
			assertStateEqual(t, e.state(t), wantState)

			if dirs := e.stagingDirs(t, restorePrefix); len(dirs) != 0 {
				t.Errorf("staging directories left behind: %v", dirs)
			}
			if st := e.restorer.Status(); st.Phase != PhaseIdle || st.LastError == "" {
				t.Errorf("Status() = %+v, want idle with error recorded", st)
			}
		})
	}
}

// Entries climbing out of the staging root are never written.
func TestPathTraversalRejected(t *testing.T) {
	names := []string{
		"../../escape.txt",
		"uploads/../../escape.txt",
		"data/../../../escape.txt",
		"/escape.txt",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, defaultEnvOptions())
			data := rawZip(t, map[string][]byte{name: []byte("evil")})

			_, err := e.reader.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
			if !errors.Is(err, ErrCorruptArchive) {
				t.Fatalf("Extract() error = %v, want ErrCorruptArchive", err)
			}

			var escaped []string
			filepath.Walk(e.root, func(p string, info os.FileInfo, err error) error {
				if err == nil && info.Name() == "escape.txt" {
					escaped = append(escaped, p)
				}
				return nil
			})
			if len(escaped) != 0 {
				t.Errorf("escape.txt written at %v", escaped)
			}
			if dirs := e.stagingDirs(t, restorePrefix); len(dirs) != 0 {
				t.Errorf("staging directories left behind: %v", dirs)
			}
		})
	}
}

// Oversized uploads are refused before a staging directory exists.
func TestOversizedUploadRejected(t *testing.T) {
	opts := defaultEnvOptions()
	opts.reader.MaxUploadSize = 1024
	e := newEnv(t, opts)

	data := rawZip(t, map[string][]byte{"data/boxes.db": bytes.Repeat([]byte{0}, 1)})
	_, err := e.reader.Extract(context.Background(), bytes.NewReader(data), 1025)
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("Extract() error = %v, want ErrUploadTooLarge", err)
	}

	entries, err := os.ReadDir(e.area.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root not empty: %v", entries)
	}
}

// Small archives that expand past the extraction cap are stopped.
func TestZipBombRejected(t *testing.T) {
	opts := defaultEnvOptions()
	opts.reader.MaxExtractedSize = 256 << 10
	e := newEnv(t, opts)

	data := rawZip(t, map[string][]byte{
		"data/boxes.db":      sqliteBytes(t),
		"uploads/bomb.bin":   bytes.Repeat([]byte{0}, 1<<20),
		"uploads/second.bin": []byte("x"),
	})
	if int64(len(data)) > opts.reader.MaxUploadSize {
		t.Fatalf("test archive too large: %d", len(data))
	}

	_, err := e.reader.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("Extract() error = %v, want ErrUploadTooLarge", err)
	}
	if dirs := e.stagingDirs(t, restorePrefix); len(dirs) != 0 {
		t.Errorf("staging directories left behind: %v", dirs)
	}
}

// The Garage and Drill walkthrough.
func TestEndToEndGarageDrill(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	data := e.backupBytes(t)

	if ok, err := e.store.DeleteItem(ctx, "item-1"); err != nil || !ok {
		t.Fatalf("DeleteItem() = %v, %v", ok, err)
	}
	if it, _ := e.store.GetItem(ctx, "item-1"); it != nil {
		t.Fatal("item-1 still present after delete")
	}

	if _, err := e.restoreBytes(data); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	it, err := e.store.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if it == nil {
		t.Fatal("item-1 missing after restore")
	}
	if it.BoxID != "box-1" || it.Name != "Drill" || it.Quantity != 1 {
		t.Errorf("item-1 = %+v", it)
	}
	if it.Value == nil || *it.Value != 50.0 {
		t.Errorf("item-1 Value = %v, want 50", it.Value)
	}
	if it.ReceiptFilename == nil || *it.ReceiptFilename != "r1.pdf" {
		t.Errorf("item-1 ReceiptFilename = %v, want r1.pdf", it.ReceiptFilename)
	}

	got, err := os.ReadFile(filepath.Join(e.layout.UploadsDir, "receipts", "r1.pdf"))
	if err != nil {
		t.Fatalf("reading receipt: %v", err)
	}
	if string(got) != "%PDF-1.4 drill receipt" {
		t.Errorf("receipt content = %q", got)
	}
}

// blockingStore pauses inside Detach, which runs in the replacing phase.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Detach() error {
	close(s.entered)
	<-s.release
	return s.Store.Detach()
}

// A second restore during replacing is turned away.
func TestConcurrentRestoreRejected(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	opts := defaultEnvOptions()
	opts.wrap = func(s Store) Store {
		bs.Store = s
		return bs
	}
	e := newEnv(t, opts)
	e.seedGarage(t)
	data := e.backupBytes(t)

	done := make(chan error, 1)
	go func() {
		_, err := e.restoreBytes(data)
		done <- err
	}()

	<-bs.entered
	if st := e.restorer.Status(); st.Phase != PhaseReplacing {
		t.Errorf("Status().Phase = %s, want %s", st.Phase, PhaseReplacing)
	}

	_, err := e.restoreBytes(data)
	if !errors.Is(err, ErrRestoreInProgress) {
		t.Errorf("second Restore() error = %v, want ErrRestoreInProgress", err)
	}

	close(bs.release)
	if err := <-done; err != nil {
		t.Fatalf("first Restore() error = %v", err)
	}
}

func TestRestore_CancelledBeforeReplace(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)
	wantState := e.state(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.restorer.Restore(ctx, bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Restore() error = %v, want context.Canceled", err)
	}
	assertStateEqual(t, e.state(t), wantState)
	if dirs := e.stagingDirs(t, restorePrefix); len(dirs) != 0 {
		t.Errorf("staging directories left behind: %v", dirs)
	}
}

func TestRestore_ManifestVersionPolicy(t *testing.T) {
	db := sqliteBytes(t)
	manifest, _ := json.Marshal(Manifest{Version: "99", StoreFile: "boxes.db", Product: Product})
	data := rawZip(t, map[string][]byte{"data/boxes.db": db, ManifestName: manifest})

	t.Run("tolerant", func(t *testing.T) {
		e := newEnv(t, defaultEnvOptions())
		res, err := e.restoreBytes(data)
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if res.Manifest.Version != "99" {
			t.Errorf("Manifest.Version = %q, want 99", res.Manifest.Version)
		}
	})

	t.Run("strict", func(t *testing.T) {
		opts := defaultEnvOptions()
		opts.reader.StrictVersion = true
		e := newEnv(t, opts)

		_, err := e.restoreBytes(data)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("Restore() error = %v, want ErrInvalidFormat", err)
		}
		entries, _ := os.ReadDir(e.area.Root())
		if len(entries) != 0 {
			t.Errorf("staging root not empty: %v", entries)
		}
	})
}

func TestRestore_ArchiveWithoutManifestOrUploads(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	data := rawZip(t, map[string][]byte{"data/boxes.db": sqliteBytes(t)})
	res, err := e.restoreBytes(data)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.Manifest != nil {
		t.Errorf("Manifest = %+v, want nil", res.Manifest)
	}

	if st := e.state(t); len(st.Boxes) != 0 {
		t.Errorf("boxes after restoring an empty store = %d, want 0", len(st.Boxes))
	}
	if got := testutil.HashTree(t, e.layout.UploadsDir); len(got) != 0 {
		t.Errorf("attachment tree = %v, want empty", got)
	}
	if _, err := os.Stat(e.layout.UploadsDir); err != nil {
		t.Errorf("attachment root removed: %v", err)
	}
}

func TestRestoreFile(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	path := filepath.Join(t.TempDir(), "backup.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.builder.Create(context.Background(), f); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.Close()

	e.store.DeleteBox(context.Background(), "box-1")

	if _, err := e.restorer.RestoreFile(context.Background(), path); err != nil {
		t.Fatalf("RestoreFile() error = %v", err)
	}
	if b, _ := e.store.GetBox(context.Background(), "box-1"); b == nil {
		t.Error("box-1 missing after RestoreFile")
	}
}

func TestExtract_SkipsUnknownTopLevelEntries(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	data := rawZip(t, map[string][]byte{
		"data/boxes.db":   sqliteBytes(t),
		"README.txt":      []byte("hello"),
		"other/thing.bin": []byte("x"),
	})

	staged, err := e.reader.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Close()

	if err := e.reader.Validate(staged); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	for _, name := range []string{"README.txt", "other"} {
		if _, err := os.Stat(filepath.Join(staged.Path(), name)); err == nil {
			t.Errorf("%s was extracted", name)
		}
	}
}

func TestReader_RejectsBadManifestStoreFile(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	manifest, _ := json.Marshal(Manifest{Version: FormatVersion, StoreFile: "../boxes.db"})
	data := rawZip(t, map[string][]byte{"data/boxes.db": sqliteBytes(t), ManifestName: manifest})

	_, err := e.reader.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("Extract() error = %v, want ErrCorruptArchive", err)
	}
}

func TestSnapshot_StreamAfterPrepare(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)

	snap, err := e.builder.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer snap.Close()

	if !strings.HasPrefix(snap.Filename(), "boxes-backup-") {
		t.Errorf("Filename() = %q", snap.Filename())
	}

	// Writes after Prepare are not in the snapshot.
	e.store.DeleteBox(context.Background(), "box-1")

	var buf bytes.Buffer
	if _, err := snap.Stream(context.Background(), &buf); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	re := newEnv(t, defaultEnvOptions())
	if _, err := re.restoreBytes(buf.Bytes()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if b, _ := re.store.GetBox(context.Background(), "box-1"); b == nil {
		t.Error("snapshot lost box-1")
	}
}

func TestSnapshot_StreamFailsAfterRestore(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)

	snap, err := e.builder.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer snap.Close()

	// A restore that never reaches replacing leaves the snapshot usable.
	if _, err := e.restoreBytes([]byte("not a zip")); err == nil {
		t.Fatal("Restore() of garbage succeeded")
	}
	if _, err := snap.Stream(context.Background(), io.Discard); err != nil {
		t.Fatalf("Stream() after rejected restore error = %v", err)
	}

	snap2, err := e.builder.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer snap2.Close()

	if _, err := e.restoreBytes(data); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := snap2.Stream(context.Background(), io.Discard); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Stream() across a restore error = %v, want ErrWriteFailed", err)
	}
}
