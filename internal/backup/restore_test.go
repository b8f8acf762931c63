package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boxes-go/internal/boxes"
	"boxes-go/internal/encryption"
	"boxes-go/internal/model"
	"boxes-go/internal/staging"
	"boxes-go/internal/testutil"
	"boxes-go/internal/vault"
)

// flakyStore reports a failed reconnect for the first failures attaches,
// after the real store has been reopened.
type flakyStore struct {
	Store
	failures int
	attaches int
}

var errInjected = errors.New("injected attach failure")

func (s *flakyStore) Attach(ctx context.Context) error {
	s.attaches++
	if err := s.Store.Attach(ctx); err != nil {
		return err
	}
	if s.failures > 0 {
		s.failures--
		return errInjected
	}
	return nil
}

func TestRestore_RollbackOnReconnectFailure(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{failures: 1}
	opts := defaultEnvOptions()
	opts.wrap = func(s Store) Store {
		flaky.Store = s
		return flaky
	}
	e := newEnv(t, opts)

	// The archive holds only the Garage box.
	e.seedGarage(t)
	data := e.backupBytes(t)

	// The live state has an extra box and attachment.
	e.store.CreateBox(ctx, &model.Box{ID: "box-2", Name: "Attic", CreatedAt: testTime})
	e.writeUpload(t, "receipts/r2.pdf", "second receipt")
	wantState := e.state(t)
	wantTree := testutil.HashTree(t, e.layout.UploadsDir)

	res, err := e.restoreBytes(data)
	if !errors.Is(err, ErrReconnectFailed) {
		t.Fatalf("Restore() error = %v, want ErrReconnectFailed", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("Restore() error = %v, want the cause wrapped", err)
	}
	if !LiveStateChanged(err) {
		t.Error("LiveStateChanged() = false for a reconnect failure")
	}
	if res == nil || !res.RolledBack || res.RollbackDir != "" {
		t.Fatalf("Result = %+v, want rolled back without rollback dir", res)
	}
	if flaky.attaches != 2 {
		t.Errorf("Attach called %d times, want 2", flaky.attaches)
	}

	assertStateEqual(t, e.state(t), wantState)
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
		t.Errorf("attachment tree = %v, want %v", got, wantTree)
	}

	st := e.restorer.Status()
	if st.Phase != PhaseIdle || !st.RolledBack || !strings.Contains(st.LastError, "injected") {
		t.Errorf("Status() = %+v", st)
	}
	if dirs := e.stagingDirs(t, rollbackPrefix); len(dirs) != 0 {
		t.Errorf("rollback directories left behind: %v", dirs)
	}

	// The restorer stays usable.
	if _, err := e.restoreBytes(data); err != nil {
		t.Fatalf("second Restore() error = %v", err)
	}
	if b, _ := e.store.GetBox(ctx, "box-2"); b != nil {
		t.Error("box-2 survived a successful restore")
	}
}

func TestRestore_RollbackDisabledRequiresRestart(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{failures: 1}
	opts := defaultEnvOptions()
	opts.rollback = false
	opts.wrap = func(s Store) Store {
		flaky.Store = s
		return flaky
	}
	e := newEnv(t, opts)
	e.seedGarage(t)
	data := e.backupBytes(t)
	e.store.CreateBox(ctx, &model.Box{ID: "box-2", Name: "Attic", CreatedAt: testTime})

	res, err := e.restoreBytes(data)
	if !errors.Is(err, ErrReconnectFailed) {
		t.Fatalf("Restore() error = %v, want ErrReconnectFailed", err)
	}
	if res.RolledBack {
		t.Error("RolledBack = true with rollback disabled")
	}
	if res.RollbackDir == "" {
		t.Fatal("RollbackDir empty; previous data must be kept")
	}
	if _, err := os.Stat(filepath.Join(res.RollbackDir, "data", "boxes.db")); err != nil {
		t.Errorf("previous store not kept in rollback dir: %v", err)
	}

	st := e.restorer.Status()
	if st.Phase != PhaseFailed || st.RollbackDir != res.RollbackDir {
		t.Errorf("Status() = %+v, want failed with rollback dir", st)
	}

	_, err = e.restoreBytes(data)
	if !errors.Is(err, ErrRestartRequired) {
		t.Errorf("Restore() after failure error = %v, want ErrRestartRequired", err)
	}
	if !LiveStateChanged(err) {
		t.Error("LiveStateChanged(ErrRestartRequired) = false")
	}
}

func TestRestore_NothingSetAside(t *testing.T) {
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)
	e.store.DeleteBox(context.Background(), "box-1")
	want := e.state(t)
	wantUploads := testutil.HashTree(t, e.layout.UploadsDir)

	// A file where the rollback area should be makes every Create fail.
	rbRoot := filepath.Join(e.root, "rollback-area")
	rbArea, err := staging.NewArea(rbRoot, 100<<20)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(rbRoot); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(rbRoot, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	logger := boxes.NewNopLogger()
	restorer := NewRestorer(e.reader, NewReplacer(e.layout, rbArea, logger), e.store,
		RestorerOptions{Rollback: true, Clock: fixedClock{testTime}, Logger: logger})

	res, err := restorer.Restore(context.Background(), bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrRollbackUnavailable) {
		t.Fatalf("Restore() error = %v, want ErrRollbackUnavailable", err)
	}
	if LiveStateChanged(err) {
		t.Error("LiveStateChanged() = true when nothing was moved")
	}
	if res != nil && (res.RolledBack || res.RollbackDir != "") {
		t.Errorf("Result = %+v, want no rollback", res)
	}

	st := restorer.Status()
	if st.Phase != PhaseIdle || st.RolledBack {
		t.Errorf("Status() = %+v, want idle without rollback", st)
	}
	assertStateEqual(t, e.state(t), want)
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantUploads) {
		t.Errorf("attachments changed: got %v, want %v", got, wantUploads)
	}

	// The store was reattached and the restore slot released.
	if _, err := e.restoreBytes(data); err != nil {
		t.Fatalf("Restore() afterwards error = %v", err)
	}
	if b, _ := e.store.GetBox(context.Background(), "box-1"); b == nil {
		t.Error("box-1 missing after a working restore")
	}
}

func TestReplacer_ReplaceAndUndo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)

	e.store.CreateBox(ctx, &model.Box{ID: "box-2", Name: "Attic", CreatedAt: testTime})
	e.writeUpload(t, "photos/attic.jpg", "jpeg")
	wantState := e.state(t)
	wantTree := testutil.HashTree(t, e.layout.UploadsDir)

	staged, err := e.reader.Extract(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Close()
	if err := e.reader.Validate(staged); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if err := e.store.Detach(); err != nil {
		t.Fatal(err)
	}
	rb, err := e.replacer.Replace(staged)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.layout.UploadsDir, "photos")); !os.IsNotExist(err) {
		t.Errorf("photos still live after Replace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(rb.Path(), "uploads", "photos", "attic.jpg")); err != nil {
		t.Errorf("photos not moved aside: %v", err)
	}

	if err := e.replacer.Undo(rb); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if _, err := os.Stat(rb.Path()); !os.IsNotExist(err) {
		t.Errorf("rollback dir kept after Undo: %v", err)
	}
	if err := e.store.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	assertStateEqual(t, e.state(t), wantState)
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
		t.Errorf("attachment tree = %v, want %v", got, wantTree)
	}
}

// Undo after a replace that stopped partway returns what was moved aside and
// leaves the live entries it never reached alone.
func TestReplacer_UndoAfterPartialMove(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	e.writeUpload(t, "a/one.txt", "one")
	e.writeUpload(t, "b/two.txt", "two")
	wantState := e.state(t)
	wantTree := testutil.HashTree(t, e.layout.UploadsDir)

	if err := e.store.Detach(); err != nil {
		t.Fatal(err)
	}
	wal := e.layout.StorePath + "-wal"
	if err := os.WriteFile(wal, []byte("journal not yet moved"), 0644); err != nil {
		t.Fatal(err)
	}

	dir, err := e.area.Create(rollbackPrefix)
	if err != nil {
		t.Fatal(err)
	}
	rb := &Rollback{dir: dir}
	if err := os.MkdirAll(rb.dataDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(e.layout.StorePath, filepath.Join(rb.dataDir(), e.layout.StoreFile())); err != nil {
		t.Fatal(err)
	}
	rb.storeOut = []string{""}
	if err := os.MkdirAll(rb.uploadsDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(e.layout.UploadsDir, "a"), filepath.Join(rb.uploadsDir(), "a")); err != nil {
		t.Fatal(err)
	}
	rb.uploadsOut = []string{"a"}

	if err := e.replacer.Undo(rb); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}

	if got := testutil.ReadFile(t, wal); got != "journal not yet moved" {
		t.Errorf("live journal = %q after Undo", got)
	}
	if got := testutil.HashTree(t, e.layout.UploadsDir); !mapsEqual(got, wantTree) {
		t.Errorf("attachment tree = %v, want %v", got, wantTree)
	}

	if err := os.Remove(wal); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	assertStateEqual(t, e.state(t), wantState)
}

func TestReplacer_MissingStagedStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)
	wantState := e.state(t)

	staged, err := e.reader.Extract(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Close()
	os.Remove(staged.StorePath())

	if err := e.store.Detach(); err != nil {
		t.Fatal(err)
	}
	rb, err := e.replacer.Replace(staged)
	if !errors.Is(err, ErrReplaceFailed) {
		t.Fatalf("Replace() error = %v, want ErrReplaceFailed", err)
	}
	if rb == nil {
		t.Fatal("Replace() returned nil rollback after moving live files")
	}
	if _, err := os.Stat(e.layout.StorePath); !os.IsNotExist(err) {
		t.Errorf("live store present after failed replace: %v", err)
	}

	if err := e.replacer.Undo(rb); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if err := e.store.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	assertStateEqual(t, e.state(t), wantState)
}

func TestReplacer_KeepsExcludedDirectories(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, defaultEnvOptions())
	e.seedGarage(t)
	data := e.backupBytes(t)

	e.writeUpload(t, "cache/thumb.png", "png")
	e.replacer = NewReplacer(Layout{
		StorePath:  e.layout.StorePath,
		UploadsDir: e.layout.UploadsDir,
		Exclude:    []string{filepath.Join(e.layout.UploadsDir, "cache")},
	}, e.area, nil)

	staged, err := e.reader.Extract(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Close()

	e.store.Detach()
	rb, err := e.replacer.Replace(staged)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	rb.Discard()
	if err := e.store.Attach(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(e.layout.UploadsDir, "cache", "thumb.png")); err != nil {
		t.Errorf("excluded directory was replaced: %v", err)
	}
}

func TestPushFetch(t *testing.T) {
	tests := []struct {
		name    string
		enc     boxes.Encryptor
		wantExt string
	}{
		{name: "plain", wantExt: ".zip"},
		{name: "encrypted", enc: testutil.NewTestEncryptor(), wantExt: ".zip.age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, defaultEnvOptions())
			e.seedGarage(t)
			v := testutil.NewTestVault()

			key, m, err := e.builder.Push(ctx, v, tt.enc)
			if err != nil {
				t.Fatalf("Push() error = %v", err)
			}
			if !strings.HasSuffix(key, tt.wantExt) || !strings.HasPrefix(key, "boxes-backup-") {
				t.Errorf("Push() key = %q", key)
			}
			if m.Attachments != 1 {
				t.Errorf("Manifest.Attachments = %d, want 1", m.Attachments)
			}
			if dirs := e.stagingDirs(t, snapshotPrefix); len(dirs) != 0 {
				t.Errorf("snapshot workspaces left behind: %v", dirs)
			}

			list, err := v.ListArchives(ctx)
			if err != nil || len(list) != 1 || list[0].Key != key {
				t.Fatalf("ListArchives() = %v, %v", list, err)
			}

			e.store.DeleteItem(ctx, "item-1")

			var dec boxes.DecryptionContext
			if tt.enc != nil {
				if dec, err = tt.enc.Unlock("any"); err != nil {
					t.Fatal(err)
				}
			}
			path, err := Fetch(ctx, v, key, dec, t.TempDir())
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if _, err := e.restorer.RestoreFile(ctx, path); err != nil {
				t.Fatalf("RestoreFile() error = %v", err)
			}
			if it, _ := e.store.GetItem(ctx, "item-1"); it == nil {
				t.Error("item-1 missing after restoring the fetched archive")
			}
		})
	}
}

func TestFetch_DecryptFailure(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault("offsite")
	v.PutArchive(ctx, "a.zip.age", strings.NewReader("not produced by the encryptor"), -1)

	dir := t.TempDir()
	_, err := Fetch(ctx, v, "a.zip.age", &encryption.TestDecryptionContext{}, dir)
	if err == nil || !strings.Contains(err.Error(), "decrypting") {
		t.Fatalf("Fetch() error = %v, want decryption failure", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial download left behind: %v", entries)
	}
}

func TestFetch_EncryptedNeedsKey(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault("offsite")
	v.PutArchive(ctx, "a.zip.age", strings.NewReader("x"), 1)

	if _, err := Fetch(ctx, v, "a.zip.age", nil, t.TempDir()); err == nil {
		t.Error("Fetch() of an encrypted archive without a key should fail")
	}
}

func TestFetch_Missing(t *testing.T) {
	dir := t.TempDir()
	_, err := Fetch(context.Background(), vault.NewMemoryVault("offsite"), "nope.zip", nil, dir)
	if !errors.Is(err, vault.ErrArchiveNotFound) {
		t.Fatalf("Fetch() error = %v, want ErrArchiveNotFound", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial download left behind: %v", entries)
	}
}
