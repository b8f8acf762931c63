package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"boxes-go/internal/boxes"
	"boxes-go/internal/database"
	"boxes-go/internal/fs"
	"boxes-go/internal/model"
	"boxes-go/internal/staging"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// env is a complete backup/restore setup on a temp directory.
type env struct {
	root     string
	store    *database.SQLiteStore
	layout   Layout
	area     *staging.Area
	builder  *Builder
	reader   *ArchiveReader
	replacer *Replacer
	restorer *Restorer
}

type envOptions struct {
	reader   ReaderOptions
	rollback bool
	// wrap lets a test interpose on the store seen by the restorer.
	wrap func(Store) Store
}

func defaultEnvOptions() envOptions {
	return envOptions{
		reader:   ReaderOptions{MaxUploadSize: 10 << 20, MaxExtractedSize: 50 << 20},
		rollback: true,
	}
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	root := t.TempDir()
	storePath := filepath.Join(root, "data", "boxes.db")

	store, err := database.Open(context.Background(), storePath, database.Options{})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	area, err := staging.NewArea(filepath.Join(root, "data", "temp"), 100<<20)
	if err != nil {
		t.Fatalf("staging.NewArea() error = %v", err)
	}

	uploads := filepath.Join(root, "uploads")
	if err := os.MkdirAll(uploads, 0755); err != nil {
		t.Fatal(err)
	}

	layout := Layout{
		StorePath:  storePath,
		UploadsDir: uploads,
		Ignore:     fs.NewIgnoreMatcher([]string{".DS_Store"}),
	}

	var restoreStore Store = store
	if opts.wrap != nil {
		restoreStore = opts.wrap(store)
	}

	logger := boxes.NewNopLogger()
	clock := fixedClock{testTime}
	reader := NewArchiveReader(area, layout.StoreFile(), opts.reader, logger)
	replacer := NewReplacer(layout, area, logger)

	return &env{
		root:     root,
		store:    store,
		layout:   layout,
		area:     area,
		builder:  NewBuilder(store, layout, area, clock, logger),
		reader:   reader,
		replacer: replacer,
		restorer: NewRestorer(reader, replacer, restoreStore, RestorerOptions{Rollback: opts.rollback, Clock: clock, Logger: logger}),
	}
}

func ptr[T any](v T) *T { return &v }

// seedGarage stores the Garage box with its Drill and the drill's receipt.
func (e *env) seedGarage(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.CreateBox(ctx, &model.Box{ID: "box-1", Name: "Garage", Location: "Shelf A", Description: "tools", CreatedAt: testTime}); err != nil {
		t.Fatal(err)
	}
	drill := &model.Item{
		ID: "item-1", BoxID: "box-1", Name: "Drill", Quantity: 1,
		Value: ptr(50.0), ReceiptFilename: ptr("r1.pdf"), CreatedAt: testTime,
	}
	if err := e.store.CreateItem(ctx, drill); err != nil {
		t.Fatal(err)
	}
	e.writeUpload(t, "receipts/r1.pdf", "%PDF-1.4 drill receipt")
}

func (e *env) writeUpload(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(e.layout.UploadsDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// backupBytes creates an archive of the current state.
func (e *env) backupBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := e.builder.Create(context.Background(), &buf); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return buf.Bytes()
}

func (e *env) restoreBytes(data []byte) (*Result, error) {
	return e.restorer.Restore(context.Background(), bytes.NewReader(data), int64(len(data)))
}

// storeState is every record in the store.
type storeState struct {
	Boxes     []model.Box
	Items     []model.Item
	Locations []model.Location
}

func (e *env) state(t *testing.T) storeState {
	t.Helper()
	ctx := context.Background()

	var st storeState
	bs, err := e.store.ListBoxes(ctx)
	if err != nil {
		t.Fatalf("ListBoxes() error = %v", err)
	}
	for _, b := range bs {
		b.CreatedAt = b.CreatedAt.UTC()
		st.Boxes = append(st.Boxes, *b)
	}
	is, err := e.store.ListAllItems(ctx)
	if err != nil {
		t.Fatalf("ListAllItems() error = %v", err)
	}
	for _, it := range is {
		it.CreatedAt = it.CreatedAt.UTC()
		st.Items = append(st.Items, *it)
	}
	ls, err := e.store.ListLocations(ctx)
	if err != nil {
		t.Fatalf("ListLocations() error = %v", err)
	}
	for _, l := range ls {
		l.CreatedAt = l.CreatedAt.UTC()
		st.Locations = append(st.Locations, *l)
	}
	return st
}

func assertStateEqual(t *testing.T, got, want storeState) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("store state differs\n got: %+v\nwant: %+v", got, want)
	}
}

// stagingDirs lists leftover directories with the given prefix.
func (e *env) stagingDirs(t *testing.T, prefix string) []string {
	t.Helper()
	names, err := e.area.List(prefix)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	sort.Strings(names)
	return names
}

// rawZip builds an archive with arbitrary entries, bypassing name checks.
func rawZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// sqliteBytes returns the bytes of a valid, migrated store file.
func sqliteBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x.db")
	s, err := database.Open(context.Background(), path, database.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
