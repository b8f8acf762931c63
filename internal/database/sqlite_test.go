package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"boxes-go/internal/model"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestStore opens a file-backed store in a temp dir.
func newTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "boxes.db"), opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSQLiteStore_Boxes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	t.Run("returns nil when box not found", func(t *testing.T) {
		b, err := s.GetBox(ctx, "missing")
		if err != nil {
			t.Fatalf("GetBox() error = %v", err)
		}
		if b != nil {
			t.Errorf("GetBox() = %v, want nil", b)
		}
	})

	box := &model.Box{ID: "box-1", Name: "Garage", Location: "Shelf A", Description: "tools", CreatedAt: testTime}
	if err := s.CreateBox(ctx, box); err != nil {
		t.Fatalf("CreateBox() error = %v", err)
	}

	t.Run("round trips fields", func(t *testing.T) {
		got, err := s.GetBox(ctx, "box-1")
		if err != nil {
			t.Fatalf("GetBox() error = %v", err)
		}
		if got.Name != "Garage" || got.Location != "Shelf A" || got.Description != "tools" {
			t.Errorf("GetBox() = %+v", got)
		}
		if !got.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testTime)
		}
	})

	t.Run("updates", func(t *testing.T) {
		ok, err := s.UpdateBox(ctx, &model.Box{ID: "box-1", Name: "Garage 2", Location: "Shelf B"})
		if err != nil || !ok {
			t.Fatalf("UpdateBox() = %v, %v", ok, err)
		}
		got, _ := s.GetBox(ctx, "box-1")
		if got.Name != "Garage 2" || got.Location != "Shelf B" {
			t.Errorf("after update = %+v", got)
		}

		ok, err = s.UpdateBox(ctx, &model.Box{ID: "missing", Name: "x"})
		if err != nil || ok {
			t.Errorf("UpdateBox(missing) = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("counts boxes at location", func(t *testing.T) {
		n, err := s.CountBoxesAtLocation(ctx, "Shelf B")
		if err != nil {
			t.Fatalf("CountBoxesAtLocation() error = %v", err)
		}
		if n != 1 {
			t.Errorf("CountBoxesAtLocation() = %d, want 1", n)
		}
	})
}

func TestSQLiteStore_ItemsCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	if err := s.CreateBox(ctx, &model.Box{ID: "box-1", Name: "Garage", CreatedAt: testTime}); err != nil {
		t.Fatal(err)
	}
	item := &model.Item{
		ID: "item-1", BoxID: "box-1", Name: "Drill", Quantity: 1,
		Value: ptr(50.0), ReceiptFilename: ptr("r1.pdf"), CreatedAt: testTime,
	}
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}
	if err := s.CreateItem(ctx, &model.Item{ID: "item-2", BoxID: "box-1", Name: "Saw", Quantity: 2, CreatedAt: testTime}); err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}

	got, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Value == nil || *got.Value != 50.0 {
		t.Errorf("Value = %v, want 50", got.Value)
	}
	if got.ReceiptFilename == nil || *got.ReceiptFilename != "r1.pdf" {
		t.Errorf("ReceiptFilename = %v, want r1.pdf", got.ReceiptFilename)
	}

	saw, _ := s.GetItem(ctx, "item-2")
	if saw.Value != nil || saw.ReceiptFilename != nil {
		t.Errorf("nullable fields = %v, %v; want nil", saw.Value, saw.ReceiptFilename)
	}

	n, err := s.CountReceiptReferences(ctx, "r1.pdf")
	if err != nil || n != 1 {
		t.Errorf("CountReceiptReferences() = %d, %v; want 1", n, err)
	}

	if ok, err := s.DeleteBox(ctx, "box-1"); err != nil || !ok {
		t.Fatalf("DeleteBox() = %v, %v", ok, err)
	}
	items, err := s.ListAllItems(ctx)
	if err != nil {
		t.Fatalf("ListAllItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items after box delete = %d, want 0", len(items))
	}
}

func TestSQLiteStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	s.CreateBox(ctx, &model.Box{ID: "b1", Name: "Garage", Location: "Shelf A", CreatedAt: testTime})
	s.CreateBox(ctx, &model.Box{ID: "b2", Name: "Attic", Description: "100% wool", CreatedAt: testTime})
	s.CreateItem(ctx, &model.Item{ID: "i1", BoxID: "b1", Name: "Drill", Quantity: 1, CreatedAt: testTime})

	tests := []struct {
		q         string
		wantBoxes int
		wantItems int
	}{
		{q: "gar", wantBoxes: 1},
		{q: "shelf", wantBoxes: 1},
		{q: "%", wantBoxes: 1},
		{q: "dri", wantItems: 1},
		{q: "zzz"},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			bs, err := s.SearchBoxes(ctx, tt.q)
			if err != nil {
				t.Fatalf("SearchBoxes() error = %v", err)
			}
			is, err := s.SearchItems(ctx, tt.q)
			if err != nil {
				t.Fatalf("SearchItems() error = %v", err)
			}
			if len(bs) != tt.wantBoxes || len(is) != tt.wantItems {
				t.Errorf("Search(%q) = %d boxes, %d items; want %d, %d", tt.q, len(bs), len(is), tt.wantBoxes, tt.wantItems)
			}
		})
	}
}

func TestSQLiteStore_LocationsAndActivity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	loc := &model.Location{ID: "loc-1", Name: "Shelf A", CreatedAt: testTime}
	if err := s.CreateLocation(ctx, loc); err != nil {
		t.Fatalf("CreateLocation() error = %v", err)
	}
	if err := s.CreateLocation(ctx, &model.Location{ID: "loc-2", Name: "Shelf A", CreatedAt: testTime}); err == nil {
		t.Error("CreateLocation() with duplicate name expected error")
	}
	got, err := s.GetLocationByName(ctx, "Shelf A")
	if err != nil || got == nil || got.ID != "loc-1" {
		t.Fatalf("GetLocationByName() = %v, %v", got, err)
	}
	if got.Description != nil {
		t.Errorf("Description = %v, want nil", got.Description)
	}

	for i := 0; i < 3; i++ {
		a := &model.Activity{Action: model.ActionCreate, EntityType: model.EntityBox, EntityID: "b", CreatedAt: testTime}
		if err := s.AppendActivity(ctx, a); err != nil {
			t.Fatalf("AppendActivity() error = %v", err)
		}
		if a.ID != int64(i+1) {
			t.Errorf("activity ID = %d, want %d", a.ID, i+1)
		}
	}
	list, err := s.ListActivity(ctx, 2)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != 3 {
		t.Errorf("ListActivity(2) = %d records, first ID %d; want 2, 3", len(list), list[0].ID)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Locations != 1 || st.Activity != 3 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestOpen_SeedsOnlyNewStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "boxes.db")

	s, err := Open(ctx, path, Options{SeedSampleData: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	st, _ := s.Stats(ctx)
	if st.Boxes == 0 {
		t.Fatal("new store was not seeded")
	}
	if _, err := s.DeleteBox(ctx, mustFirstBox(t, s).ID); err != nil {
		t.Fatal(err)
	}
	before, _ := s.Stats(ctx)
	s.Close()

	s, err = Open(ctx, path, Options{SeedSampleData: true})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	after, _ := s.Stats(ctx)
	if after.Boxes != before.Boxes {
		t.Errorf("reopen seeded again: boxes = %d, want %d", after.Boxes, before.Boxes)
	}
}

func mustFirstBox(t *testing.T, s *SQLiteStore) *model.Box {
	t.Helper()
	bs, err := s.ListBoxes(context.Background())
	if err != nil || len(bs) == 0 {
		t.Fatalf("ListBoxes() = %v, %v", bs, err)
	}
	return bs[0]
}

func TestSQLiteStore_DetachAttach(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{SeedSampleData: true})
	gen := s.Generation()

	if err := s.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if s.Generation() == gen {
		t.Error("Generation() unchanged by Detach")
	}

	// Queries issued while detached block until Attach, then see the new file.
	replacement := filepath.Join(t.TempDir(), "other.db")
	other, err := Open(ctx, replacement, Options{})
	if err != nil {
		t.Fatal(err)
	}
	other.CreateBox(ctx, &model.Box{ID: "only", Name: "Only box", CreatedAt: testTime})
	other.Checkpoint(ctx)
	other.Close()

	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(s.Path() + suffix)
	}
	if err := os.Rename(replacement, s.Path()); err != nil {
		t.Fatal(err)
	}

	done := make(chan []*model.Box)
	go func() {
		bs, _ := s.ListBoxes(ctx)
		done <- bs
	}()

	if err := s.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	bs := <-done
	if len(bs) != 1 || bs[0].ID != "only" {
		t.Errorf("boxes after reattach = %v, want only the replacement box", bs)
	}
}

func TestSQLiteStore_AttachFailureLeavesStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	if err := s.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(s.Path() + suffix)
	}
	if err := os.WriteFile(s.Path(), []byte("this is not a database file at all, not even close........."), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Attach(ctx); err == nil {
		t.Fatal("Attach() expected error for garbage file")
	}
	if _, err := s.ListBoxes(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("ListBoxes() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestSQLiteStore_CheckpointAndFreeze(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{SeedSampleData: true})

	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if info, err := os.Stat(s.Path() + "-wal"); err == nil && info.Size() != 0 {
		t.Errorf("wal size after checkpoint = %d, want 0", info.Size())
	}

	called := false
	err := s.Freeze(ctx, func() error {
		called = true
		_, err := os.Stat(s.Path())
		return err
	})
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	if !called {
		t.Error("Freeze() did not call fn")
	}

	// The store is usable again after Freeze.
	if _, err := s.ListBoxes(ctx); err != nil {
		t.Errorf("ListBoxes() after Freeze error = %v", err)
	}
}
