package archive_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"qp-go/internal/archive"
	"qp-go/internal/qp"
	"qp-go/internal/testutil"
)

func row(id string) qp.ColdRow {
	return qp.ColdRow{ID: id, Data: []byte(fmt.Sprintf(`{"id":%q}`, id)), Created: 1700000000}
}

func TestManager_InsertBatch(t *testing.T) {
	t.Run("writes and reads back a record", func(t *testing.T) {
		m := testutil.NewTestManager(t, 100, testutil.FixedClock())

		if err := m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")}); err != nil {
			t.Fatalf("InsertBatch() error = %v", err)
		}

		rec, err := m.Lookup("recordaaaaaa")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rec == nil {
			t.Fatal("Lookup() = nil after insert")
		}
		if string(rec.Data) != `{"id":"recordaaaaaa"}` {
			t.Errorf("Lookup() data = %s", rec.Data)
		}
		if rec.Created != 1700000000 {
			t.Errorf("Lookup() created = %d, want 1700000000", rec.Created)
		}
	})

	t.Run("insert is idempotent per id", func(t *testing.T) {
		m := testutil.NewTestManager(t, 100, testutil.FixedClock())

		m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")})
		if err := m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")}); err != nil {
			t.Fatalf("second InsertBatch() error = %v", err)
		}

		files := m.Files()
		if len(files) != 1 || files[0].Rows != 1 {
			t.Errorf("Files() = %+v, want one file with 1 row", files)
		}
	})

	t.Run("rotates at the row cap", func(t *testing.T) {
		clock := testutil.FixedClock()
		m := testutil.NewTestManager(t, 2, clock)

		batch := []qp.ColdRow{row("recordaaaaaa"), row("recordbbbbbb"), row("recordcccccc")}
		if err := m.InsertBatch(batch); err != nil {
			t.Fatalf("InsertBatch() error = %v", err)
		}

		files := m.Files()
		if len(files) != 2 {
			t.Fatalf("Files() count = %d, want 2", len(files))
		}
		// Most recent first: the fresh file holds the overflow row.
		if files[0].Rows != 1 {
			t.Errorf("newest file rows = %d, want 1", files[0].Rows)
		}
		if files[1].Rows != 2 {
			t.Errorf("oldest file rows = %d, want 2", files[1].Rows)
		}
		if !files[0].Writable {
			t.Error("newest file is not writable")
		}
		if files[1].Writable {
			t.Error("full file is still writable")
		}

		// All three records stay reachable across the rotation.
		for _, r := range batch {
			if ok, err := m.Exists(r.ID); err != nil || !ok {
				t.Errorf("Exists(%s) = %v, %v, want true", r.ID, ok, err)
			}
		}
	})
}

func TestManager_Lookup(t *testing.T) {
	t.Run("absent id returns nil without error", func(t *testing.T) {
		m := testutil.NewTestManager(t, 100, testutil.FixedClock())

		rec, err := m.Lookup("nosuchrecord")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rec != nil {
			t.Errorf("Lookup() = %+v, want nil", rec)
		}
	})

	t.Run("bumps access counters in place", func(t *testing.T) {
		clock := testutil.FixedClock()
		m := testutil.NewTestManager(t, 100, clock)
		m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")})

		first, err := m.Lookup("recordaaaaaa")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if first.NumAccess != 1 {
			t.Errorf("first NumAccess = %d, want 1", first.NumAccess)
		}
		if first.LastAccess != clock.Now().Unix() {
			t.Errorf("first LastAccess = %d, want %d", first.LastAccess, clock.Now().Unix())
		}

		clock.Advance(time.Hour)
		second, err := m.Lookup("recordaaaaaa")
		if err != nil {
			t.Fatalf("second Lookup() error = %v", err)
		}
		if second.NumAccess != 2 {
			t.Errorf("second NumAccess = %d, want 2", second.NumAccess)
		}
		if second.LastAccess != clock.Now().Unix() {
			t.Errorf("second LastAccess = %d, want %d", second.LastAccess, clock.Now().Unix())
		}
	})

	t.Run("prefers the most recent file", func(t *testing.T) {
		clock := testutil.FixedClock()
		m := testutil.NewTestManager(t, 1, clock)

		// One row per file; each insert after the first rotates.
		m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")})
		clock.Advance(time.Second)
		m.InsertBatch([]qp.ColdRow{row("recordbbbbbb")})

		rec, err := m.Lookup("recordbbbbbb")
		if err != nil || rec == nil {
			t.Fatalf("Lookup() = %+v, %v", rec, err)
		}
		rec, err = m.Lookup("recordaaaaaa")
		if err != nil || rec == nil {
			t.Fatalf("Lookup() in older file = %+v, %v", rec, err)
		}
	})
}

func TestManager_Exists(t *testing.T) {
	m := testutil.NewTestManager(t, 100, testutil.FixedClock())
	m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")})

	ok, err := m.Exists("recordaaaaaa")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v, want true", ok, err)
	}

	ok, err = m.Exists("nosuchrecord")
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v, want false", ok, err)
	}

	// Exists must not bump access counters.
	rec, _ := m.Lookup("recordaaaaaa")
	if rec.NumAccess != 1 {
		t.Errorf("NumAccess after Exists = %d, want 1", rec.NumAccess)
	}
}

func TestManager_Delete(t *testing.T) {
	m := testutil.NewTestManager(t, 100, testutil.FixedClock())
	m.InsertBatch([]qp.ColdRow{row("recordaaaaaa"), row("recordbbbbbb")})

	if err := m.Delete("recordaaaaaa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if ok, _ := m.Exists("recordaaaaaa"); ok {
		t.Error("Exists() = true after delete")
	}
	if ok, _ := m.Exists("recordbbbbbb"); !ok {
		t.Error("unrelated record vanished")
	}
	if files := m.Files(); files[0].Rows != 1 {
		t.Errorf("rows after delete = %d, want 1", files[0].Rows)
	}
}

func TestManager_Refresh(t *testing.T) {
	t.Run("missing directory is not fatal", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "does-not-exist-yet")
		m, err := archive.NewManager(dir, 100, testutil.FixedClock(), qp.NewNopLogger())
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		defer m.Close()

		rec, err := m.Lookup("recordaaaaaa")
		if err != nil || rec != nil {
			t.Errorf("Lookup() = %+v, %v, want nil, nil", rec, err)
		}

		// The directory appears on first write.
		if err := m.InsertBatch([]qp.ColdRow{row("recordaaaaaa")}); err != nil {
			t.Fatalf("InsertBatch() error = %v", err)
		}
		if ok, _ := m.Exists("recordaaaaaa"); !ok {
			t.Error("Exists() = false after first write")
		}
	})

	t.Run("discovers files created by another manager", func(t *testing.T) {
		dir := t.TempDir()
		clock := testutil.FixedClock()

		writer, err := archive.NewManager(dir, 100, clock, qp.NewNopLogger())
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if err := writer.InsertBatch([]qp.ColdRow{row("recordaaaaaa")}); err != nil {
			t.Fatalf("InsertBatch() error = %v", err)
		}
		writer.Close()

		reader, err := archive.NewManager(dir, 100, clock, qp.NewNopLogger())
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		defer reader.Close()

		rec, err := reader.Lookup("recordaaaaaa")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rec == nil {
			t.Fatal("Lookup() = nil, want record from pre-existing file")
		}
	})
}
