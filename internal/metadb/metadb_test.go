package metadb

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().Truncate(time.Second)
	if err := db.Set(Meta{SessionID: "tmux:main:1.0", Tag: "billing-bug", Pinned: true, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.Get("tmux:main:1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("row not found")
	}
	if got.Tag != "billing-bug" || !got.Pinned {
		t.Fatalf("got %+v", got)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, now)
	}
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing row reported found")
	}
}

func TestSetUpserts(t *testing.T) {
	db := openTestDB(t)

	if err := db.Set(Meta{SessionID: "a", Tag: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(Meta{SessionID: "a", Tag: "new", Pinned: true}); err != nil {
		t.Fatal(err)
	}

	got, _, err := db.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != "new" || !got.Pinned {
		t.Fatalf("upsert result %+v", got)
	}
}

func TestAllAndDelete(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := db.Set(Meta{SessionID: id, Tag: id}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d rows", len(all))
	}

	if err := db.Delete("b"); err != nil {
		t.Fatal(err)
	}
	all, _ = db.All()
	if _, ok := all["b"]; ok {
		t.Fatal("deleted row still present")
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().Add(-48 * time.Hour)
	if err := db.Set(Meta{SessionID: "stale", UpdatedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(Meta{SessionID: "fresh"}); err != nil {
		t.Fatal(err)
	}

	n, err := db.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	if _, ok, _ := db.Get("stale"); ok {
		t.Fatal("stale row survived prune")
	}
	if _, ok, _ := db.Get("fresh"); !ok {
		t.Fatal("fresh row pruned")
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Set(Meta{SessionID: "a", Tag: "keep"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	got, ok, err := db2.Get("a")
	if err != nil || !ok || got.Tag != "keep" {
		t.Fatalf("reopen lost data: %v %v %+v", err, ok, got)
	}
}
