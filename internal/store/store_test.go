package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("sync-queue", `{"items":[]}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get("sync-queue")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get returned not found for existing key")
	}
	if value != `{"items":[]}` {
		t.Errorf("value mismatch: got %q", value)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get("no-such-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("missing key reported as found")
	}
}

func TestSetOverwrites(t *testing.T) {
	s := openTestStore(t)

	s.Set("k", "first")
	if err := s.Set("k", "second"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, _, _ := s.Get("k")
	if value != "second" {
		t.Errorf("value = %q, want %q", value, "second")
	}
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)

	s.Set("k", "v")
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	_, ok, _ := s.Get("k")
	if ok {
		t.Error("key still present after Remove")
	}
}

func TestRemoveMissingKey(t *testing.T) {
	s := openTestStore(t)

	if err := s.Remove("no-such-key"); err != nil {
		t.Errorf("Remove of missing key should not error: %v", err)
	}
}

func TestUpdatedAt(t *testing.T) {
	s := openTestStore(t)

	s.Set("k", "v")
	when, ok, err := s.UpdatedAt("k")
	if err != nil {
		t.Fatalf("UpdatedAt failed: %v", err)
	}
	if !ok {
		t.Fatal("UpdatedAt reported not found for existing key")
	}
	if when.IsZero() {
		t.Error("UpdatedAt returned zero time")
	}

	_, ok, _ = s.UpdatedAt("missing")
	if ok {
		t.Error("UpdatedAt reported found for missing key")
	}
}

func TestValueSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Set("sync-queue", "persisted")
	s.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	value, ok, _ := s2.Get("sync-queue")
	if !ok || value != "persisted" {
		t.Errorf("value after reopen = %q (found=%v), want %q", value, ok, "persisted")
	}
}
