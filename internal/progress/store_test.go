package progress

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("moby-dick", 3, 17); err != nil {
		t.Fatalf("Save: %v", err)
	}
	chapter, segment, ok, err := s.Load("moby-dick")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok || chapter != 3 || segment != 17 {
		t.Errorf("Expected (3, 17, true), got (%d, %d, %v)", chapter, segment, ok)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, ok, err := s.Load("unknown")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Expected ok=false for unknown book")
	}
}

func TestStoreOverwrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("book", 1, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("book", 2, 0); err != nil {
		t.Fatal(err)
	}
	chapter, segment, ok, err := s.Load("book")
	if err != nil || !ok {
		t.Fatalf("Load: %v, ok=%v", err, ok)
	}
	if chapter != 2 || segment != 0 {
		t.Errorf("Expected latest position (2, 0), got (%d, %d)", chapter, segment)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("book", 1, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("book"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _, ok, err := s.Load("book")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Expected position gone after delete")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("book", 4, 9); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck
	chapter, segment, ok, err := reopened.Load("book")
	if err != nil || !ok {
		t.Fatalf("Load after reopen: %v, ok=%v", err, ok)
	}
	if chapter != 4 || segment != 9 {
		t.Errorf("Expected (4, 9), got (%d, %d)", chapter, segment)
	}
}
