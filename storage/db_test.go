package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Fatalf("unexpected value %q", value)
	}

	missing, err := db.Get([]byte("absent"))
	if err != nil || missing != nil {
		t.Fatalf("absent key: value=%q err=%v", missing, err)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if value, _ := db.Get([]byte("k")); value != nil {
		t.Fatalf("key survived delete: %q", value)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	original := []byte("v")
	if err := db.Put([]byte("k"), original); err != nil {
		t.Fatalf("put: %v", err)
	}
	original[0] = 'x'

	value, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Fatalf("stored value aliased caller buffer: %q", value)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("get: value=%q err=%v", value, err)
	}

	missing, err := db.Get([]byte("absent"))
	if err != nil || missing != nil {
		t.Fatalf("absent key: value=%q err=%v", missing, err)
	}
}
