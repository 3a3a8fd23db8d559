package sessionlog

import (
	"path/filepath"
	"testing"
)

func TestRecordAndList(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	session := NewSessionID()
	if err := store.Record(session, OpStart, "route=abc"); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := store.Record(session, OpSeek, "seconds=12.5"); err != nil {
		t.Fatalf("record seek: %v", err)
	}

	entries, err := store.List(session)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Operation != OpStart || entries[1].Operation != OpSeek {
		t.Fatalf("unexpected operation order: %+v", entries)
	}
}

func TestListEmptyForUnknownSession(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	entries, err := store.List("nonexistent")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for unknown session")
	}
}
