package storage

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestPreferencesTableExists(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='preferences'").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("preferences table not found")
	}
}

func TestSetAndGetPreference(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetPreference("theme", "dark"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	got, err := s.GetPreference("theme")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got != "dark" {
		t.Errorf("theme = %q, want dark", got)
	}

	// Upsert overwrites.
	if err := s.SetPreference("theme", "light"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	got, _ = s.GetPreference("theme")
	if got != "light" {
		t.Errorf("theme after upsert = %q, want light", got)
	}
}

func TestGetPreferenceNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPreference("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAllPreferencesOrdered(t *testing.T) {
	s := openTestStore(t)

	s.SetPreference("theme", "dark")
	s.SetPreference("favorites", `["a"]`)

	prefs, err := s.AllPreferences()
	if err != nil {
		t.Fatalf("AllPreferences: %v", err)
	}
	if len(prefs) != 2 {
		t.Fatalf("got %d preferences, want 2", len(prefs))
	}
	if prefs[0].Key != "favorites" || prefs[1].Key != "theme" {
		t.Errorf("unexpected order: %q, %q", prefs[0].Key, prefs[1].Key)
	}
	if prefs[0].UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestDeletePreference(t *testing.T) {
	s := openTestStore(t)

	s.SetPreference("theme", "dark")
	if err := s.DeletePreference("theme"); err != nil {
		t.Fatalf("DeletePreference: %v", err)
	}
	if _, err := s.GetPreference("theme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeletePreference("theme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestPreferencesPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetPreference("favorites", `["m1","m2"]`); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetPreference("favorites")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got != `["m1","m2"]` {
		t.Errorf("favorites = %q", got)
	}
}
