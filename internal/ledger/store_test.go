package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fwforge/fwforge/internal/artifact"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "units.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	l, err := New(t.Context(), store, 50)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	unit := l.Create(t.Context(), "blinky", "build", "esp32")
	_ = l.Append(unit.ID, Line{Kind: "stdout", Text: "compiling", Time: time.Now()})
	_ = l.Append(unit.ID, Line{Kind: "success", Text: "done", Time: time.Now()})
	artifacts := []artifact.Artifact{{Name: "app.bin", Path: "app.bin", Offset: 0x10000, Size: 7}}
	if err := l.Complete(t.Context(), unit.ID, artifacts); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the unit comes back with transcript and artifacts.
	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	l2, err := New(t.Context(), store2, 50)
	if err != nil {
		t.Fatalf("failed to recreate ledger: %v", err)
	}
	defer func() { _ = l2.Close() }()

	got, err := l2.Get(t.Context(), unit.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", got.Status)
	}
	if len(got.Lines) != 2 || got.Lines[0].Text != "compiling" {
		t.Fatalf("transcript not rehydrated: %+v", got.Lines)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Name != "app.bin" {
		t.Fatalf("artifacts not rehydrated: %+v", got.Artifacts)
	}
}

func TestReopenFailsInterruptedUnits(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "units.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	l, err := New(t.Context(), store, 50)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	// Left running: simulates a crash mid-build.
	unit := l.Create(t.Context(), "blinky", "build", "")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	l2, err := New(t.Context(), store2, 50)
	if err != nil {
		t.Fatalf("failed to recreate ledger: %v", err)
	}
	defer func() { _ = l2.Close() }()

	got, err := l2.Get(t.Context(), unit.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("interrupted unit status = %s, want failed", got.Status)
	}
	if got.Error != "interrupted by shutdown" {
		t.Fatalf("interrupted unit error = %q", got.Error)
	}
}

func TestLoadRecentOrderAndLimit(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		unit := &Unit{
			ID:        string(rune('a' + i)),
			ProjectID: "p",
			Op:        "build",
			Status:    StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveTerminal(t.Context(), unit); err != nil {
			t.Fatalf("SaveTerminal: %v", err)
		}
	}

	recent, err := store.LoadRecent(t.Context(), 3)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("LoadRecent returned %d units, want 3", len(recent))
	}
	// Oldest of the selected three first.
	if recent[0].ID != "c" || recent[1].ID != "d" || recent[2].ID != "e" {
		t.Fatalf("LoadRecent order wrong: %s %s %s", recent[0].ID, recent[1].ID, recent[2].ID)
	}
}

func TestLoadUnitNotFound(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.LoadUnit(t.Context(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	lines := []Line{
		{Kind: "info", Text: "starting build", Time: time.Now().Truncate(time.Millisecond)},
		{Kind: "stdout", Text: "compiling main.c", Time: time.Now().Truncate(time.Millisecond)},
		{Kind: "stderr", Text: "warning: unused variable", Time: time.Now().Truncate(time.Millisecond)},
	}

	blob, err := encodeTranscript(lines)
	if err != nil {
		t.Fatalf("encodeTranscript: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("empty blob for non-empty transcript")
	}

	decoded, err := decodeTranscript(blob)
	if err != nil {
		t.Fatalf("decodeTranscript: %v", err)
	}
	if len(decoded) != len(lines) {
		t.Fatalf("decoded %d lines, want %d", len(decoded), len(lines))
	}
	for i := range lines {
		if decoded[i].Kind != lines[i].Kind || decoded[i].Text != lines[i].Text {
			t.Fatalf("line %d mismatch: %+v vs %+v", i, decoded[i], lines[i])
		}
	}
}

func TestTranscriptCompresses(t *testing.T) {
	// Build output repeats heavily; the stored blob should be much smaller.
	var lines []Line
	for i := 0; i < 1000; i++ {
		lines = append(lines, Line{Kind: "stdout", Text: "[123/456] Building C object esp-idf/main/CMakeFiles/__idf_main.dir/main.c.obj"})
	}

	blob, err := encodeTranscript(lines)
	if err != nil {
		t.Fatalf("encodeTranscript: %v", err)
	}

	raw := 0
	for _, l := range lines {
		raw += len(l.Text)
	}
	if len(blob) >= raw/10 {
		t.Fatalf("transcript blob %d bytes for %d raw bytes; expected strong compression", len(blob), raw)
	}
}

func TestEmptyTranscript(t *testing.T) {
	blob, err := encodeTranscript(nil)
	if err != nil {
		t.Fatalf("encodeTranscript(nil): %v", err)
	}
	if blob != nil {
		t.Fatal("empty transcript should encode to nil")
	}
}

func TestStoreFileCreated(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "units.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}
