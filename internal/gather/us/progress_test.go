package us

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTracker(t *testing.T, dir string) *progressTracker {
	t.Helper()
	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	return pt
}

func TestProgressSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	pt := openTracker(t, dir)
	if err := pt.MarkLoaded([]string{"AAPL", "MSFT", "AAPL"}); err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkEmpty([]string{"ZZZZ"}); err != nil {
		t.Fatal(err)
	}
	if err := pt.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".loaded"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "AAPL\nMSFT\n" {
		t.Errorf(".loaded = %q", data)
	}

	pt = openTracker(t, dir)
	defer pt.Close()
	tests := []struct {
		sym          string
		loaded, none bool
	}{
		{"AAPL", true, false},
		{"MSFT", true, false},
		{"ZZZZ", false, true},
		{"GOOG", false, false},
	}
	for _, tt := range tests {
		if got := pt.IsLoaded(tt.sym); got != tt.loaded {
			t.Errorf("IsLoaded(%s) = %v, want %v", tt.sym, got, tt.loaded)
		}
		if got := pt.IsTriedEmpty(tt.sym); got != tt.none {
			t.Errorf("IsTriedEmpty(%s) = %v, want %v", tt.sym, got, tt.none)
		}
	}
}

func TestProgressUnterminatedLine(t *testing.T) {
	dir := t.TempDir()
	// Left behind by a crash between the symbol and its newline.
	if err := os.WriteFile(filepath.Join(dir, ".loaded"), []byte("AAPL\nMSF"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt := openTracker(t, dir)
	if err := pt.MarkLoaded([]string{"TSLA"}); err != nil {
		t.Fatal(err)
	}
	pt.Close()

	data, err := os.ReadFile(filepath.Join(dir, ".loaded"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(string(data))
	if strings.Join(lines, ",") != "AAPL,MSF,TSLA" {
		t.Errorf(".loaded lines = %v", lines)
	}
}

func TestProgressCompletion(t *testing.T) {
	pt := openTracker(t, t.TempDir())
	defer pt.Close()

	if pt.LastCompleted() != "" || pt.IsCompleted("2024-06-04") {
		t.Fatal("fresh tracker reports a completed load")
	}
	if err := pt.MarkCompleted("2024-06-04"); err != nil {
		t.Fatal(err)
	}
	if !pt.IsCompleted("2024-06-04") {
		t.Error("load not completed after marking")
	}
	// A later end date means new sessions to load.
	if pt.IsCompleted("2024-06-05") {
		t.Error("completion leaked to another end date")
	}
}

func TestProgressReset(t *testing.T) {
	dir := t.TempDir()
	pt := openTracker(t, dir)
	defer pt.Close()

	if err := pt.MarkEmpty([]string{"ZZZZ"}); err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkLoaded([]string{"AAPL"}); err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkCompleted("2024-06-04"); err != nil {
		t.Fatal(err)
	}
	if err := pt.Reset(); err != nil {
		t.Fatal(err)
	}

	if pt.IsTriedEmpty("ZZZZ") || pt.IsLoaded("AAPL") || pt.LastCompleted() != "" {
		t.Error("progress survived reset")
	}
	for _, name := range []string{".loaded", ".tried-empty"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
		if len(data) > 0 {
			t.Errorf("%s = %q after reset", name, data)
		}
	}

	// The tracker keeps working after a reset.
	if err := pt.MarkLoaded([]string{"MSFT"}); err != nil {
		t.Fatal(err)
	}
	if !pt.IsLoaded("MSFT") {
		t.Error("mark after reset lost")
	}
}
