package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnabledFallsBackToEnv(t *testing.T) {
	t.Setenv("RALPH_DIAGNOSTICS", "")
	if Enabled(false) {
		t.Fatal("expected disabled with no flag and no env var")
	}
	t.Setenv("RALPH_DIAGNOSTICS", "1")
	if !Enabled(false) {
		t.Fatal("expected enabled via RALPH_DIAGNOSTICS=1")
	}
	if !Enabled(true) {
		t.Fatal("expected enabled via explicit flag regardless of env")
	}
}

func TestWriteThenCloseFlushesFrames(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "brave-otter", 3)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Write([]byte("2026-01-01T00:00:00Z OUT hello\n")); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".ralph", "sessions", "brave-otter-3.cast"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("expected session file to contain the written frame, got %q", data)
	}
}
