package termhook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}

func TestRecoverClosesTerminalAndWritesCrashLog(t *testing.T) {
	dir := t.TempDir()
	closer := &fakeCloser{}
	Install(closer)

	func() {
		defer func() {
			// Recover itself re-panics; catch that here so the test
			// process doesn't actually crash.
			_ = recover()
		}()
		defer Recover(dir)
		panic("boom")
	}()

	if !closer.closed {
		t.Fatal("expected registered terminal to be closed on panic")
	}

	data, err := os.ReadFile(filepath.Join(dir, ".ralph", "crash.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "boom") {
		t.Fatalf("expected crash log to mention the panic value, got %q", data)
	}
}
