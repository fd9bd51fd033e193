package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_StdoutOnly(t *testing.T) {
	logger, err := New("api-server", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestNew_WritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := New("job-worker", dir, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	info, err := os.Stat(filepath.Join(dir, "job-worker.log"))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected log file to contain the entry")
	}
}
