package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "linkbeam.log")
	if err := Configure(path, "debug"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer Configure("", "")

	Sugar.Debugf("[Test] hello from %s", "logger")
	_ = Log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "[Test] hello from logger") {
		t.Fatalf("log line missing, got %q", raw)
	}
	if !strings.Contains(string(raw), "DEBUG") {
		t.Fatalf("expected DEBUG level marker, got %q", raw)
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if err := Configure("", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestConfigureClosesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	if err := Configure(first, "info"); err != nil {
		t.Fatalf("Configure first failed: %v", err)
	}
	defer Configure("", "")

	sinkMu.Lock()
	firstClose := closeSink
	sinkMu.Unlock()
	if firstClose == nil {
		t.Fatalf("expected a closer for the file sink")
	}

	if err := Configure(second, "info"); err != nil {
		t.Fatalf("Configure second failed: %v", err)
	}
	// Closing again reports the file was already closed by the swap.
	if err := firstClose(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("previous log file still open: %v", err)
	}

	Sugar.Infof("[Test] after swap")
	_ = Log.Sync()
	raw, err := os.ReadFile(second)
	if err != nil || !strings.Contains(string(raw), "[Test] after swap") {
		t.Fatalf("second log missing line: %q err=%v", raw, err)
	}
}
