package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyRotatingWriter_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w := newDailyRotatingWriter(dir, "relay")
	defer w.Close()

	day := time.Date(2024, 3, 1, 23, 59, 0, 0, time.Local)
	w.now = func() time.Time { return day }

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	day = day.Add(2 * time.Minute)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(dir, "relay-2024-03-01.log"))
	if err != nil {
		t.Fatalf("expected first day file: %v", err)
	}
	if strings.TrimSpace(string(first)) != "first" {
		t.Errorf("unexpected first file content %q", first)
	}

	second, err := os.ReadFile(filepath.Join(dir, "relay-2024-03-02.log"))
	if err != nil {
		t.Fatalf("expected second day file: %v", err)
	}
	if strings.TrimSpace(string(second)) != "second" {
		t.Errorf("unexpected second file content %q", second)
	}
}

func TestCreateLogger_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := CreateLogger(LogLevelInfo, dir, "relay-client")
	logger.Info("capture stored", "recordID", "abc")
	logger.Debug("not written")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"capture stored"`) || !strings.Contains(content, `"recordID":"abc"`) {
		t.Errorf("log line missing fields: %s", content)
	}
	if strings.Contains(content, "not written") {
		t.Errorf("debug line written at info level")
	}
}

func TestNopLogger(t *testing.T) {
	// must not panic
	NopLogger.Info("x", "k", 1)
	NopLogger.Warn("x")
	NopLogger.Error("x")
	NopLogger.Debug("x")
}
