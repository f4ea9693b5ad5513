package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "storage"))

	log.Debug("hidden")
	log.Warn("disk slow", Int("records", 3), Err(errors.New("busy")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	for _, want := range []string{`"level":"warn"`, `"comp":"storage"`, `"records":3`, `"message":"disk slow"`, "busy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %s: %s", want, out)
		}
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger is configured, not zero")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autodate.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("first")
	log.Debug("not yet")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "first") || !strings.Contains(out, "now visible") || strings.Contains(out, "not yet") {
		t.Fatalf("unexpected log file contents:\n%s", out)
	}
}

func TestAnyField(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info").Error("goroutine panicked", Any("panic", "boom"), Any("attempt", 2))
	out := buf.String()
	if !strings.Contains(out, `"panic":"boom"`) || !strings.Contains(out, `"attempt":2`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}
