package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotatingWriterRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 10)
	for i := 0; i < 3; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backups beyond max should not exist, err=%v", err)
	}
}

func TestRotatingWriterCleansOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, 1, 3, 1)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer w.Close()

	stale := path + ".2"
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed backup: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	w.cleanupByAge()
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale backup to be removed, err=%v", err)
	}
}

func TestInitWithAuditFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "navigator.log")

	if err := Init(Config{Level: "debug", OutputPaths: []string{"discard"}, Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{OutputPaths: []string{"discard"}}) })

	AuditEvent(context.Background(), "guardrail.blocked", slog.String("session_id", "s-1"))
	Named("test").Debug("hello")

	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	content, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !bytes.Contains(content, []byte(`"msg":"guardrail.blocked"`)) || !bytes.Contains(content, []byte(`"session_id":"s-1"`)) {
		t.Fatalf("unexpected audit content: %s", content)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
