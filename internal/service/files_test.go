package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/hud"
)

func TestWritePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "warchest.pid")

	if err := WritePidFile(path); err != nil {
		t.Fatalf("WritePidFile: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	var payload pidFilePayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		t.Fatalf("pid file is not JSON: %v", err)
	}
	if payload.Pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", payload.Pid, os.Getpid())
	}
	if _, err := time.Parse(time.RFC3339, payload.StartedAt); err != nil {
		t.Errorf("startedAt %q is not RFC3339: %v", payload.StartedAt, err)
	}

	RemovePidFile(path, zap.NewNop())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file still present after RemovePidFile")
	}
	// Removing twice must be silent.
	RemovePidFile(path, zap.NewNop())
}

func TestWriteStatusFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")

	health := &hud.Health{
		Wallets:   hud.HealthWallets{Count: 2, StaleCount: 1},
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteStatusFile(path, health); err != nil {
		t.Fatalf("WriteStatusFile: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status file: %v", err)
	}
	var payload statusPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		t.Fatalf("status file is not JSON: %v", err)
	}
	if payload.UpdatedAt != health.UpdatedAt {
		t.Errorf("updatedAt = %q, want %q", payload.UpdatedAt, health.UpdatedAt)
	}
	if payload.Health == nil || payload.Health.Wallets.Count != 2 {
		t.Error("health payload not round-tripped")
	}

	// No temp files may survive the rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries after write, want just status.json", len(entries))
	}

	// Overwriting is the steady-state path.
	health.Wallets.Count = 3
	if err := WriteStatusFile(path, health); err != nil {
		t.Fatalf("second WriteStatusFile: %v", err)
	}
}

func TestWriteStatusFileRejectsNilHealth(t *testing.T) {
	if err := WriteStatusFile(filepath.Join(t.TempDir(), "status.json"), nil); err == nil {
		t.Fatal("expected error for nil health")
	}
}
