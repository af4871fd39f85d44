package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/hud"
)

type pidFilePayload struct {
	Pid       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

// WritePidFile records the running process under path so external
// tooling can find (and signal) the service. Parent directories are
// created as needed.
func WritePidFile(path string) error {
	const op = "service.writePidFile"
	if path == "" {
		return errs.E(errs.KindInvalidArgument, op, "pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.E(errs.KindFatal, op, err)
	}
	blob, err := json.Marshal(pidFilePayload{
		Pid:       os.Getpid(),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errs.E(errs.KindFatal, op, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return errs.E(errs.KindFatal, op, err)
	}
	return nil
}

// RemovePidFile deletes the PID file. A missing file is not an error;
// anything else is logged and swallowed so shutdown keeps moving.
func RemovePidFile(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove PID file",
			zap.String("path", path),
			zap.Error(err))
	}
}

type statusPayload struct {
	UpdatedAt string      `json:"updatedAt"`
	Health    *hud.Health `json:"health"`
}

// WriteStatusFile publishes the latest health document atomically:
// the JSON is staged in a temp file in the same directory and renamed
// over the target, so readers never observe a half-written file.
func WriteStatusFile(path string, health *hud.Health) error {
	const op = "service.writeStatusFile"
	if path == "" {
		return errs.E(errs.KindInvalidArgument, op, "status file path is empty")
	}
	if health == nil {
		return errs.E(errs.KindInvalidArgument, op, "health payload is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.E(errs.KindUnavailable, op, err)
	}
	blob, err := json.MarshalIndent(statusPayload{UpdatedAt: health.UpdatedAt, Health: health}, "", "  ")
	if err != nil {
		return errs.E(errs.KindUnknown, op, err)
	}
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return errs.E(errs.KindUnavailable, op, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.E(errs.KindUnavailable, op, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.E(errs.KindUnavailable, op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.E(errs.KindUnavailable, op, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.E(errs.KindUnavailable, op, err)
	}
	return nil
}
