package hub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultFlushInterval = time.Second

// EventAppender writes hub events to the append-only JSONL log with
// buffering and a periodic flush, safe for concurrent writers.
type EventAppender struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	writtenLines uint64
	flushCount   uint64
}

// NewEventAppender opens (or creates) the hub-events log in append mode
// and starts the flush loop.
func NewEventAppender(filePath string, flushInterval time.Duration, logger *zap.Logger) (*EventAppender, error) {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open hub events log: %w", err)
	}

	a := &EventAppender{
		writer:   bufio.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger,
		filePath: filePath,
	}

	go a.periodicFlush()

	return a, nil
}

// Append serializes one event as a JSONL line.
func (a *EventAppender) Append(ev HubEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode hub event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write hub event: %w", err)
	}
	if err := a.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	a.writtenLines++
	return nil
}

// Flush forces buffered lines onto disk.
func (a *EventAppender) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	a.flushCount++
	return nil
}

func (a *EventAppender) periodicFlush() {
	for {
		select {
		case <-a.ticker.C:
			if err := a.Flush(); err != nil {
				a.logger.Error("Periodic hub event flush failed",
					zap.String("file", a.filePath),
					zap.Error(err))
			}
		case <-a.done:
			return
		}
	}
}

// Close stops the flush loop and writes out any buffered lines.
func (a *EventAppender) Close() error {
	close(a.done)
	a.ticker.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	a.logger.Info("Hub event log closed",
		zap.String("file", a.filePath),
		zap.Uint64("writtenLines", a.writtenLines),
		zap.Uint64("flushCount", a.flushCount))

	return nil
}

// Stats returns the written line and flush counts.
func (a *EventAppender) Stats() (lines, flushes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writtenLines, a.flushCount
}
