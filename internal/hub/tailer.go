package hub

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const tailerPollInterval = time.Second

// Tailer follows the hub-events log from its current end and hands every
// complete JSONL line to the callback. Malformed lines are skipped with a
// warning; a shrunken file restarts from offset zero. Watch misses are
// covered by a slow poll, so delivery does not depend on fsnotify alone.
type Tailer struct {
	path    string
	logger  *zap.Logger
	onEvent func(HubEvent)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	offset int64
	carry  []byte
}

// NewTailer starts tailing path. Events already in the file are history
// and are not replayed.
func NewTailer(path string, logger *zap.Logger, onEvent func(HubEvent)) (*Tailer, error) {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, err
	}
	// Watch the directory, not the file: the log may not exist yet, and
	// create/rename events only surface on the parent.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	t := &Tailer{
		path:    path,
		logger:  logger,
		onEvent: onEvent,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}

	t.wg.Add(1)
	go t.run()

	return t, nil
}

func (t *Tailer) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(tailerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.readNew()
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				t.logger.Warn("Hub event watcher error", zap.Error(err))
			}
		case <-ticker.C:
			t.readNew()
		case <-t.done:
			return
		}
	}
}

// readNew consumes everything appended since the last read.
func (t *Tailer) readNew() {
	file, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		// Rotated or truncated; start over.
		t.offset = 0
		t.carry = nil
	}
	if info.Size() == t.offset {
		return
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		t.logger.Warn("Hub event log seek failed", zap.Error(err))
		return
	}
	chunk, err := io.ReadAll(file)
	if err != nil {
		t.logger.Warn("Hub event log read failed", zap.Error(err))
		return
	}
	t.offset += int64(len(chunk))

	buf := append(t.carry, chunk...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:idx])
		buf = buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		t.deliver(line)
	}
	t.carry = append([]byte(nil), buf...)
}

func (t *Tailer) deliver(line []byte) {
	var ev HubEvent
	if err := json.Unmarshal(line, &ev); err != nil || ev.Event == "" {
		t.logger.Warn("Skipping malformed hub event line",
			zap.ByteString("line", line),
			zap.Error(err))
		return
	}
	t.onEvent(ev)
}

// Close stops the tail loop and the watcher.
func (t *Tailer) Close() error {
	close(t.done)
	err := t.watcher.Close()
	t.wg.Wait()
	return err
}
