package service

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCloserTimeout = 10 * time.Second

// CloseFunc adapts a plain function to io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

type namedCloser struct {
	name   string
	closer io.Closer
}

// closeStack tears down registered resources in reverse registration
// order. Each close is bounded by a timeout so a wedged resource (a
// stuck RPC connection, a hung DB pool) cannot stall shutdown; failures
// are logged and never stop the walk.
type closeStack struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	closers []namedCloser
	closed  bool
}

func newCloseStack(logger *zap.Logger, timeout time.Duration) *closeStack {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultCloserTimeout
	}
	return &closeStack{logger: logger, timeout: timeout}
}

func (cs *closeStack) Add(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		cs.logger.Warn("Closer registered after shutdown; closing immediately", zap.String("name", name))
		cs.closeOne(namedCloser{name: name, closer: closer})
		return
	}
	cs.closers = append(cs.closers, namedCloser{name: name, closer: closer})
	cs.mu.Unlock()
}

func (cs *closeStack) AddFunc(name string, fn func() error) {
	if fn == nil {
		return
	}
	cs.Add(name, CloseFunc(fn))
}

// Close runs every registered closer newest-first. Safe to call more
// than once; later calls are no-ops.
func (cs *closeStack) Close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	closers := cs.closers
	cs.closers = nil
	cs.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		cs.closeOne(closers[i])
	}
}

func (cs *closeStack) closeOne(nc namedCloser) {
	done := make(chan error, 1)
	go func() {
		done <- nc.closer.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			cs.logger.Warn("Resource close failed",
				zap.String("name", nc.name),
				zap.Error(err))
			return
		}
		cs.logger.Debug("Resource closed", zap.String("name", nc.name))
	case <-time.After(cs.timeout):
		cs.logger.Error("Resource close timed out; abandoning",
			zap.String("name", nc.name),
			zap.Duration("timeout", cs.timeout))
	}
}
