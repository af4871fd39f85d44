package hub

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// progressSink serializes a single dispatch's event stream: worker
// emissions are normalized, forwarded to the caller in FIFO order, and
// mirrored to the hub-events log. After finish, late emissions from a
// killed worker are dropped.
type progressSink struct {
	onProgress func(HubEvent)
	publish    func(HubEvent)
	logger     *zap.Logger

	// afterDeliver runs after each delivered event; the detached monitor
	// path uses it as the acknowledgment hook.
	afterDeliver func()

	mu          sync.Mutex
	finished    bool
	lastSummary *HubEvent
	startedAt   time.Time
}

func newProgressSink(onProgress func(HubEvent), publish func(HubEvent), logger *zap.Logger) *progressSink {
	return &progressSink{
		onProgress: onProgress,
		publish:    publish,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// emit is the EmitFunc handed to workers.
func (s *progressSink) emit(event string, data map[string]interface{}) {
	s.deliver(NewEvent(event, data))
}

// deliver forwards one event unless the dispatch already finished. The
// callbacks run under the lock so ordering is the arrival order.
func (s *progressSink) deliver(ev HubEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		if s.logger != nil {
			s.logger.Debug("Dropping event from finished dispatch",
				zap.String("event", ev.Event))
		}
		return
	}
	s.forwardLocked(ev)
}

func (s *progressSink) forwardLocked(ev HubEvent) {
	if _, ok := ExtractSummary(ev); ok {
		evCopy := ev
		s.lastSummary = &evCopy
	}
	if s.onProgress != nil {
		s.onProgress(ev)
	}
	if s.publish != nil {
		s.publish(ev)
	}
	if s.afterDeliver != nil {
		s.afterDeliver()
	}
}

// finish seals the sink and returns the terminal summary event, if any.
func (s *progressSink) finish() *HubEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return s.lastSummary
}

// finishFailed seals the sink; when the worker never produced a terminal
// summary one is synthesized from the error so the failure still reaches
// the HUD.
func (s *progressSink) finishFailed(wallet, side, mint, txid string, err error) *HubEvent {
	return s.finishWith(wallet, func() *TxSummary {
		return &TxSummary{
			Kind:       "swap",
			Status:     SummaryFailed,
			Label:      failLabel(side),
			Side:       side,
			Mint:       mint,
			Txid:       txid,
			ErrMessage: err.Error(),
			DurationMs: s.elapsedMs(),
		}
	})
}

// finishCrashed seals the sink after a worker panic.
func (s *progressSink) finishCrashed(wallet, side, mint, txid string, panicValue interface{}) *HubEvent {
	return s.finishWith(wallet, func() *TxSummary {
		return &TxSummary{
			Kind:       "swap",
			Status:     SummaryFailed,
			Label:      crashLabel(side),
			Side:       side,
			Mint:       mint,
			Txid:       txid,
			ErrMessage: fmt.Sprintf("worker panic: %v", panicValue),
			DurationMs: s.elapsedMs(),
		}
	})
}

// finishTimedOut seals the sink after the deadline killed the worker.
func (s *progressSink) finishTimedOut(wallet, side, mint, txid string, timeout time.Duration) *HubEvent {
	return s.finishWith(wallet, func() *TxSummary {
		return &TxSummary{
			Kind:       "swap",
			Status:     SummaryTimeout,
			Label:      timeoutLabel(side),
			Side:       side,
			Mint:       mint,
			Txid:       txid,
			ErrMessage: fmt.Sprintf("worker exceeded %s", timeout),
			DurationMs: s.elapsedMs(),
		}
	})
}

func (s *progressSink) finishWith(wallet string, build func() *TxSummary) *HubEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finished && s.lastSummary == nil {
		s.forwardLocked(SummaryEvent(wallet, build()))
	}
	s.finished = true
	return s.lastSummary
}

func (s *progressSink) elapsedMs() *int64 {
	ms := time.Since(s.startedAt).Milliseconds()
	return &ms
}
