package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
)

// DefaultWorkerTimeout bounds a dispatch when the caller does not set one.
const DefaultWorkerTimeout = 120 * time.Second

// Registered worker names.
const (
	WorkerSwap      = "swap"
	WorkerTxMonitor = "tx-monitor"
)

// EmitFunc is how a worker reports progress. Calls are serialized and
// forwarded in order; the coordinator stamps the timestamp.
type EmitFunc func(event string, data map[string]interface{})

// Request is the work item handed to a worker.
type Request struct {
	Payload map[string]interface{}
	Env     map[string]string
	// RequestFile is set for detached dispatches; the worker owns the
	// file and removes it on completion.
	RequestFile string
	// Logger is file-only when the dispatch runs with captured output.
	Logger *zap.Logger
}

// Worker executes one kind of hub work item. Run must honor ctx; a run
// that outlives its deadline is treated as killed.
type Worker interface {
	Name() string
	Run(ctx context.Context, req Request, emit EmitFunc) (map[string]interface{}, error)
}

// RunOptions tunes a swap dispatch.
type RunOptions struct {
	Env     map[string]string
	Timeout time.Duration
	// NoWait rejects with Busy instead of queueing on a held lock.
	NoWait bool
	// CaptureOutput keeps worker logging off the terminal; the worker
	// gets the file-only logger.
	CaptureOutput bool
	OnProgress    func(HubEvent)
}

// RunResult is the outcome of a swap dispatch. Event carries the terminal
// summary when one was produced.
type RunResult struct {
	Result map[string]interface{}
	Event  *HubEvent
}

// MonitorOptions tunes a tx-monitor dispatch.
type MonitorOptions struct {
	Env            map[string]string
	Timeout        time.Duration
	NoWait         bool
	CaptureOutput  bool
	Detached       bool
	PayloadFileDir string
	OnProgress     func(HubEvent)
}

// Monitor terminal statuses.
const (
	MonitorConfirmed = "confirmed"
	MonitorFailed    = "failed"
	MonitorTimeout   = "timeout"
)

// MonitorResult is the outcome of a tx-monitor dispatch. Detached results
// carry the request file and no status; progress arrives via hub events.
type MonitorResult struct {
	Status      string
	Signature   string
	Slot        *uint64
	Detached    bool
	RequestFile string
	ErrMessage  string
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	// EventsFile enables the on-disk hub event log when non-empty.
	EventsFile     string
	DefaultTimeout time.Duration
	// PayloadDir is the default directory for detached monitor request
	// files when the dispatch does not name one.
	PayloadDir string
	// QuietLogger is handed to workers running with captured output.
	// Falls back to the coordinator logger.
	QuietLogger *zap.Logger
}

// Coordinator dispatches swap and tx-monitor work items under
// single-flight locks with per-dispatch timeouts, forwarding worker
// progress in FIFO order and mirroring it to the hub-events log.
type Coordinator struct {
	logger      *zap.Logger
	quietLogger *zap.Logger
	locks       *LockTable
	appender    *EventAppender
	timeout     time.Duration
	payloadDir  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]Worker
	closed  bool
}

// NewCoordinator builds a coordinator; the hub-events log is opened when
// cfg.EventsFile is set.
func NewCoordinator(logger *zap.Logger, cfg CoordinatorConfig) (*Coordinator, error) {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}
	quiet := cfg.QuietLogger
	if quiet == nil {
		quiet = logger
	}

	var appender *EventAppender
	if cfg.EventsFile != "" {
		a, err := NewEventAppender(cfg.EventsFile, defaultFlushInterval, logger)
		if err != nil {
			return nil, err
		}
		appender = a
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:      logger,
		quietLogger: quiet,
		locks:       NewLockTable(),
		appender:    appender,
		timeout:     timeout,
		payloadDir:  cfg.PayloadDir,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]Worker),
	}, nil
}

// Register adds a worker under its name, replacing any previous one.
func (c *Coordinator) Register(w Worker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[w.Name()] = w
}

func (c *Coordinator) worker(name string) (Worker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.E(errs.KindUnavailable, "hub", "coordinator is closed")
	}
	w, ok := c.workers[name]
	if !ok {
		return nil, errs.Errorf(errs.KindUnavailable, "hub", "no %q worker registered", name)
	}
	return w, nil
}

// publish mirrors one event to the hub-events log.
func (c *Coordinator) publish(ev HubEvent) {
	if c.appender == nil {
		return
	}
	if err := c.appender.Append(ev); err != nil {
		c.logger.Warn("Failed to append hub event",
			zap.String("event", ev.Event),
			zap.Error(err))
	}
}

// Close cancels detached runs, waits for them, and closes the event log.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if c.appender != nil {
		return c.appender.Close()
	}
	return nil
}

// RunSwap dispatches a swap payload to the registered swap worker. The
// named lock serializes same-wallet same-mint swaps; the worker is killed
// at the deadline and the dispatch fails with ETIMEDOUT. Worker failures
// and crashes surface as a failed TxSummary, never as a service crash.
func (c *Coordinator) RunSwap(ctx context.Context, payload map[string]interface{}, opts RunOptions) (*RunResult, error) {
	if payload == nil {
		return nil, errs.E(errs.KindInvalidArgument, "hub.runSwap", "payload is required")
	}
	worker, err := c.worker(WorkerSwap)
	if err != nil {
		return nil, err
	}

	wallet := payloadString(payload, "wallet", "alias")
	mint := payloadString(payload, "mint")
	side := payloadString(payload, "side")
	txid := payloadString(payload, "signature", "txid")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := c.locks.Acquire(runCtx, LockKey(worker.Name(), wallet, mint), !opts.NoWait)
	if err != nil {
		return nil, err
	}
	defer release()

	sink := newProgressSink(opts.OnProgress, c.publish, c.logger)
	req := Request{
		Payload: payload,
		Env:     opts.Env,
		Logger:  c.runLogger(opts.CaptureOutput),
	}

	done := make(chan workerOutcome, 1)
	go runWorker(runCtx, worker, req, sink, done)

	select {
	case out := <-done:
		switch {
		case out.panicked:
			c.logger.Error("Swap worker panicked",
				zap.Any("panic", out.panicValue),
				zap.String("stack", out.stack))
			ev := sink.finishCrashed(wallet, side, mint, txid, out.panicValue)
			return &RunResult{
				Result: map[string]interface{}{"status": SummaryFailed, "crashed": true},
				Event:  ev,
			}, nil
		case out.err != nil:
			// The worker may observe the expired deadline before our select
			// does; an expired dispatch is a timeout either way.
			if runCtx.Err() == context.DeadlineExceeded {
				ev := sink.finishTimedOut(wallet, side, mint, txid, timeout)
				return &RunResult{Event: ev}, errs.Errorf(errs.KindTimeout, "hub.runSwap",
					"swap worker exceeded %s", timeout)
			}
			ev := sink.finishFailed(wallet, side, mint, txid, out.err)
			return &RunResult{Event: ev}, out.err
		default:
			ev := sink.finish()
			return &RunResult{Result: out.result, Event: ev}, nil
		}
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			ev := sink.finishTimedOut(wallet, side, mint, txid, timeout)
			return &RunResult{Event: ev}, errs.Errorf(errs.KindTimeout, "hub.runSwap",
				"swap worker exceeded %s", timeout)
		}
		sink.finish()
		return nil, errs.E(errs.KindUnavailable, "hub.runSwap", runCtx.Err())
	}
}

// RunTxMonitor dispatches a confirmation-monitor payload. In detached mode
// the payload is persisted to PayloadFileDir/<uuid>.json (0600) and the
// call returns as soon as the worker acknowledges; monitoring continues in
// the background and lands in the hub-events log.
func (c *Coordinator) RunTxMonitor(ctx context.Context, payload map[string]interface{}, opts MonitorOptions) (*MonitorResult, error) {
	if payload == nil {
		return nil, errs.E(errs.KindInvalidArgument, "hub.runTxMonitor", "payload is required")
	}
	signature := payloadString(payload, "signature", "txid")
	if signature == "" {
		return nil, errs.E(errs.KindInvalidArgument, "hub.runTxMonitor", "payload needs a signature")
	}
	worker, err := c.worker(WorkerTxMonitor)
	if err != nil {
		return nil, err
	}

	wallet := payloadString(payload, "wallet", "alias")
	mint := payloadString(payload, "mint")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	if opts.Detached {
		return c.runDetachedMonitor(worker, payload, opts, signature, wallet, mint, timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := c.locks.Acquire(runCtx, LockKey(worker.Name(), wallet, mint), !opts.NoWait)
	if err != nil {
		return nil, err
	}
	defer release()

	sink := newProgressSink(opts.OnProgress, c.publish, c.logger)
	req := Request{
		Payload: payload,
		Env:     opts.Env,
		Logger:  c.runLogger(opts.CaptureOutput),
	}

	done := make(chan workerOutcome, 1)
	go runWorker(runCtx, worker, req, sink, done)

	select {
	case out := <-done:
		sink.finish()
		if out.panicked {
			c.logger.Error("Monitor worker panicked",
				zap.Any("panic", out.panicValue),
				zap.String("stack", out.stack))
			return &MonitorResult{Status: MonitorFailed, Signature: signature,
				ErrMessage: fmt.Sprintf("monitor crashed: %v", out.panicValue)}, nil
		}
		if out.err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return &MonitorResult{Status: MonitorTimeout, Signature: signature},
					errs.Errorf(errs.KindTimeout, "hub.runTxMonitor", "monitor exceeded %s", timeout)
			}
			return &MonitorResult{Status: MonitorFailed, Signature: signature,
				ErrMessage: out.err.Error()}, out.err
		}
		return monitorResultFromMap(out.result, signature), nil
	case <-runCtx.Done():
		sink.finish()
		if runCtx.Err() == context.DeadlineExceeded {
			return &MonitorResult{Status: MonitorTimeout, Signature: signature},
				errs.Errorf(errs.KindTimeout, "hub.runTxMonitor", "monitor exceeded %s", timeout)
		}
		return nil, errs.E(errs.KindUnavailable, "hub.runTxMonitor", runCtx.Err())
	}
}

// runDetachedMonitor persists the payload, starts the worker on the
// coordinator's own context, and returns at the worker's first progress
// event. The named lock covers only the dispatch.
func (c *Coordinator) runDetachedMonitor(worker Worker, payload map[string]interface{}, opts MonitorOptions, signature, wallet, mint string, timeout time.Duration) (*MonitorResult, error) {
	dir := opts.PayloadFileDir
	if dir == "" {
		dir = c.payloadDir
	}
	if dir == "" {
		return nil, errs.E(errs.KindInvalidArgument, "hub.runTxMonitor",
			"detached mode needs a payload file directory")
	}
	requestFile, err := writePayloadFile(dir, payload)
	if err != nil {
		return nil, errs.E(errs.KindUnavailable, "hub.runTxMonitor", err)
	}

	runCtx, cancel := context.WithTimeout(c.ctx, timeout)

	release, err := c.locks.Acquire(runCtx, LockKey(worker.Name(), wallet, mint), !opts.NoWait)
	if err != nil {
		cancel()
		_ = os.Remove(requestFile)
		return nil, err
	}
	defer release()

	sink := newProgressSink(opts.OnProgress, c.publish, c.logger)
	ack := make(chan struct{})
	var ackOnce sync.Once
	sink.afterDeliver = func() {
		ackOnce.Do(func() { close(ack) })
	}

	req := Request{
		Payload:     payload,
		Env:         opts.Env,
		RequestFile: requestFile,
		Logger:      c.runLogger(opts.CaptureOutput),
	}

	done := make(chan workerOutcome, 1)
	finished := make(chan workerOutcome, 1)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer cancel()
		runWorker(runCtx, worker, req, sink, done)
		sink.finish()
	}()
	go func() {
		defer c.wg.Done()
		out := <-done
		if out.panicked {
			c.logger.Error("Detached monitor panicked",
				zap.String("signature", signature),
				zap.Any("panic", out.panicValue))
		} else if out.err != nil {
			c.logger.Warn("Detached monitor failed",
				zap.String("signature", signature),
				zap.Error(out.err))
		}
		finished <- out
	}()

	select {
	case <-ack:
		return &MonitorResult{Detached: true, RequestFile: requestFile, Signature: signature}, nil
	case out := <-finished:
		// Worker ended before acknowledging; report the synchronous outcome.
		_ = os.Remove(requestFile)
		if out.panicked {
			return &MonitorResult{Status: MonitorFailed, Signature: signature,
				ErrMessage: fmt.Sprintf("monitor crashed: %v", out.panicValue)}, nil
		}
		if out.err != nil {
			return &MonitorResult{Status: MonitorFailed, Signature: signature,
				ErrMessage: out.err.Error()}, out.err
		}
		return monitorResultFromMap(out.result, signature), nil
	case <-runCtx.Done():
		_ = os.Remove(requestFile)
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Errorf(errs.KindTimeout, "hub.runTxMonitor",
				"monitor did not acknowledge within %s", timeout)
		}
		return nil, errs.E(errs.KindUnavailable, "hub.runTxMonitor", runCtx.Err())
	}
}

func (c *Coordinator) runLogger(capture bool) *zap.Logger {
	if capture {
		return c.quietLogger
	}
	return c.logger
}

// workerOutcome is what the worker goroutine reports back.
type workerOutcome struct {
	result     map[string]interface{}
	err        error
	panicked   bool
	panicValue interface{}
	stack      string
}

// runWorker executes the worker with panic containment and reports on done.
func runWorker(ctx context.Context, worker Worker, req Request, sink *progressSink, done chan<- workerOutcome) {
	defer func() {
		if r := recover(); r != nil {
			done <- workerOutcome{panicked: true, panicValue: r, stack: string(debug.Stack())}
		}
	}()
	result, err := worker.Run(ctx, req, sink.emit)
	done <- workerOutcome{result: result, err: err}
}

// writePayloadFile persists a detached request as <uuid>.json, mode 0600.
func writePayloadFile(dir string, payload map[string]interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create payload directory: %w", err)
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".json")
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return "", fmt.Errorf("failed to write payload file: %w", err)
	}
	return path, nil
}

func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func monitorResultFromMap(result map[string]interface{}, signature string) *MonitorResult {
	out := &MonitorResult{Status: MonitorConfirmed, Signature: signature}
	if result == nil {
		return out
	}
	if status := payloadString(result, "status"); status != "" {
		out.Status = status
	}
	if slot, ok := uintField(result, "slot"); ok {
		out.Slot = &slot
	}
	if msg := payloadString(result, "errMessage"); msg != "" {
		out.ErrMessage = msg
	}
	return out
}

func crashLabel(side string) string {
	side = strings.ToUpper(side)
	if side == "" {
		return "swap crashed"
	}
	return side + " swap crashed"
}

func failLabel(side string) string {
	side = strings.ToUpper(side)
	if side == "" {
		return "swap failed"
	}
	return side + " swap failed"
}

func timeoutLabel(side string) string {
	side = strings.ToUpper(side)
	if side == "" {
		return "swap timed out"
	}
	return side + " swap timed out"
}
