package service

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/chainstate"
	"github.com/scoundrelhq/warchest/internal/hud"
)

const (
	healthInterval  = 5 * time.Second
	tickLagInterval = time.Second
	walletStaleAge  = 60 * time.Second
)

// rpcTimings holds the duration of the most recent refresh batches.
// Fields stay nil until the first sample so the health document can
// distinguish "never ran" from "ran fast".
type rpcTimings struct {
	mu      sync.Mutex
	sol     *int64
	token   *int64
	dataAPI *int64
}

func newRPCTimings() *rpcTimings { return &rpcTimings{} }

func (t *rpcTimings) RecordSol(d time.Duration) {
	ms := d.Milliseconds()
	t.mu.Lock()
	t.sol = &ms
	t.mu.Unlock()
}

func (t *rpcTimings) RecordToken(d time.Duration) {
	ms := d.Milliseconds()
	t.mu.Lock()
	t.token = &ms
	t.mu.Unlock()
}

// RecordDataAPI matches the dataapi OnTiming callback shape.
func (t *rpcTimings) RecordDataAPI(d time.Duration) {
	ms := d.Milliseconds()
	t.mu.Lock()
	t.dataAPI = &ms
	t.mu.Unlock()
}

func (t *rpcTimings) snapshot() hud.HealthRPC {
	t.mu.Lock()
	defer t.mu.Unlock()
	return hud.HealthRPC{
		LastSolMs:     copyInt64Ptr(t.sol),
		LastTokenMs:   copyInt64Ptr(t.token),
		LastDataApiMs: copyInt64Ptr(t.dataAPI),
	}
}

func copyInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	ms := *v
	return &ms
}

// healthSampler assembles the periodic health document from process
// stats, refresh timings, chain state, and wallet freshness.
type healthSampler struct {
	model     *hud.Model
	chain     *chainstate.ChainState
	timings   *rpcTimings
	logger    *zap.Logger
	startedAt time.Time
	proc      *process.Process

	mu        sync.Mutex
	tickLagMs float64
}

func newHealthSampler(model *hud.Model, chain *chainstate.ChainState, timings *rpcTimings, logger *zap.Logger) *healthSampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &healthSampler{
		model:     model,
		chain:     chain,
		timings:   timings,
		logger:    logger,
		startedAt: time.Now(),
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("Process inspection unavailable; RSS will read zero", zap.Error(err))
	} else {
		h.proc = proc
	}
	return h
}

// start launches the scheduling-lag sampler: a 1s ticker whose overrun
// beyond the expected fire time is the reported lag, clamped at zero.
func (h *healthSampler) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tickLagInterval)
		defer ticker.Stop()
		expected := time.Now().Add(tickLagInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lag := time.Since(expected)
				if lag < 0 {
					lag = 0
				}
				h.mu.Lock()
				h.tickLagMs = float64(lag) / float64(time.Millisecond)
				h.mu.Unlock()
				expected = time.Now().Add(tickLagInterval)
			}
		}
	}()
}

func (h *healthSampler) collect() *hud.Health {
	now := time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var rss uint64
	if h.proc != nil {
		if mi, err := h.proc.MemoryInfo(); err == nil && mi != nil {
			rss = mi.RSS
		}
	}
	loadAvg := 0.0
	if avg, err := load.Avg(); err == nil && avg != nil {
		loadAvg = avg.Load1
	}

	h.mu.Lock()
	lag := h.tickLagMs
	h.mu.Unlock()

	view := h.chain.Get()
	var slotAge *int64
	if view.LastSlotAt > 0 {
		age := now.UnixMilli() - view.LastSlotAt
		if age < 0 {
			age = 0
		}
		slotAge = &age
	}

	count, stale := h.model.WalletCounts(walletStaleAge)

	return &hud.Health{
		Process: hud.HealthProcess{
			UptimeSec:      now.Sub(h.startedAt).Seconds(),
			RssBytes:       rss,
			HeapUsedBytes:  memStats.HeapAlloc,
			LoadAvg1m:      loadAvg,
			EventLoopLagMs: lag,
		},
		RPC: h.timings.snapshot(),
		WS: hud.HealthWS{
			Slot:          view.Slot,
			Root:          view.Root,
			LastSlotAgeMs: slotAge,
		},
		Wallets: hud.HealthWallets{
			Count:      count,
			StaleCount: stale,
		},
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
}
