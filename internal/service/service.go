// Package service is the warchest runtime: it resolves wallets against
// the registry, owns the HUD model and its store, fans out RPC
// subscriptions, runs the periodic and debounced refresh pipelines, and
// publishes liveness through the PID and status files.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/blockchain"
	"github.com/scoundrelhq/warchest/internal/chainstate"
	"github.com/scoundrelhq/warchest/internal/config"
	"github.com/scoundrelhq/warchest/internal/dataapi"
	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/hub"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/logger"
	"github.com/scoundrelhq/warchest/internal/scheduler"
	"github.com/scoundrelhq/warchest/internal/storage"
)

// Options wires the service's collaborators. DB and Specs are required;
// RPC and Data default to clients built from Config.
type Options struct {
	Config  *config.Config
	Specs   []hud.WalletSpec
	HudMode bool
	DB      storage.Store
	Logger  *zap.Logger
}

// Service is the assembled runtime. Build with New, drive with Run.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	hudMode bool

	model    *hud.Model
	store    *hud.Store
	throttle *hud.EmitThrottle

	db     storage.Store
	trades storage.TradeWriter

	rpc   *blockchain.Client
	data  *dataapi.Client
	chain *chainstate.ChainState
	live  *chainstate.WalletLiveState

	timings   *rpcTimings
	refresher *refresher
	sched     *scheduler.Scheduler
	walletman *walletManager
	health    *healthSampler

	coordinator *hub.Coordinator
	tailer      *hub.Tailer

	subsMu sync.Mutex
	subs   []blockchain.Subscription

	wg sync.WaitGroup
}

// New validates the startup preconditions of the service and assembles
// every component. Failures here are fatal by contract: a service that
// cannot resolve wallets or persist trades must not come up.
func New(ctx context.Context, opts Options) (*Service, error) {
	const op = "service.new"

	cfg := opts.Config
	if cfg == nil {
		return nil, errs.E(errs.KindFatal, op, "config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DB == nil {
		return nil, errs.E(errs.KindFatal, op, "operational database is required")
	}
	trades, ok := hasTradeEventWriters(opts.DB)
	if !ok {
		return nil, errs.E(errs.KindFatal, op, "storage adapter lacks the trade event writers")
	}
	if len(opts.Specs) == 0 {
		return nil, errs.E(errs.KindFatal, op, "no wallet specs supplied")
	}

	resolved := resolveWallets(ctx, opts.DB, opts.Specs, logger)
	if len(resolved) == 0 {
		return nil, errs.E(errs.KindFatal, op, "no wallets resolved against the registry")
	}

	model := hud.NewModel(resolved, hud.ModelOptions{
		MaxTx:       cfg.HudMaxTx,
		StableMints: hud.StableMintSet(cfg.StableMints),
	})
	store := hud.NewStore(model.Snapshot)
	throttle := hud.NewEmitThrottle(store.EmitChange, hud.DefaultEmitWindow)

	s := &Service{
		cfg:      cfg,
		logger:   logger.Named("service"),
		hudMode:  opts.HudMode,
		model:    model,
		store:    store,
		throttle: throttle,
		db:       opts.DB,
		trades:   trades,
		chain:    chainstate.Chain(),
		live:     chainstate.Live(),
		timings:  newRPCTimings(),
	}

	rpc, err := blockchain.NewClient(ctx, &blockchain.Config{
		HTTPURL: cfg.RPCHTTPURL,
		WSURL:   cfg.RPCWSURL,
		OnSupervisorStats: func(st blockchain.SupervisorStats) {
			model.SetWsSupervisor(hud.WsSupervisorStats{
				State:       st.State,
				ConnectedAt: st.ConnectedAt,
				Reconnects:  st.Reconnects,
				LastError:   st.LastError,
			})
			throttle.Emit()
		},
	}, logger)
	if err != nil {
		return nil, errs.E(errs.KindFatal, op, err)
	}
	s.rpc = rpc

	s.data = dataapi.NewClient(&dataapi.Config{
		BaseURL:  cfg.DataEndpoint,
		APIKey:   cfg.DataAPIKey,
		OnTiming: s.timings.RecordDataAPI,
	}, logger)

	s.refresher = newRefresher(refresherConfig{
		Model:   model,
		RPC:     rpc,
		Prices:  s.data,
		Pnl:     opts.DB,
		Live:    s.live,
		Timings: s.timings,
		Emit:    throttle.Emit,
		Logger:  logger,
	})
	s.sched = scheduler.New(ctx, model.Aliases(), cfg.RefreshDebounce(), s.refresher.refreshWallet, logger)
	s.walletman = newWalletManager(model, trades, s.sched, throttle.Emit, logger)
	s.health = newHealthSampler(model, s.chain, s.timings, logger)

	quiet, quietErr := newQuietLogger(cfg)
	if quietErr != nil {
		logger.Warn("Captured-output logger unavailable; workers will share the service logger", zap.Error(quietErr))
		quiet = nil
	}
	coordinator, err := hub.NewCoordinator(logger.Named("hub"), hub.CoordinatorConfig{
		EventsFile:     cfg.HubEventsFile,
		DefaultTimeout: cfg.HubWorkerTimeout(),
		PayloadDir:     cfg.TxMonitorDir,
		QuietLogger:    quiet,
	})
	if err != nil {
		return nil, errs.E(errs.KindFatal, op, err)
	}
	coordinator.Register(hub.NewMonitorWorker(rpc, quietOrDefault(quiet, logger), 0))
	s.coordinator = coordinator

	tailer, err := hub.NewTailer(cfg.HubEventsFile, logger.Named("hub.tailer"), func(ev hub.HubEvent) {
		if hub.ApplyHubEventToState(model, ev) {
			throttle.Emit()
		}
	})
	if err != nil {
		coordinator.Close()
		return nil, errs.E(errs.KindFatal, op, err)
	}
	s.tailer = tailer

	return s, nil
}

// newQuietLogger builds the file-only logger handed to workers running
// with captured output: their progress stays off the terminal but keeps
// landing in the log file.
func newQuietLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := logger.DefaultConfig()
	lc.LogFile = cfg.LogFile
	lc.Level = cfg.LogLevel
	lc.Console = false
	return logger.New(lc)
}

func quietOrDefault(quiet, fallback *zap.Logger) *zap.Logger {
	if quiet != nil {
		return quiet
	}
	return fallback
}

// Store exposes the HUD store for snapshot consumers (the TUI, tests).
func (s *Service) Store() *hud.Store { return s.store }

// Coordinator exposes the hub coordinator for swap and monitor callers.
func (s *Service) Coordinator() *hub.Coordinator { return s.coordinator }

// Run executes the startup sequence, serves until ctx is cancelled, and
// tears down in reverse order. The error is nil on a graceful stop.
func (s *Service) Run(ctx context.Context) error {
	if err := WritePidFile(s.cfg.PidFile()); err != nil {
		return err
	}
	defer RemovePidFile(s.cfg.PidFile(), s.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.subscribeAll()
	s.initialRefresh(runCtx)
	s.startTimers(runCtx)

	s.logger.Info("Warchest service running",
		zap.Int("wallets", len(s.model.Aliases())),
		zap.Bool("hud", s.hudMode),
		zap.Bool("subscriptions", s.rpc.HasSubscriptions()))

	<-ctx.Done()

	s.logger.Info("Shutting down")
	cancel()
	s.wg.Wait()
	s.shutdown()
	return nil
}

// subscribeAll opens the slot heartbeat plus one account and one logs
// subscription per wallet. A missing subscription endpoint is a warning,
// not a failure: the periodic timers keep the snapshot moving.
func (s *Service) subscribeAll() {
	if !s.rpc.HasSubscriptions() {
		s.logger.Warn("No WebSocket endpoint configured; falling back to periodic polling")
		s.model.PushAlert("warn", "subscriptions unavailable; polling only")
		return
	}

	s.addSub("slot", func() (blockchain.Subscription, error) {
		return s.rpc.SubscribeSlot(func(ev blockchain.SlotEvent) {
			s.chain.Update(&ev.Slot, &ev.Parent, &ev.Root)
		})
	})

	for _, alias := range s.model.Aliases() {
		alias := alias
		pubkey := s.model.PubkeyOf(alias)
		if pubkey == "" {
			continue
		}

		s.addSub(fmt.Sprintf("account:%s", alias), func() (blockchain.Subscription, error) {
			return s.rpc.SubscribeAccount(pubkey, func(ev blockchain.AccountEvent) {
				s.model.UpdateWalletSol(alias, blockchain.LamportsToSol(ev.Lamports))
				s.live.UpdateSol(pubkey, float64(ev.Lamports))
				s.throttle.Emit()
			})
		})
		s.addSub(fmt.Sprintf("logs:%s", alias), func() (blockchain.Subscription, error) {
			return s.rpc.SubscribeLogs(pubkey, func(ev blockchain.LogsEvent) {
				s.walletman.HandleLogs(alias, ev)
			})
		})
	}
}

func (s *Service) addSub(name string, open func() (blockchain.Subscription, error)) {
	sub, err := open()
	if err != nil {
		s.logger.Warn("Subscription failed to open; continuing without it",
			zap.String("subscription", name),
			zap.Error(err))
		s.model.PushAlert("warn", fmt.Sprintf("subscription %s unavailable", name))
		return
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
}

func (s *Service) initialRefresh(ctx context.Context) {
	s.refresher.refreshSolAll(ctx)
	s.refresher.refreshTokensAll(ctx)
}

// startTimers launches the periodic sweeps: SOL balances, token
// listings, and the health document. Every loop exits on ctx cancel.
func (s *Service) startTimers(ctx context.Context) {
	s.startTicker(ctx, "sol", s.cfg.SolRefreshInterval(), func() {
		s.refresher.refreshSolAll(ctx)
	})
	s.startTicker(ctx, "tokens", s.cfg.TokensRefreshInterval(), func() {
		s.refresher.refreshTokensAll(ctx)
	})
	s.startTicker(ctx, "health", healthInterval, func() {
		s.refreshHealth()
	})
	s.health.start(ctx, &s.wg)
}

func (s *Service) startTicker(ctx context.Context, name string, interval time.Duration, tick func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	s.logger.Debug("Periodic timer started",
		zap.String("timer", name),
		zap.Duration("interval", interval))
}

// refreshHealth publishes a fresh health document into the snapshot and,
// in daemon mode, to status.json.
func (s *Service) refreshHealth() {
	health := s.health.collect()
	s.model.SetHealth(health)
	s.throttle.Emit()

	if !s.hudMode {
		if err := WriteStatusFile(s.cfg.StatusFile(), health); err != nil {
			s.logger.Warn("Failed to write status file", zap.Error(err))
		}
	}
}

// shutdown tears down in reverse registration order: the RPC client and
// the emit throttle outlive everything that still writes through them.
// Each step is bounded so a wedged resource cannot stall the exit.
func (s *Service) shutdown() {
	stack := newCloseStack(s.logger, 0)

	stack.AddFunc("rpc", s.rpc.Close)
	stack.AddFunc("hud.throttle", func() error {
		s.throttle.Flush()
		s.throttle.Close()
		s.store.RemoveAllListeners()
		return nil
	})
	stack.AddFunc("hub.coordinator", s.coordinator.Close)
	stack.AddFunc("hub.tailer", s.tailer.Close)
	stack.AddFunc("scheduler", func() error {
		s.sched.Close()
		return nil
	})
	stack.AddFunc("subscriptions", func() error {
		s.subsMu.Lock()
		subs := s.subs
		s.subs = nil
		s.subsMu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		return nil
	})

	stack.Close()
}
