package blockchain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
)

const (
	supStateDisabled     = "disabled"
	supStateConnecting   = "connecting"
	supStateConnected    = "connected"
	supStateReconnecting = "reconnecting"
	supStateClosed       = "closed"
)

const (
	wsRetryInitial = 500 * time.Millisecond
	wsRetryMax     = 30 * time.Second
)

// managedSub is one registered subscription. It survives reconnects: the
// supervisor re-establishes it on every new connection until Unsubscribe.
type managedSub struct {
	id    int
	kind  string // slot | account | logs
	pk    solana.PublicKey
	hasPk bool

	onSlot    func(SlotEvent)
	onAccount func(AccountEvent)
	onLogs    func(LogsEvent)

	mu   sync.Mutex
	gone bool
	live interface{ Unsubscribe() }
}

func (m *managedSub) isGone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gone
}

func (m *managedSub) pubkeyStr() string {
	if !m.hasPk {
		return ""
	}
	return m.pk.String()
}

// Supervisor owns the WebSocket connection: it dials with backoff,
// re-establishes every registered subscription after a reconnect, and
// reports its state for the HUD. With no endpoint it stays disabled and
// every subscribe fails with Unavailable.
type Supervisor struct {
	endpoint string
	logger   *zap.Logger
	onStats  func(SupervisorStats)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	subs       map[int]*managedSub
	nextID     int
	conn       *ws.Client
	gctx       context.Context
	gcancel    context.CancelFunc
	lost       chan struct{}
	generation uint64
	stats      SupervisorStats
}

func newSupervisor(parent context.Context, endpoint string, logger *zap.Logger, onStats func(SupervisorStats)) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		endpoint: endpoint,
		logger:   logger,
		onStats:  onStats,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]*managedSub),
	}
	if endpoint == "" {
		s.stats.State = supStateDisabled
		return s
	}
	s.stats.State = supStateConnecting
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Supervisor) enabled() bool {
	return s.endpoint != ""
}

// Stats returns a copy of the current supervisor state.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the connection loop and waits for every receive goroutine.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) subscribeSlot(handler func(SlotEvent)) (Subscription, error) {
	return s.register(&managedSub{kind: "slot", onSlot: handler})
}

func (s *Supervisor) subscribeAccount(pubkey string, handler func(AccountEvent)) (Subscription, error) {
	pk, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return nil, errs.E(errs.KindInvalidArgument, "ws.subscribeAccount", err)
	}
	return s.register(&managedSub{kind: "account", pk: pk, hasPk: true, onAccount: handler})
}

func (s *Supervisor) subscribeLogs(pubkey string, handler func(LogsEvent)) (Subscription, error) {
	pk, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return nil, errs.E(errs.KindInvalidArgument, "ws.subscribeLogs", err)
	}
	return s.register(&managedSub{kind: "logs", pk: pk, hasPk: true, onLogs: handler})
}

func (s *Supervisor) register(m *managedSub) (Subscription, error) {
	const op = "ws.subscribe"

	if !s.enabled() {
		return nil, errs.E(errs.KindUnavailable, op, "no WebSocket endpoint configured")
	}
	if s.ctx.Err() != nil {
		return nil, errs.E(errs.KindUnavailable, op, "supervisor closed")
	}

	s.mu.Lock()
	s.nextID++
	m.id = s.nextID
	s.subs[m.id] = m
	conn, gctx, gen := s.conn, s.gctx, s.generation
	s.mu.Unlock()

	if conn != nil {
		if err := s.establish(conn, gctx, gen, m); err != nil {
			// Stays registered; the next reconnect retries it.
			s.logger.Warn("Subscription deferred to next reconnect",
				zap.String("kind", m.kind),
				zap.String("pubkey", m.pubkeyStr()),
				zap.Error(err))
		}
	}
	return &supGuard{s: s, id: m.id}, nil
}

func (s *Supervisor) unregister(id int) {
	s.mu.Lock()
	m, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	m.gone = true
	live := m.live
	m.live = nil
	m.mu.Unlock()
	if live != nil {
		live.Unsubscribe()
	}
}

// supGuard is the handle returned to subscribers.
type supGuard struct {
	s    *Supervisor
	id   int
	once sync.Once
}

func (g *supGuard) Unsubscribe() {
	g.once.Do(func() { g.s.unregister(g.id) })
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	for {
		conn, err := s.dial()
		if err != nil {
			s.publish(func(st *SupervisorStats) { st.State = supStateClosed })
			return
		}
		lost, gctx, gen := s.installConn(conn)
		s.establishAll(conn, gctx, gen)

		select {
		case <-s.ctx.Done():
			s.teardown(gen)
			s.publish(func(st *SupervisorStats) { st.State = supStateClosed })
			return
		case <-lost:
		}
	}
}

func (s *Supervisor) dial() (*ws.Client, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = wsRetryInitial
	policy.MaxInterval = wsRetryMax

	attempt := 0
	return backoff.Retry(s.ctx, func() (*ws.Client, error) {
		return ws.Connect(s.ctx, s.endpoint)
	},
		backoff.WithBackOff(policy),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			s.publish(func(st *SupervisorStats) { st.LastError = err.Error() })
			s.logger.Warn("WebSocket connect failed",
				zap.String("endpoint", s.endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}))
}

func (s *Supervisor) installConn(conn *ws.Client) (chan struct{}, context.Context, uint64) {
	gctx, gcancel := context.WithCancel(s.ctx)
	lost := make(chan struct{})

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.conn = conn
	s.gctx = gctx
	s.gcancel = gcancel
	s.lost = lost
	s.stats.State = supStateConnected
	s.stats.ConnectedAt = time.Now().UnixMilli()
	s.stats.LastError = ""
	st := s.stats
	s.mu.Unlock()

	s.notify(st)
	s.logger.Info("WebSocket connected", zap.String("endpoint", s.endpoint))
	return lost, gctx, gen
}

func (s *Supervisor) establishAll(conn *ws.Client, gctx context.Context, gen uint64) {
	s.mu.Lock()
	pending := make([]*managedSub, 0, len(s.subs))
	for _, m := range s.subs {
		pending = append(pending, m)
	}
	s.mu.Unlock()

	established := 0
	for _, m := range pending {
		if err := s.establish(conn, gctx, gen, m); err != nil {
			s.logger.Warn("Subscription setup failed",
				zap.String("kind", m.kind),
				zap.String("pubkey", m.pubkeyStr()),
				zap.Error(err))
			continue
		}
		established++
	}
	if len(pending) > 0 && established == 0 {
		s.connLost(gen, errors.New("no subscription could be established"))
	}
}

func (s *Supervisor) establish(conn *ws.Client, gctx context.Context, gen uint64, m *managedSub) error {
	if m.isGone() {
		return nil
	}

	var live interface{ Unsubscribe() }
	switch m.kind {
	case "slot":
		sub, err := conn.SlotSubscribe()
		if err != nil {
			return err
		}
		live = sub
		s.wg.Add(1)
		go s.recvSlot(gctx, gen, sub, m)
	case "account":
		sub, err := conn.AccountSubscribeWithOpts(m.pk, rpc.CommitmentConfirmed, solana.EncodingBase64)
		if err != nil {
			return err
		}
		live = sub
		s.wg.Add(1)
		go s.recvAccount(gctx, gen, sub, m)
	case "logs":
		sub, err := conn.LogsSubscribeMentions(m.pk, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		live = sub
		s.wg.Add(1)
		go s.recvLogs(gctx, gen, sub, m)
	}

	m.mu.Lock()
	if m.gone {
		m.mu.Unlock()
		live.Unsubscribe()
		return nil
	}
	m.live = live
	m.mu.Unlock()
	return nil
}

func (s *Supervisor) recvSlot(gctx context.Context, gen uint64, sub *ws.SlotSubscription, m *managedSub) {
	defer s.wg.Done()
	for {
		res, err := sub.Recv(gctx)
		if err != nil {
			if m.isGone() || gctx.Err() != nil {
				return
			}
			s.connLost(gen, err)
			return
		}
		if res == nil {
			continue
		}
		m.onSlot(SlotEvent{Slot: res.Slot, Parent: res.Parent, Root: res.Root})
	}
}

func (s *Supervisor) recvAccount(gctx context.Context, gen uint64, sub *ws.AccountSubscription, m *managedSub) {
	defer s.wg.Done()
	for {
		res, err := sub.Recv(gctx)
		if err != nil {
			if m.isGone() || gctx.Err() != nil {
				return
			}
			s.connLost(gen, err)
			return
		}
		if res == nil {
			continue
		}
		m.onAccount(AccountEvent{
			Pubkey:   m.pk.String(),
			Lamports: res.Value.Lamports,
			Slot:     res.Context.Slot,
		})
	}
}

func (s *Supervisor) recvLogs(gctx context.Context, gen uint64, sub *ws.LogSubscription, m *managedSub) {
	defer s.wg.Done()
	for {
		res, err := sub.Recv(gctx)
		if err != nil {
			if m.isGone() || gctx.Err() != nil {
				return
			}
			s.connLost(gen, err)
			return
		}
		if res == nil {
			continue
		}
		m.onLogs(LogsEvent{
			Signature: res.Value.Signature.String(),
			Logs:      res.Value.Logs,
			Err:       res.Value.Err,
			Slot:      res.Context.Slot,
		})
	}
}

// connLost tears the current connection down exactly once per generation
// and wakes the run loop to redial.
func (s *Supervisor) connLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation || s.lost == nil {
		s.mu.Unlock()
		return
	}
	close(s.lost)
	s.lost = nil
	conn := s.conn
	s.conn = nil
	gcancel := s.gcancel
	s.stats.State = supStateReconnecting
	s.stats.ConnectedAt = 0
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	st := s.stats
	s.mu.Unlock()

	gcancel()
	if conn != nil {
		conn.Close()
	}
	s.notify(st)
	s.logger.Warn("WebSocket connection lost", zap.Error(err))
}

// teardown closes the current connection without marking a reconnect.
func (s *Supervisor) teardown(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	gcancel := s.gcancel
	if s.lost != nil {
		close(s.lost)
		s.lost = nil
	}
	s.mu.Unlock()

	gcancel()
	conn.Close()
}

func (s *Supervisor) publish(mutate func(*SupervisorStats)) {
	s.mu.Lock()
	mutate(&s.stats)
	st := s.stats
	s.mu.Unlock()
	s.notify(st)
}

func (s *Supervisor) notify(st SupervisorStats) {
	if s.onStats != nil {
		s.onStats(st)
	}
}
