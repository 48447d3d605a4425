package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"signal-engine/internal/bus"
	"signal-engine/internal/model"
)

// Manager runs one Driver per symbol, each on its own goroutine, and routes
// ticks to them by symbol. Alerts and errors from every Driver arrive on
// shared channels.
type Manager struct {
	cfg       Config
	queueSize int
	autoTrack bool
	subBuffer int
	log       *slog.Logger

	alerts chan model.AlertEvent
	errs   chan error
	subs   *bus.FanOut[model.Published]

	mu      sync.RWMutex
	workers map[string]*worker
	ctx     context.Context
	wg      sync.WaitGroup
}

type worker struct {
	driver *Driver
	ticks  chan model.Tick
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerOption tunes a Manager.
type ManagerOption func(*Manager)

// WithQueueSize sets the per-symbol tick queue length.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithSubscriberBuffer sets the channel length of every Subscribe channel.
func WithSubscriberBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.subBuffer = n
		}
	}
}

// WithAutoTrack starts a pipeline for every new symbol seen by Dispatch.
func WithAutoTrack() ManagerOption {
	return func(m *Manager) { m.autoTrack = true }
}

// NewManager creates a Manager. cfg is the template every Driver is built
// from; its Alerts, Errors and OnPublish fields are replaced.
func NewManager(ctx context.Context, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.AlertBuffer <= 0 {
		cfg.AlertBuffer = 256
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		queueSize: 256,
		log:       cfg.Logger.With("component", "manager"),
		alerts:    make(chan model.AlertEvent, cfg.AlertBuffer),
		errs:      make(chan error, cfg.ErrorBuffer),
		subBuffer: 64,
		workers:   make(map[string]*worker),
		ctx:       ctx,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.subs = bus.New[model.Published](m.subBuffer, bus.DropNewest)
	m.subs.OnDrop = func(int) { cfg.Metrics.FanoutDrop("published") }
	return m, nil
}

// Track starts a pipeline for symbol. Tracking an already tracked symbol
// returns ErrAlreadyRunning.
func (m *Manager) Track(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackLocked(symbol)
}

func (m *Manager) trackLocked(symbol string) error {
	if _, ok := m.workers[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, ErrAlreadyRunning)
	}

	cfg := m.cfg
	cfg.Alerts = m.alerts
	cfg.Errors = m.errs
	cfg.OnPublish = m.subs.Publish
	d, err := NewDriver(cfg)
	if err != nil {
		return err
	}
	if err := d.Start(symbol); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	w := &worker{driver: d, ticks: make(chan model.Tick, m.queueSize), ctx: ctx, cancel: cancel}
	m.workers[symbol] = w

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := d.Run(ctx, w.ticks); err != nil && ctx.Err() == nil {
			m.log.Error("pipeline exited", "symbol", symbol, "error", err)
		}
	}()
	m.log.Info("tracking symbol", "symbol", symbol)
	return nil
}

// Untrack stops the pipeline for symbol and forgets its state.
func (m *Manager) Untrack(symbol string) error {
	m.mu.Lock()
	w, ok := m.workers[symbol]
	delete(m.workers, symbol)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrNotRunning)
	}
	w.cancel()
	err := w.driver.Stop()
	m.log.Info("untracked symbol", "symbol", symbol)
	return err
}

// Dispatch routes t to its symbol's pipeline, blocking while that queue is
// full. Untracked symbols are reported as FeedError unless auto-tracking.
func (m *Manager) Dispatch(ctx context.Context, t model.Tick) error {
	m.mu.RLock()
	w, ok := m.workers[t.Symbol]
	if !ok {
		m.mu.RUnlock()
		if !m.autoTrack || t.Symbol == "" {
			err := &model.FeedError{Symbol: t.Symbol, Reason: "untracked symbol"}
			m.report(t.Symbol, err)
			return err
		}
		m.mu.Lock()
		if _, ok := m.workers[t.Symbol]; !ok {
			if err := m.trackLocked(t.Symbol); err != nil {
				m.mu.Unlock()
				return err
			}
		}
		m.mu.Unlock()

		m.mu.RLock()
		if w, ok = m.workers[t.Symbol]; !ok {
			m.mu.RUnlock()
			return fmt.Errorf("%s: %w", t.Symbol, ErrNotRunning)
		}
	}
	// Held across the send so Drain never closes a queue mid-send.
	defer m.mu.RUnlock()

	select {
	case w.ticks <- t:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("%s: %w", t.Symbol, ErrNotRunning)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches every tick from ticks until ctx is cancelled or the
// channel closes. On cancellation pipelines stop between ticks; when the
// channel closes queued ticks are processed first.
func (m *Manager) Run(ctx context.Context, ticks <-chan model.Tick) error {
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				m.Drain()
				return nil
			}
			if err := m.Dispatch(ctx, t); err != nil && ctx.Err() != nil {
				m.Shutdown()
				return ctx.Err()
			}
		}
	}
}

// Drain closes every queue, waits for pipelines to process what is already
// queued, then stops them.
func (m *Manager) Drain() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[string]*worker)
	for _, w := range workers {
		close(w.ticks)
	}
	m.mu.Unlock()

	m.wg.Wait()
	for _, w := range workers {
		w.cancel()
		w.driver.Stop()
	}
}

// Shutdown stops every pipeline between ticks and waits for their
// goroutines. Queued ticks are discarded.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.cancel()
		w.driver.Stop()
	}
	m.wg.Wait()
}

// SubscriberStats reports the fill level of every subscriber channel.
func (m *Manager) SubscriberStats() []bus.ChannelStat { return m.subs.ChannelStats() }

// Close closes every subscriber channel. Call it after Drain or Shutdown.
func (m *Manager) Close() { m.subs.Close() }

// Latest returns the newest publication for symbol.
func (m *Manager) Latest(symbol string) (*model.Published, bool) {
	m.mu.RLock()
	w, ok := m.workers[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p := w.driver.Latest()
	return p, p != nil
}

// LatestAll returns the newest publication of every tracked symbol that has
// published at least once, ordered by symbol.
func (m *Manager) LatestAll() []model.Published {
	out := make([]model.Published, 0)
	for _, sym := range m.Symbols() {
		if p, ok := m.Latest(sym); ok {
			out = append(out, *p)
		}
	}
	return out
}

// Symbols lists tracked symbols in sorted order.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.workers))
	for sym := range m.workers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Alerts returns the shared alert channel.
func (m *Manager) Alerts() <-chan model.AlertEvent { return m.alerts }

// Errors returns the shared error channel.
func (m *Manager) Errors() <-chan error { return m.errs }

// Subscribe returns a channel receiving every publication of every symbol.
// Publications are dropped for a subscriber that falls behind.
func (m *Manager) Subscribe() <-chan model.Published { return m.subs.Subscribe() }

// Unsubscribe releases a channel obtained from Subscribe.
func (m *Manager) Unsubscribe(ch <-chan model.Published) { m.subs.Unsubscribe(ch) }

func (m *Manager) report(symbol string, err error) {
	m.cfg.Metrics.ObserveError(symbol, err)
	select {
	case m.errs <- err:
	default:
		m.cfg.Metrics.DropError()
	}
}
