// Package pipeline drives ticks through history, indicators, aggregation
// and risk, publishing one snapshot per tick and one alert per signal
// transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signal-engine/internal/bus"
	"signal-engine/internal/history"
	"signal-engine/internal/indicator"
	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
)

var (
	ErrNotRunning     = errors.New("pipeline: not running")
	ErrAlreadyRunning = errors.New("pipeline: already running")
)

// Status is the lifecycle state of a Driver.
type Status int32

const (
	Idle Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Config wires a Driver. Engine, Aggregator and Risk are required.
type Config struct {
	Engine     *indicator.Engine
	Aggregator *strategy.Aggregator
	Risk       *risk.Calculator

	HistoryCapacity int
	AlertBuffer     int
	ErrorBuffer     int

	// EvalInterval is the expected gap between ticks. When positive, each
	// publication carries the time of the next evaluation.
	EvalInterval time.Duration

	// Alerts and Errors, when set, are shared sinks (used by Manager).
	// Otherwise the Driver allocates its own.
	Alerts chan model.AlertEvent
	Errors chan error

	// OnPublish is called synchronously after every published tick.
	OnPublish func(model.Published)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func (c *Config) validate() error {
	switch {
	case c.Engine == nil:
		return errors.New("pipeline: nil indicator engine")
	case c.Aggregator == nil:
		return errors.New("pipeline: nil aggregator")
	case c.Risk == nil:
		return errors.New("pipeline: nil risk calculator")
	}
	return nil
}

// Driver runs the per-tick sequence for a single symbol. Ticks are
// processed strictly one at a time; Stop never interrupts a tick in
// flight.
type Driver struct {
	cfg    Config
	log    *slog.Logger
	alerts chan model.AlertEvent
	errs   chan error
	subs   *bus.FanOut[model.Published]

	mu       sync.Mutex // serialises Process with Start/Stop
	status   atomic.Int32
	symbol   string
	hist     *history.History
	state    *indicator.State
	saved    *indicator.State // state before the tick in flight
	sigState model.SignalState
	seq      int64
	done     chan struct{}

	latest atomic.Pointer[model.Published]
}

// NewDriver creates an idle Driver.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	if cfg.AlertBuffer <= 0 {
		cfg.AlertBuffer = 64
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	d := &Driver{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "pipeline"),
		alerts: cfg.Alerts,
		errs:   cfg.Errors,
		subs:   bus.New[model.Published](1, bus.KeepLatest),
	}
	if d.alerts == nil {
		d.alerts = make(chan model.AlertEvent, cfg.AlertBuffer)
	}
	if d.errs == nil {
		d.errs = make(chan error, cfg.ErrorBuffer)
	}
	return d, nil
}

// Start moves the Driver to Running for symbol with empty history, fresh
// indicator state and a Neutral signal.
func (d *Driver) Start(symbol string) error {
	if symbol == "" {
		return &model.FeedError{Reason: "empty symbol"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if Status(d.status.Load()) == Running {
		return ErrAlreadyRunning
	}

	d.symbol = symbol
	d.hist = history.New(d.cfg.HistoryCapacity)
	d.state = d.cfg.Engine.NewState(symbol)
	d.saved = d.cfg.Engine.NewState(symbol)
	d.sigState = model.NewSignalState()
	d.seq = 0
	d.done = make(chan struct{})
	d.latest.Store(nil)
	d.log = d.cfg.Logger.With("component", "pipeline", "symbol", symbol)
	d.status.Store(int32(Running))

	d.log.Info("pipeline started", "history_capacity", d.hist.Cap())
	return nil
}

// Stop moves the Driver to Idle and releases its history. A tick being
// processed finishes first.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if Status(d.status.Load()) != Running {
		return ErrNotRunning
	}
	d.status.Store(int32(Idle))
	close(d.done)
	d.hist = nil
	d.state = nil
	d.saved = nil
	d.log.Info("pipeline stopped", "seq", d.seq)
	return nil
}

// Status reports the lifecycle state.
func (d *Driver) Status() Status { return Status(d.status.Load()) }

// Symbol returns the symbol of the current (or last) run.
func (d *Driver) Symbol() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.symbol
}

// Latest returns the most recent publication, or nil before the first tick.
func (d *Driver) Latest() *model.Published { return d.latest.Load() }

// Alerts returns the channel signal transitions are emitted on.
func (d *Driver) Alerts() <-chan model.AlertEvent { return d.alerts }

// Errors returns the channel feed and compute errors are reported on.
func (d *Driver) Errors() <-chan error { return d.errs }

// Subscribe returns a channel that always holds the newest publication.
func (d *Driver) Subscribe() <-chan model.Published { return d.subs.Subscribe() }

// Unsubscribe releases a channel obtained from Subscribe.
func (d *Driver) Unsubscribe(ch <-chan model.Published) { d.subs.Unsubscribe(ch) }

// Run processes ticks until ctx is cancelled, the channel closes or the
// Driver is stopped. Cancellation is only observed between ticks.
func (d *Driver) Run(ctx context.Context, ticks <-chan model.Tick) error {
	d.mu.Lock()
	if Status(d.status.Load()) != Running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	done := d.done
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := d.Process(ctx, t); errors.Is(err, ErrNotRunning) {
				return nil
			}
		}
	}
}

// Process handles exactly one tick. Feed and compute errors are returned
// and also reported on the error channel; neither stops the Driver.
func (d *Driver) Process(ctx context.Context, t model.Tick) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if Status(d.status.Load()) != Running {
		return ErrNotRunning
	}

	if err := t.Validate(); err != nil {
		d.report(err)
		return err
	}
	if t.Symbol != d.symbol {
		err := &model.FeedError{Symbol: t.Symbol, Reason: fmt.Sprintf("routed to %s pipeline", d.symbol)}
		d.report(err)
		return err
	}
	if t.TS.IsZero() {
		t.TS = d.cfg.Now()
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(t.Symbol, t.TS))

	start := time.Now()
	eval, snap, err := d.compute(t)
	if err != nil {
		ce := &model.ComputeError{Symbol: d.symbol, Err: err}
		d.log.Error("compute failed", append(logger.LogWithTrace(ctx), "error", err)...)
		d.report(ce)
		return ce
	}

	now := d.cfg.Now()
	prev := d.sigState.Current
	if d.sigState.Apply(eval.Signal, now) {
		d.transition(ctx, prev, eval, snap, now)
	}

	d.seq++
	pub := &model.Published{
		Snapshot: snap,
		Signal:   eval.Signal,
		Score:    eval.Composite,
		State:    d.sigState,
		Seq:      d.seq,
	}
	if d.cfg.EvalInterval > 0 {
		pub.NextEvalAt = snap.TS.Add(d.cfg.EvalInterval)
	}
	d.latest.Store(pub)
	d.subs.Publish(*pub)
	if d.cfg.OnPublish != nil {
		d.cfg.OnPublish(*pub)
	}
	d.cfg.Metrics.ObserveTick(d.symbol, eval.Signal, eval.Composite, time.Since(start))
	return nil
}

// compute runs history, indicators and aggregation, converting a panic
// anywhere below into an error. A failed tick is rolled back out of the
// history and the recursive state, so the next tick starts from where the
// last good one left off.
func (d *Driver) compute(t model.Tick) (eval strategy.Evaluation, snap model.Snapshot, err error) {
	pushed := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && pushed {
			d.hist.Undo()
			d.saved.CopyTo(d.state)
		}
	}()

	d.state.CopyTo(d.saved)
	d.hist.Push(t)
	pushed = true
	d.state.Update(t)
	snap, err = d.cfg.Engine.Compute(d.hist, d.state, t.TS)
	if err != nil {
		return eval, snap, err
	}
	if werr := d.cfg.Engine.Warm(d.hist, d.state); werr != nil {
		d.log.Debug("warming up", "error", werr)
	}
	return d.cfg.Aggregator.Evaluate(snap), snap, nil
}

func (d *Driver) transition(ctx context.Context, prev model.Signal, eval strategy.Evaluation, snap model.Snapshot, at time.Time) {
	var rp *model.RiskParameters
	if eval.Signal != model.Neutral {
		levels, err := d.cfg.Risk.Levels(snap.Price, snap.ATR, eval.Signal)
		if err != nil {
			d.report(&model.ComputeError{Symbol: d.symbol, Err: fmt.Errorf("risk levels: %w", err)})
		} else {
			rp = &levels
		}
	}

	ev := model.NewAlertEvent(eval.Signal, prev, eval.Composite, snap, rp, at)
	d.log.Info("signal transition", append(logger.LogWithTrace(ctx),
		"from", prev,
		"to", eval.Signal,
		"score", eval.Composite,
		"price", snap.Price,
		"alert_id", ev.ID,
	)...)
	d.cfg.Metrics.ObserveTransition(d.symbol, eval.Signal)

	select {
	case d.alerts <- ev:
	default:
		d.cfg.Metrics.DropAlert()
		d.log.Warn("alert channel full, dropping alert", "alert_id", ev.ID)
	}
}

func (d *Driver) report(err error) {
	d.cfg.Metrics.ObserveError(d.symbol, err)
	var fe *model.FeedError
	if errors.As(err, &fe) {
		d.log.Warn("tick rejected", "error", err)
	}
	select {
	case d.errs <- err:
	default:
		d.cfg.Metrics.DropError()
	}
}
