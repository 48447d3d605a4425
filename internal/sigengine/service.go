// Package sigengine wires the market data feed, the per-symbol signal
// pipelines and every consumer of their output into one service.
package sigengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"signal-engine/config"
	"signal-engine/internal/bus"
	"signal-engine/internal/feed"
	"signal-engine/internal/gateway"
	"signal-engine/internal/indicator"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
	"signal-engine/internal/pipeline"
	"signal-engine/internal/risk"
	redisstore "signal-engine/internal/store/redis"
	sqlitestore "signal-engine/internal/store/sqlite"
	"signal-engine/internal/strategy"
)

const (
	alertBusBuffer   = 256
	errorBusBuffer   = 256
	feedErrBuffer    = 64
	livenessInterval = 10 * time.Second
	statsInterval    = 5 * time.Second
	shutdownGrace    = 5 * time.Second
)

// Service owns the lifecycle of every subsystem.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	source  feed.Source
	manager *pipeline.Manager
	alerts  *bus.FanOut[model.AlertEvent]
	errs    *bus.FanOut[error]

	dispatcher  *notification.Dispatcher
	notifiers   []notification.Notifier
	hub         *gateway.Hub
	journal     *sqlitestore.Journal
	redisClient *goredis.Client
	redis       *redisstore.BufferedWriter

	metricsSrv *metrics.Server
	gatewaySrv *gateway.Server

	closers []func() error
}

// Option customises a Service.
type Option func(*Service)

// WithSource replaces the feed selected by the configuration.
func WithSource(src feed.Source) Option {
	return func(s *Service) { s.source = src }
}

// WithNotifiers adds alert sinks next to the configured ones.
func WithNotifiers(n ...notification.Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// WithRedisClient publishes to an existing client instead of dialing
// REDIS_ADDR.
func WithRedisClient(c *goredis.Client) Option {
	return func(s *Service) { s.redisClient = c }
}

// New builds the service. ctx bounds the lifetime of the pipelines.
func New(ctx context.Context, cfg *config.Config, l *slog.Logger, opts ...Option) (*Service, error) {
	if l == nil {
		l = slog.Default()
	}
	s := &Service{
		cfg:    cfg,
		log:    l,
		reg:    prometheus.NewRegistry(),
		health: metrics.NewHealthStatus(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.prom = metrics.NewMetrics(s.reg)
	s.health.SetSymbols(cfg.Symbols)

	if err := s.buildPipelines(ctx); err != nil {
		return nil, err
	}
	if err := s.openStores(); err != nil {
		s.closeAll()
		return nil, err
	}
	s.buildSinks()

	if s.source == nil {
		src, err := s.newSource()
		if err != nil {
			s.closeAll()
			return nil, err
		}
		s.source = src
	}

	s.hub = gateway.NewHub(cfg.ReplayBuffer, l)
	if cfg.GatewayAddr != "" {
		s.gatewaySrv = gateway.NewServer(cfg.GatewayAddr, s.hub, s.alertStore(), s.health)
	}
	if cfg.MetricsAddr != "" {
		s.metricsSrv = metrics.NewServer(cfg.MetricsAddr, s.health, s.reg)
	}
	return s, nil
}

func (s *Service) buildPipelines(ctx context.Context) error {
	engine, err := indicator.NewEngine(s.cfg.IndicatorParams())
	if err != nil {
		return fmt.Errorf("indicator engine: %w", err)
	}
	agg, err := strategy.NewAggregator(s.cfg.Thresholds())
	if err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	calc, err := risk.NewCalculator(s.cfg.RiskConfig())
	if err != nil {
		return fmt.Errorf("risk calculator: %w", err)
	}

	mopts := []pipeline.ManagerOption{
		pipeline.WithQueueSize(s.cfg.QueueSize),
		pipeline.WithSubscriberBuffer(s.cfg.QueueSize),
	}
	if s.cfg.AutoTrack {
		mopts = append(mopts, pipeline.WithAutoTrack())
	}
	s.manager, err = pipeline.NewManager(ctx, pipeline.Config{
		Engine:          engine,
		Aggregator:      agg,
		Risk:            calc,
		HistoryCapacity: s.cfg.HistoryCapacity,
		EvalInterval:    s.cfg.TickInterval,
		Metrics:         s.prom,
		Logger:          s.log,
	}, mopts...)
	if err != nil {
		return err
	}
	for _, sym := range s.cfg.Symbols {
		if err := s.manager.Track(sym); err != nil {
			return fmt.Errorf("track %s: %w", sym, err)
		}
	}

	s.alerts = bus.New[model.AlertEvent](alertBusBuffer, bus.DropNewest)
	s.alerts.OnDrop = func(int) { s.prom.FanoutDrop("alerts") }
	s.errs = bus.New[error](errorBusBuffer, bus.DropNewest)
	s.errs.OnDrop = func(int) { s.prom.FanoutDrop("errors") }
	return nil
}

// openStores opens the SQLite journal and the Redis publisher. A Redis
// server that cannot be reached is logged and skipped.
func (s *Service) openStores() error {
	if path := s.cfg.SQLitePath; path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("sqlite dir: %w", err)
			}
		}
		j, err := sqlitestore.New(sqlitestore.JournalConfig{DBPath: path}, s.log, s.prom)
		if err != nil {
			return err
		}
		s.journal = j
		s.closers = append(s.closers, j.Close)
	}
	s.health.SetSQLiteEnabled(s.journal != nil)

	wcfg := redisstore.WriterConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	}
	var w *redisstore.Writer
	switch {
	case s.redisClient != nil:
		w = redisstore.NewWithClient(s.redisClient, wcfg, s.log, s.prom)
	case s.cfg.RedisEnabled:
		var err error
		w, err = redisstore.New(wcfg, s.log, s.prom)
		if err != nil {
			s.log.Warn("redis unavailable, continuing without it", "addr", s.cfg.RedisAddr, "error", err)
		} else {
			s.redisClient = w.Client()
		}
	}
	if w != nil {
		s.redis = redisstore.NewBufferedWriter(w, redisstore.NewCircuitBreaker(5, 10*time.Second), 0)
		s.closers = append(s.closers, w.Close)
	}
	s.health.SetRedisEnabled(s.redis != nil)
	return nil
}

func (s *Service) buildSinks() {
	sinks := []notification.Notifier{notification.NewLogNotifier(s.log)}
	if s.cfg.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(s.cfg.WebhookURL))
	}
	if s.cfg.TelegramBotToken != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(s.cfg.TelegramBotToken, s.cfg.TelegramChatID))
	}
	if len(s.cfg.KafkaBrokers) > 0 {
		k := notification.NewKafkaNotifier(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		sinks = append(sinks, k)
		s.closers = append(s.closers, k.Close)
	}
	if s.cfg.SMTPHost != "" {
		sinks = append(sinks, notification.NewEmailNotifier(notification.EmailConfig{
			Host:     s.cfg.SMTPHost,
			Port:     s.cfg.SMTPPort,
			Username: s.cfg.SMTPUsername,
			Password: s.cfg.SMTPPassword,
			From:     s.cfg.SMTPFrom,
			To:       s.cfg.SMTPTo,
			TLS:      s.cfg.SMTPTLS,
			Timeout:  s.cfg.NotifyTimeout,
		}))
	}
	sinks = append(sinks, s.notifiers...)

	s.dispatcher = notification.NewDispatcher(sinks, s.cfg.NotifyTimeout, s.log, s.prom)
	s.dispatcher.OnError = func(ne *model.NotificationError) { s.errs.Publish(ne) }
	s.log.Info("notification sinks", "sinks", s.dispatcher.Sinks())
}

func (s *Service) newSource() (feed.Source, error) {
	switch s.cfg.FeedMode {
	case config.FeedWS:
		wcfg := feed.WSConfig{URL: s.cfg.FeedURL}
		if !s.cfg.AutoTrack {
			wcfg.Symbols = s.cfg.Symbols
		}
		ws, err := feed.NewWSSource(wcfg, s.log)
		if err != nil {
			return nil, err
		}
		ws.OnConnect = func() { s.health.SetFeedConnected(true) }
		ws.OnDisconnect = func() {
			s.health.SetFeedConnected(false)
			s.prom.Reconnect()
		}
		return ws, nil
	case config.FeedCSV:
		sym := ""
		if len(s.cfg.Symbols) > 0 {
			sym = s.cfg.Symbols[0]
		}
		return feed.NewCSVSource(feed.CSVConfig{Path: s.cfg.CSVPath, Symbol: sym, Speed: s.cfg.CSVSpeed}, s.log), nil
	case config.FeedPoll:
		return feed.NewPollSource(feed.YahooQuoter{}, s.cfg.Symbols, s.cfg.TickInterval, s.log), nil
	}
	return nil, fmt.Errorf("unknown feed mode %q", s.cfg.FeedMode)
}

// alertStore picks the backend for /api/alerts: the journal, else Redis.
func (s *Service) alertStore() gateway.AlertStore {
	if s.journal != nil {
		return s.journal
	}
	if s.redisClient != nil {
		return redisstore.NewReader(s.redisClient)
	}
	return nil
}

// Run starts every subsystem and blocks until ctx is cancelled or the feed
// is exhausted. Queued ticks are processed and buffered output is flushed
// before it returns.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("signal engine starting",
		"symbols", s.cfg.Symbols,
		"feed", s.cfg.FeedMode,
		"history", s.cfg.HistoryCapacity,
		"redis", s.redis != nil,
		"journal", s.journal != nil,
	)

	if s.metricsSrv != nil {
		s.metricsSrv.Start()
	}
	if s.gatewaySrv != nil {
		s.gatewaySrv.Start()
	}
	var db metrics.Pinger
	if s.journal != nil {
		db = s.journal
	}
	var rdb *goredis.Client
	if s.redis != nil {
		rdb = s.redisClient
	}
	s.health.StartLivenessChecker(ctx, rdb, db, livenessInterval)

	// Sinks run on their own context so they can drain after ctx ends.
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()
	var sinks sync.WaitGroup
	startSink := func(fn func()) {
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			fn()
		}()
	}

	dispatchCh := s.alerts.Subscribe()
	startSink(func() { s.dispatcher.Run(sinkCtx, dispatchCh) })

	hubPubs, hubAlerts := s.manager.Subscribe(), s.alerts.Subscribe()
	startSink(func() { s.hub.Run(sinkCtx, hubPubs, hubAlerts) })

	if s.journal != nil {
		pubs, alerts := s.manager.Subscribe(), s.alerts.Subscribe()
		startSink(func() { s.journal.Run(sinkCtx, pubs, alerts) })
	}
	if s.redis != nil {
		pubs, alerts := s.manager.Subscribe(), s.alerts.Subscribe()
		startSink(func() { s.redis.Run(sinkCtx, pubs, alerts) })
	}

	feedErrs := make(chan error, feedErrBuffer)
	managerDone := make(chan struct{})
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		s.forward(managerDone, feedErrs)
	}()
	go s.reportStats(sinkCtx)

	ticks := make(chan model.Tick, s.cfg.QueueSize)
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	feedDone := make(chan error, 1)
	go func() { feedDone <- s.runFeed(feedCtx, ticks, feedErrs) }()

	s.log.Info("signal engine running")
	runErr := s.manager.Run(ctx, ticks)

	stopFeed()
	feedErr := <-feedDone
	close(managerDone)
	<-forwardDone
	s.manager.Close()

	drained := make(chan struct{})
	go func() {
		sinks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownGrace):
		s.log.Warn("sinks did not drain in time")
		cancelSinks()
		<-drained
	}
	s.errs.Close()

	s.shutdown()

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}
	if feedErr != nil && ctx.Err() == nil {
		return fmt.Errorf("feed: %w", feedErr)
	}
	return runErr
}

// runFeed runs the source into ticks, closing ticks when it returns.
func (s *Service) runFeed(ctx context.Context, ticks chan<- model.Tick, errs chan<- error) error {
	defer close(ticks)
	if _, ok := s.source.(*feed.WSSource); !ok {
		s.health.SetFeedConnected(true)
	}
	defer s.health.SetFeedConnected(false)

	raw := make(chan model.Tick)
	done := make(chan error, 1)
	go func() {
		done <- s.source.Run(ctx, raw, errs)
		close(raw)
	}()

	for t := range raw {
		s.health.SetLastTickTime(time.Now())
		select {
		case ticks <- t:
		case <-ctx.Done():
			// unblock the source
			for range raw {
			}
		}
	}
	return <-done
}

// forward moves pipeline alerts onto the alert bus and pipeline and feed
// errors onto the error bus until done is closed, then flushes what is left
// and closes the alert bus.
func (s *Service) forward(done <-chan struct{}, feedErrs <-chan error) {
	alerts, errs := s.manager.Alerts(), s.manager.Errors()
	for {
		select {
		case ev := <-alerts:
			s.alerts.Publish(ev)
		case err := <-errs:
			s.reportError(err)
		case err := <-feedErrs:
			s.countFeedError(err)
			s.reportError(err)
		case <-done:
			for {
				select {
				case ev := <-alerts:
					s.alerts.Publish(ev)
				case err := <-errs:
					s.reportError(err)
				case err := <-feedErrs:
					s.countFeedError(err)
					s.reportError(err)
				default:
					s.alerts.Close()
					return
				}
			}
		}
	}
}

func (s *Service) countFeedError(err error) {
	var fe *model.FeedError
	if errors.As(err, &fe) {
		s.prom.ObserveError(fe.Symbol, fe)
	}
}

func (s *Service) reportError(err error) {
	s.logError(err)
	s.errs.Publish(err)
}

func (s *Service) logError(err error) {
	var fe *model.FeedError
	var ce *model.ComputeError
	switch {
	case errors.As(err, &fe):
		s.log.Warn("feed error", "symbol", fe.Symbol, "reason", fe.Reason, "error", fe.Err)
	case errors.As(err, &ce):
		s.log.Error("compute error", "symbol", ce.Symbol, "error", ce.Err)
	default:
		s.log.Error("pipeline error", "error", err)
	}
}

// reportStats exports channel saturation until ctx is done.
func (s *Service) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, st := range s.manager.SubscriberStats() {
				s.prom.Saturation("published_"+strconv.Itoa(i), st.Len, st.Cap)
			}
			for i, st := range s.alerts.ChannelStats() {
				s.prom.Saturation("alerts_"+strconv.Itoa(i), st.Len, st.Cap)
			}
		}
	}
}

func (s *Service) shutdown() {
	s.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if s.gatewaySrv != nil {
		if err := s.gatewaySrv.Stop(ctx); err != nil {
			s.log.Warn("gateway shutdown", "error", err)
		}
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Stop(ctx)
	}
	s.closeAll()
	s.log.Info("shutdown complete")
}

func (s *Service) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}

// Errors returns a channel carrying every FeedError, ComputeError and
// NotificationError the service observes. Subscribe before Run; the channel
// is closed once Run has drained its sinks. A subscriber that falls behind
// misses errors rather than stalling the service.
func (s *Service) Errors() <-chan error { return s.errs.Subscribe() }

// Registry exposes the service's Prometheus registry.
func (s *Service) Registry() *prometheus.Registry { return s.reg }

// Health exposes the service's health status.
func (s *Service) Health() *metrics.HealthStatus { return s.health }
