// Package config loads the service configuration from the environment, an
// optional .env file and an optional YAML strategy profile.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"signal-engine/internal/indicator"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
)

// Feed modes.
const (
	FeedWS   = "ws"
	FeedCSV  = "csv"
	FeedPoll = "poll"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Pipeline
	Symbols         []string      `envconfig:"SYMBOLS" default:"EURUSD"`
	AutoTrack       bool          `envconfig:"AUTO_TRACK" default:"false"`
	HistoryCapacity int           `envconfig:"HISTORY_CAPACITY" default:"100"`
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"1024"`
	TickInterval    time.Duration `envconfig:"TICK_INTERVAL" default:"1s"`

	// Feed
	FeedMode string  `envconfig:"FEED_MODE" default:"ws"`
	FeedURL  string  `envconfig:"FEED_URL" default:"ws://localhost:9001/ws"`
	CSVPath  string  `envconfig:"CSV_PATH"`
	CSVSpeed float64 `envconfig:"CSV_SPEED" default:"1"`

	// Indicator periods
	RSIPeriod          int     `envconfig:"RSI_PERIOD" default:"14"`
	MACDFast           int     `envconfig:"MACD_FAST" default:"12"`
	MACDSlow           int     `envconfig:"MACD_SLOW" default:"26"`
	MACDSignal         int     `envconfig:"MACD_SIGNAL" default:"9"`
	BollingerPeriod    int     `envconfig:"BOLLINGER_PERIOD" default:"20"`
	BollingerDeviation float64 `envconfig:"BOLLINGER_DEVIATION" default:"2"`
	ATRPeriod          int     `envconfig:"ATR_PERIOD" default:"14"`
	ADXPeriod          int     `envconfig:"ADX_PERIOD" default:"14"`
	VolumeRatioPeriod  int     `envconfig:"VOLUME_RATIO_PERIOD" default:"20"`
	LevelLookback      int     `envconfig:"LEVEL_LOOKBACK" default:"0"`
	TrendStrengthScale float64 `envconfig:"TREND_STRENGTH_SCALE" default:"1"`

	// Signal thresholds
	ADXStrong           float64 `envconfig:"ADX_STRONG" default:"25"`
	ADXWeak             float64 `envconfig:"ADX_WEAK" default:"20"`
	MinTrendStrength    float64 `envconfig:"MIN_TREND_STRENGTH" default:"25"`
	RSIOversold         float64 `envconfig:"RSI_OVERSOLD" default:"30"`
	RSIOverbought       float64 `envconfig:"RSI_OVERBOUGHT" default:"70"`
	VolumeRatioTrigger  float64 `envconfig:"VOLUME_RATIO_THRESHOLD" default:"1.2"`
	StrongBuyThreshold  float64 `envconfig:"STRONG_BUY_THRESHOLD" default:"0.8"`
	BuyThreshold        float64 `envconfig:"BUY_THRESHOLD" default:"0.3"`
	StrongSellThreshold float64 `envconfig:"STRONG_SELL_THRESHOLD" default:"-0.8"`
	SellThreshold       float64 `envconfig:"SELL_THRESHOLD" default:"-0.3"`

	// Risk
	StopLossATR     float64 `envconfig:"STOP_LOSS_ATR" default:"1.5"`
	TakeProfitATR   float64 `envconfig:"TAKE_PROFIT_ATR" default:"2.5"`
	MaxRiskFraction float64 `envconfig:"MAX_RISK_FRACTION" default:"0.02"`
	PricePrecision  int32   `envconfig:"PRICE_PRECISION" default:"0"`

	// StrategyFile is a YAML profile overriding periods, thresholds and
	// risk multipliers.
	StrategyFile string `envconfig:"STRATEGY_FILE"`

	// Infrastructure
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/signals.db"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`
	GatewayAddr   string `envconfig:"GATEWAY_ADDR" default:":8080"`
	ReplayBuffer  int    `envconfig:"REPLAY_BUFFER" default:"300"`

	// Notification sinks; each is enabled by its address being set.
	NotifyTimeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	WebhookURL       string        `envconfig:"WEBHOOK_URL"`
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string        `envconfig:"TELEGRAM_CHAT_ID"`
	KafkaBrokers     []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic       string        `envconfig:"KAFKA_TOPIC" default:"signal-alerts"`
	SMTPHost         string        `envconfig:"SMTP_HOST"`
	SMTPPort         int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername     string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword     string        `envconfig:"SMTP_PASSWORD"`
	SMTPFrom         string        `envconfig:"SMTP_FROM"`
	SMTPTo           []string      `envconfig:"SMTP_TO"`
	SMTPTLS          string        `envconfig:"SMTP_TLS" default:"mandatory"` // mandatory, opportunistic or none

	indicators indicator.Params
	thresholds strategy.Thresholds
	risk       risk.Config
}

// Profile is the STRATEGY_FILE layout. Keys left out keep the values from
// the environment.
//
//	indicators:
//	  rsi_period: 9
//	thresholds:
//	  buy: 0.25
//	risk:
//	  stop_loss_atr: 2
type Profile struct {
	Indicators indicator.Params    `yaml:"indicators"`
	Thresholds strategy.Thresholds `yaml:"thresholds"`
	Risk       risk.Config         `yaml:"risk"`
}

// Load reads .env (if present), the environment and STRATEGY_FILE, and
// validates the result.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	cfg.derive()

	if cfg.StrategyFile != "" {
		if err := cfg.applyProfile(cfg.StrategyFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	syms := c.Symbols[:0]
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		syms = append(syms, s)
	}
	c.Symbols = syms
	c.FeedMode = strings.ToLower(strings.TrimSpace(c.FeedMode))

	brokers := c.KafkaBrokers[:0]
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.KafkaBrokers = brokers

	to := c.SMTPTo[:0]
	for _, a := range c.SMTPTo {
		if a = strings.TrimSpace(a); a != "" {
			to = append(to, a)
		}
	}
	c.SMTPTo = to
	c.SMTPTLS = strings.ToLower(strings.TrimSpace(c.SMTPTLS))
}

func (c *Config) derive() {
	c.indicators = indicator.Params{
		RSIPeriod:          c.RSIPeriod,
		MACDFast:           c.MACDFast,
		MACDSlow:           c.MACDSlow,
		MACDSignal:         c.MACDSignal,
		BollingerPeriod:    c.BollingerPeriod,
		BollingerDeviation: c.BollingerDeviation,
		ATRPeriod:          c.ATRPeriod,
		ADXPeriod:          c.ADXPeriod,
		VolumeRatioPeriod:  c.VolumeRatioPeriod,
		LevelLookback:      c.LevelLookback,
		TrendStrengthScale: c.TrendStrengthScale,
	}
	c.thresholds = strategy.Thresholds{
		ADXStrong:        c.ADXStrong,
		ADXWeak:          c.ADXWeak,
		MinTrendStrength: c.MinTrendStrength,
		RSIOversold:      c.RSIOversold,
		RSIOverbought:    c.RSIOverbought,
		VolumeRatio:      c.VolumeRatioTrigger,
		StrongBuy:        c.StrongBuyThreshold,
		Buy:              c.BuyThreshold,
		StrongSell:       c.StrongSellThreshold,
		Sell:             c.SellThreshold,
	}
	c.risk = risk.Config{
		StopLossATR:     c.StopLossATR,
		TakeProfitATR:   c.TakeProfitATR,
		MaxRiskFraction: c.MaxRiskFraction,
		Precision:       c.PricePrecision,
	}
}

func (c *Config) applyProfile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read strategy file: %w", err)
	}
	// decode over the current values so missing keys keep them
	p := Profile{
		Indicators: c.indicators,
		Thresholds: c.thresholds,
		Risk:       c.risk,
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("config: parse strategy file %s: %w", path, err)
	}
	c.indicators = p.Indicators
	c.thresholds = p.Thresholds
	c.risk = p.Risk
	return nil
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Symbols) == 0 && !c.AutoTrack {
		errs = append(errs, errors.New("no symbols configured and AUTO_TRACK is off"))
	}
	if c.HistoryCapacity < 2 {
		errs = append(errs, fmt.Errorf("history capacity %d must be at least 2", c.HistoryCapacity))
	}
	switch c.FeedMode {
	case FeedWS:
		if c.FeedURL == "" {
			errs = append(errs, errors.New("FEED_URL is required for the ws feed"))
		}
	case FeedCSV:
		if c.CSVPath == "" {
			errs = append(errs, errors.New("CSV_PATH is required for the csv feed"))
		}
		if c.CSVSpeed < 0 {
			errs = append(errs, fmt.Errorf("csv speed %v must not be negative", c.CSVSpeed))
		}
	case FeedPoll:
		if len(c.Symbols) == 0 {
			errs = append(errs, errors.New("the poll feed needs SYMBOLS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feed mode %q", c.FeedMode))
	}
	if c.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick interval %v must not be negative", c.TickInterval))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required with KAFKA_BROKERS"))
	}
	if c.SMTPHost != "" {
		if c.SMTPFrom == "" || len(c.SMTPTo) == 0 {
			errs = append(errs, errors.New("SMTP_FROM and SMTP_TO are required with SMTP_HOST"))
		}
		switch c.SMTPTLS {
		case "mandatory", "opportunistic", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown SMTP_TLS policy %q", c.SMTPTLS))
		}
	}
	if err := c.indicators.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("indicators: %w", err))
	}
	if err := c.thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	if err := c.risk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IndicatorParams returns the indicator periods after profile overrides.
func (c *Config) IndicatorParams() indicator.Params { return c.indicators }

// Thresholds returns the signal thresholds after profile overrides.
func (c *Config) Thresholds() strategy.Thresholds { return c.thresholds }

// RiskConfig returns the risk multipliers after profile overrides.
func (c *Config) RiskConfig() risk.Config { return c.risk }
