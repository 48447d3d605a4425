package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"signal-engine/internal/indicator"
	"signal-engine/internal/risk"
	"signal-engine/internal/strategy"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Symbols, []string{"EURUSD"}) {
		t.Errorf("Symbols = %v, want [EURUSD]", cfg.Symbols)
	}
	if cfg.FeedMode != FeedWS || cfg.TickInterval != time.Second || cfg.HistoryCapacity != 100 {
		t.Errorf("unexpected defaults: mode=%s interval=%v capacity=%d", cfg.FeedMode, cfg.TickInterval, cfg.HistoryCapacity)
	}
	if got := cfg.IndicatorParams(); got != indicator.DefaultParams() {
		t.Errorf("IndicatorParams = %+v, want defaults", got)
	}
	if got := cfg.Thresholds(); got != strategy.DefaultThresholds() {
		t.Errorf("Thresholds = %+v, want defaults", got)
	}
	if got := cfg.RiskConfig(); got != risk.DefaultConfig() {
		t.Errorf("RiskConfig = %+v, want defaults", got)
	}
	if cfg.NotifyTimeout != 5*time.Second {
		t.Errorf("NotifyTimeout = %v", cfg.NotifyTimeout)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SYMBOLS", " eurusd, GBPUSD,,eurusd")
	t.Setenv("RSI_PERIOD", "9")
	t.Setenv("BUY_THRESHOLD", "0.4")
	t.Setenv("STOP_LOSS_ATR", "2")
	t.Setenv("FEED_MODE", "CSV")
	t.Setenv("CSV_PATH", "ticks.csv")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "signals@example.com")
	t.Setenv("SMTP_TO", "desk@example.com, ,ops@example.com")
	t.Setenv("SMTP_TLS", " None")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Symbols, []string{"EURUSD", "GBPUSD"}) {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
	if cfg.FeedMode != FeedCSV {
		t.Errorf("FeedMode = %q", cfg.FeedMode)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if !reflect.DeepEqual(cfg.SMTPTo, []string{"desk@example.com", "ops@example.com"}) {
		t.Errorf("SMTPTo = %v", cfg.SMTPTo)
	}
	if cfg.SMTPTLS != "none" || cfg.SMTPPort != 587 {
		t.Errorf("SMTPTLS = %q, SMTPPort = %d", cfg.SMTPTLS, cfg.SMTPPort)
	}
	if cfg.IndicatorParams().RSIPeriod != 9 {
		t.Errorf("RSIPeriod = %d, want 9", cfg.IndicatorParams().RSIPeriod)
	}
	if cfg.Thresholds().Buy != 0.4 {
		t.Errorf("Buy = %v, want 0.4", cfg.Thresholds().Buy)
	}
	if cfg.RiskConfig().StopLossATR != 2 {
		t.Errorf("StopLossATR = %v, want 2", cfg.RiskConfig().StopLossATR)
	}
}

func TestLoad_StrategyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	profile := `
indicators:
  rsi_period: 7
  bollinger_deviation: 2.5
thresholds:
  buy: 0.25
risk:
  take_profit_atr: 3
`
	if err := os.WriteFile(path, []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STRATEGY_FILE", path)
	t.Setenv("MACD_FAST", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.IndicatorParams()
	if p.RSIPeriod != 7 || p.BollingerDeviation != 2.5 {
		t.Errorf("profile not applied: %+v", p)
	}
	if p.MACDFast != 10 || p.MACDSlow != 26 {
		t.Errorf("env values lost under profile: fast=%d slow=%d", p.MACDFast, p.MACDSlow)
	}
	th := cfg.Thresholds()
	if th.Buy != 0.25 || th.StrongBuy != 0.8 {
		t.Errorf("thresholds = %+v", th)
	}
	rc := cfg.RiskConfig()
	if rc.TakeProfitATR != 3 || rc.StopLossATR != 1.5 {
		t.Errorf("risk = %+v", rc)
	}
}

func TestLoad_Invalid(t *testing.T) {
	badYAML := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("indicators: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"csv without path", map[string]string{"FEED_MODE": "csv"}, "CSV_PATH"},
		{"unknown feed", map[string]string{"FEED_MODE": "fix"}, "unknown feed mode"},
		{"tiny history", map[string]string{"HISTORY_CAPACITY": "1"}, "history capacity"},
		{"macd fast >= slow", map[string]string{"MACD_FAST": "30"}, "indicators"},
		{"inverted rsi bands", map[string]string{"RSI_OVERSOLD": "80"}, "thresholds"},
		{"bad multiplier", map[string]string{"STOP_LOSS_ATR": "0"}, "risk"},
		{"telegram half set", map[string]string{"TELEGRAM_BOT_TOKEN": "x"}, "TELEGRAM_CHAT_ID"},
		{"smtp without recipients", map[string]string{"SMTP_HOST": "smtp.example.com", "SMTP_FROM": "a@example.com"}, "SMTP_TO"},
		{"smtp bad tls", map[string]string{"SMTP_HOST": "smtp.example.com", "SMTP_FROM": "a@example.com", "SMTP_TO": "b@example.com", "SMTP_TLS": "ssl"}, "SMTP_TLS"},
		{"no symbols", map[string]string{"SYMBOLS": " , "}, "no symbols"},
		{"not a number", map[string]string{"RSI_PERIOD": "abc"}, "RSI_PERIOD"},
		{"missing profile", map[string]string{"STRATEGY_FILE": "/nonexistent/strategy.yaml"}, "strategy file"},
		{"bad profile", map[string]string{"STRATEGY_FILE": badYAML}, "parse strategy file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Setenv("FEED_MODE", "csv")
	t.Setenv("HISTORY_CAPACITY", "0")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"CSV_PATH", "history capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
