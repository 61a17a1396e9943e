// Package config loads and validates engine configuration from yaml and
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// ExchangeConfig contains venue credentials and endpoints.
type ExchangeConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	WSURL      string `mapstructure:"ws_url"`
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Passphrase string `mapstructure:"passphrase"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	RatePerSec int    `mapstructure:"rate_per_sec"`
}

// LLMConfig contains language model gateway settings.
type LLMConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
	Retries     int     `mapstructure:"retries"`
}

// WeightsConfig contains per-channel signal weights.
type WeightsConfig struct {
	OBI      float64 `mapstructure:"obi"`
	RSI      float64 `mapstructure:"rsi"`
	EMA      float64 `mapstructure:"ema"`
	Momentum float64 `mapstructure:"momentum"`
}

// TradingConfig contains engine behavior settings.
type TradingConfig struct {
	Symbols             []string      `mapstructure:"symbols"`
	Roles               []string      `mapstructure:"roles"`
	AgentInterval       time.Duration `mapstructure:"agent_interval"`
	CoordinatorInterval time.Duration `mapstructure:"coordinator_interval"`
	WarmupDelay         time.Duration `mapstructure:"warmup_delay"`
	DecayWindow         time.Duration `mapstructure:"decay_window"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	StartStagger        time.Duration `mapstructure:"start_stagger"`
	SignalThreshold     float64       `mapstructure:"signal_threshold"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	RiskPerTrade        float64       `mapstructure:"risk_per_trade"`
	PriceWindowSize     int           `mapstructure:"price_window_size"`
	Weights             WeightsConfig `mapstructure:"weights"`
}

// RiskConfig contains circuit breaker limits.
type RiskConfig struct {
	InitialEquity   float64 `mapstructure:"initial_equity"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`
	MinEquity       float64 `mapstructure:"min_equity"`
	MaxDrawdown     float64 `mapstructure:"max_drawdown"`
}

// NATSConfig contains the optional operator control plane settings.
type NATSConfig struct {
	URL string `mapstructure:"url"` // empty disables the control plane
}

// TelegramConfig contains optional alert delivery settings.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// MonitoringConfig contains metrics endpoint settings.
type MonitoringConfig struct {
	MetricsPort   int  `mapstructure:"metrics_port"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PERPDIRECTOR")

	// Bare env names required by the deployment environment.
	_ = v.BindEnv("risk.max_position_size", "MAX_POSITION_SIZE")
	_ = v.BindEnv("risk.min_equity", "MIN_BALANCE")
	_ = v.BindEnv("llm.model", "LLM_MODEL")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = v.BindEnv("exchange.api_key", "EXCHANGE_API_KEY")
	_ = v.BindEnv("exchange.secret_key", "EXCHANGE_SECRET_KEY")
	_ = v.BindEnv("exchange.passphrase", "EXCHANGE_PASSPHRASE")
	_ = v.BindEnv("exchange.base_url", "EXCHANGE_BASE_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults plus environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "perpdirector")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("exchange.base_url", "https://api.bitget.com")
	v.SetDefault("exchange.ws_url", "wss://ws.bitget.com/mix/v1/stream")
	v.SetDefault("exchange.timeout_ms", 30000)
	v.SetDefault("exchange.rate_per_sec", 10)

	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.timeout_ms", 0) // 0 = derive from agent interval
	v.SetDefault("llm.retries", 2)

	v.SetDefault("trading.symbols", []string{"BTCUSDT"})
	v.SetDefault("trading.roles", []string{
		"technical", "structure", "market", "sentiment", "risk", "momentum", "bull", "bear", "fundamentals",
	})
	v.SetDefault("trading.agent_interval", "12s")
	v.SetDefault("trading.coordinator_interval", "30s")
	v.SetDefault("trading.warmup_delay", "10s")
	v.SetDefault("trading.decay_window", "60s")
	v.SetDefault("trading.cooldown", "5s")
	v.SetDefault("trading.reconcile_interval", "30s")
	v.SetDefault("trading.start_stagger", "5s")
	v.SetDefault("trading.signal_threshold", 0.2)
	v.SetDefault("trading.min_confidence", 0.6)
	v.SetDefault("trading.risk_per_trade", 0.02)
	v.SetDefault("trading.price_window_size", 100)
	v.SetDefault("trading.weights.obi", 0.3)
	v.SetDefault("trading.weights.rsi", 0.25)
	v.SetDefault("trading.weights.ema", 0.25)
	v.SetDefault("trading.weights.momentum", 0.2)

	v.SetDefault("risk.initial_equity", 1000.0)
	v.SetDefault("risk.max_position_size", 0.05)
	v.SetDefault("risk.max_daily_loss", 50.0)
	v.SetDefault("risk.min_equity", 100.0)
	v.SetDefault("risk.max_drawdown", 0.1)

	v.SetDefault("monitoring.metrics_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate rejects configurations the supervisor must refuse to start with.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config: trading.symbols must not be empty")
	}
	for _, s := range c.Trading.Symbols {
		if len(s) < 6 {
			return fmt.Errorf("config: invalid symbol %q", s)
		}
	}
	if c.Environment() == "production" {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" || c.Exchange.Passphrase == "" {
			return fmt.Errorf("config: exchange credentials are required in production")
		}
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: llm.api_key is required in production")
		}
	}
	if c.Trading.SignalThreshold < 0 || c.Trading.SignalThreshold > 2 {
		return fmt.Errorf("config: trading.signal_threshold out of range: %v", c.Trading.SignalThreshold)
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		return fmt.Errorf("config: trading.min_confidence out of range: %v", c.Trading.MinConfidence)
	}
	if c.Trading.RiskPerTrade <= 0 || c.Trading.RiskPerTrade > 0.1 {
		return fmt.Errorf("config: trading.risk_per_trade out of range: %v", c.Trading.RiskPerTrade)
	}
	if c.Trading.PriceWindowSize < 2 {
		return fmt.Errorf("config: trading.price_window_size too small: %d", c.Trading.PriceWindowSize)
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("config: risk.max_position_size must be positive")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("config: risk.max_drawdown out of range: %v", c.Risk.MaxDrawdown)
	}
	for _, role := range c.Trading.Roles {
		if !validRoles[role] {
			return fmt.Errorf("config: unknown agent role %q", role)
		}
	}
	return nil
}

var validRoles = map[string]bool{
	"technical":    true,
	"structure":    true,
	"market":       true,
	"sentiment":    true,
	"risk":         true,
	"momentum":     true,
	"bull":         true,
	"bear":         true,
	"fundamentals": true,
}

// Environment returns the normalized environment name.
func (c *Config) Environment() string {
	if c.App.Environment == "" {
		return "development"
	}
	return c.App.Environment
}

// ExchangeTimeout returns the REST timeout as a duration.
func (c *ExchangeConfig) ExchangeTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Timeout returns the LLM call timeout. When unset it derives from the agent
// interval so a slow model call can never overlap the next cycle.
func (c *LLMConfig) Timeout(agentInterval time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	t := agentInterval - 2*time.Second
	if t < time.Second {
		t = time.Second
	}
	return t
}
