package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "perpdirector", cfg.App.Name)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Trading.CoordinatorInterval)
	assert.Equal(t, 60*time.Second, cfg.Trading.DecayWindow)
	assert.Equal(t, 5*time.Second, cfg.Trading.Cooldown)
	assert.Equal(t, 100, cfg.Trading.PriceWindowSize)
	assert.Equal(t, 0.05, cfg.Risk.MaxPositionSize)
	assert.Equal(t, 2, cfg.LLM.Retries)
	assert.Len(t, cfg.Trading.Roles, 9)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MAX_POSITION_SIZE", "0.01")
	t.Setenv("MIN_BALANCE", "250")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.01, cfg.Risk.MaxPositionSize)
	assert.Equal(t, 250.0, cfg.Risk.MinEquity)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("empty symbols rejected", func(t *testing.T) {
		cfg := base(t)
		cfg.Trading.Symbols = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid symbol rejected", func(t *testing.T) {
		cfg := base(t)
		cfg.Trading.Symbols = []string{"BTC"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing credentials fatal in production", func(t *testing.T) {
		cfg := base(t)
		cfg.App.Environment = "production"
		cfg.Exchange.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		cfg := base(t)
		cfg.Trading.Roles = []string{"astrology"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("risk per trade bounds", func(t *testing.T) {
		cfg := base(t)
		cfg.Trading.RiskPerTrade = 0.5
		assert.Error(t, cfg.Validate())
	})
}

func TestLLMTimeoutDerivation(t *testing.T) {
	llm := LLMConfig{}
	assert.Equal(t, 10*time.Second, llm.Timeout(12*time.Second))

	llm.TimeoutMS = 5000
	assert.Equal(t, 5*time.Second, llm.Timeout(12*time.Second))

	// Never shorter than a second even with a tiny interval.
	llm.TimeoutMS = 0
	assert.Equal(t, time.Second, llm.Timeout(2*time.Second))
}
