package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polyarb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModePaper, cfg.Mode)
	assert.True(t, cfg.Arbitrage.MinProfit.Equal(decimal.RequireFromString("0.04")))
	assert.Equal(t, 15*time.Minute, cfg.Market.Interval.Duration)
}

func TestLoadTOMLDecimalsAndDurations(t *testing.T) {
	path := writeTOML(t, `
mode = "scan"

[arbitrage]
min_profit = "0.05"
taker_fee = 0.02
budget = 25
scan_interval = "5s"

[risk]
daily_loss_limit = "7.50"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeScan, cfg.Mode)
	assert.True(t, cfg.Arbitrage.MinProfit.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, cfg.Arbitrage.TakerFee.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, cfg.Arbitrage.Budget.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 5*time.Second, cfg.Arbitrage.ScanInterval.Duration)
	assert.True(t, cfg.Risk.DailyLossLimit.Equal(decimal.RequireFromString("7.5")))
	// untouched keys keep their defaults
	assert.True(t, cfg.Arbitrage.MaxSlippage.Equal(decimal.RequireFromString("0.025")))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeTOML(t, "[arbitrage]\nmin_proft = \"0.05\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arbitrage.min_proft")
}

func TestLoadBadValues(t *testing.T) {
	_, err := Load(writeTOML(t, "[arbitrage]\nmin_profit = \"abc\"\n"))
	assert.Error(t, err)

	_, err = Load(writeTOML(t, "[market]\ninterval = \"soon\"\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYARB_MODE", "trade")
	t.Setenv("POLYARB_WALLET_PRIVATE_KEY", "0xabc")
	t.Setenv("POLYARB_ARBITRAGE_BUDGET", "42.5")
	t.Setenv("POLYARB_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("POLYARB_EXECUTION_FILL_TIMEOUT", "12s")
	t.Setenv("POLYARB_REDIS_DB", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeTrade, cfg.Mode)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	assert.True(t, cfg.Arbitrage.Budget.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 12*time.Second, cfg.Execution.FillTimeout.Duration)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Arbitrage.Budget = dec("0")
	cfg.Arbitrage.TakerFee = dec("1")
	cfg.Kafka.Enabled = true
	cfg.Notify.TelegramToken = "tok"
	cfg.Polymarket.APIKey = "only-key"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"wallet: private_key or key_file",
		"arbitrage: budget",
		"arbitrage: taker_fee",
		"kafka: brokers",
		"notify: telegram_token",
		"polymarket: api_key",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, 6, strings.Count(msg, "\n  - "))
}

func TestValidateModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	assert.ErrorContains(t, cfg.Validate(), "unknown mode")

	cfg = Defaults()
	cfg.Mode = ModeTrade
	cfg.Wallet.KeyFile = "/keys/wallet.json"
	assert.ErrorContains(t, cfg.Validate(), "key_password")

	cfg.Wallet.KeyPassword = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Polymarket.APISecret = "s"
	cfg.Server.CORSOrigins = []string{"https://a"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Polymarket.APISecret)
	assert.Equal(t, "", out.Postgres.Password)
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "https://a", cfg.Server.CORSOrigins[0])
}
