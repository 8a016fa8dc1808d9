package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load builds the configuration: defaults, then the TOML file at path (a
// missing file is fine when path is empty), then .env, then POLYARB_*
// variables. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyFile, "POLYARB_WALLET_KEY_FILE")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Funder, "POLYARB_WALLET_FUNDER")
	setInt(&cfg.Wallet.SignatureType, "POLYARB_WALLET_SIGNATURE_TYPE")

	setStr(&cfg.Polymarket.ClobHost, "POLYARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WSHost, "POLYARB_POLYMARKET_WS_HOST")
	setInt64(&cfg.Polymarket.ChainID, "POLYARB_POLYMARKET_CHAIN_ID")
	setBool(&cfg.Polymarket.NegRisk, "POLYARB_POLYMARKET_NEG_RISK")
	setStr(&cfg.Polymarket.APIKey, "POLYARB_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.APISecret, "POLYARB_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.APIPassphrase, "POLYARB_POLYMARKET_API_PASSPHRASE")

	setStr(&cfg.Market.SlugPrefix, "POLYARB_MARKET_SLUG_PREFIX")
	setDuration(&cfg.Market.Interval, "POLYARB_MARKET_INTERVAL")
	setDuration(&cfg.Market.SettleDelay, "POLYARB_MARKET_SETTLE_DELAY")

	setStringSlice(&cfg.Reference.RPCs, "POLYARB_REFERENCE_RPCS")
	setStr(&cfg.Reference.BinanceURL, "POLYARB_REFERENCE_BINANCE_URL")
	setDuration(&cfg.Reference.MaxStaleness, "POLYARB_REFERENCE_MAX_STALENESS")

	setStringSlice(&cfg.Arbitrage.Checks, "POLYARB_ARBITRAGE_CHECKS")
	setDecimal(&cfg.Arbitrage.MinProfit, "POLYARB_ARBITRAGE_MIN_PROFIT")
	setDecimal(&cfg.Arbitrage.MaxSlippage, "POLYARB_ARBITRAGE_MAX_SLIPPAGE")
	setDecimal(&cfg.Arbitrage.TakerFee, "POLYARB_ARBITRAGE_TAKER_FEE")
	setDecimal(&cfg.Arbitrage.Budget, "POLYARB_ARBITRAGE_BUDGET")
	setDuration(&cfg.Arbitrage.ScanInterval, "POLYARB_ARBITRAGE_SCAN_INTERVAL")

	setDuration(&cfg.Execution.FillTimeout, "POLYARB_EXECUTION_FILL_TIMEOUT")
	setDuration(&cfg.Execution.PollInterval, "POLYARB_EXECUTION_POLL_INTERVAL")

	setDecimal(&cfg.Risk.DailyLossLimit, "POLYARB_RISK_DAILY_LOSS_LIMIT")
	setDecimal(&cfg.Risk.MaxTradeAmount, "POLYARB_RISK_MAX_TRADE_AMOUNT")

	setBool(&cfg.Postgres.Enabled, "POLYARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")

	setBool(&cfg.Redis.Enabled, "POLYARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")

	setBool(&cfg.S3.Enabled, "POLYARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")

	setBool(&cfg.Kafka.Enabled, "POLYARB_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "POLYARB_KAFKA_BROKERS")

	setStr(&cfg.Journal.Dir, "POLYARB_JOURNAL_DIR")

	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "POLYARB_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "POLYARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYARB_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

// Each setter changes dst only when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimalValue, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			dst.Decimal = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
