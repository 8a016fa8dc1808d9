// Package config defines the bot configuration and its validation.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Modes.
const (
	ModeTrade = "trade"
	ModePaper = "paper"
	ModeScan  = "scan"
)

// Config is the root configuration. Fields come from TOML and may be
// overridden by POLYARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Market     MarketConfig     `toml:"market"`
	Reference  ReferenceConfig  `toml:"reference"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Execution  ExecutionConfig  `toml:"execution"`
	Risk       RiskConfig       `toml:"risk"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Journal    JournalConfig    `toml:"journal"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the signing key. KeyFile is an encrypted key written
// by the keygen command.
type WalletConfig struct {
	PrivateKey    string `toml:"private_key"`
	KeyFile       string `toml:"key_file"`
	KeyPassword   string `toml:"key_password"`
	Funder        string `toml:"funder"`
	SignatureType int    `toml:"signature_type"`
}

// PolymarketConfig holds endpoints, chain and L2 API credentials. Empty
// credentials are derived at startup.
type PolymarketConfig struct {
	ClobHost       string   `toml:"clob_host"`
	GammaHost      string   `toml:"gamma_host"`
	WSHost         string   `toml:"ws_host"`
	ChainID        int64    `toml:"chain_id"`
	NegRisk        bool     `toml:"neg_risk"`
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	APIPassphrase  string   `toml:"api_passphrase"`
	RequestTimeout duration `toml:"request_timeout"`
	FeedBuffer     int      `toml:"feed_buffer"`
}

// MarketConfig controls discovery and rollover of interval markets.
type MarketConfig struct {
	SlugPrefix    string   `toml:"slug_prefix"`
	Interval      duration `toml:"interval"`
	PollInterval  duration `toml:"poll_interval"`
	SettleDelay   duration `toml:"settle_delay"`
	LookupTimeout duration `toml:"lookup_timeout"`
}

// ReferenceConfig configures the external BTC/USD price.
type ReferenceConfig struct {
	Aggregator    string   `toml:"aggregator"`
	RPCs          []string `toml:"rpcs"`
	BinanceURL    string   `toml:"binance_url"`
	Symbol        string   `toml:"symbol"`
	CacheTTL      duration `toml:"cache_ttl"`
	MaxStaleness  duration `toml:"max_staleness"`
	CallTimeout   duration `toml:"call_timeout"`
	BackupTimeout duration `toml:"backup_timeout"`
}

// ArbitrageConfig holds the detection thresholds.
type ArbitrageConfig struct {
	Checks            []string     `toml:"checks"`
	MinProfit         decimalValue `toml:"min_profit"`
	MaxSlippage       decimalValue `toml:"max_slippage"`
	TakerFee          decimalValue `toml:"taker_fee"`
	MakerFee          decimalValue `toml:"maker_fee"`
	MispricingCeiling decimalValue `toml:"mispricing_ceiling"`
	Budget            decimalValue `toml:"budget"`
	PricePrecision    int32        `toml:"price_precision"`
	SizePrecision     int32        `toml:"size_precision"`
	ScanInterval      duration     `toml:"scan_interval"`
	Debounce          duration     `toml:"debounce"`
}

// ExecutionConfig bounds every exchange call.
type ExecutionConfig struct {
	SubmitTimeout  duration `toml:"submit_timeout"`
	CancelTimeout  duration `toml:"cancel_timeout"`
	FillTimeout    duration `toml:"fill_timeout"`
	PollInterval   duration `toml:"poll_interval"`
	DedupTTL       duration `toml:"dedup_ttl"`
	LockTTL        duration `toml:"lock_ttl"`
	QueueSize      int      `toml:"queue_size"`
	PaperFillDelay duration `toml:"paper_fill_delay"`
}

// RiskConfig holds the kill switch and per-trade limits.
type RiskConfig struct {
	DailyLossLimit decimalValue `toml:"daily_loss_limit"`
	MaxTradeAmount decimalValue `toml:"max_trade_amount"`
	MaxOpenLegs    int          `toml:"max_open_legs"`
}

// PostgresConfig holds connection parameters. DSN wins over the fields.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// EventChannel is the pub/sub channel under KeyPrefix.
	EventChannel string `toml:"event_channel"`
	MirrorBooks  bool   `toml:"mirror_books"`
}

// S3Config holds the archive bucket settings.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds the event stream settings.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	TopicPrefix  string   `toml:"topic_prefix"`
	WriteTimeout duration `toml:"write_timeout"`
}

// JournalConfig selects the local position journal. An empty Dir keeps
// positions in memory only. Ignored when Postgres is enabled.
type JournalConfig struct {
	Dir string `toml:"dir"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds the alert senders. Events lists the event names to
// deliver; empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// duration decodes TOML strings such as "5m" or "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// decimalValue decodes a TOML string, float or integer into a decimal.
// Strings are exact; floats go through their shortest representation.
type decimalValue struct {
	decimal.Decimal
}

func dec(s string) decimalValue { return decimalValue{decimal.RequireFromString(s)} }

// UnmarshalTOML implements toml.Unmarshaler.
func (d *decimalValue) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", x, err)
		}
		d.Decimal = parsed
	case float64:
		d.Decimal = decimal.NewFromFloat(x)
	case int64:
		d.Decimal = decimal.NewFromInt(x)
	default:
		return fmt.Errorf("invalid decimal value %v (%T)", v, v)
	}
	return nil
}

func (d decimalValue) MarshalText() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

// Defaults returns a Config for paper trading against the public endpoints.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:       "https://clob.polymarket.com",
			GammaHost:      "https://gamma-api.polymarket.com",
			WSHost:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:        137,
			RequestTimeout: duration{10 * time.Second},
			FeedBuffer:     1024,
		},
		Market: MarketConfig{
			SlugPrefix:    "btc-updown-15m",
			Interval:      duration{15 * time.Minute},
			PollInterval:  duration{5 * time.Second},
			SettleDelay:   duration{3 * time.Second},
			LookupTimeout: duration{10 * time.Second},
		},
		Reference: ReferenceConfig{
			Aggregator:    "0xc907E116054Ad103354f2D350FD2514433D57F6f",
			BinanceURL:    "https://api.binance.com",
			Symbol:        "BTCUSDT",
			CacheTTL:      duration{time.Second},
			MaxStaleness:  duration{10 * time.Second},
			CallTimeout:   duration{3 * time.Second},
			BackupTimeout: duration{2 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			Checks:            []string{"sum_to_one", "reference_mismatch"},
			MinProfit:         dec("0.04"),
			MaxSlippage:       dec("0.025"),
			TakerFee:          dec("0.015"),
			MakerFee:          dec("0"),
			MispricingCeiling: dec("0.85"),
			Budget:            dec("10"),
			PricePrecision:    3,
			SizePrecision:     2,
			ScanInterval:      duration{10 * time.Second},
			Debounce:          duration{250 * time.Millisecond},
		},
		Execution: ExecutionConfig{
			SubmitTimeout:  duration{5 * time.Second},
			CancelTimeout:  duration{5 * time.Second},
			FillTimeout:    duration{30 * time.Second},
			PollInterval:   duration{100 * time.Millisecond},
			DedupTTL:       duration{2 * time.Minute},
			LockTTL:        duration{time.Minute},
			QueueSize:      16,
			PaperFillDelay: duration{200 * time.Millisecond},
		},
		Risk: RiskConfig{
			DailyLossLimit: dec("5"),
			MaxTradeAmount: dec("50"),
			MaxOpenLegs:    20,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			MaxConns:      5,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			KeyPrefix:    "polyarb",
			EventChannel: "events",
			MirrorBooks:  true,
		},
		S3: S3Config{Region: "us-east-1", UseSSL: true},
		Kafka: KafkaConfig{
			TopicPrefix:  "polyarb",
			WriteTimeout: duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled:    true,
			Addr:       ":8080",
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify:   NotifyConfig{QueueSize: 64},
		Mode:     ModePaper,
		LogLevel: "info",
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !slices.Contains([]string{ModeTrade, ModePaper, ModeScan}, c.Mode) {
		add("unknown mode %q (valid: trade, paper, scan)", c.Mode)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Mode == ModeTrade && c.Wallet.PrivateKey == "" && c.Wallet.KeyFile == "" {
		add("wallet: private_key or key_file is required in trade mode")
	}
	if c.Wallet.KeyFile != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required with key_file")
	}
	if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
		add("wallet: signature_type must be 0 (EOA), 1 (proxy) or 2 (safe), got %d", c.Wallet.SignatureType)
	}
	creds := []string{c.Polymarket.APIKey, c.Polymarket.APISecret, c.Polymarket.APIPassphrase}
	if set := len(creds) - countEmpty(creds); set != 0 && set != len(creds) {
		add("polymarket: api_key, api_secret and api_passphrase must be set together")
	}

	if c.Polymarket.ClobHost == "" || c.Polymarket.GammaHost == "" || c.Polymarket.WSHost == "" {
		add("polymarket: clob_host, gamma_host and ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		add("polymarket: chain_id must be positive")
	}

	if c.Market.SlugPrefix == "" {
		add("market: slug_prefix must not be empty")
	}
	if c.Market.Interval.Duration < time.Minute {
		add("market: interval must be at least 1m")
	}
	if c.Market.PollInterval.Duration <= 0 {
		add("market: poll_interval must be positive")
	}

	if c.Reference.MaxStaleness.Duration <= 0 {
		add("reference: max_staleness must be positive")
	}

	a := c.Arbitrage
	if len(a.Checks) == 0 {
		add("arbitrage: at least one check must be enabled")
	}
	if a.MinProfit.IsNegative() || a.MaxSlippage.IsNegative() {
		add("arbitrage: min_profit and max_slippage must not be negative")
	}
	if a.TakerFee.IsNegative() || a.TakerFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		add("arbitrage: taker_fee must be in [0,1)")
	}
	if !a.MispricingCeiling.IsPositive() || a.MispricingCeiling.GreaterThan(decimal.NewFromInt(1)) {
		add("arbitrage: mispricing_ceiling must be in (0,1]")
	}
	if !a.Budget.IsPositive() {
		add("arbitrage: budget must be positive")
	}
	if a.ScanInterval.Duration <= 0 {
		add("arbitrage: scan_interval must be positive")
	}

	e := c.Execution
	if e.FillTimeout.Duration <= 0 || e.PollInterval.Duration <= 0 || e.SubmitTimeout.Duration <= 0 {
		add("execution: submit_timeout, fill_timeout and poll_interval must be positive")
	}
	if e.QueueSize < 1 {
		add("execution: queue_size must be >= 1")
	}

	if c.Risk.DailyLossLimit.IsNegative() {
		add("risk: daily_loss_limit must not be negative")
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			add("postgres: host and database are required (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		add("s3: bucket and region are required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		add("kafka: brokers must not be empty")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func countEmpty(vals []string) int {
	n := 0
	for _, v := range vals {
		if v == "" {
			n++
		}
	}
	return n
}
