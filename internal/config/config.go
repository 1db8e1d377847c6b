// Package config loads runtime settings: built-in defaults, then an optional
// TOML file, then COOPX_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
)

const EnvPrefix = "COOPX"

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr string `toml:"http_addr" envconfig:"HTTP_ADDR"`
	GRPCAddr string `toml:"grpc_addr" envconfig:"GRPC_ADDR"`

	// DBDriver is memory, mysql or postgres. DSN is ignored for memory.
	DBDriver string `toml:"db_driver" envconfig:"DB_DRIVER"`
	DSN      string `toml:"dsn" envconfig:"DSN"`
	// RedisAddr selects the Redis stock gate; empty keeps the gate in process.
	RedisAddr string `toml:"redis_addr" envconfig:"REDIS_ADDR"`

	MarketMakerID    string `toml:"market_maker_id" envconfig:"MARKET_MAKER_ID"`
	MarketMakerEmail string `toml:"market_maker_email" envconfig:"MARKET_MAKER_EMAIL"`

	LiquidationDiscount decimal.Decimal `toml:"liquidation_discount" envconfig:"LIQUIDATION_DISCOUNT"`
	PriceWindow         int             `toml:"price_window" envconfig:"PRICE_WINDOW"`
	SubmitGuardTTL      time.Duration   `toml:"submit_guard_ttl" envconfig:"SUBMIT_GUARD_TTL"`

	LogLevel        string        `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat       string        `toml:"log_format" envconfig:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		DBDriver:            DriverMemory,
		MarketMakerID:       "market-maker",
		LiquidationDiscount: decimal.NewFromFloat(0.15),
		PriceWindow:         3,
		SubmitGuardTTL:      10 * time.Second,
		LogLevel:            "info",
		LogFormat:           "json",
		ShutdownTimeout:     15 * time.Second,
	}
}

// Load reads path when non-empty, applies the environment and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, xerrors.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, xerrors.Errorf("unknown keys in %s: %v", path, undecoded)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, xerrors.Errorf("read environment: %w", err)
	}
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverMySQL, DriverPostgres:
		if c.DSN == "" {
			return xerrors.Errorf("dsn is required for the %s driver", c.DBDriver)
		}
	default:
		return xerrors.Errorf("unknown db_driver %q", c.DBDriver)
	}
	if c.MarketMakerID == "" && c.MarketMakerEmail == "" {
		return xerrors.New("one of market_maker_id or market_maker_email is required")
	}
	if c.LiquidationDiscount.IsNegative() || !c.LiquidationDiscount.LessThan(decimal.NewFromInt(1)) {
		return xerrors.Errorf("liquidation_discount must be in [0, 1), got %s", c.LiquidationDiscount)
	}
	if c.PriceWindow < 1 {
		return xerrors.Errorf("price_window must be positive, got %d", c.PriceWindow)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return xerrors.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}
