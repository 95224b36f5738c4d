package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the trading engine.
// Load is the only place environment variables are read.
type Config struct {
	Env string // development, staging, production

	// Logging
	LogLevel  string
	LogFormat string // json or console

	// Journal output root (orders.csv / pos_pnl.csv per strategy)
	DataDir string

	// Status API (live mode)
	APIEnabled bool
	APIPort    string

	// Collaborators
	Database DatabaseConfig
	Redis    RedisConfig
	Kraken   KrakenConfig

	// Simulation defaults
	Backtest BacktestConfig
}

// DatabaseConfig holds PostgreSQL configuration for the bar store.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration for the price cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// KrakenConfig holds Kraken API configuration.
type KrakenConfig struct {
	Key    string
	Secret string // base64-encoded private key

	RESTURL      string
	WSPublicURL  string
	WSPrivateURL string

	// Fixed delay between reconnect attempts on any stream.
	ReconnectDelay time.Duration
}

// BacktestConfig holds default simulation parameters.
// Defaults match Kraken's taker/maker fee schedule.
type BacktestConfig struct {
	TakerFee float64
	MakerFee float64
	Slippage float64
}

// Load reads configuration from the environment, consulting .env if present.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		DataDir:   getEnv("DATA_DIR", defaultDataDir()),

		APIEnabled: getEnvAsBool("API_ENABLED", true),
		APIPort:    getEnv("API_PORT", "8091"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Kraken: KrakenConfig{
			Key:            getEnv("KRAKEN_API_KEY", ""),
			Secret:         getEnv("KRAKEN_API_SECRET", ""),
			RESTURL:        getEnv("KRAKEN_REST_URL", "https://api.kraken.com"),
			WSPublicURL:    getEnv("KRAKEN_WS_PUBLIC_URL", "wss://ws.kraken.com"),
			WSPrivateURL:   getEnv("KRAKEN_WS_PRIVATE_URL", "wss://ws-auth.kraken.com"),
			ReconnectDelay: getEnvAsDuration("KRAKEN_RECONNECT_DELAY", "5s"),
		},

		Backtest: BacktestConfig{
			TakerFee: getEnvAsFloat("BACKTEST_TAKER_FEE", 0.0026),
			MakerFee: getEnvAsFloat("BACKTEST_MAKER_FEE", 0.0016),
			Slippage: getEnvAsFloat("BACKTEST_SLIPPAGE", 0.0010),
		},
	}

	return cfg, nil
}

// Validate checks settings required for live trading.
func (c *Config) Validate() error {
	if c.Kraken.Key == "" || c.Kraken.Secret == "" {
		return fmt.Errorf("KRAKEN_API_KEY and KRAKEN_API_SECRET are required for live trading")
	}
	return nil
}

// loadEnvFile tries a few locations for a .env file. Missing files are fine;
// real deployments configure through the environment.
func loadEnvFile() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "..", ".env"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tides-data"
	}
	return filepath.Join(home, ".tides")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key, fallback string) time.Duration {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
