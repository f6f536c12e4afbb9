package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// Config holds process configuration.
type Config struct {
	LogLevel     string
	LogFormat    string
	DatabaseURL  string
	RedisURL     string
	KeyringPath  string
	Deployments  string
	ChainID      contracts.NetworkID
	RPCURL       string
	RelayerURL   string
	RelayerToken string
	// RelayerRate is requests per second; zero means unlimited.
	RelayerRate float64
	JWTSecret   string
	ListenAddr  string
	// PrivateKey is the hex key of the identity the CLI acts as.
	PrivateKey     string
	CoprocessorKey string

	MinValue           int64
	MaxValue           int64
	RefreshConcurrency int
	CapabilityDays     int
	BlockTime          time.Duration

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		LogFormat:    getenv("SCOREVAULT_LOG_FORMAT", "text"),
		DatabaseURL:  getenv("DATABASE_URL", "sqlite://scorevault.db"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KeyringPath:  getenv("SCOREVAULT_KEYRING", "scorevault.keyring.json"),
		Deployments:  os.Getenv("SCOREVAULT_DEPLOYMENTS"),
		RPCURL:       os.Getenv("SCOREVAULT_RPC_URL"),
		RelayerURL:   os.Getenv("SCOREVAULT_RELAYER_URL"),
		RelayerToken: os.Getenv("SCOREVAULT_RELAYER_TOKEN"),
		JWTSecret:    os.Getenv("SCOREVAULT_JWT_SECRET"),
		ListenAddr:   getenv("SCOREVAULT_LISTEN", "127.0.0.1:8545"),
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		// first local development account
		PrivateKey:     getenv("SCOREVAULT_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"),
		CoprocessorKey: os.Getenv("SCOREVAULT_COPROCESSOR_KEY"),
	}

	chain, err := parseUint("SCOREVAULT_CHAIN_ID", 31337)
	if err != nil {
		return nil, err
	}
	cfg.ChainID = contracts.NetworkID(chain)

	if cfg.MinValue, err = parseInt("SCOREVAULT_MIN_VALUE", 0); err != nil {
		return nil, err
	}
	if cfg.MaxValue, err = parseInt("SCOREVAULT_MAX_VALUE", 100); err != nil {
		return nil, err
	}
	if cfg.MinValue > cfg.MaxValue {
		return nil, fmt.Errorf("config: SCOREVAULT_MIN_VALUE %d exceeds SCOREVAULT_MAX_VALUE %d", cfg.MinValue, cfg.MaxValue)
	}

	concurrency, err := parseInt("SCOREVAULT_REFRESH_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	cfg.RefreshConcurrency = int(concurrency)

	days, err := parseInt("SCOREVAULT_CAPABILITY_DAYS", int64(contracts.DefaultCapabilityDays))
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("config: SCOREVAULT_CAPABILITY_DAYS must be positive")
	}
	cfg.CapabilityDays = int(days)

	if v := os.Getenv("SCOREVAULT_RELAYER_RATE"); v != "" {
		if cfg.RelayerRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: SCOREVAULT_RELAYER_RATE: %w", err)
		}
	}

	if v := os.Getenv("SCOREVAULT_BLOCK_TIME"); v != "" {
		if cfg.BlockTime, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("config: SCOREVAULT_BLOCK_TIME: %w", err)
		}
	}

	cfg.OTelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	cfg.OTelInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false"
	return cfg, nil
}

// Driver returns the database/sql driver name and DSN for DatabaseURL.
func (c *Config) Driver() (driver, dsn string) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres", c.DatabaseURL
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(c.DatabaseURL, "sqlite://")
	default:
		return "sqlite", c.DatabaseURL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func parseUint(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
