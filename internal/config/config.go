// Package config loads reactor settings from a YAML file overlaid with
// REACTOR_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"chain-reactor/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REACTOR_"

// Transport kinds.
const (
	TransportGeth = "geth"
	TransportWS   = "ws"
	TransportHTTP = "http"
)

type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	Multicall MulticallConfig `yaml:"multicall"`
	Engine    EngineConfig    `yaml:"engine"`
	Monitors  MonitorsConfig  `yaml:"monitors"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
}

type RPCConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Transport string        `yaml:"transport"`
	Timeout   time.Duration `yaml:"timeout"`
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit  float64 `yaml:"rate_limit"`
	Burst      int     `yaml:"burst"`
	MaxRetries int     `yaml:"max_retries"` // http only
}

type MulticallConfig struct {
	Contract string `yaml:"contract"`
	ChainID  int64  `yaml:"chain_id"`
	// SignerKey is read from REACTOR_SIGNER_KEY only.
	SignerKey          string `yaml:"-"`
	Submit             bool   `yaml:"submit"`
	GasHeadroomPercent uint64 `yaml:"gas_headroom_percent"`
}

type EngineConfig struct {
	SeenTTL       time.Duration `yaml:"seen_ttl"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	LatencyBatch  int           `yaml:"latency_batch"`
	Buffer        int           `yaml:"buffer"`
}

type MonitorsConfig struct {
	// Log enables the logging monitor for both pending txs and blocks.
	Log   bool          `yaml:"log"`
	Watch []WatchConfig `yaml:"watch"`
}

// StorageConfig selects backends. Empty DSNs fall back to memory.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresConns int32  `yaml:"postgres_max_conns"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	RedisURL      string `yaml:"redis_url"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type ServerConfig struct {
	// Addr serves /metrics and /health. Empty disables the server.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used before the file and env are applied.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			Endpoint:  "ws://localhost:8546",
			Transport: TransportGeth,
			Timeout:   5 * time.Second,
			Burst:     1,
		},
		Engine: EngineConfig{
			SeenTTL:       10 * time.Minute,
			FlushInterval: 5 * time.Second,
			LatencyBatch:  512,
			Buffer:        256,
		},
		Storage: StorageConfig{
			PostgresConns: 10,
		},
		Server: ServerConfig{Addr: ":9090"},
		Log:    logging.Config{Level: "info", Encoding: "console"},
	}
}

// Load reads path (optional), applies REACTOR_* overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown fields are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RPC.Endpoint = getEnv("RPC_ENDPOINT", c.RPC.Endpoint)
	c.RPC.Transport = getEnv("TRANSPORT", c.RPC.Transport)
	c.RPC.Timeout = getEnvDuration("RPC_TIMEOUT", c.RPC.Timeout)
	c.RPC.RateLimit = getEnvFloat("RATE_LIMIT", c.RPC.RateLimit)
	c.RPC.Burst = getEnvInt("RATE_BURST", c.RPC.Burst)

	c.Multicall.Contract = getEnv("MULTICALL_CONTRACT", c.Multicall.Contract)
	c.Multicall.ChainID = int64(getEnvInt("CHAIN_ID", int(c.Multicall.ChainID)))
	c.Multicall.SignerKey = getEnv("SIGNER_KEY", c.Multicall.SignerKey)
	c.Multicall.Submit = getEnvBool("SUBMIT", c.Multicall.Submit)

	c.Storage.PostgresDSN = getEnv("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.ClickhouseDSN = getEnv("CLICKHOUSE_DSN", c.Storage.ClickhouseDSN)
	c.Storage.RedisURL = getEnv("REDIS_URL", c.Storage.RedisURL)

	c.Server.Addr = getEnv("METRICS_ADDR", c.Server.Addr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("LOG_ENCODING", c.Log.Encoding)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("%sRPC_ENDPOINT is required", EnvPrefix)
	}
	switch c.RPC.Transport {
	case TransportGeth, TransportWS, TransportHTTP:
	default:
		return fmt.Errorf("rpc.transport must be geth, ws or http, got %q", c.RPC.Transport)
	}
	if c.RPC.Timeout <= 0 {
		return errors.New("rpc.timeout must be positive")
	}
	if c.RPC.RateLimit < 0 {
		return errors.New("rpc.rate_limit must not be negative")
	}
	if c.RPC.RateLimit > 0 && c.RPC.Burst <= 0 {
		return errors.New("rpc.burst must be positive when rate limiting")
	}

	if !common.IsHexAddress(c.Multicall.Contract) {
		return fmt.Errorf("multicall.contract %q is not a hex address", c.Multicall.Contract)
	}
	if c.Multicall.ChainID <= 0 {
		return errors.New("multicall.chain_id is required")
	}
	if c.Multicall.Submit && c.Multicall.SignerKey == "" {
		return fmt.Errorf("%sSIGNER_KEY is required when submit is enabled", EnvPrefix)
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, w := range c.Monitors.Watch {
		if w.Name == "" {
			return errors.New("monitors.watch: name is required")
		}
		if seen[w.Name] {
			return fmt.Errorf("monitors.watch: duplicate name %q", w.Name)
		}
		seen[w.Name] = true
		if _, err := w.DecodeRules(); err != nil {
			return err
		}
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if out.Multicall.SignerKey != "" {
		out.Multicall.SignerKey = "<redacted>"
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
