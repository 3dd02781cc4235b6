package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emperorhan/treasury-sync/internal/address"
	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

type Config struct {
	Starknet StarknetConfig
	RPC      RPCConfig
	Balance  BalanceConfig
	Price    PriceConfig
	Events   EventsConfig
	Redis    RedisConfig
	Server   ServerConfig
	Tracing  TracingConfig
	Alert    AlertConfig
	Log      LogConfig
}

type StarknetConfig struct {
	RPCURL  string
	Network model.Network
}

type RPCConfig struct {
	RateLimitRPS       float64
	RateLimitBurst     int
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

type BalanceConfig struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	TokensFile   string
	Tokens       []model.TokenDescriptor
}

type PriceConfig struct {
	APIURL   string
	CacheTTL time.Duration
}

type EventsConfig struct {
	ChunkSize int
	// WatchInterval is zero when unset; the fetcher then derives it from
	// the network.
	WatchInterval time.Duration
}

type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	Addr string
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Starknet: StarknetConfig{
			RPCURL:  getEnv("STARKNET_RPC_URL", "https://starknet-sepolia.public.blastapi.io/rpc/v0_8"),
			Network: model.Network(strings.ToLower(getEnv("STARKNET_NETWORK", "sepolia"))),
		},
		RPC: RPCConfig{
			RateLimitRPS:       getEnvFloat("RPC_RATE_LIMIT_RPS", 10),
			RateLimitBurst:     getEnvInt("RPC_RATE_LIMIT_BURST", 20),
			BreakerFailures:    getEnvInt("RPC_BREAKER_FAILURES", 5),
			BreakerOpenTimeout: time.Duration(getEnvInt("RPC_BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
		},
		Balance: BalanceConfig{
			PollInterval: time.Duration(getEnvInt("BALANCE_POLL_INTERVAL_MS", 15000)) * time.Millisecond,
			StaleAfter:   time.Duration(getEnvInt("BALANCE_STALE_AFTER_MS", 30000)) * time.Millisecond,
			TokensFile:   getEnv("TOKENS_FILE", ""),
		},
		Price: PriceConfig{
			APIURL:   getEnv("PRICE_API_URL", "https://api.coingecko.com/api/v3"),
			CacheTTL: time.Duration(getEnvInt("PRICE_CACHE_TTL_SEC", 30)) * time.Second,
		},
		Events: EventsConfig{
			ChunkSize:     getEnvInt("EVENT_CHUNK_SIZE", 100),
			WatchInterval: time.Duration(getEnvInt("EVENT_WATCH_INTERVAL_MS", 0)) * time.Millisecond,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Balance.TokensFile != "" {
		tokens, err := LoadTokens(cfg.Balance.TokensFile)
		if err != nil {
			return nil, err
		}
		cfg.Balance.Tokens = tokens
	} else {
		cfg.Balance.Tokens = model.DefaultTokens(cfg.Starknet.Network)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Starknet.RPCURL == "" {
		return fmt.Errorf("STARKNET_RPC_URL is required")
	}
	if !c.Starknet.Network.Valid() {
		return fmt.Errorf("STARKNET_NETWORK must be mainnet, sepolia or devnet, got %q", c.Starknet.Network)
	}
	if c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("RPC_RATE_LIMIT_BURST must not be negative")
	}
	if c.RPC.BreakerFailures <= 0 {
		return fmt.Errorf("RPC_BREAKER_FAILURES must be positive")
	}
	if c.Balance.PollInterval <= 0 {
		return fmt.Errorf("BALANCE_POLL_INTERVAL_MS must be positive")
	}
	if c.Balance.StaleAfter <= 0 {
		return fmt.Errorf("BALANCE_STALE_AFTER_MS must be positive")
	}
	if c.Events.ChunkSize <= 0 {
		return fmt.Errorf("EVENT_CHUNK_SIZE must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if len(c.Balance.Tokens) == 0 {
		return fmt.Errorf("TOKENS_FILE lists no tokens")
	}
	return nil
}

type tokensFile struct {
	Tokens []model.TokenDescriptor `yaml:"tokens"`
}

// LoadTokens reads a YAML token list:
//
//	tokens:
//	  - symbol: STRK
//	    decimals: 18
//	    address: "0x0471..."
//	    price_id: starknet
func LoadTokens(path string) ([]model.TokenDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read TOKENS_FILE: %w", err)
	}
	var file tokensFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse TOKENS_FILE: %w", err)
	}

	seen := make(map[string]bool, len(file.Tokens))
	for i, tok := range file.Tokens {
		if tok.Symbol == "" {
			return nil, fmt.Errorf("TOKENS_FILE token %d: symbol is required", i)
		}
		if tok.Decimals < 0 || tok.Decimals > 77 {
			return nil, fmt.Errorf("TOKENS_FILE token %s: decimals %d out of range", tok.Symbol, tok.Decimals)
		}
		if _, err := address.Checksum(tok.Address); err != nil {
			return nil, fmt.Errorf("TOKENS_FILE token %s: %w", tok.Symbol, err)
		}
		sym := strings.ToUpper(tok.Symbol)
		if seen[sym] {
			return nil, fmt.Errorf("TOKENS_FILE token %s listed twice", tok.Symbol)
		}
		seen[sym] = true
	}
	return file.Tokens, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
