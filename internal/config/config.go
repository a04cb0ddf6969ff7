// Package config defines the tracker configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRACKER_* environment
// variables.
type Config struct {
	Solana    SolanaConfig    `toml:"solana"`
	Decoder   DecoderConfig   `toml:"decoder"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Pricing   PricingConfig   `toml:"pricing"`
	Filter    FilterConfig    `toml:"filter"`
	Ingestion IngestionConfig `toml:"ingestion"`
	Metadata  MetadataConfig  `toml:"metadata"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Verbose   bool            `toml:"verbose"`
}

// SolanaConfig holds node endpoints and the tracked program.
type SolanaConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`
	WSEndpoint  string `toml:"ws_endpoint"`
	ProgramID   string `toml:"program_id"`
	Commitment  string `toml:"commitment"`
}

// DecoderConfig holds decoder settings.
type DecoderConfig struct {
	// ExcludedWallets are added to the built-in relayer list.
	ExcludedWallets []string `toml:"excluded_wallets"`
}

// LedgerConfig holds position thresholds.
type LedgerConfig struct {
	MinOpenQuantity    float64 `toml:"min_open_quantity"`
	SignificantMovePct float64 `toml:"significant_move_pct"`
	ActiveEpsilon      float64 `toml:"active_epsilon"`
	AppliedCapacity    int     `toml:"applied_capacity"`
}

// PricingConfig holds price oracle and poller settings.
type PricingConfig struct {
	Endpoint       string   `toml:"endpoint"`
	APIKey         string   `toml:"api_key"`
	ReferenceAsset string   `toml:"reference_asset"`
	Interval       duration `toml:"interval"`
	Timeout        duration `toml:"timeout"`
	BatchSize      int      `toml:"batch_size"`
}

// FilterConfig bounds position valuations in quote currency. Zero disables
// a bound.
type FilterConfig struct {
	MinValuation float64 `toml:"min_valuation"`
	MaxValuation float64 `toml:"max_valuation"`
}

// IngestionConfig holds fetch, worker and supervision settings.
type IngestionConfig struct {
	Workers          int      `toml:"workers"`
	FetchTimeout     duration `toml:"fetch_timeout"`
	FetchRetries     int      `toml:"fetch_retries"`
	StallTimeout     duration `toml:"stall_timeout"`
	MaxResubscribes  int      `toml:"max_resubscribes"`
	SlotPollInterval duration `toml:"slot_poll_interval"`
}

// MetadataConfig holds token metadata resolution settings.
type MetadataConfig struct {
	Enabled     bool     `toml:"enabled"`
	Concurrency int      `toml:"concurrency"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// RedisConfig holds Redis connection parameters and destinations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"`
	Stream     string `toml:"stream"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCEndpoint: "https://api.mainnet-beta.solana.com",
			WSEndpoint:  "wss://api.mainnet-beta.solana.com",
			ProgramID:   "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
			Commitment:  "confirmed",
		},
		Ledger: LedgerConfig{
			MinOpenQuantity:    0,
			SignificantMovePct: 1.0,
			ActiveEpsilon:      0.01,
			AppliedCapacity:    100_000,
		},
		Pricing: PricingConfig{
			Endpoint:       "https://api.jup.ag/price/v2",
			ReferenceAsset: "So11111111111111111111111111111111111111112",
			Interval:       duration{10 * time.Second},
			Timeout:        duration{8 * time.Second},
			BatchSize:      100,
		},
		Ingestion: IngestionConfig{
			Workers:          8,
			FetchTimeout:     duration{10 * time.Second},
			FetchRetries:     3,
			StallTimeout:     duration{2 * time.Minute},
			MaxResubscribes:  5,
			SlotPollInterval: duration{400 * time.Millisecond},
		},
		Metadata: MetadataConfig{
			Enabled:     true,
			Concurrency: 4,
			CacheTTL:    duration{time.Hour},
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "ledger:events",
			Stream:  "ledger:stream",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks the configuration for consistency and returns every
// problem found in one error.
func (c *Config) Validate() error {
	var errs []string

	// Solana
	if c.Solana.RPCEndpoint == "" {
		errs = append(errs, "solana: rpc_endpoint must not be empty")
	}
	if c.Solana.WSEndpoint == "" {
		errs = append(errs, "solana: ws_endpoint must not be empty")
	}
	if c.Solana.ProgramID == "" {
		errs = append(errs, "solana: program_id must not be empty")
	}
	if !validCommitments[strings.ToLower(c.Solana.Commitment)] {
		errs = append(errs, fmt.Sprintf("solana: unknown commitment %q (valid: processed, confirmed, finalized)", c.Solana.Commitment))
	}

	// Ledger
	if c.Ledger.MinOpenQuantity < 0 {
		errs = append(errs, "ledger: min_open_quantity must be >= 0")
	}
	if c.Ledger.SignificantMovePct <= 0 {
		errs = append(errs, "ledger: significant_move_pct must be > 0")
	}
	if c.Ledger.ActiveEpsilon < 0 {
		errs = append(errs, "ledger: active_epsilon must be >= 0")
	}
	if c.Ledger.AppliedCapacity < 1 {
		errs = append(errs, "ledger: applied_capacity must be >= 1")
	}

	// Pricing
	if c.Pricing.Endpoint == "" {
		errs = append(errs, "pricing: endpoint must not be empty")
	}
	if c.Pricing.ReferenceAsset == "" {
		errs = append(errs, "pricing: reference_asset must not be empty")
	}
	if c.Pricing.Interval.Duration <= 0 {
		errs = append(errs, "pricing: interval must be > 0")
	}
	if c.Pricing.Timeout.Duration > c.Pricing.Interval.Duration {
		errs = append(errs, "pricing: timeout must not exceed interval")
	}
	if c.Pricing.BatchSize < 1 {
		errs = append(errs, "pricing: batch_size must be >= 1")
	}

	// Filter
	if c.Filter.MinValuation < 0 || c.Filter.MaxValuation < 0 {
		errs = append(errs, "filter: valuations must be >= 0")
	}
	if c.Filter.MaxValuation > 0 && c.Filter.MinValuation > c.Filter.MaxValuation {
		errs = append(errs, "filter: min_valuation must not exceed max_valuation")
	}

	// Ingestion
	if c.Ingestion.Workers < 1 {
		errs = append(errs, "ingestion: workers must be >= 1")
	}
	if c.Ingestion.FetchTimeout.Duration <= 0 {
		errs = append(errs, "ingestion: fetch_timeout must be > 0")
	}
	if c.Ingestion.FetchRetries < 1 {
		errs = append(errs, "ingestion: fetch_retries must be >= 1")
	}
	if c.Ingestion.StallTimeout.Duration <= 0 {
		errs = append(errs, "ingestion: stall_timeout must be > 0")
	}
	if c.Ingestion.MaxResubscribes < 0 {
		errs = append(errs, "ingestion: max_resubscribes must be >= 0")
	}
	if c.Ingestion.SlotPollInterval.Duration <= 0 {
		errs = append(errs, "ingestion: slot_poll_interval must be > 0")
	}

	// Metadata
	if c.Metadata.Enabled && c.Metadata.Concurrency < 1 {
		errs = append(errs, "metadata: concurrency must be >= 1 when enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.Channel == "" && c.Redis.Stream == "" {
			errs = append(errs, "redis: channel or stream must be set when enabled")
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
