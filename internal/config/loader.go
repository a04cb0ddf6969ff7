package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present, and applies TRACKER_* overrides. The
// result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose TRACKER_* variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCEndpoint, "TRACKER_SOLANA_RPC_ENDPOINT")
	setStr(&cfg.Solana.WSEndpoint, "TRACKER_SOLANA_WS_ENDPOINT")
	setStr(&cfg.Solana.ProgramID, "TRACKER_SOLANA_PROGRAM_ID")
	setStr(&cfg.Solana.Commitment, "TRACKER_SOLANA_COMMITMENT")

	// ── Decoder ──
	setStringSlice(&cfg.Decoder.ExcludedWallets, "TRACKER_DECODER_EXCLUDED_WALLETS")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.MinOpenQuantity, "TRACKER_LEDGER_MIN_OPEN_QUANTITY")
	setFloat64(&cfg.Ledger.SignificantMovePct, "TRACKER_LEDGER_SIGNIFICANT_MOVE_PCT")
	setFloat64(&cfg.Ledger.ActiveEpsilon, "TRACKER_LEDGER_ACTIVE_EPSILON")
	setInt(&cfg.Ledger.AppliedCapacity, "TRACKER_LEDGER_APPLIED_CAPACITY")

	// ── Pricing ──
	setStr(&cfg.Pricing.Endpoint, "TRACKER_PRICING_ENDPOINT")
	setStr(&cfg.Pricing.APIKey, "TRACKER_PRICING_API_KEY")
	setStr(&cfg.Pricing.ReferenceAsset, "TRACKER_PRICING_REFERENCE_ASSET")
	setDuration(&cfg.Pricing.Interval, "TRACKER_PRICING_INTERVAL")
	setDuration(&cfg.Pricing.Timeout, "TRACKER_PRICING_TIMEOUT")
	setInt(&cfg.Pricing.BatchSize, "TRACKER_PRICING_BATCH_SIZE")

	// ── Filter ──
	setFloat64(&cfg.Filter.MinValuation, "TRACKER_FILTER_MIN_VALUATION")
	setFloat64(&cfg.Filter.MaxValuation, "TRACKER_FILTER_MAX_VALUATION")

	// ── Ingestion ──
	setInt(&cfg.Ingestion.Workers, "TRACKER_INGESTION_WORKERS")
	setDuration(&cfg.Ingestion.FetchTimeout, "TRACKER_INGESTION_FETCH_TIMEOUT")
	setInt(&cfg.Ingestion.FetchRetries, "TRACKER_INGESTION_FETCH_RETRIES")
	setDuration(&cfg.Ingestion.StallTimeout, "TRACKER_INGESTION_STALL_TIMEOUT")
	setInt(&cfg.Ingestion.MaxResubscribes, "TRACKER_INGESTION_MAX_RESUBSCRIBES")
	setDuration(&cfg.Ingestion.SlotPollInterval, "TRACKER_INGESTION_SLOT_POLL_INTERVAL")

	// ── Metadata ──
	setBool(&cfg.Metadata.Enabled, "TRACKER_METADATA_ENABLED")
	setInt(&cfg.Metadata.Concurrency, "TRACKER_METADATA_CONCURRENCY")
	setDuration(&cfg.Metadata.CacheTTL, "TRACKER_METADATA_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRACKER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRACKER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRACKER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRACKER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "TRACKER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "TRACKER_REDIS_CHANNEL")
	setStr(&cfg.Redis.Stream, "TRACKER_REDIS_STREAM")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRACKER_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "TRACKER_SERVER_ADDR")

	// ── Top-level ──
	setBool(&cfg.Verbose, "TRACKER_VERBOSE")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
