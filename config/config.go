// Package config loads runtime configuration for the settlement service
// from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Base mainnet is the single settlement network; USDC is the single asset.
const (
	DefaultNetwork = "base"
	DefaultChainID = 8453
	DefaultAsset   = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

// Config is the runtime configuration for posterad.
type Config struct {
	Port        string
	DatabaseURL string

	// Treasury is the platform payout address. It may be empty; routes
	// that require it respond 503 until it is configured.
	Treasury string
	Network  string
	ChainID  int64
	Asset    string

	// AuthorBps is the author's basis-point share of read-unlock revenue.
	AuthorBps int

	// RPCURL enables on-chain receipt verification when set; otherwise
	// proofs are accepted by the stub verifier.
	RPCURL string

	PaymentRatePerMinute float64
	PaymentRateBurst     int
	ReadRatePerMinute    float64
	ReadRateBurst        int

	LogLevel string
}

// FromEnv reads configuration from POSTERA_* environment variables.
func FromEnv() (*Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("POSTERA_DB_URL"))
	if dbURL == "" {
		return nil, fmt.Errorf("POSTERA_DB_URL is required")
	}

	chainID := int64(parseIntEnv("POSTERA_CHAIN_ID", DefaultChainID))

	authorBps := parseIntEnv("POSTERA_AUTHOR_SPLIT_BPS", 9000)
	if authorBps < 0 || authorBps > 10_000 {
		return nil, fmt.Errorf("POSTERA_AUTHOR_SPLIT_BPS must be between 0 and 10000")
	}

	return &Config{
		Port:                 normalizePort(getEnvDefault("POSTERA_PORT", "8402")),
		DatabaseURL:          dbURL,
		Treasury:             strings.TrimSpace(os.Getenv("POSTERA_TREASURY_ADDRESS")),
		Network:              getEnvDefault("POSTERA_NETWORK", DefaultNetwork),
		ChainID:              chainID,
		Asset:                getEnvDefault("POSTERA_ASSET_CONTRACT", DefaultAsset),
		AuthorBps:            authorBps,
		RPCURL:               strings.TrimSpace(os.Getenv("POSTERA_RPC_URL")),
		PaymentRatePerMinute: parseFloatEnv("POSTERA_PAYMENT_RATE_PER_MINUTE", 10),
		PaymentRateBurst:     parseIntEnv("POSTERA_PAYMENT_RATE_BURST", 5),
		ReadRatePerMinute:    parseFloatEnv("POSTERA_READ_RATE_PER_MINUTE", 120),
		ReadRateBurst:        parseIntEnv("POSTERA_READ_RATE_BURST", 30),
		LogLevel:             getEnvDefault("POSTERA_LOG_LEVEL", "info"),
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	// Allow values like ":8402".
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}
