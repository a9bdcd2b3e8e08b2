// Package envconfig loads process-wide configuration from the
// environment, following the same conventions as the reference
// control-plane's startup wiring (.env in local/dev via godotenv,
// real environment in production).
package envconfig

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MorphicMode enumerates the named persona presets from §6.
type MorphicMode string

const (
	ModeDefault               MorphicMode = "default"
	ModeAlphaPush             MorphicMode = "alpha_push"
	ModeConservative          MorphicMode = "conservative"
	ModeAggressiveSniper      MorphicMode = "aggressive_sniper"
	ModeCapitalPreservation   MorphicMode = "capital_preservation"
	ModeHighVolatilityDefense MorphicMode = "high_volatility_defense"
	ModeConservativeBuffer    MorphicMode = "conservative_buffer"
)

// Env holds the environment-derived settings named in §6.
type Env struct {
	RedisHost   string
	RedisPort   string
	DatabaseURL string
	Symbol      string
	MorphicMode MorphicMode
	ChaosMode   bool
	TenantID    string
	ClientID    string
	ReportPath  string
	Env         string // "production" | "development"
}

// Load reads .env (if present) then the process environment, applying
// the defaults named throughout the spec.
func Load() *Env {
	_ = godotenv.Load()

	return &Env{
		RedisHost:   getString("REDIS_HOST", "localhost"),
		RedisPort:   getString("REDIS_PORT", "6379"),
		DatabaseURL: getString("DATABASE_URL", ""),
		Symbol:      getString("SYMBOL", ""),
		MorphicMode: MorphicMode(getString("MORPHIC_MODE", string(ModeDefault))),
		ChaosMode:   strings.EqualFold(getString("CHAOS_MODE", "off"), "on"),
		TenantID:    getString("TENANT_ID", "default"),
		ClientID:    getString("CLIENT_ID", ""),
		ReportPath:  getString("REPORT_PATH", "./reports"),
		Env:         getString("TITAN_ENV", "production"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetInt exposes the int-with-default accessor for module-local numeric
// thresholds (§6: "All numeric thresholds in §4 are configurable").
func GetInt(key string, fallback int) int { return getInt(key, fallback) }

// GetFloat exposes a float-with-default accessor, same rationale as GetInt.
func GetFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetBool exposes a bool-with-default accessor.
func GetBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
