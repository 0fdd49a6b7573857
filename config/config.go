package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded once in main and injected; nothing reads the environment
// after startup.
type Config struct {
	Addr        string
	DatabaseURL string // empty selects the in-memory deal store
	JWTSecret   string
	TokenTTL    time.Duration

	// Arbiters is the immutable roster of privileged identities.
	Arbiters []string
	// ArbiterPasswordHash is the bcrypt hash guarding arbiter token issuance.
	// Empty disables arbiter login entirely.
	ArbiterPasswordHash string
	// StrictParties opts in to advisory party matching on proof submission
	// and direct close. Off by default.
	StrictParties bool
}

func Load() Config {
	return Config{
		Addr:                getenv("ESCROW_ADDR", ":8484"),
		DatabaseURL:         getenv("DATABASE_URL", ""),
		JWTSecret:           getenv("ESCROW_JWT_SECRET", "escrow-dev-secret"),
		TokenTTL:            time.Duration(getenvInt("ESCROW_TOKEN_TTL_SECONDS", 86400)) * time.Second,
		Arbiters:            splitList(getenv("ESCROW_ARBITERS", "")),
		ArbiterPasswordHash: getenv("ESCROW_ARBITER_PASSWORD_HASH", ""),
		StrictParties:       getenvBool("ESCROW_STRICT_PARTIES", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
