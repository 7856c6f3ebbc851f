// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr    string
	BaseURL string

	// AdminPasswords gate the referee role. A UX deterrent only, not a
	// security boundary: anyone running a client can bypass it.
	AdminPasswords []string

	StoreBackend string // "memory" | "nats"
	NATSURL      string
	NATSBucket   string

	// How long a spectator tab waits before auto-joining from a share
	// link, giving the store connection time to establish.
	SpectatorJoinDelay time.Duration

	AllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env if present; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:               getEnv("ADDR", ":8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		AdminPasswords:     splitList(getEnv("ADMIN_PASSWORDS", "admin123,referee2024,voleibol")),
		StoreBackend:       getEnv("STORE_BACKEND", "memory"),
		NATSURL:            getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSBucket:         getEnv("NATS_BUCKET", "manvapp"),
		SpectatorJoinDelay: time.Duration(getEnvAsInt("SPECTATOR_JOIN_DELAY_MS", 2000)) * time.Millisecond,
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "nats" {
		return nil, fmt.Errorf("STORE_BACKEND must be \"memory\" or \"nats\", got %q", cfg.StoreBackend)
	}
	if len(cfg.AdminPasswords) == 0 {
		return nil, fmt.Errorf("ADMIN_PASSWORDS must not be empty")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
