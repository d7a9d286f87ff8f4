package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is authd's startup configuration, assembled entirely from the env
// keys the deployment surface defines. There is no general config file parser here (out of
// scope: deployment tooling) — dex's own cmd/dex/config.go reads a YAML
// file, but this module's env surface is small and fixed enough that
// os.Getenv plus defaults, the same un-abstracted approach, is sufficient.
type Config struct {
	IssuerURL        string
	KeyID            string
	KeyManagerSecret string
	AdminAPISecret   string
	AllowedOrigins   []string
	CookieSameSite   string

	SessionShards    int
	CodeShards       int
	RefreshShards    int
	ChallengeShards  int
	DeviceCodeShards int
	CIBAShards       int
	PARShards        int
	DPoPJTIShards    int
	RevocationShards int
	RateLimitShards  int
	FlowStateShards  int
	KeyManagerShards int
	SettingsShards   int

	SigningAlg string

	FlowTTL         time.Duration
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration

	KeyRotationInterval time.Duration
}

// loadConfig reads Config from the process environment, applying the
// built-in defaults wherever a *_SHARDS variable is unset.
func loadConfig() (Config, error) {
	cfg := Config{
		IssuerURL:        os.Getenv("ISSUER_URL"),
		KeyID:            os.Getenv("KEY_ID"),
		KeyManagerSecret: os.Getenv("KEY_MANAGER_SECRET"),
		AdminAPISecret:   os.Getenv("ADMIN_API_SECRET"),
		AllowedOrigins:   splitComma(os.Getenv("ALLOWED_ORIGINS")),
		CookieSameSite:   defaultString(os.Getenv("COOKIE_SAME_SITE"), "Lax"),

		SessionShards:    mustShards("SESSION_SHARDS", 32),
		CodeShards:       mustShards("CODE_SHARDS", 64),
		RefreshShards:    mustShards("REFRESH_SHARDS", 32),
		ChallengeShards:  mustShards("CHALLENGE_SHARDS", 16),
		DeviceCodeShards: mustShards("DEVICE_CODE_SHARDS", 32),
		CIBAShards:       mustShards("CIBA_SHARDS", 32),
		PARShards:        mustShards("PAR_SHARDS", 16),
		DPoPJTIShards:    mustShards("DPOP_JTI_SHARDS", 64),
		RevocationShards: mustShards("REVOCATION_SHARDS", 32),
		RateLimitShards:  mustShards("RATE_LIMIT_SHARDS", 64),
		FlowStateShards:  mustShards("FLOW_STATE_SHARDS", 32),
		KeyManagerShards: mustShards("KEY_MANAGER_SHARDS", 16),
		SettingsShards:   mustShards("SETTINGS_SHARDS", 8),

		SigningAlg: defaultString(os.Getenv("SIGNING_ALG"), "ES256"),

		FlowTTL:         10 * time.Minute,
		CodeTTL:         10 * time.Minute,
		AccessTokenTTL:  time.Hour,
		IDTokenTTL:      time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,

		KeyRotationInterval: 24 * time.Hour,
	}

	if cfg.IssuerURL == "" {
		return Config{}, fmt.Errorf("ISSUER_URL must be set")
	}
	if cfg.CookieSameSite != "Lax" && cfg.CookieSameSite != "None" {
		return Config{}, fmt.Errorf("COOKIE_SAME_SITE must be one of Lax, None, got %q", cfg.CookieSameSite)
	}
	return cfg, nil
}

func mustShards(envKey string, def int) int {
	v := os.Getenv(envKey)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
