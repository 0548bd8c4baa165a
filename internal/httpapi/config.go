package httpapi

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr          = ":8080"
	defaultAllowedOrigin       = "http://localhost:3000"
	defaultSessionIssuer       = "tauth"
	defaultSessionCookie       = "app_session"
	defaultReceiptHistoryLimit = 50
)

// Config aggregates runtime settings for the booking API.
type Config struct {
	ListenAddr          string
	AllowedOrigins      []string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	ReceiptHistoryLimit int
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.ReceiptHistoryLimit <= 0 {
		cfg.ReceiptHistoryLimit = defaultReceiptHistoryLimit
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if strings.TrimSpace(cfg.SessionIssuer) == "" {
		return fmt.Errorf("jwt issuer is required")
	}
	if strings.TrimSpace(cfg.SessionCookieName) == "" {
		return fmt.Errorf("jwt cookie name is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
