package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultRequestTimeout = 5 * time.Second
	defaultPageLimit      = 50
	maxPageLimit          = 200
)

// Config controls the HTTP facade.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	JWTSecret      string
	JWTIssuer      string
	RequestTimeout time.Duration
}

// Validate normalizes the configuration and rejects unusable values.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is required")
	}
	return nil
}
