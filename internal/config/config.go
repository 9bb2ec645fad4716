// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/auth"
	"github.com/taxlot/cgt-engine/internal/matching"
	"github.com/taxlot/cgt-engine/internal/taxyear"
)

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("config: invalid configuration")

// ConfigurationError reports a missing or malformed setting. It is fatal at
// startup and at report generation; it is never a per-holding failure.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config is the service configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache
	CacheTTL    time.Duration

	// WindowDays is the 30-day rule window.
	WindowDays int

	// ExemptAmounts is the Annual Exempt Amount by tax year.
	ExemptAmounts map[taxyear.TaxYear]decimal.Decimal

	// Tokens maps API bearer tokens to roles. Empty disables auth.
	Tokens map[string]auth.Role
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:          "8080",
		DatabaseURL:   getenv("DATABASE_URL"),
		RedisURL:      getenv("REDIS_URL"),
		CacheTTL:      30 * time.Second,
		WindowDays:    matching.DefaultWindowDays,
		ExemptAmounts: taxyear.DefaultExemptAmounts(),
		Tokens:        map[string]auth.Role{},
	}

	if port := getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if v := getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, &ConfigurationError{Key: "CACHE_TTL", Reason: fmt.Sprintf("must be a positive duration, got %q", v)}
		}
		cfg.CacheTTL = ttl
	}

	if v := getenv("CGT_THIRTY_DAY_WINDOW_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, &ConfigurationError{Key: "CGT_THIRTY_DAY_WINDOW_DAYS", Reason: fmt.Sprintf("must be a positive integer, got %q", v)}
		}
		cfg.WindowDays = days
	}

	if v := getenv("CGT_ANNUAL_EXEMPT_AMOUNTS"); v != "" {
		if err := parseExemptAmounts(v, cfg.ExemptAmounts); err != nil {
			return nil, err
		}
	}

	if v := getenv("CGT_API_TOKENS"); v != "" {
		if err := parseTokens(v, cfg.Tokens); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ExemptAmount returns the Annual Exempt Amount configured for ty.
func (c *Config) ExemptAmount(ty taxyear.TaxYear) (decimal.Decimal, error) {
	return ExemptAmountLookup(c.ExemptAmounts)(ty)
}

// ExemptAmountLookup turns a table into a lookup that fails with a
// ConfigurationError for unknown tax years.
func ExemptAmountLookup(table map[taxyear.TaxYear]decimal.Decimal) func(taxyear.TaxYear) (decimal.Decimal, error) {
	return func(ty taxyear.TaxYear) (decimal.Decimal, error) {
		aea, ok := table[ty]
		if !ok {
			return decimal.Zero, &ConfigurationError{
				Key:    "CGT_ANNUAL_EXEMPT_AMOUNTS",
				Reason: fmt.Sprintf("no annual exempt amount for tax year %s", ty),
			}
		}
		return aea, nil
	}
}

// parseExemptAmounts reads "2024-25=3000,2025-26=3000" into table.
func parseExemptAmounts(v string, table map[taxyear.TaxYear]decimal.Decimal) error {
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		label, amount, ok := strings.Cut(pair, "=")
		if !ok {
			return &ConfigurationError{Key: "CGT_ANNUAL_EXEMPT_AMOUNTS", Reason: fmt.Sprintf("expected YYYY-YY=amount, got %q", pair)}
		}
		ty, err := taxyear.Parse(label)
		if err != nil {
			return &ConfigurationError{Key: "CGT_ANNUAL_EXEMPT_AMOUNTS", Reason: err.Error()}
		}
		aea, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil || aea.IsNegative() {
			return &ConfigurationError{Key: "CGT_ANNUAL_EXEMPT_AMOUNTS", Reason: fmt.Sprintf("invalid amount %q for %s", amount, ty)}
		}
		table[ty] = aea
	}
	return nil
}

// parseTokens reads "token=role,..." into tokens.
func parseTokens(v string, tokens map[string]auth.Role) error {
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, roleName, ok := strings.Cut(pair, "=")
		if !ok || token == "" {
			return &ConfigurationError{Key: "CGT_API_TOKENS", Reason: "expected token=role pairs"}
		}
		role, err := auth.ParseRole(roleName)
		if err != nil {
			return &ConfigurationError{Key: "CGT_API_TOKENS", Reason: err.Error()}
		}
		tokens[token] = role
	}
	return nil
}
