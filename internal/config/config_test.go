package config

import (
	"errors"
	"testing"
	"time"

	"github.com/taxlot/cgt-engine/internal/auth"
	"github.com/taxlot/cgt-engine/internal/taxyear"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.WindowDays != 30 {
		t.Errorf("expected 30-day window, got %d", cfg.WindowDays)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected 30s cache TTL, got %s", cfg.CacheTTL)
	}
	if len(cfg.Tokens) != 0 {
		t.Errorf("expected auth disabled by default")
	}
	aea, err := cfg.ExemptAmount(taxyear.MustParse("2024-25"))
	if err != nil || aea.IntPart() != 3000 {
		t.Errorf("expected 2024-25 AEA 3000, got %s (%v)", aea, err)
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"PORT":                       "9090",
		"CACHE_TTL":                  "1m",
		"CGT_THIRTY_DAY_WINDOW_DAYS": "31",
		"CGT_ANNUAL_EXEMPT_AMOUNTS":  "2024-25=2500, 2026-27=3000",
		"CGT_API_TOKENS":             "abc=advisor,xyz=individual",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" || cfg.CacheTTL != time.Minute || cfg.WindowDays != 31 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if aea, _ := cfg.ExemptAmount(taxyear.MustParse("2024-25")); aea.IntPart() != 2500 {
		t.Errorf("expected override 2500, got %s", aea)
	}
	if aea, _ := cfg.ExemptAmount(taxyear.MustParse("2026-27")); aea.IntPart() != 3000 {
		t.Errorf("expected added 2026-27 = 3000, got %s", aea)
	}
	if aea, _ := cfg.ExemptAmount(taxyear.MustParse("2023-24")); aea.IntPart() != 6000 {
		t.Errorf("statutory entries must survive a merge, got %s", aea)
	}
	if cfg.Tokens["abc"] != auth.Advisor || cfg.Tokens["xyz"] != auth.Individual {
		t.Errorf("unexpected tokens %+v", cfg.Tokens)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CGT_THIRTY_DAY_WINDOW_DAYS", "0"},
		{"CGT_THIRTY_DAY_WINDOW_DAYS", "thirty"},
		{"CACHE_TTL", "forever"},
		{"CGT_ANNUAL_EXEMPT_AMOUNTS", "2024-25"},
		{"CGT_ANNUAL_EXEMPT_AMOUNTS", "2024-26=3000"},
		{"CGT_ANNUAL_EXEMPT_AMOUNTS", "2024-25=-1"},
		{"CGT_API_TOKENS", "abc=admin"},
		{"CGT_API_TOKENS", "=advisor"},
	}
	for _, tt := range tests {
		_, err := LoadFrom(env(map[string]string{tt.key: tt.value}))
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s=%q: expected ErrConfiguration, got %v", tt.key, tt.value, err)
			continue
		}
		var cerr *ConfigurationError
		if errors.As(err, &cerr) && cerr.Key != tt.key {
			t.Errorf("%s=%q: error names key %s", tt.key, tt.value, cerr.Key)
		}
	}
}

func TestExemptAmount_Missing(t *testing.T) {
	cfg, _ := LoadFrom(env(nil))
	_, err := cfg.ExemptAmount(taxyear.MustParse("2010-11"))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
