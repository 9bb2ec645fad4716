package security

import (
	"errors"
	"testing"
)

func TestNormalizeTicker(t *testing.T) {
	tests := map[string]string{
		"vod":    "VOD",
		" bt.a ": "BT.A",
		"RR":     "RR",
	}
	for in, want := range tests {
		got, err := NormalizeTicker(in)
		if err != nil {
			t.Errorf("NormalizeTicker(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeTicker(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "   ", ".VOD", "VOD PLC", "ABCDEFGHIJKLM"} {
		if _, err := NormalizeTicker(bad); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("NormalizeTicker(%q): expected ErrInvalidTicker, got %v", bad, err)
		}
	}
}

func TestValidateISIN(t *testing.T) {
	for _, valid := range []string{"US0378331005", "GB0002634946", "GB00BH4HKS39"} {
		if err := ValidateISIN(valid); err != nil {
			t.Errorf("ValidateISIN(%s): unexpected error %v", valid, err)
		}
	}
	for _, invalid := range []string{"US0378331006", "GB000263494", "0B0002634946", "GB00026349X6"} {
		if err := ValidateISIN(invalid); !errors.Is(err, ErrInvalidISIN) {
			t.Errorf("ValidateISIN(%s): expected ErrInvalidISIN, got %v", invalid, err)
		}
	}
}

func TestValidateSEDOL(t *testing.T) {
	for _, valid := range []string{"0263494", "BH4HKS3"} {
		if err := ValidateSEDOL(valid); err != nil {
			t.Errorf("ValidateSEDOL(%s): unexpected error %v", valid, err)
		}
	}
	for _, invalid := range []string{"0263495", "B0A1234", "026349"} {
		if err := ValidateSEDOL(invalid); !errors.Is(err, ErrInvalidSEDOL) {
			t.Errorf("ValidateSEDOL(%s): expected ErrInvalidSEDOL, got %v", invalid, err)
		}
	}
}

func TestParse_DerivesSEDOL(t *testing.T) {
	s, err := Parse("vod", "gb00bh4hks39", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Ticker != "VOD" || s.ISIN != "GB00BH4HKS39" || s.SEDOL != "BH4HKS3" {
		t.Errorf("unexpected security %+v", s)
	}
}

func TestParse_Mismatch(t *testing.T) {
	_, err := Parse("BA", "GB0002634946", "BH4HKS3")
	if !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch, got %v", err)
	}
}

func TestParse_TickerOnly(t *testing.T) {
	s, err := Parse("AAPL", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ISIN != "" || s.SEDOL != "" {
		t.Errorf("expected empty identifiers, got %+v", s)
	}
}
