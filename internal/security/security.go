// Package security normalises and validates the identifiers of a listed
// security: exchange ticker, ISIN and SEDOL.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidTicker = errors.New("security: invalid ticker")
	ErrInvalidISIN   = errors.New("security: invalid ISIN")
	ErrInvalidSEDOL  = errors.New("security: invalid SEDOL")
	ErrMismatch      = errors.New("security: ISIN and SEDOL do not match")
)

// tickerRegex matches exchange tickers such as VOD, BT.A or RDSB.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)

// isinRegex matches: {country}{NSIN}{check}
// Example: GB00BH4HKS39
var isinRegex = regexp.MustCompile(`^([A-Z]{2})([A-Z0-9]{9})([0-9])$`)

// sedolRegex excludes vowels, which SEDOLs never use.
var sedolRegex = regexp.MustCompile(`^[0-9BCDFGHJKLMNPQRSTVWXYZ]{6}[0-9]$`)

var sedolWeights = [6]int{1, 3, 1, 7, 3, 9}

// Security is a validated set of identifiers.
type Security struct {
	Ticker string `json:"ticker"`
	ISIN   string `json:"isin,omitempty"`
	SEDOL  string `json:"sedol,omitempty"`
}

// Parse normalises and validates the identifiers. ISIN and SEDOL are
// optional; when both are given for a UK security, the SEDOL must be the
// one embedded in the ISIN. A missing SEDOL is derived from a GB ISIN.
func Parse(ticker, isin, sedol string) (*Security, error) {
	s := &Security{}
	var err error
	if s.Ticker, err = NormalizeTicker(ticker); err != nil {
		return nil, err
	}
	if isin = normalize(isin); isin != "" {
		if err := ValidateISIN(isin); err != nil {
			return nil, err
		}
		s.ISIN = isin
	}
	if sedol = normalize(sedol); sedol != "" {
		if err := ValidateSEDOL(sedol); err != nil {
			return nil, err
		}
		s.SEDOL = sedol
	}

	if embedded, ok := SEDOLFromISIN(s.ISIN); ok {
		switch {
		case s.SEDOL == "":
			s.SEDOL = embedded
		case s.SEDOL != embedded:
			return nil, fmt.Errorf("%w: %s embeds %s, got %s", ErrMismatch, s.ISIN, embedded, s.SEDOL)
		}
	}
	return s, nil
}

// NormalizeTicker upper-cases and trims a ticker and checks its shape.
func NormalizeTicker(ticker string) (string, error) {
	t := normalize(ticker)
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return t, nil
}

// ValidateISIN checks the format and the Luhn check digit of an ISIN.
// Letters count as two digits (A=10 … Z=35) before the Luhn sum.
func ValidateISIN(isin string) error {
	if !isinRegex.MatchString(isin) {
		return fmt.Errorf("%w: %s (expected 2 letters, 9 alphanumerics, 1 digit)", ErrInvalidISIN, isin)
	}

	var digits []int
	for _, r := range isin {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		default:
			v := int(r-'A') + 10
			digits = append(digits, v/10, v%10)
		}
	}

	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		v := digits[i]
		if (len(digits)-1-i)%2 == 1 {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
	}
	if sum%10 != 0 {
		return fmt.Errorf("%w: %s (check digit)", ErrInvalidISIN, isin)
	}
	return nil
}

// ValidateSEDOL checks the format and weighted check digit of a SEDOL.
func ValidateSEDOL(sedol string) error {
	if !sedolRegex.MatchString(sedol) {
		return fmt.Errorf("%w: %s", ErrInvalidSEDOL, sedol)
	}
	if want := sedolCheckDigit(sedol[:6]); int(sedol[6]-'0') != want {
		return fmt.Errorf("%w: %s (check digit should be %d)", ErrInvalidSEDOL, sedol, want)
	}
	return nil
}

// SEDOLFromISIN extracts the SEDOL from a GB or IE ISIN, which embed it as
// characters 5 to 11 after two zero pad digits.
func SEDOLFromISIN(isin string) (string, bool) {
	if len(isin) != 12 || (!strings.HasPrefix(isin, "GB00") && !strings.HasPrefix(isin, "IE00")) {
		return "", false
	}
	sedol := isin[4:11]
	if ValidateSEDOL(sedol) != nil {
		return "", false
	}
	return sedol, true
}

func sedolCheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		v := int(r - '0')
		if r >= 'A' {
			v = int(r-'A') + 10
		}
		sum += v * sedolWeights[i]
	}
	return (10 - sum%10) % 10
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
