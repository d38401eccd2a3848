package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	plateRe = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)
	phoneRe = regexp.MustCompile(`^254[17]\d{8}$`)
)

// NormalizePlate upper-cases a detected plate and strips whitespace.
// The result must be 1 to 8 letters or digits.
func NormalizePlate(raw string) (string, error) {
	p := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
	if !plateRe.MatchString(p) {
		return "", invalid("plate", "use up to 8 alphanumeric characters")
	}
	return p, nil
}

// NormalizePhone turns 07XXXXXXXX / +2547XXXXXXXX style numbers into
// 2547XXXXXXXX and validates the result.
func NormalizePhone(raw string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !phoneRe.MatchString(p) {
		return "", invalid("phone_number", "use 2547XXXXXXXX or 2541XXXXXXXX")
	}
	return p, nil
}

// ParseAmount parses a positive money amount with at most two decimals.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, invalid("amount", "not a number")
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, invalid("amount", "must be positive")
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Decimal{}, invalid("amount", "at most two decimal places")
	}
	return d, nil
}
