// Package pricing provides locale-aware parsing of raw marketplace price
// strings into a canonical amount and ISO currency code.
package pricing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCurrency is assumed when a price string carries no symbol or code.
const DefaultCurrency = "USD"

// Price is the canonical form of a parsed price string.
type Price struct {
	Amount   float64
	Currency string
}

// ParseError represents a price string that could not be parsed.
type ParseError struct {
	Input   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("price parse error for %q: %s", e.Input, e.Message)
}

// symbolCurrencies maps currency symbols to ISO codes.
var symbolCurrencies = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
	"¥": "JPY",
}

// isoCodes is the set of explicit currency codes recognized in price text.
var isoCodes = map[string]bool{
	"USD": true, "GBP": true, "EUR": true, "JPY": true,
	"CAD": true, "AUD": true, "CHF": true,
}

var numericTokenRe = regexp.MustCompile(`[0-9][0-9.,]*`)

// Normalize parses a raw price string such as "$1,234.56", "€1.234,56" or
// "Current Bid: USD 43.00" into a Price. It is a pure function: the same
// input always yields the same output.
//
// Decimal/thousands disambiguation follows locale convention: when a comma
// appears after the last dot (European style), the comma is the decimal
// point and dots are thousands separators; otherwise commas are thousands
// separators and the dot is the decimal point. A lone comma followed by
// exactly two digits is treated as a decimal comma.
func Normalize(raw string) (Price, error) {
	currency := detectCurrency(raw)

	token := numericTokenRe.FindString(raw)
	if token == "" {
		return Price{}, &ParseError{Input: raw, Message: "no numeric token"}
	}
	token = strings.Trim(token, ".,")

	amount, err := parseAmount(token)
	if err != nil {
		return Price{}, &ParseError{Input: raw, Message: err.Error()}
	}
	if amount <= 0 {
		return Price{}, &ParseError{Input: raw, Message: "non-positive amount"}
	}

	return Price{Amount: amount, Currency: currency}, nil
}

// FormatCanonical renders a Price back to its canonical string form.
// Normalizing the result is a no-op.
func FormatCanonical(p Price) string {
	return fmt.Sprintf("%.2f %s", p.Amount, p.Currency)
}

func detectCurrency(raw string) string {
	for sym, code := range symbolCurrencies {
		if strings.Contains(raw, sym) {
			return code
		}
	}
	for _, field := range strings.Fields(raw) {
		code := strings.ToUpper(strings.Trim(field, ".,:;()"))
		if isoCodes[code] {
			return code
		}
	}
	return DefaultCurrency
}

func parseAmount(token string) (float64, error) {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0 && lastComma > lastDot:
		// European style: 1.234,56
		token = strings.ReplaceAll(token, ".", "")
		token = strings.Replace(token, ",", ".", 1)
	case lastDot >= 0 && lastComma >= 0:
		// Anglo style: 1,234.56
		token = strings.ReplaceAll(token, ",", "")
	case lastComma >= 0:
		// Comma only: decimal when a single comma is followed by exactly
		// two digits, thousands separator otherwise.
		if strings.Count(token, ",") == 1 && len(token)-lastComma-1 == 2 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	}

	amount, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed numeric token %q", token)
	}
	return amount, nil
}
