package validate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError is a caller-recoverable input error. The message is
// rule-specific and safe to return to the client verbatim.
type ValidationError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Msg }

func errf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

const (
	countryPrefix = "254"
	phoneDigits   = 12
)

// Safaricom mobile network codes follow the country prefix.
var subscriberPrefixes = []string{"2547", "2541"}

// Phone normalizes a Kenyan MSISDN to its 12-digit numeric form.
// Rules, checked in order: present, 254 country prefix, exactly 12
// digits, Safaricom subscriber prefix.
func Phone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errf("phone", "phone number is required")
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()

	if !strings.HasPrefix(phone, countryPrefix) {
		return "", errf("phone", "phone number must start with %s", countryPrefix)
	}
	if len(phone) != phoneDigits {
		return "", errf("phone", "phone number must be %d digits (254XXXXXXXXX)", phoneDigits)
	}
	ok := false
	for _, p := range subscriberPrefixes {
		if strings.HasPrefix(phone, p) {
			ok = true
			break
		}
	}
	if !ok {
		return "", errf("phone", "phone number must be a valid Safaricom number")
	}
	return phone, nil
}

// Amount parses a raw JSON amount (number or numeric string) and
// checks it against the inclusive [min, max] range. Non-numeric input
// and out-of-range input are distinct errors.
func Amount(raw any, min, max float64) (float64, error) {
	var (
		amount float64
		err    error
	)
	switch v := raw.(type) {
	case nil:
		return 0, errf("amount", "amount is required")
	case float64:
		amount = v
	case int:
		amount = float64(v)
	case int64:
		amount = float64(v)
	case json.Number:
		amount, err = v.Float64()
	case string:
		amount, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, errf("amount", "invalid amount format")
	}
	if err != nil {
		return 0, errf("amount", "invalid amount format")
	}
	if amount < min {
		return 0, errf("amount", "amount must be at least %s KES", trimFloat(min))
	}
	if amount > max {
		return 0, errf("amount", "amount cannot exceed %s KES", trimFloat(max))
	}
	return amount, nil
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
