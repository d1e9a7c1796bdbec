package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAmountFormat is returned when an amount string is not a
// non-negative decimal with at most two fractional digits.
var ErrInvalidAmountFormat = errors.New("invalid amount format")

const (
	moneyScale       = 100
	maxIntegerDigits = 8 // numeric(10,2)
)

// MaxBalance is the largest balance an account can hold, numeric(12,2).
var MaxBalance = Cents(999_999_999_999)

// Money is a fixed-point amount with a scale of two, stored in minor units.
// All arithmetic is integer-only.
type Money struct {
	cents int64
}

// Cents builds a Money value from minor units.
func Cents(c int64) Money { return Money{cents: c} }

// ParseMoney parses a client supplied amount such as "100", "100.5" or
// "100.50". Signs, exponents, separators other than '.' and more than two
// fractional digits are rejected.
func ParseMoney(s string) (Money, error) {
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" || len(intPart) > maxIntegerDigits || !isDigits(intPart) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
	}
	if hasDot && (fracPart == "" || len(fracPart) > 2 || !isDigits(fracPart)) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
	}
	return parseDigits(intPart, fracPart, false)
}

// parseStored parses a decimal read back from storage. Unlike ParseMoney it
// tolerates a sign, trailing zeros and wide integer parts, but still refuses
// to round.
func parseStored(s string) (Money, error) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, fracPart, _ := strings.Cut(s, ".")
	fracPart = strings.TrimRight(fracPart, "0")
	if intPart == "" || !isDigits(intPart) || len(fracPart) > 2 || !isDigits(fracPart) {
		return Money{}, fmt.Errorf("%w: stored value %q", ErrInvalidAmountFormat, s)
	}
	return parseDigits(intPart, fracPart, negative)
}

func parseDigits(intPart, fracPart string, negative bool) (Money, error) {
	major, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || major > (1<<63-1)/moneyScale {
		return Money{}, fmt.Errorf("%w: %q out of range", ErrInvalidAmountFormat, intPart)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	minor, _ := strconv.ParseInt(fracPart, 10, 64)
	c := major*moneyScale + minor
	if negative {
		c = -c
	}
	return Money{cents: c}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 { return m.cents }

func (m Money) Add(other Money) Money { return Money{cents: m.cents + other.cents} }

func (m Money) Sub(other Money) Money { return Money{cents: m.cents - other.cents} }

func (m Money) LessThan(other Money) bool { return m.cents < other.cents }

// Equal compares exactly; "75.5" and "75.50" are equal.
func (m Money) Equal(other Money) bool { return m.cents == other.cents }

func (m Money) IsZero() bool { return m.cents == 0 }

func (m Money) IsNegative() bool { return m.cents < 0 }

// String always renders two fractional digits, e.g. "250.50".
func (m Money) String() string {
	c := m.cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/moneyScale, c%moneyScale)
}

// MarshalJSON encodes the amount as a string so clients never see a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amount must be a string", ErrInvalidAmountFormat)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer. The decimal string maps onto numeric(p,2)
// columns without a float conversion.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for numeric columns.
func (m *Money) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = Money{}
		return nil
	case []byte:
		parsed, err := parseStored(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case string:
		parsed, err := parseStored(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T into Money", ErrInvalidAmountFormat, value)
	}
}
