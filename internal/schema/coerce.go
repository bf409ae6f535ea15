package schema

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var errTwoDigitYear = errors.New("two-digit year is ambiguous")

func coerce(t FieldType, s string) (any, error) {
	switch t {
	case TypeDecimal:
		return ParseAmount(s)
	case TypeDate:
		return ParseDate(s)
	case TypeYear:
		return ParseYear(s)
	case TypeInt:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, eris.Errorf("not an integer: %q", s)
		}
		return v, nil
	default:
		return s, nil
	}
}

// ParseAmount parses a fixed-point amount. Binary floats are never used.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, eris.Errorf("not a decimal amount: %q", s)
	}
	return d, nil
}

// ParseDate parses a filing date. Bulk files use MMDDYYYY; the slash and
// ISO forms appear in API exports. Two-digit years are rejected.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var layout string
	switch {
	case len(s) == 8 && isDigits(s):
		layout = "01022006"
	case len(s) == 10 && s[2] == '/' && s[5] == '/':
		layout = "01/02/2006"
	case len(s) == 10 && s[4] == '-' && s[7] == '-':
		layout = "2006-01-02"
	case len(s) == 6 && isDigits(s), len(s) == 8 && s[2] == '/' && s[5] == '/':
		return time.Time{}, eris.Wrapf(errTwoDigitYear, "date %q", s)
	default:
		return time.Time{}, eris.Errorf("unrecognized date %q", s)
	}

	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid date %q", s)
	}
	return t, nil
}

// ParseYear parses a four-digit election year.
func ParseYear(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) == 2 && isDigits(s) {
		return 0, eris.Wrapf(errTwoDigitYear, "year %q", s)
	}
	if len(s) != 4 || !isDigits(s) {
		return 0, eris.Errorf("invalid year %q", s)
	}
	y, _ := strconv.ParseInt(s, 10, 64)
	if y < 1900 || y > 2200 {
		return 0, eris.Errorf("year %d out of range", y)
	}
	return y, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
