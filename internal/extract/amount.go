package extract

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a numeric token whose decimal and thousands separators
// are ambiguous. When both '.' and ',' occur, the one appearing last is the
// decimal point and every occurrence of the other is dropped. When only ','
// occurs it is the decimal point. A token with only '.' (or no separator) is
// parsed as is. The result is not range checked.
func ParseAmount(token string) (decimal.Decimal, error) {
	t := strings.TrimSpace(token)
	lastDot := strings.LastIndexByte(t, '.')
	lastComma := strings.LastIndexByte(t, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			t = strings.ReplaceAll(t, ".", "")
			t = strings.ReplaceAll(t, ",", ".")
		} else {
			t = strings.ReplaceAll(t, ",", "")
		}
	case lastComma >= 0:
		t = strings.ReplaceAll(t, ",", ".")
	}

	t = strings.TrimSuffix(t, ".")
	if strings.HasPrefix(t, ".") {
		t = "0" + t
	}
	if t == "" || strings.Count(t, ".") > 1 {
		return decimal.Decimal{}, fmt.Errorf("extract: malformed amount %q", token)
	}
	for _, r := range t {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Decimal{}, fmt.Errorf("extract: malformed amount %q", token)
		}
	}

	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("extract: parse amount %q: %w", token, err)
	}
	return d, nil
}
