package ingest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseNumber parses a quantity exported in either Spanish ("1.234,56",
// "12,5") or US ("1,234.56") notation. Plain numbers parse as-is; otherwise a
// separator followed by at most two digits is read as the decimal mark and
// any other separator as a thousands separator. Blank input is zero.
func ParseNumber(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(`"`, "", "'", "", " ", "", "\u00a0", "").Replace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, nil
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	var norm string
	switch {
	case hasComma && hasDot:
		parts := strings.Split(strings.ReplaceAll(s, ".", ""), ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			norm = parts[0] + "." + parts[1]
		} else {
			norm = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			norm = parts[0] + "." + parts[1]
		} else {
			norm = strings.ReplaceAll(s, ",", "")
		}
	case hasDot:
		parts := strings.Split(s, ".")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			norm = s
		} else {
			norm = strings.ReplaceAll(s, ".", "")
		}
	default:
		norm = s
	}

	d, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return d, nil
}
