// Package fixedpoint formats the engine's scaled int64 monetary values into
// display strings without ever routing the value through float64.
//
// Scale is chosen by currency code: "BTC" uses 8 decimals (width 16 when
// padded), "JPY" uses 3 decimals (width 12), every other quote currency uses
// 5 decimals (width 12). This mirrors the one place in the whole engine
// where a currency-dependent scale is applied to a raw int64 — everywhere
// else the int64 is passed around untouched.
package fixedpoint

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale describes a currency's fixed-point exponent and display width.
type Scale struct {
	Exponent int32 // decimal's negative-exponent convention: value * 10^Exponent
	Width    int   // minimum field width when padded
}

// ScaleFor returns the scale for a currency code.
func ScaleFor(currency string) Scale {
	switch currency {
	case "BTC":
		return Scale{Exponent: -8, Width: 16}
	case "JPY":
		return Scale{Exponent: -3, Width: 12}
	default:
		return Scale{Exponent: -5, Width: 12}
	}
}

// Format renders a scaled int64 as a fixed-point decimal string, right-aligned
// with leading spaces to the currency's display width, e.g.
// Format(100000000, "BTC") == "      1.00000000" (16 characters wide).
func Format(value int64, currency string) string {
	s := ScaleFor(currency)
	d := decimal.New(value, s.Exponent)
	return fmt.Sprintf("%*s", s.Width, d.StringFixed(-s.Exponent))
}

// Parse reverses Format for the same currency, recovering the original
// scaled int64. It is the round-trip half of the formatting contract used
// by the fixed-point formatting property test.
func Parse(formatted string, currency string) (int64, error) {
	s := ScaleFor(currency)
	d, err := decimal.NewFromString(strings.TrimSpace(formatted))
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(-s.Exponent)
	return scaled.Round(0).IntPart(), nil
}
