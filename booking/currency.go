/*
currency.go - Tagged amounts and base-unit scaling

PURPOSE:
  A CurrencyValue is an integer tagged with the unit it is counted in.
  ETH amounts are counted in base units (10^-18 ETH); the fiat-pegged
  currencies this system lists (BTC, USD, CAD, EUR) are counted in whole
  units and are informational only.

RULES:
  - Raw is always an integer. Constructors truncate toward zero.
  - Whole() is the canonical comparable magnitude: base units are scaled
    down by 10^18, whole units are returned as-is.
  - Arithmetic stays in decimal.Decimal, so base -> whole -> base round
    trips are exact.

SEE ALSO:
  - price.go: Stay pricing built on these conversions
*/
package booking

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	ETH Currency = "ETH"
	BTC Currency = "BTC"
	USD Currency = "USD"
	CAD Currency = "CAD"
	EUR Currency = "EUR"
)

type currencyInfo struct {
	symbol string
	unit   Unit
}

var currencies = map[Currency]currencyInfo{
	ETH: {symbol: "Ξ", unit: UnitBase},
	BTC: {symbol: "₿", unit: UnitWhole},
	USD: {symbol: "$", unit: UnitWhole},
	CAD: {symbol: "$", unit: UnitWhole},
	EUR: {symbol: "€", unit: UnitWhole},
}

// Currencies lists the supported currencies in display order.
func Currencies() []Currency {
	return []Currency{ETH, BTC, USD, CAD, EUR}
}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	_, ok := currencies[c]
	return ok
}

func (c Currency) Symbol() string { return currencies[c].symbol }

// NativeUnit is the unit prices in this currency are stored in.
func (c Currency) NativeUnit() Unit {
	if info, ok := currencies[c]; ok {
		return info.unit
	}
	return UnitWhole
}

// =============================================================================
// CURRENCY VALUE
// =============================================================================

type Unit string

const (
	UnitBase  Unit = "base"  // 10^-18 of a whole unit
	UnitWhole Unit = "whole" // integer whole units
)

// BaseUnitDecimals is log10 of base units per whole unit. Scaling uses
// Shift, never Div, so no division precision is involved.
const BaseUnitDecimals = 18

type CurrencyValue struct {
	Raw  decimal.Decimal
	Unit Unit
}

// NewValue builds a value from an integer count of unit. Fractions are truncated.
func NewValue(raw decimal.Decimal, unit Unit) CurrencyValue {
	return CurrencyValue{Raw: raw.Truncate(0), Unit: unit}
}

func NewBaseValue(raw *big.Int) CurrencyValue {
	return CurrencyValue{Raw: decimal.NewFromBigInt(raw, 0), Unit: UnitBase}
}

func NewWholeValue(raw int64) CurrencyValue {
	return CurrencyValue{Raw: decimal.NewFromInt(raw), Unit: UnitWhole}
}

// ZeroValue is zero in c's native unit.
func ZeroValue(c Currency) CurrencyValue {
	return CurrencyValue{Raw: decimal.Zero, Unit: c.NativeUnit()}
}

// ParseRawValue parses an integer string already counted in unit.
func ParseRawValue(s string, unit Unit) (CurrencyValue, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return CurrencyValue{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if !d.Equal(d.Truncate(0)) {
		return CurrencyValue{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPrice, s)
	}
	return NewValue(d, unit), nil
}

// ParsePrice parses a user-entered whole-unit amount into c's native unit.
// ETH accepts up to 18 fractional digits and is scaled to base units; fiat
// amounts must be whole numbers. Thousands separators are ignored.
func ParsePrice(s string, c Currency) (CurrencyValue, error) {
	clean := strings.NewReplacer(",", "", " ", "", "_", "").Replace(s)
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return CurrencyValue{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if d.IsNegative() {
		return CurrencyValue{}, fmt.Errorf("%w: %q is negative", ErrInvalidPrice, s)
	}

	if c.NativeUnit() == UnitBase {
		base := d.Shift(BaseUnitDecimals)
		if !base.Equal(base.Truncate(0)) {
			return CurrencyValue{}, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidPrice, s, BaseUnitDecimals)
		}
		return NewValue(base, UnitBase), nil
	}

	if !d.Equal(d.Truncate(0)) {
		return CurrencyValue{}, fmt.Errorf("%w: %s prices are whole numbers, got %q", ErrInvalidPrice, c, s)
	}
	return NewValue(d, UnitWhole), nil
}

// FromWhole converts a whole-unit decimal into unit, truncating toward zero
// at the unit's granularity.
func FromWhole(whole decimal.Decimal, unit Unit) CurrencyValue {
	if unit == UnitBase {
		return NewValue(whole.Shift(BaseUnitDecimals), UnitBase)
	}
	return NewValue(whole, UnitWhole)
}

// Whole returns the amount in whole units (the comparable magnitude).
func (v CurrencyValue) Whole() decimal.Decimal {
	if v.Unit == UnitBase {
		return v.Raw.Shift(-BaseUnitDecimals)
	}
	return v.Raw
}

// Mul multiplies the raw integer by n. Exact.
func (v CurrencyValue) Mul(n int64) CurrencyValue {
	return CurrencyValue{Raw: v.Raw.Mul(decimal.NewFromInt(n)), Unit: v.Unit}
}

// Cmp compares canonical magnitudes.
func (v CurrencyValue) Cmp(o CurrencyValue) int { return v.Whole().Cmp(o.Whole()) }

func (v CurrencyValue) Equal(o CurrencyValue) bool { return v.Unit == o.Unit && v.Raw.Equal(o.Raw) }
func (v CurrencyValue) IsZero() bool               { return v.Raw.IsZero() }
func (v CurrencyValue) IsNegative() bool           { return v.Raw.IsNegative() }

// BigInt returns Raw as a big.Int.
func (v CurrencyValue) BigInt() *big.Int { return v.Raw.BigInt() }

// String returns the raw integer, e.g. "250000000000000000".
func (v CurrencyValue) String() string { return v.Raw.String() }

// Format renders the value for display: base units as a whole-unit decimal
// ("0.25", "2.0"), whole units with thousands separators ("1,250").
func (v CurrencyValue) Format() string {
	if v.Unit == UnitBase {
		s := v.Whole().String()
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return groupThousands(v.Raw.String())
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
