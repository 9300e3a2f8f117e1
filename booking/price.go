package booking

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StayLength is CheckOutDay - CheckInDay. It fails with ErrInvalidRange when
// that is not positive.
func StayLength(b Booking) (int, error) {
	n := b.CheckOutDay - b.CheckInDay
	if n <= 0 {
		return 0, fmt.Errorf("%w: booking %d has %d nights", ErrInvalidRange, b.ID, n)
	}
	return n, nil
}

// ConfirmationPrice is the amount payable to confirm b, in p's native unit.
func ConfirmationPrice(p Property, b Booking) (CurrencyValue, error) {
	if p.ID != b.PropertyID {
		return CurrencyValue{}, &StaleReferenceError{BookingID: b.ID, PropertyID: b.PropertyID}
	}
	n, err := StayLength(b)
	if err != nil {
		return CurrencyValue{}, err
	}
	return PriceForNights(p, n)
}

// PriceForNights prices nights at p's rate.
//
// ETH: base units -> whole-unit decimal, times nights, -> base units truncated
// toward zero. Fiat: integer whole units times nights, exact.
func PriceForNights(p Property, nights int) (CurrencyValue, error) {
	if nights <= 0 {
		return CurrencyValue{}, fmt.Errorf("%w: %d nights", ErrInvalidRange, nights)
	}
	if p.Currency == ETH {
		total := p.Price.Whole().Mul(decimal.NewFromInt(int64(nights)))
		return FromWhole(total, UnitBase), nil
	}
	return p.Price.Mul(int64(nights)), nil
}

// QuoteStay prices a prospective stay.
func QuoteStay(p Property, stay Stay) (CurrencyValue, error) {
	if err := stay.Validate(); err != nil {
		return CurrencyValue{}, err
	}
	return PriceForNights(p, stay.Nights())
}

// ResolvePrice prices b using the cached property. A missing property yields
// *StaleReferenceError.
func ResolvePrice(c *Cache, b Booking) (CurrencyValue, error) {
	p, ok := c.FindProperty(b.PropertyID)
	if !ok {
		return CurrencyValue{}, &StaleReferenceError{BookingID: b.ID, PropertyID: b.PropertyID}
	}
	return ConfirmationPrice(p, b)
}
