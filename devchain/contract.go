/*
contract.go - AirBlock contract rules

PURPOSE:
  The authoritative re-validation of every operation. The client checks the
  same things before submitting; these checks run again here because the
  client's cache may be stale.

METHODS:
  listProperty            -> NewProperty
  markPropertyAsInactive
  rentProperty            (totalPrice = price x nights, days marked booked)
  confirmBooking          -> ConfirmBooking   (tenant, value >= totalPrice)
  deleteBooking           -> CancelBooking    (tenant, frees days)
  modifyBooking           (tenant, re-priced, days moved)

REVERTS:
  A refused call returns *Revert. The chain rolls back the state change and
  records the reason on the transaction.
*/
package devchain

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/airblock/booking"
)

// Revert is a contract call the ledger refuses.
type Revert struct {
	Reason string
}

func (r *Revert) Error() string { return "reverted: " + r.Reason }

func revertf(format string, args ...any) error {
	return &Revert{Reason: fmt.Sprintf(format, args...)}
}

// execute applies op to st and returns the events it emits.
func execute(ctx context.Context, st State, op booking.Operation) ([]booking.Event, error) {
	if op.From.IsZero() {
		return nil, revertf("Sender is required")
	}
	switch op.Method {
	case booking.MethodListProperty:
		return listProperty(ctx, st, op)
	case booking.MethodMarkInactive:
		return nil, markPropertyAsInactive(ctx, st, op)
	case booking.MethodRentProperty:
		return nil, rentProperty(ctx, st, op)
	case booking.MethodConfirmBooking:
		return confirmBooking(ctx, st, op)
	case booking.MethodDeleteBooking:
		return deleteBooking(ctx, st, op)
	case booking.MethodModifyBooking:
		return nil, modifyBooking(ctx, st, op)
	default:
		return nil, revertf("Unknown method %q", op.Method)
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func listProperty(ctx context.Context, st State, op booking.Operation) ([]booking.Event, error) {
	l := op.Listing
	switch {
	case l == nil:
		return nil, revertf("Listing is required")
	case l.Name == "":
		return nil, revertf("Name is required")
	case !l.Currency.Valid():
		return nil, revertf("Unsupported currency %q", l.Currency)
	case l.Price.Unit != l.Currency.NativeUnit():
		return nil, revertf("Price must be in %s units", l.Currency.NativeUnit())
	case l.Price.IsNegative():
		return nil, revertf("Price must not be negative")
	case len(l.Images) > booking.MaxImages:
		return nil, revertf("At most %d images", booking.MaxImages)
	}

	id, err := st.NextPropertyID(ctx)
	if err != nil {
		return nil, err
	}
	p := booking.Property{
		ID:          id,
		Owner:       booking.NormalizeAddress(string(op.From)),
		Name:        l.Name,
		Description: l.Description,
		Location:    l.Location,
		Images:      append([]string(nil), l.Images...),
		Price:       l.Price,
		Currency:    l.Currency,
		IsActive:    true,
	}
	if err := st.PutProperty(ctx, p); err != nil {
		return nil, err
	}
	return []booking.Event{{Kind: booking.EventNewProperty, PropertyID: id}}, nil
}

func markPropertyAsInactive(ctx context.Context, st State, op booking.Operation) error {
	p, err := mustProperty(ctx, st, op.PropertyID)
	if err != nil {
		return err
	}
	if !p.Owner.Equal(op.From) {
		return revertf("Only the owner can deactivate a property")
	}
	if !p.IsActive {
		return revertf("Property is already inactive")
	}
	p.IsActive = false
	return st.PutProperty(ctx, p)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func rentProperty(ctx context.Context, st State, op booking.Operation) error {
	p, err := mustProperty(ctx, st, op.PropertyID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return revertf("Property is not active")
	}
	if err := checkStay(op.Stay); err != nil {
		return err
	}
	if day, taken := p.Overlaps(op.Stay.CheckInDay, op.Stay.CheckOutDay); taken {
		return revertf("Property is already booked on day %d", day)
	}

	total, err := booking.PriceForNights(p, op.Stay.CheckOutDay-op.Stay.CheckInDay)
	if err != nil {
		return revertf("%v", err)
	}
	id, err := st.NextBookingID(ctx)
	if err != nil {
		return err
	}
	b := booking.Booking{
		ID:           id,
		PropertyID:   p.ID,
		User:         booking.NormalizeAddress(string(op.From)),
		CheckInDay:   op.Stay.CheckInDay,
		CheckOutDay:  op.Stay.CheckOutDay,
		CheckInDate:  op.Stay.CheckInDate,
		CheckOutDate: op.Stay.CheckOutDate,
		TotalPrice:   total,
	}
	p.BookedDays = addDays(p.BookedDays, b.Nights())

	if err := st.PutBooking(ctx, b); err != nil {
		return err
	}
	return st.PutProperty(ctx, p)
}

func confirmBooking(ctx context.Context, st State, op booking.Operation) ([]booking.Event, error) {
	b, err := mustOpenBooking(ctx, st, op)
	if err != nil {
		return nil, err
	}
	if op.Value == nil || op.Value.Cmp(b.TotalPrice) < 0 {
		return nil, revertf("Insufficient payment: total is %s", b.TotalPrice.String())
	}
	b.IsConfirmed = true
	if err := st.PutBooking(ctx, b); err != nil {
		return nil, err
	}
	return []booking.Event{{Kind: booking.EventConfirmBooking, PropertyID: b.PropertyID, BookingID: b.ID}}, nil
}

func deleteBooking(ctx context.Context, st State, op booking.Operation) ([]booking.Event, error) {
	b, err := mustOpenBooking(ctx, st, op)
	if err != nil {
		return nil, err
	}
	b.IsDeleted = true
	if err := st.PutBooking(ctx, b); err != nil {
		return nil, err
	}

	if p, ok, err := st.Property(ctx, b.PropertyID); err != nil {
		return nil, err
	} else if ok {
		p.BookedDays = removeDays(p.BookedDays, b.Nights())
		if err := st.PutProperty(ctx, p); err != nil {
			return nil, err
		}
	}
	return []booking.Event{{Kind: booking.EventCancelBooking, PropertyID: b.PropertyID, BookingID: b.ID}}, nil
}

func modifyBooking(ctx context.Context, st State, op booking.Operation) error {
	b, err := mustOpenBooking(ctx, st, op)
	if err != nil {
		return err
	}
	if err := checkStay(op.Stay); err != nil {
		return err
	}
	p, err := mustProperty(ctx, st, b.PropertyID)
	if err != nil {
		return err
	}
	if day, taken := p.Overlaps(op.Stay.CheckInDay, op.Stay.CheckOutDay, b.Nights()...); taken {
		return revertf("Property is already booked on day %d", day)
	}

	p.BookedDays = removeDays(p.BookedDays, b.Nights())
	b.CheckInDay, b.CheckOutDay = op.Stay.CheckInDay, op.Stay.CheckOutDay
	b.CheckInDate, b.CheckOutDate = op.Stay.CheckInDate, op.Stay.CheckOutDate
	p.BookedDays = addDays(p.BookedDays, b.Nights())

	total, err := booking.PriceForNights(p, b.CheckOutDay-b.CheckInDay)
	if err != nil {
		return revertf("%v", err)
	}
	b.TotalPrice = total

	if err := st.PutBooking(ctx, b); err != nil {
		return err
	}
	return st.PutProperty(ctx, p)
}

// =============================================================================
// HELPERS
// =============================================================================

func mustProperty(ctx context.Context, st State, id booking.PropertyID) (booking.Property, error) {
	p, ok, err := st.Property(ctx, id)
	if err != nil {
		return booking.Property{}, err
	}
	if !ok {
		return booking.Property{}, revertf("Property does not exist")
	}
	return p, nil
}

// mustOpenBooking loads op's booking and checks it is requested and op.From is its tenant.
func mustOpenBooking(ctx context.Context, st State, op booking.Operation) (booking.Booking, error) {
	b, ok, err := st.Booking(ctx, op.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	if !ok {
		return booking.Booking{}, revertf("Booking does not exist")
	}
	switch booking.StateOf(b) {
	case booking.StateCancelled:
		return booking.Booking{}, revertf("Booking has been cancelled")
	case booking.StateConfirmed:
		return booking.Booking{}, revertf("Booking already confirmed")
	}
	if !b.User.Equal(op.From) {
		return booking.Booking{}, revertf("Only the tenant can change this booking")
	}
	return b, nil
}

func checkStay(s *booking.StayArgs) error {
	if s == nil {
		return revertf("Dates are required")
	}
	if s.CheckInDay < 1 || s.CheckOutDay > 366 {
		return revertf("Day out of range")
	}
	if s.CheckOutDay <= s.CheckInDay {
		return revertf("Check-out must be after check-in")
	}
	if s.CheckInDate == "" && s.CheckOutDate == "" {
		return nil
	}
	stay, err := booking.ParseStay(s.CheckInDate, s.CheckOutDate)
	if err != nil {
		return revertf("Invalid dates")
	}
	if err := stay.Validate(); err != nil {
		return revertf("Check-out must be after check-in, in the same year")
	}
	return nil
}

func addDays(booked, days []int) []int {
	out := append(append([]int(nil), booked...), days...)
	sort.Ints(out)
	return out
}

func removeDays(booked, days []int) []int {
	drop := make(map[int]bool, len(days))
	for _, d := range days {
		drop[d] = true
	}
	var out []int
	for _, d := range booked {
		if !drop[d] {
			out = append(out, d)
		}
	}
	return out
}
