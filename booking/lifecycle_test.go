package booking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/airblock/booking"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestStateOf(t *testing.T) {
	b := requested(1, 1, bob, 1, 2)
	assert.Equal(t, booking.StateRequested, booking.StateOf(b))

	b.IsConfirmed = true
	assert.Equal(t, booking.StateConfirmed, booking.StateOf(b))

	b.IsDeleted = true
	assert.Equal(t, booking.StateCancelled, booking.StateOf(b), "deleted wins over confirmed")
}

func TestValidate_TerminalStatesRejectEverything(t *testing.T) {
	// GIVEN: Confirmed and cancelled bookings
	// WHEN: Any action is attempted, even by the tenant with full payment
	// THEN: InvalidTransition

	price := booking.NewWholeValue(100)
	s := stay("2025-01-05", "2025-01-07")

	confirmed := requested(1, 1, bob, 1, 3)
	confirmed.IsConfirmed = true
	cancelled := requested(2, 1, bob, 1, 3)
	cancelled.IsDeleted = true

	for _, b := range []booking.Booking{confirmed, cancelled} {
		for _, action := range []booking.Action{booking.ActionConfirm, booking.ActionCancel, booking.ActionModify} {
			_, err := booking.Validate(b, booking.Transition{
				Action:  action,
				Caller:  bob,
				Payment: &price,
				Price:   &price,
				Stay:    &s,
			})
			var te *booking.TransitionError
			require.ErrorAs(t, err, &te, "%s from %s", action, booking.StateOf(b))
			assert.Equal(t, action, te.Action)
			assert.ErrorIs(t, err, booking.ErrInvalidTransition)
		}
	}
}

func TestValidate_Confirm(t *testing.T) {
	b := requested(1, 1, bob, 1, 3)
	price := booking.NewWholeValue(200)
	short := booking.NewWholeValue(199)
	extra := booking.NewWholeValue(250)

	next, err := booking.Validate(b, booking.Transition{Action: booking.ActionConfirm, Caller: bob, Payment: &price, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, booking.StateConfirmed, next)

	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionConfirm, Caller: bob, Payment: &extra, Price: &price})
	assert.NoError(t, err, "overpaying is allowed")

	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionConfirm, Caller: bob, Payment: &short, Price: &price})
	assert.ErrorIs(t, err, booking.ErrInsufficientPayment)
}

func TestValidate_OnlyTenant(t *testing.T) {
	b := requested(1, 1, bob, 1, 3)

	_, err := booking.Validate(b, booking.Transition{Action: booking.ActionCancel, Caller: alice})
	assert.ErrorIs(t, err, booking.ErrUnauthorized)

	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionCancel})
	assert.ErrorIs(t, err, booking.ErrNotConnected)

	next, err := booking.Validate(b, booking.Transition{Action: booking.ActionCancel, Caller: "0xB0B"})
	require.NoError(t, err, "addresses compare case-insensitively")
	assert.Equal(t, booking.StateCancelled, next)
}

func TestValidate_Modify(t *testing.T) {
	// GIVEN: Bob holds days 69-70 (Mar 10-12); days 72-73 are booked by someone else
	p := ethProperty(1, alice, "0.1")
	p.BookedDays = []int{69, 70, 72, 73}
	b := requested(1, 1, bob, 69, 71)

	// Shifting by one day overlaps only Bob's own night
	shift := stay("2025-03-11", "2025-03-13")
	next, err := booking.Validate(b, booking.Transition{Action: booking.ActionModify, Caller: bob, Stay: &shift, Property: &p})
	require.NoError(t, err)
	assert.Equal(t, booking.StateRequested, next)

	// Extending into someone else's days
	clash := stay("2025-03-10", "2025-03-14")
	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionModify, Caller: bob, Stay: &clash, Property: &p})
	assert.ErrorIs(t, err, booking.ErrUnavailable)

	backwards := stay("2025-03-12", "2025-03-10")
	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionModify, Caller: bob, Stay: &backwards})
	assert.ErrorIs(t, err, booking.ErrInvalidRange)

	_, err = booking.Validate(b, booking.Transition{Action: booking.ActionModify, Caller: bob})
	assert.ErrorIs(t, err, booking.ErrInvalidRange)
}

func TestAllowedActions(t *testing.T) {
	b := requested(1, 1, bob, 1, 3)
	assert.ElementsMatch(t,
		[]booking.Action{booking.ActionConfirm, booking.ActionModify, booking.ActionCancel},
		booking.AllowedActions(b, bob))
	assert.Empty(t, booking.AllowedActions(b, alice))

	b.IsConfirmed = true
	assert.Empty(t, booking.AllowedActions(b, bob))
}

// =============================================================================
// LISTING CHECKS
// =============================================================================

func TestValidateReservation(t *testing.T) {
	p := usdProperty(1, alice, 80)
	p.BookedDays = []int{70}

	assert.NoError(t, booking.ValidateReservation(p, bob, stay("2025-03-01", "2025-03-05")))
	assert.ErrorIs(t, booking.ValidateReservation(p, bob, stay("2025-03-10", "2025-03-12")), booking.ErrUnavailable)
	assert.ErrorIs(t, booking.ValidateReservation(p, "", stay("2025-03-01", "2025-03-05")), booking.ErrNotConnected)
	assert.ErrorIs(t, booking.ValidateReservation(p, bob, stay("2025-03-05", "2025-03-05")), booking.ErrInvalidRange)

	p.IsActive = false
	assert.ErrorIs(t, booking.ValidateReservation(p, bob, stay("2025-03-01", "2025-03-05")), booking.ErrInactiveProperty)
}

func TestValidateDeactivation(t *testing.T) {
	p := usdProperty(1, alice, 80)

	assert.NoError(t, booking.ValidateDeactivation(p, alice))
	assert.ErrorIs(t, booking.ValidateDeactivation(p, bob), booking.ErrUnauthorized)

	p.IsActive = false
	assert.ErrorIs(t, booking.ValidateDeactivation(p, alice), booking.ErrInactiveProperty)
}

func TestPropertyDraft_Listing(t *testing.T) {
	l, err := booking.PropertyDraft{
		Name:     " Cabin ",
		Location: "Lake",
		Images:   []string{"ipfs://a", " ", "ipfs://b"},
		Price:    "0.05",
		Currency: "eth",
	}.Listing()
	require.NoError(t, err)
	assert.Equal(t, "Cabin", l.Name)
	assert.Equal(t, []string{"ipfs://a", "ipfs://b"}, l.Images)
	assert.Equal(t, booking.ETH, l.Currency)
	assert.Equal(t, "50000000000000000", l.Price.String())

	_, err = booking.PropertyDraft{Price: "1", Currency: "USD"}.Listing()
	assert.ErrorIs(t, err, booking.ErrInvalidListing)

	_, err = booking.PropertyDraft{Name: "x", Price: "1", Currency: "XYZ"}.Listing()
	assert.ErrorIs(t, err, booking.ErrUnknownCurrency)

	_, err = booking.PropertyDraft{
		Name: "x", Price: "1", Currency: "USD",
		Images: []string{"1", "2", "3", "4", "5", "6"},
	}.Listing()
	assert.ErrorIs(t, err, booking.ErrInvalidListing)
}
