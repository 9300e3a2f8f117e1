package devchain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/devchain"
)

// session wires a controller and action service for user over c.
func session(t *testing.T, c *devchain.Chain, user booking.Address) *booking.Service {
	t.Helper()
	ctrl := booking.NewController(booking.NewCache(), quietLogger())
	wallet := &booking.Wallet{}
	wallet.Connect(user)
	require.NoError(t, ctrl.Activate(context.Background(), c, wallet))
	t.Cleanup(ctrl.Deactivate)
	return booking.NewService(ctrl, booking.NewTracker(), quietLogger())
}

func TestIntegration_ListReserveConfirm(t *testing.T) {
	// GIVEN: A landlord and a tenant, each with their own session on one ledger
	// WHEN: The landlord lists at 0.25 ETH, the tenant reserves 2 nights and confirms
	// THEN: Both caches converge on the confirmed booking, paid 0.5 ETH

	c := newTestChain(t)
	ctx := context.Background()
	owner := session(t, c, landlord)
	guest := session(t, c, tenant)

	_, err := owner.ListProperty(ctx, booking.PropertyDraft{
		Name: "Casa Koko", Location: "Los Angeles", Price: "0.25", Currency: "ETH",
	})
	require.NoError(t, err)
	guest.Controller.Wait()

	explore, err := guest.ExploreView()
	require.NoError(t, err)
	require.Len(t, explore, 1, "the tenant saw the NewProperty notification")

	stay, err := booking.ParseStay("2022-01-04", "2022-01-06")
	require.NoError(t, err)
	_, err = guest.Reserve(ctx, explore[0].ID, stay)
	require.NoError(t, err)

	rows, err := guest.ReservationsView()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, "0.5", rows[0].Price.Format())

	_, err = guest.Confirm(ctx, rows[0].Booking.ID)
	require.NoError(t, err)
	guest.Controller.Wait()

	rows, err = guest.ReservationsView()
	require.NoError(t, err)
	assert.Equal(t, booking.StateConfirmed, rows[0].State)
	assert.Empty(t, rows[0].Actions)

	recs, err := c.Records(ctx)
	require.NoError(t, err)
	last := recs[len(recs)-1]
	assert.Equal(t, booking.MethodConfirmBooking, last.Method)
	assert.Equal(t, "500000000000000000", last.Value)

	// A second confirm never reaches the ledger.
	height := c.Height()
	_, err = guest.Confirm(ctx, rows[0].Booking.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	assert.Equal(t, height, c.Height())
}

func TestIntegration_StaleCacheCaughtByLedger(t *testing.T) {
	// GIVEN: Two tenants see the same free days
	// WHEN: Both reserve them
	// THEN: The second is reverted by the ledger and surfaced as a rejection

	c := newTestChain(t)
	ctx := context.Background()
	send(t, c, booking.Operation{Method: booking.MethodListProperty, From: landlord, Listing: listing("Loft", "90", booking.USD)})

	first := session(t, c, tenant)
	second := session(t, c, stranger)

	stay, _ := booking.ParseStay("2022-03-01", "2022-03-03")
	_, err := first.Reserve(ctx, 0, stay)
	require.NoError(t, err)

	// No notification covers rentProperty, so the second session's cache still
	// shows the days as free and the local check passes.
	_, err = second.Reserve(ctx, 0, stay)
	var rej *booking.RejectedOperationError
	require.ErrorAs(t, err, &rej)
	assert.False(t, rej.Local)
	assert.Contains(t, rej.Reason, "already booked")
	assert.Empty(t, second.Tracker.Pending())
}

func TestIntegration_CancelFreesDaysForOthers(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()
	send(t, c, booking.Operation{Method: booking.MethodListProperty, From: landlord, Listing: listing("Loft", "90", booking.USD)})

	first := session(t, c, tenant)
	stay, _ := booking.ParseStay("2022-03-01", "2022-03-03")
	_, err := first.Reserve(ctx, 0, stay)
	require.NoError(t, err)

	second := session(t, c, stranger)
	_, err = second.Reserve(ctx, 0, stay)
	assert.ErrorIs(t, err, booking.ErrUnavailable, "fresh session sees the booked days")

	rows, err := first.ReservationsView()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, err = first.Cancel(ctx, rows[0].Booking.ID)
	require.NoError(t, err)
	second.Controller.Wait()

	_, err = second.Reserve(ctx, 0, stay)
	assert.NoError(t, err, "CancelBooking re-read the properties")
}
