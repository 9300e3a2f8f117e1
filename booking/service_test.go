package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/airblock/booking"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestService activates a session for user over gw with every view.
func newTestService(t *testing.T, gw *fakeGateway, user booking.Address) *booking.Service {
	t.Helper()
	ctrl := newTestController()
	require.NoError(t, ctrl.Activate(context.Background(), gw, staticIdentity(user)))
	t.Cleanup(ctrl.Deactivate)
	return booking.NewService(ctrl, booking.NewTracker(), quietLogger())
}

// bobBooksAlicesFlat: 0.25 ETH/night, Bob holds days 100-101.
func bobBooksAlicesFlat() *fakeGateway {
	gw := newFakeGateway()
	p := ethProperty(1, alice, "0.25")
	p.BookedDays = []int{100, 101}
	gw.setProperties(p)
	gw.setBookings(requested(5, 1, bob, 100, 102))
	return gw
}

// =============================================================================
// LOCAL REJECTION - No network round trip
// =============================================================================

func TestService_CancelCancelledBookingNeverSubmits(t *testing.T) {
	// GIVEN: Bob's booking is already cancelled
	// WHEN: Bob cancels it again
	// THEN: InvalidTransition, surfaced as a rejection, with zero submissions

	gw := bobBooksAlicesFlat()
	b := requested(5, 1, bob, 100, 102)
	b.IsDeleted = true
	gw.setBookings(b)
	svc := newTestService(t, gw, bob)

	_, err := svc.Cancel(context.Background(), 5)

	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	assert.ErrorIs(t, err, booking.ErrRejectedOperation)
	var rej *booking.RejectedOperationError
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Local)
	assert.Zero(t, gw.submits.Load())
	assert.Empty(t, svc.Tracker.Pending())
}

func TestService_NotConnected(t *testing.T) {
	ctrl := newTestController()
	svc := booking.NewService(ctrl, booking.NewTracker(), quietLogger())
	ctx := context.Background()

	_, err := svc.Confirm(ctx, 1)
	assert.ErrorIs(t, err, booking.ErrNotConnected)
	_, err = svc.Cancel(ctx, 1)
	assert.ErrorIs(t, err, booking.ErrNotConnected)
	_, err = svc.Reserve(ctx, 1, stay("2025-01-01", "2025-01-02"))
	assert.ErrorIs(t, err, booking.ErrNotConnected)
	_, err = svc.ExploreView()
	assert.ErrorIs(t, err, booking.ErrNotConnected)
}

func TestService_ReserveOverlapRejectedLocally(t *testing.T) {
	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	// Day 100 is April 10 in 2025.
	_, err := svc.Reserve(context.Background(), 1, stay("2025-04-09", "2025-04-11"))
	assert.ErrorIs(t, err, booking.ErrUnavailable)
	assert.Zero(t, gw.submits.Load())

	_, err = svc.Reserve(context.Background(), 99, stay("2025-04-01", "2025-04-02"))
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestService_ConfirmStaleReferenceRejected(t *testing.T) {
	gw := newFakeGateway()
	gw.setBookings(requested(5, 42, bob, 1, 3))
	svc := newTestService(t, gw, bob)

	_, err := svc.Confirm(context.Background(), 5)
	assert.ErrorIs(t, err, booking.ErrStaleReference)
	assert.Zero(t, gw.submits.Load())
}

func TestService_DeactivateOthersPropertyRejected(t *testing.T) {
	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	_, err := svc.DeactivateProperty(context.Background(), 1)
	assert.ErrorIs(t, err, booking.ErrUnauthorized)
	assert.Zero(t, gw.submits.Load())
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestService_ConfirmPaysResolvedPrice(t *testing.T) {
	// GIVEN: Bob's 2-night booking at 0.25 ETH/night
	// WHEN: Bob confirms
	// THEN: confirmBooking is submitted carrying 500000000000000000 base units

	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	outcome, err := svc.Confirm(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeConfirmed, outcome.Status)

	require.Len(t, gw.submitted, 1)
	op := gw.submitted[0]
	assert.Equal(t, booking.MethodConfirmBooking, op.Method)
	assert.Equal(t, bob, op.From)
	require.NotNil(t, op.Value)
	assert.Equal(t, "500000000000000000", op.Value.String())

	assert.False(t, svc.Tracker.IsPending(booking.BookingRef(5), booking.OpConfirm))
}

func TestService_ConfirmWithShortPayment(t *testing.T) {
	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	short, err := booking.ParsePrice("0.49", booking.ETH)
	require.NoError(t, err)
	_, err = svc.ConfirmWithPayment(context.Background(), 5, short)
	assert.ErrorIs(t, err, booking.ErrInsufficientPayment)
	assert.Zero(t, gw.submits.Load())
}

func TestService_RevertSurfacesReasonAndClearsTracker(t *testing.T) {
	gw := bobBooksAlicesFlat()
	gw.revert = "Booking already confirmed"
	svc := newTestService(t, gw, bob)

	outcome, err := svc.Cancel(context.Background(), 5)

	var rej *booking.RejectedOperationError
	require.ErrorAs(t, err, &rej)
	assert.False(t, rej.Local)
	assert.Equal(t, "Booking already confirmed", rej.Reason)
	assert.Equal(t, booking.OutcomeReverted, outcome.Status)
	assert.NotEmpty(t, rej.TxHash)
	assert.Empty(t, svc.Tracker.Pending())
}

func TestService_SecondActionWhilePendingIsRefused(t *testing.T) {
	// GIVEN: Bob's confirm is awaiting confirmation
	// WHEN: Bob cancels the same booking
	// THEN: AlreadyPending, and only one submission reached the ledger

	gw := bobBooksAlicesFlat()
	gate := make(chan struct{})
	gw.awaitGate = gate
	svc := newTestService(t, gw, bob)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(context.Background(), 5)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return svc.Tracker.IsPending(booking.BookingRef(5), booking.OpConfirm)
	}, time.Second, 5*time.Millisecond)

	_, err := svc.Cancel(context.Background(), 5)
	assert.ErrorIs(t, err, booking.ErrAlreadyPending)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), gw.submits.Load())
}

func TestService_AbandonedSubmissionStillClearsTracker(t *testing.T) {
	// GIVEN: A confirm awaiting confirmation
	// WHEN: The caller gives up before the ledger answers
	// THEN: The caller gets ctx.Err() at once; once the submission finishes
	//       in the background, the booking is no longer marked pending

	gw := bobBooksAlicesFlat()
	gate := make(chan struct{})
	gw.awaitGate = gate
	svc := newTestService(t, gw, bob)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Confirm(ctx, 5)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return svc.Tracker.IsPending(booking.BookingRef(5), booking.OpConfirm)
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		return len(svc.Tracker.Pending()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_ListPropertyKeyedByOwner(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw, alice)

	_, err := svc.ListProperty(context.Background(), booking.PropertyDraft{
		Name: "Loft", Location: "Lisbon", Price: "0.1", Currency: "ETH",
	})
	require.NoError(t, err)

	require.Len(t, gw.submitted, 1)
	op := gw.submitted[0]
	assert.Equal(t, booking.MethodListProperty, op.Method)
	require.NotNil(t, op.Listing)
	assert.Equal(t, "100000000000000000", op.Listing.Price.String())

	_, err = svc.ListProperty(context.Background(), booking.PropertyDraft{Name: "Bad", Price: "x", Currency: "ETH"})
	assert.ErrorIs(t, err, booking.ErrInvalidPrice)
	assert.Equal(t, int32(1), gw.submits.Load())
}

func TestService_ModifySendsNewDays(t *testing.T) {
	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	// Day 101 is Bob's own night; day 102 is free.
	_, err := svc.Modify(context.Background(), 5, stay("2025-04-11", "2025-04-13"))
	require.NoError(t, err)

	require.Len(t, gw.submitted, 1)
	args := gw.submitted[0].Stay
	require.NotNil(t, args)
	assert.Equal(t, 101, args.CheckInDay)
	assert.Equal(t, 103, args.CheckOutDay)
	assert.Equal(t, "2025-04-11", args.CheckInDate)
}

// =============================================================================
// VIEWS
// =============================================================================

func TestService_ReservationsViewFlagsStaleRows(t *testing.T) {
	gw := bobBooksAlicesFlat()
	gw.setBookings(requested(5, 1, bob, 100, 102), requested(6, 77, bob, 10, 11))
	svc := newTestService(t, gw, bob)

	rows, err := svc.ReservationsView()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[booking.BookingID]booking.Reservation{}
	for _, r := range rows {
		byID[r.Booking.ID] = r
	}

	ok := byID[5]
	assert.False(t, ok.Stale)
	require.NotNil(t, ok.Price)
	assert.Equal(t, "0.5", ok.Price.Format())
	assert.NotEmpty(t, ok.Actions)

	stale := byID[6]
	assert.True(t, stale.Stale)
	assert.Nil(t, stale.Price)
	assert.Nil(t, stale.Property)
}

func TestService_ExploreViewShowsOwnInactive(t *testing.T) {
	gw := newFakeGateway()
	mine := usdProperty(1, alice, 10)
	mine.IsActive = false
	theirs := usdProperty(2, bob, 10)
	theirs.IsActive = false
	gw.setProperties(mine, theirs, usdProperty(3, bob, 10))

	svc := newTestService(t, gw, alice)
	props, err := svc.ExploreView()
	require.NoError(t, err)

	var ids []booking.PropertyID
	for _, p := range props {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []booking.PropertyID{1, 3}, ids)
}

func TestService_Quote(t *testing.T) {
	gw := bobBooksAlicesFlat()
	svc := newTestService(t, gw, bob)

	price, err := svc.Quote(5)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", price.String())

	_, err = svc.Quote(99)
	assert.ErrorIs(t, err, booking.ErrNotFound)

	q, err := svc.QuoteStay(1, stay("2025-06-01", "2025-06-05"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", q.Format())
}
