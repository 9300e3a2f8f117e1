/*
service.go - User actions against the ledger

ACTION FLOW:
  ┌──────────┐   ┌──────────┐   ┌─────────────┐   ┌────────┐   ┌──────────┐
  │ session? │──▶│ validate │──▶│ Tracker     │──▶│ Submit │──▶│ Await    │
  │          │   │ (local)  │   │ .Begin      │   │        │   │ confirm  │
  └──────────┘   └──────────┘   └─────────────┘   └────────┘   └──────────┘
                                                                   │
                                      re-read affected collections ◀┘
                                      Tracker.End (always)

  Local validation failures never reach the gateway. A revert becomes a
  *RejectedOperationError with the ledger's reason.

CANCELLATION:
  Submit and AwaitConfirmation run on a context detached from the caller's.
  If the caller gives up, it gets ctx.Err() immediately; the submission
  finishes in the background, its result is logged and dropped, and the
  tracker marker is still cleared.

VIEWS:
  ExploreView, ListingsView and ReservationsView assemble render models
  from the cache. A booking whose property is not cached is returned
  flagged Stale with no price.
*/
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

type Service struct {
	Controller *Controller
	Tracker    *Tracker

	logger *slog.Logger
}

func NewService(ctrl *Controller, tracker *Tracker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Controller: ctrl, Tracker: tracker, logger: logger.With("component", "actions")}
}

// =============================================================================
// LISTING ACTIONS
// =============================================================================

// ListProperty submits a new listing owned by the session user.
func (s *Service) ListProperty(ctx context.Context, draft PropertyDraft) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := OwnerRef(user)

	listing, err := draft.Listing()
	if err != nil {
		return Outcome{}, rejectLocally(OpCreate, ref, err)
	}

	op := Operation{Method: MethodListProperty, From: user, Listing: &listing}
	return s.execute(ctx, gw, ref, OpCreate, op, propertyCollections)
}

// DeactivateProperty takes a listing off the public exploration view.
func (s *Service) DeactivateProperty(ctx context.Context, id PropertyID) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := PropertyRef(id)

	p, ok := s.Controller.Cache().FindProperty(id)
	if !ok {
		return Outcome{}, rejectLocally(OpDeactivate, ref, fmt.Errorf("%w: property %d", ErrNotFound, id))
	}
	if err := ValidateDeactivation(p, user); err != nil {
		return Outcome{}, rejectLocally(OpDeactivate, ref, err)
	}

	op := Operation{Method: MethodMarkInactive, From: user, PropertyID: id}
	return s.execute(ctx, gw, ref, OpDeactivate, op, propertyCollections)
}

// =============================================================================
// BOOKING ACTIONS
// =============================================================================

// Reserve requests a booking of property id for stay.
func (s *Service) Reserve(ctx context.Context, id PropertyID, stay Stay) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := PropertyRef(id)

	p, ok := s.Controller.Cache().FindProperty(id)
	if !ok {
		return Outcome{}, rejectLocally(OpReserve, ref, fmt.Errorf("%w: property %d", ErrNotFound, id))
	}
	if err := ValidateReservation(p, user, stay); err != nil {
		return Outcome{}, rejectLocally(OpReserve, ref, err)
	}

	args := StayArgsOf(stay)
	op := Operation{Method: MethodRentProperty, From: user, PropertyID: id, Stay: &args}
	return s.execute(ctx, gw, ref, OpReserve, op, joinCollections(bookingCollections, propertyCollections))
}

// Confirm pays the resolved confirmation price for booking id.
func (s *Service) Confirm(ctx context.Context, id BookingID) (Outcome, error) {
	return s.confirm(ctx, id, nil)
}

// ConfirmWithPayment confirms booking id paying payment.
func (s *Service) ConfirmWithPayment(ctx context.Context, id BookingID, payment CurrencyValue) (Outcome, error) {
	return s.confirm(ctx, id, &payment)
}

// confirm pays payment, or the resolved price when payment is nil.
func (s *Service) confirm(ctx context.Context, id BookingID, payment *CurrencyValue) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := BookingRef(id)

	b, ok := s.Controller.Cache().FindBooking(id)
	if !ok {
		return Outcome{}, rejectLocally(OpConfirm, ref, fmt.Errorf("%w: booking %d", ErrNotFound, id))
	}

	t := Transition{Action: ActionConfirm, Caller: user, Payment: payment}
	// Terminal bookings fail on the transition, not on the price.
	if !StateOf(b).Terminal() {
		price, err := ResolvePrice(s.Controller.Cache(), b)
		if err != nil {
			return Outcome{}, rejectLocally(OpConfirm, ref, err)
		}
		t.Price = &price
		if t.Payment == nil {
			t.Payment = &price
		}
	}
	if _, err := Validate(b, t); err != nil {
		return Outcome{}, rejectLocally(OpConfirm, ref, err)
	}

	op := Operation{Method: MethodConfirmBooking, From: user, BookingID: id, PropertyID: b.PropertyID, Value: t.Payment}
	return s.execute(ctx, gw, ref, OpConfirm, op, bookingCollections)
}

// Cancel deletes booking id and frees its days.
func (s *Service) Cancel(ctx context.Context, id BookingID) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := BookingRef(id)

	b, ok := s.Controller.Cache().FindBooking(id)
	if !ok {
		return Outcome{}, rejectLocally(OpCancel, ref, fmt.Errorf("%w: booking %d", ErrNotFound, id))
	}
	if _, err := Validate(b, Transition{Action: ActionCancel, Caller: user}); err != nil {
		return Outcome{}, rejectLocally(OpCancel, ref, err)
	}

	op := Operation{Method: MethodDeleteBooking, From: user, BookingID: id, PropertyID: b.PropertyID}
	return s.execute(ctx, gw, ref, OpCancel, op, joinCollections(bookingCollections, propertyCollections))
}

// Modify moves booking id to stay. The ledger recomputes the total.
func (s *Service) Modify(ctx context.Context, id BookingID, stay Stay) (Outcome, error) {
	gw, user, ok := s.Controller.Session()
	if !ok {
		return Outcome{}, ErrNotConnected
	}
	ref := BookingRef(id)

	b, ok := s.Controller.Cache().FindBooking(id)
	if !ok {
		return Outcome{}, rejectLocally(OpModify, ref, fmt.Errorf("%w: booking %d", ErrNotFound, id))
	}
	t := Transition{Action: ActionModify, Caller: user, Stay: &stay}
	if p, ok := s.Controller.Cache().FindProperty(b.PropertyID); ok {
		t.Property = &p
	}
	if _, err := Validate(b, t); err != nil {
		return Outcome{}, rejectLocally(OpModify, ref, err)
	}

	args := StayArgsOf(stay)
	op := Operation{Method: MethodModifyBooking, From: user, BookingID: id, PropertyID: b.PropertyID, Stay: &args}
	return s.execute(ctx, gw, ref, OpModify, op, joinCollections(bookingCollections, propertyCollections))
}

// =============================================================================
// EXECUTION
// =============================================================================

func (s *Service) execute(
	ctx context.Context,
	gw Gateway,
	ref EntityRef,
	kind OpKind,
	op Operation,
	refresh []Collection,
) (Outcome, error) {
	tok, err := s.Tracker.Begin(ref, kind)
	if err != nil {
		return Outcome{}, err
	}

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	detached := context.WithoutCancel(ctx)

	go func() {
		var r result
		// End runs before the result is published.
		defer func() { done <- r }()
		defer s.Tracker.End(tok)
		r.outcome, r.err = s.submit(detached, gw, ref, kind, op, refresh)
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		s.logger.Info("caller left before confirmation; result will be discarded", "op", kind, "ref", ref)
		return Outcome{}, ctx.Err()
	}
}

func (s *Service) submit(
	ctx context.Context,
	gw Gateway,
	ref EntityRef,
	kind OpKind,
	op Operation,
	refresh []Collection,
) (Outcome, error) {
	receipt, err := gw.Submit(ctx, op)
	if err != nil {
		return Outcome{}, fmt.Errorf("submit %s: %w", op.Method, err)
	}
	s.logger.Debug("submitted", "op", kind, "ref", ref, "tx", receipt.TxHash)

	outcome, err := gw.AwaitConfirmation(ctx, receipt)
	if err != nil {
		return Outcome{}, fmt.Errorf("await %s: %w", receipt.TxHash, err)
	}
	if outcome.Status == OutcomeReverted {
		s.logger.Info("ledger rejected operation", "op", kind, "ref", ref, "tx", outcome.TxHash, "reason", outcome.Reason)
		return outcome, &RejectedOperationError{Op: kind, Ref: ref, Reason: outcome.Reason, TxHash: outcome.TxHash}
	}

	if err := s.Controller.Refresh(ctx, refresh...); err != nil {
		s.logger.Warn("re-read after confirmation failed", "op", kind, "ref", ref, "err", err)
	}
	s.logger.Info("operation confirmed", "op", kind, "ref", ref, "tx", outcome.TxHash, "block", outcome.Block)
	return outcome, nil
}

// =============================================================================
// VIEWS - Render models built from the cache
// =============================================================================

// ExploreView returns active properties plus the session owner's inactive ones.
func (s *Service) ExploreView() ([]Property, error) {
	_, user, ok := s.Controller.Session()
	if !ok {
		return nil, ErrNotConnected
	}
	cache := s.Controller.Cache()

	byID := make(map[PropertyID]Property)
	for _, coll := range []Collection{CollectionActiveProperties, CollectionOwnerProperties} {
		props, _ := cache.Properties(coll)
		for _, p := range props {
			if p.VisibleTo(user) {
				byID[p.ID] = p
			}
		}
	}

	out := make([]Property, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListingsView returns the session owner's properties.
func (s *Service) ListingsView() ([]Property, error) {
	if _, _, ok := s.Controller.Session(); !ok {
		return nil, ErrNotConnected
	}
	props, _ := s.Controller.Cache().Properties(CollectionOwnerProperties)
	return props, nil
}

// Reservation is one row of the reservations view.
type Reservation struct {
	Booking  Booking
	Property *Property
	Price    *CurrencyValue
	State    BookingState
	Actions  []Action
	Pending  []OpKind
	Stale    bool
}

// ReservationsView joins the tenant's bookings with their cached properties.
func (s *Service) ReservationsView() ([]Reservation, error) {
	_, user, ok := s.Controller.Session()
	if !ok {
		return nil, ErrNotConnected
	}
	cache := s.Controller.Cache()
	bookings, _ := cache.Bookings(CollectionTenantBookings)

	rows := make([]Reservation, 0, len(bookings))
	for _, b := range bookings {
		row := Reservation{
			Booking: b,
			State:   StateOf(b),
			Actions: AllowedActions(b, user),
			Pending: s.Tracker.PendingFor(BookingRef(b.ID)),
		}
		if p, ok := cache.FindProperty(b.PropertyID); ok {
			row.Property = &p
			if price, err := ConfirmationPrice(p, b); err == nil {
				row.Price = &price
			}
		} else {
			row.Stale = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Quote prices a cached booking.
func (s *Service) Quote(id BookingID) (CurrencyValue, error) {
	b, ok := s.Controller.Cache().FindBooking(id)
	if !ok {
		return CurrencyValue{}, fmt.Errorf("%w: booking %d", ErrNotFound, id)
	}
	return ResolvePrice(s.Controller.Cache(), b)
}

// QuoteStay prices a prospective stay at a cached property.
func (s *Service) QuoteStay(id PropertyID, stay Stay) (CurrencyValue, error) {
	p, ok := s.Controller.Cache().FindProperty(id)
	if !ok {
		return CurrencyValue{}, fmt.Errorf("%w: property %d", ErrNotFound, id)
	}
	return QuoteStay(p, stay)
}

func joinCollections(groups ...[]Collection) []Collection {
	var out []Collection
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
