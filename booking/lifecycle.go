/*
lifecycle.go - Booking Lifecycle Validator

STATE MACHINE:
  ┌───────────┐  confirm (tenant, payment >= price)   ┌───────────┐
  │ Requested │ ─────────────────────────────────────▶ │ Confirmed │
  │           │                                        └───────────┘
  │           │  cancel (tenant)                       ┌───────────┐
  │           │ ─────────────────────────────────────▶ │ Cancelled │
  │           │                                        └───────────┘
  │           │  modify (tenant, valid new range)
  │           │ ──┐
  └───────────┘ ◀─┘

  Confirmed and Cancelled are terminal. Any action from them fails with
  ErrInvalidTransition.

  The ledger re-validates everything; this runs before submission to save a
  round trip. "Not already pending" for modify is enforced by Tracker.Begin.
*/
package booking

import "fmt"

type BookingState string

const (
	StateRequested BookingState = "requested"
	StateConfirmed BookingState = "confirmed"
	StateCancelled BookingState = "cancelled"
)

// StateOf derives the lifecycle state from a snapshot's flags.
func StateOf(b Booking) BookingState {
	switch {
	case b.IsDeleted:
		return StateCancelled
	case b.IsConfirmed:
		return StateConfirmed
	default:
		return StateRequested
	}
}

func (s BookingState) Terminal() bool { return s != StateRequested }

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionModify  Action = "modify"
)

func (a Action) OpKind() OpKind {
	switch a {
	case ActionConfirm:
		return OpConfirm
	case ActionCancel:
		return OpCancel
	default:
		return OpModify
	}
}

// Transition is a requested lifecycle move.
type Transition struct {
	Action Action
	Caller Address

	// Confirm
	Payment *CurrencyValue
	Price   *CurrencyValue

	// Modify. Property, when set, is used for a local availability check.
	Stay     *Stay
	Property *Property
}

// Validate returns the state b would move to, or why it cannot.
func Validate(b Booking, t Transition) (BookingState, error) {
	from := StateOf(b)
	if from.Terminal() {
		return from, &TransitionError{BookingID: b.ID, From: from, Action: t.Action}
	}
	if t.Caller.IsZero() {
		return from, ErrNotConnected
	}
	if !t.Caller.Equal(b.User) {
		return from, fmt.Errorf("%w: %s is not the tenant of booking %d", ErrUnauthorized, t.Caller, b.ID)
	}

	switch t.Action {
	case ActionConfirm:
		if t.Price == nil || t.Payment == nil {
			return from, fmt.Errorf("%w: confirmation needs a price and a payment", ErrInsufficientPayment)
		}
		if t.Payment.Cmp(*t.Price) < 0 {
			return from, fmt.Errorf("%w: paying %s, price is %s", ErrInsufficientPayment, t.Payment.Format(), t.Price.Format())
		}
		return StateConfirmed, nil

	case ActionCancel:
		return StateCancelled, nil

	case ActionModify:
		if t.Stay == nil {
			return from, fmt.Errorf("%w: new dates are required", ErrInvalidRange)
		}
		if err := t.Stay.Validate(); err != nil {
			return from, err
		}
		if t.Property != nil {
			if day, taken := t.Property.Overlaps(t.Stay.CheckInDay(), t.Stay.CheckOutDay(), b.Nights()...); taken {
				return from, fmt.Errorf("%w: day %d is already booked", ErrUnavailable, day)
			}
		}
		return StateRequested, nil
	}

	return from, &TransitionError{BookingID: b.ID, From: from, Action: t.Action}
}

// AllowedActions lists what viewer may offer on b. Rendering only.
func AllowedActions(b Booking, viewer Address) []Action {
	if StateOf(b).Terminal() || !viewer.Equal(b.User) {
		return nil
	}
	return []Action{ActionConfirm, ActionModify, ActionCancel}
}

// ValidateReservation checks a new booking request against a property snapshot.
func ValidateReservation(p Property, caller Address, stay Stay) error {
	if caller.IsZero() {
		return ErrNotConnected
	}
	if err := stay.Validate(); err != nil {
		return err
	}
	if !p.IsActive {
		return fmt.Errorf("%w: property %d", ErrInactiveProperty, p.ID)
	}
	if day, taken := p.Overlaps(stay.CheckInDay(), stay.CheckOutDay()); taken {
		return fmt.Errorf("%w: day %d is already booked", ErrUnavailable, day)
	}
	return nil
}

// ValidateDeactivation checks that caller may take p off the market.
func ValidateDeactivation(p Property, caller Address) error {
	if caller.IsZero() {
		return ErrNotConnected
	}
	if !caller.Equal(p.Owner) {
		return fmt.Errorf("%w: %s does not own property %d", ErrUnauthorized, caller, p.ID)
	}
	if !p.IsActive {
		return fmt.Errorf("%w: property %d", ErrInactiveProperty, p.ID)
	}
	return nil
}
