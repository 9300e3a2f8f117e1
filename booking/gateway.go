/*
gateway.go - Ledger Gateway and Identity interfaces

PURPOSE:
  The Gateway is everything this package needs from the chain: snapshot
  reads, transaction submission, confirmation waits, and event
  subscriptions. Signing, ABI encoding and fees live behind it.

DELIVERY CONTRACT:
  - Events are delivered in ledger order. A sink's HandleLedgerEvent must
    not block; it is called from the gateway's delivery goroutine.
  - AwaitConfirmation returns once the transaction is mined, with either
    OutcomeConfirmed or OutcomeReverted.

IMPLEMENTATIONS:
  - devchain.Chain: in-process ledger (memory or SQLite state)
*/
package booking

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventKind string

const (
	EventNewProperty    EventKind = "NewProperty"
	EventConfirmBooking EventKind = "ConfirmBooking"
	EventCancelBooking  EventKind = "CancelBooking"
)

// EventKinds are the notifications the Synchronization Controller subscribes to.
var EventKinds = []EventKind{EventNewProperty, EventConfirmBooking, EventCancelBooking}

type Event struct {
	Kind       EventKind
	PropertyID PropertyID
	BookingID  BookingID
	TxHash     string
	Block      uint64
}

// EventSink receives ledger events. The Gateway holds the sink, not a closure,
// so the receiver decides which state the event applies to.
type EventSink interface {
	HandleLedgerEvent(ev Event)
}

type SubscriptionHandle string

// =============================================================================
// OPERATIONS
// =============================================================================

// Method names a contract entry point.
type Method string

const (
	MethodListProperty   Method = "listProperty"
	MethodMarkInactive   Method = "markPropertyAsInactive"
	MethodRentProperty   Method = "rentProperty"
	MethodConfirmBooking Method = "confirmBooking"
	MethodDeleteBooking  Method = "deleteBooking"
	MethodModifyBooking  Method = "modifyBooking"
)

// StayArgs is how a stay is passed to the contract.
type StayArgs struct {
	CheckInDate  string
	CheckOutDate string
	CheckInDay   int
	CheckOutDay  int
}

func StayArgsOf(s Stay) StayArgs {
	return StayArgs{
		CheckInDate:  s.CheckInDate(),
		CheckOutDate: s.CheckOutDate(),
		CheckInDay:   s.CheckInDay(),
		CheckOutDay:  s.CheckOutDay(),
	}
}

// Operation is one contract call. Only the fields the method uses are set.
type Operation struct {
	Method     Method
	From       Address
	PropertyID PropertyID
	BookingID  BookingID
	Listing    *Listing
	Stay       *StayArgs
	Value      *CurrencyValue
}

type PendingReceipt struct {
	TxHash      string
	Method      Method
	SubmittedAt time.Time
}

type OutcomeStatus string

const (
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeReverted  OutcomeStatus = "reverted"
)

type Outcome struct {
	Status OutcomeStatus
	Reason string
	TxHash string
	Block  uint64
}

// =============================================================================
// GATEWAY
// =============================================================================

type Gateway interface {
	ReadAllProperties(ctx context.Context) ([]Property, error)
	ReadActiveProperties(ctx context.Context) ([]Property, error)
	ReadPropertiesForOwner(ctx context.Context, owner Address) ([]Property, error)
	ReadBookingsForTenant(ctx context.Context, user Address) ([]Booking, error)
	ReadAllBookings(ctx context.Context) ([]Booking, error)

	Submit(ctx context.Context, op Operation) (PendingReceipt, error)
	AwaitConfirmation(ctx context.Context, receipt PendingReceipt) (Outcome, error)

	Subscribe(kind EventKind, sink EventSink) (SubscriptionHandle, error)
	Unsubscribe(handle SubscriptionHandle) error
}

// =============================================================================
// IDENTITY
// =============================================================================

// Identity reports the connected wallet address, if any.
type Identity interface {
	CurrentUserAddress() (Address, bool)
}

// Wallet is a settable Identity for a single local user.
type Wallet struct {
	mu      sync.RWMutex
	address Address
}

func (w *Wallet) Connect(addr Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.address = NormalizeAddress(string(addr))
}

func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.address = ""
}

func (w *Wallet) CurrentUserAddress() (Address, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address, !w.address.IsZero()
}
