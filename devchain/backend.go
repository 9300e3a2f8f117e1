/*
backend.go - Contract storage behind the dev ledger

PURPOSE:
  Separates the contract's state from the mining loop so the same rules run
  over memory (tests, demos) or SQLite (a dev ledger that survives restarts).

KEY INTERFACES:
  State:   Reads and writes seen by one contract call
  Backend: State plus WithTx, so a reverted call leaves no trace

TRANSACTION LOG:
  Every mined transaction, confirmed or reverted, is appended to the record
  log. Records are never updated or deleted.

IMPLEMENTATIONS:
  - devchain/memory.go: in-memory, snapshot + rollback
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - contract.go: the rules that run inside WithTx
*/
package devchain

import (
	"context"
	"errors"
	"time"

	"github.com/warp/airblock/booking"
)

var ErrRecordExists = errors.New("transaction record already exists")

// =============================================================================
// STATE
// =============================================================================

// State is contract storage. Properties and bookings are numbered from zero
// in creation order; NextPropertyID/NextBookingID return the next free id.
type State interface {
	Properties(ctx context.Context) ([]booking.Property, error)
	Property(ctx context.Context, id booking.PropertyID) (booking.Property, bool, error)
	NextPropertyID(ctx context.Context) (booking.PropertyID, error)
	PutProperty(ctx context.Context, p booking.Property) error

	Bookings(ctx context.Context) ([]booking.Booking, error)
	Booking(ctx context.Context, id booking.BookingID) (booking.Booking, bool, error)
	NextBookingID(ctx context.Context) (booking.BookingID, error)
	PutBooking(ctx context.Context, b booking.Booking) error

	// AppendRecord is append-only. A duplicate hash fails with ErrRecordExists.
	AppendRecord(ctx context.Context, r TxRecord) error
	Records(ctx context.Context) ([]TxRecord, error)
	Height(ctx context.Context) (uint64, error)
}

// Backend wraps State with transaction support.
type Backend interface {
	State

	// WithTx runs fn atomically. If fn returns an error nothing it wrote is kept.
	WithTx(ctx context.Context, fn func(State) error) error
}

// =============================================================================
// TRANSACTION RECORDS
// =============================================================================

// TxRecord is one mined transaction.
type TxRecord struct {
	Hash       string
	Block      uint64
	Method     booking.Method
	From       booking.Address
	PropertyID booking.PropertyID
	BookingID  booking.BookingID
	Value      string
	Status     booking.OutcomeStatus
	Reason     string
	MinedAt    time.Time
}
