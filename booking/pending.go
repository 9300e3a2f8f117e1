/*
pending.go - Pending Operation Tracker

PURPOSE:
  Records which mutations this client has in flight per entity so a second
  submission of a conflicting operation is refused before it reaches the
  ledger, and so views can show a spinner.

CONFLICTS:
  Booking operations (reserve, confirm, cancel, modify) are mutually
  exclusive per entity. Listing operations (create, deactivate) are mutually
  exclusive per entity. Reserve is keyed by the property being reserved,
  create by the owner address, since neither entity has a booking id yet.

  Begin is the only correctness gate. IsPending is for rendering.

CLEANUP:
  End is unconditional and idempotent. Ending a token twice, or ending a
  token whose entry was already replaced, does nothing. This lets a teardown
  path and the submission's own completion path both call End.
*/
package booking

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// OPERATION KINDS AND ENTITY REFERENCES
// =============================================================================

type OpKind string

const (
	OpReserve    OpKind = "reserve"
	OpConfirm    OpKind = "confirm"
	OpCancel     OpKind = "cancel"
	OpModify     OpKind = "modify"
	OpCreate     OpKind = "create"
	OpDeactivate OpKind = "deactivate"
)

func (k OpKind) group() string {
	switch k {
	case OpCreate, OpDeactivate:
		return "listing"
	default:
		return "booking"
	}
}

type EntityKind string

const (
	KindProperty EntityKind = "property"
	KindBooking  EntityKind = "booking"
	KindOwner    EntityKind = "owner"
)

// EntityRef identifies what an operation is about.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func PropertyRef(id PropertyID) EntityRef { return EntityRef{Kind: KindProperty, ID: fmt.Sprint(uint64(id))} }
func BookingRef(id BookingID) EntityRef   { return EntityRef{Kind: KindBooking, ID: fmt.Sprint(uint64(id))} }
func OwnerRef(owner Address) EntityRef    { return EntityRef{Kind: KindOwner, ID: string(NormalizeAddress(string(owner)))} }

func (r EntityRef) String() string { return string(r.Kind) + ":" + r.ID }

// =============================================================================
// TRACKER
// =============================================================================

// Token is returned by Begin and cleared by End.
type Token struct {
	id  uuid.UUID
	Ref EntityRef
	Op  OpKind
}

func (t Token) IsZero() bool { return t.id == uuid.Nil }

type pendingEntry struct {
	id    uuid.UUID
	op    OpKind
	since time.Time
}

// PendingOp describes one in-flight operation, for rendering.
type PendingOp struct {
	Ref   EntityRef
	Op    OpKind
	Since time.Time
}

type Tracker struct {
	mu      sync.RWMutex
	entries map[EntityRef][]pendingEntry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[EntityRef][]pendingEntry)}
}

// Begin marks op in flight for ref. It fails with *AlreadyPendingError if a
// conflicting operation is already tracked.
func (t *Tracker) Begin(ref EntityRef, op OpKind) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries[ref] {
		if e.op.group() == op.group() {
			return Token{}, &AlreadyPendingError{Ref: ref, Requested: op, InFlight: e.op}
		}
	}

	tok := Token{id: uuid.New(), Ref: ref, Op: op}
	t.entries[ref] = append(t.entries[ref], pendingEntry{id: tok.id, op: op, since: time.Now()})
	return tok, nil
}

// End clears the marker created by Begin. Safe to call more than once.
func (t *Tracker) End(tok Token) {
	if tok.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.entries[tok.Ref]
	for i, e := range entries {
		if e.id == tok.id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(t.entries, tok.Ref)
		return
	}
	t.entries[tok.Ref] = entries
}

// IsPending reports whether op is in flight for ref. Rendering only.
func (t *Tracker) IsPending(ref EntityRef, op OpKind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries[ref] {
		if e.op == op {
			return true
		}
	}
	return false
}

// Pending lists everything in flight.
func (t *Tracker) Pending() []PendingOp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PendingOp
	for ref, entries := range t.entries {
		for _, e := range entries {
			out = append(out, PendingOp{Ref: ref, Op: e.op, Since: e.since})
		}
	}
	return out
}

// PendingFor lists the operations in flight for ref.
func (t *Tracker) PendingFor(ref EntityRef) []OpKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []OpKind
	for _, e := range t.entries[ref] {
		out = append(out, e.op)
	}
	return out
}
