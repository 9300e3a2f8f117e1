package devchain

import (
	"context"
	"sync"

	"github.com/warp/airblock/booking"
)

// =============================================================================
// MEMORY BACKEND - In-memory contract storage (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	properties []booking.Property
	bookings   []booking.Booking
	records    []TxRecord
	hashes     map[string]bool
}

func NewMemory() *Memory {
	return &Memory{hashes: make(map[string]bool)}
}

func (m *Memory) Properties(_ context.Context) ([]booking.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.propertiesLocked(), nil
}

func (m *Memory) Property(_ context.Context, id booking.PropertyID) (booking.Property, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.propertyLocked(id)
	return p, ok, nil
}

func (m *Memory) NextPropertyID(_ context.Context) (booking.PropertyID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return booking.PropertyID(len(m.properties)), nil
}

func (m *Memory) PutProperty(_ context.Context, p booking.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putPropertyLocked(p)
	return nil
}

func (m *Memory) Bookings(_ context.Context) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]booking.Booking(nil), m.bookings...), nil
}

func (m *Memory) Booking(_ context.Context, id booking.BookingID) (booking.Booking, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookingLocked(id)
	return b, ok, nil
}

func (m *Memory) NextBookingID(_ context.Context) (booking.BookingID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return booking.BookingID(len(m.bookings)), nil
}

func (m *Memory) PutBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putBookingLocked(b)
	return nil
}

func (m *Memory) AppendRecord(_ context.Context, r TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendRecordLocked(r)
}

func (m *Memory) Records(_ context.Context) ([]TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TxRecord(nil), m.records...), nil
}

func (m *Memory) Height(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heightLocked(), nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold mu
// =============================================================================

func (m *Memory) propertiesLocked() []booking.Property {
	out := make([]booking.Property, len(m.properties))
	for i, p := range m.properties {
		out[i] = p.Clone()
	}
	return out
}

func (m *Memory) propertyLocked(id booking.PropertyID) (booking.Property, bool) {
	if int(id) >= len(m.properties) {
		return booking.Property{}, false
	}
	return m.properties[id].Clone(), true
}

// putPropertyLocked replaces an existing id or appends the next one.
func (m *Memory) putPropertyLocked(p booking.Property) {
	p = p.Clone()
	if int(p.ID) < len(m.properties) {
		m.properties[p.ID] = p
		return
	}
	m.properties = append(m.properties, p)
}

func (m *Memory) bookingLocked(id booking.BookingID) (booking.Booking, bool) {
	if int(id) >= len(m.bookings) {
		return booking.Booking{}, false
	}
	return m.bookings[id], true
}

func (m *Memory) putBookingLocked(b booking.Booking) {
	if int(b.ID) < len(m.bookings) {
		m.bookings[b.ID] = b
		return
	}
	m.bookings = append(m.bookings, b)
}

func (m *Memory) appendRecordLocked(r TxRecord) error {
	if m.hashes[r.Hash] {
		return ErrRecordExists
	}
	m.records = append(m.records, r)
	m.hashes[r.Hash] = true
	return nil
}

func (m *Memory) heightLocked() uint64 {
	if len(m.records) == 0 {
		return 0
	}
	return m.records[len(m.records)-1].Block
}

// Reset clears all data (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties, m.bookings, m.records = nil, nil, nil
	m.hashes = make(map[string]bool)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	properties []booking.Property
	bookings   []booking.Booking
	records    []TxRecord
	hashes     map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	hashes := make(map[string]bool, len(m.hashes))
	for k, v := range m.hashes {
		hashes[k] = v
	}
	return memorySnapshot{
		properties: m.propertiesLocked(),
		bookings:   append([]booking.Booking(nil), m.bookings...),
		records:    append([]TxRecord(nil), m.records...),
		hashes:     hashes,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.properties = s.properties
	m.bookings = s.bookings
	m.records = s.records
	m.hashes = s.hashes
}

// memoryView is the State handed to WithTx callbacks. The parent lock is
// already held.
type memoryView struct {
	parent *Memory
}

func (v *memoryView) Properties(context.Context) ([]booking.Property, error) {
	return v.parent.propertiesLocked(), nil
}

func (v *memoryView) Property(_ context.Context, id booking.PropertyID) (booking.Property, bool, error) {
	p, ok := v.parent.propertyLocked(id)
	return p, ok, nil
}

func (v *memoryView) NextPropertyID(context.Context) (booking.PropertyID, error) {
	return booking.PropertyID(len(v.parent.properties)), nil
}

func (v *memoryView) PutProperty(_ context.Context, p booking.Property) error {
	v.parent.putPropertyLocked(p)
	return nil
}

func (v *memoryView) Bookings(context.Context) ([]booking.Booking, error) {
	return append([]booking.Booking(nil), v.parent.bookings...), nil
}

func (v *memoryView) Booking(_ context.Context, id booking.BookingID) (booking.Booking, bool, error) {
	b, ok := v.parent.bookingLocked(id)
	return b, ok, nil
}

func (v *memoryView) NextBookingID(context.Context) (booking.BookingID, error) {
	return booking.BookingID(len(v.parent.bookings)), nil
}

func (v *memoryView) PutBooking(_ context.Context, b booking.Booking) error {
	v.parent.putBookingLocked(b)
	return nil
}

func (v *memoryView) AppendRecord(_ context.Context, r TxRecord) error {
	return v.parent.appendRecordLocked(r)
}

func (v *memoryView) Records(context.Context) ([]TxRecord, error) {
	return append([]TxRecord(nil), v.parent.records...), nil
}

func (v *memoryView) Height(context.Context) (uint64, error) {
	return v.parent.heightLocked(), nil
}
