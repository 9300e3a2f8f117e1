package booking_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warp/airblock/booking"
)

// =============================================================================
// FAKE GATEWAY - Scriptable ledger for controller and service tests
// =============================================================================

type fakeGateway struct {
	mu         sync.Mutex
	properties []booking.Property
	bookings   []booking.Booking

	// holds: collection name -> gates consumed by the next reads of it.
	// A held read takes its snapshot immediately, then waits to be released.
	holds map[string][]*heldRead
	reads atomic.Int32

	sinks   map[booking.SubscriptionHandle]fakeSub
	nextSub int

	submits   atomic.Int32
	submitted []booking.Operation
	revert    string
	awaitGate chan struct{}
	block     uint64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		holds: make(map[string][]*heldRead),
		sinks: make(map[booking.SubscriptionHandle]fakeSub),
	}
}

func (g *fakeGateway) setProperties(ps ...booking.Property) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.properties = ps
}

func (g *fakeGateway) setBookings(bs ...booking.Booking) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bookings = bs
}

type heldRead struct {
	started chan struct{}
	release chan struct{}
}

// hold makes the next read of coll stall after taking its snapshot.
// Started is closed once the snapshot is taken.
func (g *fakeGateway) hold(coll booking.Collection) *heldRead {
	h := &heldRead{started: make(chan struct{}), release: make(chan struct{})}
	g.mu.Lock()
	g.holds[string(coll)] = append(g.holds[string(coll)], h)
	g.mu.Unlock()
	return h
}

func (h *heldRead) Release() { close(h.release) }

func (g *fakeGateway) takeHold(method string) chan struct{} {
	g.reads.Add(1)
	held := g.holds[method]
	if len(held) == 0 {
		return nil
	}
	g.holds[method] = held[1:]
	close(held[0].started)
	return held[0].release
}

func (g *fakeGateway) readProperties(ctx context.Context, method string, keep func(booking.Property) bool) ([]booking.Property, error) {
	g.mu.Lock()
	var out []booking.Property
	for _, p := range g.properties {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	gate := g.takeHold(method)
	g.mu.Unlock()
	return out, wait(ctx, gate)
}

func (g *fakeGateway) readBookings(ctx context.Context, method string, keep func(booking.Booking) bool) ([]booking.Booking, error) {
	g.mu.Lock()
	var out []booking.Booking
	for _, b := range g.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	gate := g.takeHold(method)
	g.mu.Unlock()
	return out, wait(ctx, gate)
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGateway) ReadAllProperties(ctx context.Context) ([]booking.Property, error) {
	return g.readProperties(ctx, "all_properties", func(booking.Property) bool { return true })
}

func (g *fakeGateway) ReadActiveProperties(ctx context.Context) ([]booking.Property, error) {
	return g.readProperties(ctx, "active_properties", func(p booking.Property) bool { return p.IsActive })
}

func (g *fakeGateway) ReadPropertiesForOwner(ctx context.Context, owner booking.Address) ([]booking.Property, error) {
	return g.readProperties(ctx, "owner_properties", func(p booking.Property) bool { return p.Owner.Equal(owner) })
}

func (g *fakeGateway) ReadBookingsForTenant(ctx context.Context, user booking.Address) ([]booking.Booking, error) {
	return g.readBookings(ctx, "tenant_bookings", func(b booking.Booking) bool { return b.User.Equal(user) })
}

func (g *fakeGateway) ReadAllBookings(ctx context.Context) ([]booking.Booking, error) {
	return g.readBookings(ctx, "all_bookings", func(booking.Booking) bool { return true })
}

func (g *fakeGateway) Submit(_ context.Context, op booking.Operation) (booking.PendingReceipt, error) {
	n := g.submits.Add(1)
	g.mu.Lock()
	g.submitted = append(g.submitted, op)
	g.mu.Unlock()
	return booking.PendingReceipt{TxHash: fmt.Sprintf("0xtx%d", n), Method: op.Method, SubmittedAt: time.Now()}, nil
}

func (g *fakeGateway) AwaitConfirmation(ctx context.Context, r booking.PendingReceipt) (booking.Outcome, error) {
	g.mu.Lock()
	gate := g.awaitGate
	revert := g.revert
	g.block++
	block := g.block
	g.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return booking.Outcome{}, err
	}
	if revert != "" {
		return booking.Outcome{Status: booking.OutcomeReverted, Reason: revert, TxHash: r.TxHash, Block: block}, nil
	}
	return booking.Outcome{Status: booking.OutcomeConfirmed, TxHash: r.TxHash, Block: block}, nil
}

type fakeSub struct {
	kind booking.EventKind
	sink booking.EventSink
}

func (g *fakeGateway) Subscribe(kind booking.EventKind, sink booking.EventSink) (booking.SubscriptionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextSub++
	h := booking.SubscriptionHandle(fmt.Sprintf("sub-%d", g.nextSub))
	g.sinks[h] = fakeSub{kind: kind, sink: sink}
	return h, nil
}

func (g *fakeGateway) Unsubscribe(h booking.SubscriptionHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sinks, h)
	return nil
}

// sinksFor returns the live sinks for kind.
func (g *fakeGateway) sinksFor(kind booking.EventKind) []booking.EventSink {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []booking.EventSink
	for _, s := range g.sinks {
		if s.kind == kind {
			out = append(out, s.sink)
		}
	}
	return out
}

func (g *fakeGateway) subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sinks)
}

// emit delivers ev to every sink subscribed to its kind.
func (g *fakeGateway) emit(ev booking.Event) {
	g.mu.Lock()
	var sinks []booking.EventSink
	for _, s := range g.sinks {
		if s.kind == ev.Kind {
			sinks = append(sinks, s.sink)
		}
	}
	g.mu.Unlock()
	for _, s := range sinks {
		s.HandleLedgerEvent(ev)
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

const (
	alice booking.Address = "0xa11ce"
	bob   booking.Address = "0xb0b"
)

type staticIdentity booking.Address

func (s staticIdentity) CurrentUserAddress() (booking.Address, bool) {
	return booking.Address(s), s != ""
}

func ethProperty(id booking.PropertyID, owner booking.Address, price string) booking.Property {
	v, err := booking.ParsePrice(price, booking.ETH)
	if err != nil {
		panic(err)
	}
	return booking.Property{ID: id, Owner: owner, Name: fmt.Sprintf("Property %d", id), Price: v, Currency: booking.ETH, IsActive: true}
}

func usdProperty(id booking.PropertyID, owner booking.Address, price int64) booking.Property {
	return booking.Property{ID: id, Owner: owner, Name: fmt.Sprintf("Property %d", id), Price: booking.NewWholeValue(price), Currency: booking.USD, IsActive: true}
}

func requested(id booking.BookingID, prop booking.PropertyID, user booking.Address, in, out int) booking.Booking {
	return booking.Booking{ID: id, PropertyID: prop, User: user, CheckInDay: in, CheckOutDay: out}
}

func stay(in, out string) booking.Stay {
	s, err := booking.ParseStay(in, out)
	if err != nil {
		panic(err)
	}
	return s
}
