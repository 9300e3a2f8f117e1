/*
sync.go - Synchronization Controller

PURPOSE:
  Keeps the Entity Cache in step with the ledger for one session (one
  gateway handle, one wallet address).

LIFECYCLE:
  Activate(gateway, identity, views...)
    1. Subscribe to NewProperty, ConfirmBooking, CancelBooking
    2. Read every collection the views need, replaceAll each
  On event:
    Re-read the collections that event kind affects (never patch from the
    payload) and replaceAll again. Each event's re-read runs on its own
    goroutine, so two can be in flight; the later replace wins.
  Deactivate()
    Unsubscribe, cancel in-flight re-reads, drop the cache.

SESSIONS:
  Each activation gets a new epoch. Subscriptions carry their epoch and the
  controller pointer, and re-reads check the epoch before writing, so a
  late event or read from an ended session never reaches the cache.
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// VIEWS AND COLLECTIONS
// =============================================================================

type View string

const (
	ViewExplore      View = "explore"
	ViewListings     View = "listings"
	ViewReservations View = "reservations"
	ViewLedger       View = "ledger"
)

var AllViews = []View{ViewExplore, ViewListings, ViewReservations}

var viewCollections = map[View][]Collection{
	ViewExplore:      {CollectionActiveProperties, CollectionOwnerProperties},
	ViewListings:     {CollectionOwnerProperties},
	ViewReservations: {CollectionTenantBookings, CollectionAllProperties},
	ViewLedger:       {CollectionAllProperties, CollectionAllBookings},
}

// Cancelling frees booked days, so property collections are re-read too.
var eventCollections = map[EventKind][]Collection{
	EventNewProperty:    {CollectionAllProperties, CollectionActiveProperties, CollectionOwnerProperties},
	EventConfirmBooking: {CollectionTenantBookings, CollectionAllBookings},
	EventCancelBooking: {
		CollectionTenantBookings, CollectionAllBookings,
		CollectionAllProperties, CollectionActiveProperties, CollectionOwnerProperties,
	},
}

func ParseView(s string) (View, error) {
	v := View(s)
	if _, ok := viewCollections[v]; !ok {
		return "", fmt.Errorf("unknown view %q", s)
	}
	return v, nil
}

// =============================================================================
// NOTICES - Cache change notifications for observers
// =============================================================================

// Notice reports that a collection was replaced or the session changed.
type Notice struct {
	Cause      string
	Collection Collection
	Generation uint64
	Event      *Event
	User       Address
	At         time.Time
}

const (
	CauseActivate   = "activate"
	CauseDeactivate = "deactivate"
	CauseRefresh    = "refresh"
	CauseEvent      = "event"
)

// NoticeSink observes cache changes. Notify must not block.
type NoticeSink interface {
	Notify(n Notice)
}

// =============================================================================
// CONTROLLER
// =============================================================================

type session struct {
	epoch       uint64
	ctx         context.Context
	cancel      context.CancelFunc
	gateway     Gateway
	user        Address
	collections []Collection
	handles     []SubscriptionHandle
}

func (s *session) tracks(coll Collection) bool {
	for _, c := range s.collections {
		if c == coll {
			return true
		}
	}
	return false
}

type Controller struct {
	cache  *Cache
	logger *slog.Logger

	mu      sync.RWMutex
	epoch   uint64
	current *session

	// Event re-reads still running. Guarded by inflightMu; idle is signalled
	// when the count drops to zero.
	inflightMu sync.Mutex
	inflight   int
	idle       *sync.Cond

	sinksMu sync.RWMutex
	sinks   []NoticeSink
}

func NewController(cache *Cache, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{cache: cache, logger: logger.With("component", "sync")}
	c.idle = sync.NewCond(&c.inflightMu)
	return c
}

func (c *Controller) Cache() *Cache { return c.cache }

func (c *Controller) AddNoticeSink(s NoticeSink) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	c.sinks = append(c.sinks, s)
}

// Session returns the active gateway and user.
func (c *Controller) Session() (Gateway, Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, "", false
	}
	return c.current.gateway, c.current.user, true
}

// Collections returns the collections the active session keeps in sync.
func (c *Controller) Collections() []Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	return append([]Collection(nil), c.current.collections...)
}

// Activate starts a session for identity's address. An existing session is
// ended first.
func (c *Controller) Activate(ctx context.Context, gw Gateway, id Identity, views ...View) error {
	user, ok := id.CurrentUserAddress()
	if !ok {
		return ErrNotConnected
	}
	if len(views) == 0 {
		views = AllViews
	}

	c.Deactivate()

	var colls []Collection
	seen := make(map[Collection]bool)
	for _, v := range views {
		for _, coll := range viewCollections[v] {
			if !seen[coll] {
				seen[coll] = true
				colls = append(colls, coll)
			}
		}
	}

	sctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.epoch++
	s := &session{
		epoch:       c.epoch,
		ctx:         sctx,
		cancel:      cancel,
		gateway:     gw,
		user:        user,
		collections: colls,
	}
	c.current = s
	c.mu.Unlock()

	// Subscribe before the initial read so nothing mined in between is missed.
	for _, kind := range EventKinds {
		h, err := gw.Subscribe(kind, &subscription{ctrl: c, epoch: s.epoch})
		if err != nil {
			c.Deactivate()
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		c.mu.Lock()
		s.handles = append(s.handles, h)
		c.mu.Unlock()
	}

	for _, coll := range colls {
		if err := c.read(ctx, s, coll, CauseActivate, nil); err != nil {
			c.Deactivate()
			return fmt.Errorf("initial read of %s: %w", coll, err)
		}
	}

	c.logger.Info("session activated", "user", user, "epoch", s.epoch, "collections", len(colls))
	return nil
}

// Deactivate ends the session: unsubscribes, cancels re-reads and drops the cache.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.epoch++
	var handles []SubscriptionHandle
	if s != nil {
		handles = append(handles, s.handles...)
	}
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	for _, h := range handles {
		if err := s.gateway.Unsubscribe(h); err != nil {
			c.logger.Warn("unsubscribe failed", "handle", h, "err", err)
		}
	}
	c.cache.Drop()
	c.notify(Notice{Cause: CauseDeactivate, User: s.user, At: time.Now()})
	c.logger.Info("session deactivated", "user", s.user, "epoch", s.epoch)
}

// Refresh re-reads colls (all session collections when empty) and replaces them.
// Collections the session does not track are skipped.
func (c *Controller) Refresh(ctx context.Context, colls ...Collection) error {
	c.mu.RLock()
	s := c.current
	c.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}
	if len(colls) == 0 {
		colls = s.collections
	}

	var errs []error
	for _, coll := range colls {
		if !s.tracks(coll) {
			continue
		}
		if err := c.read(ctx, s, coll, CauseRefresh, nil); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", coll, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every event-triggered re-read has finished. Re-reads
// started while Wait is blocked are waited for too.
func (c *Controller) Wait() {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
}

func (c *Controller) beginReread() {
	c.inflightMu.Lock()
	c.inflight++
	c.inflightMu.Unlock()
}

func (c *Controller) endReread() {
	c.inflightMu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.inflightMu.Unlock()
}

func (c *Controller) read(ctx context.Context, s *session, coll Collection, cause string, ev *Event) error {
	var (
		props    []Property
		bookings []Booking
		err      error
	)
	switch coll {
	case CollectionAllProperties:
		props, err = s.gateway.ReadAllProperties(ctx)
	case CollectionActiveProperties:
		props, err = s.gateway.ReadActiveProperties(ctx)
	case CollectionOwnerProperties:
		props, err = s.gateway.ReadPropertiesForOwner(ctx, s.user)
	case CollectionTenantBookings:
		bookings, err = s.gateway.ReadBookingsForTenant(ctx, s.user)
	case CollectionAllBookings:
		bookings, err = s.gateway.ReadAllBookings(ctx)
	default:
		return fmt.Errorf("unknown collection %q", coll)
	}
	if err != nil {
		return err
	}

	// Hold the read lock across the replace so Deactivate cannot interleave.
	c.mu.RLock()
	if c.current != s {
		c.mu.RUnlock()
		c.logger.Debug("discarding read from ended session", "collection", coll, "epoch", s.epoch)
		return nil
	}
	var gen uint64
	if coll.Holds() == KindBooking {
		gen, err = c.cache.ReplaceBookings(coll, bookings)
	} else {
		gen, err = c.cache.ReplaceProperties(coll, props)
	}
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	c.notify(Notice{Cause: cause, Collection: coll, Generation: gen, Event: ev, User: s.user, At: time.Now()})
	return nil
}

func (c *Controller) dispatch(epoch uint64, ev Event) {
	c.mu.RLock()
	s := c.current
	c.mu.RUnlock()
	if s == nil || s.epoch != epoch {
		c.logger.Debug("dropping event for ended session", "kind", ev.Kind, "epoch", epoch)
		return
	}

	var colls []Collection
	for _, coll := range eventCollections[ev.Kind] {
		if s.tracks(coll) {
			colls = append(colls, coll)
		}
	}
	if len(colls) == 0 {
		return
	}

	c.logger.Debug("ledger event", "kind", ev.Kind, "property", ev.PropertyID, "booking", ev.BookingID, "block", ev.Block)
	c.beginReread()
	go func(s *session, ev Event) {
		defer c.endReread()
		for _, coll := range colls {
			if err := c.read(s.ctx, s, coll, CauseEvent, &ev); err != nil && s.ctx.Err() == nil {
				c.logger.Warn("re-read after event failed", "kind", ev.Kind, "collection", coll, "err", err)
			}
		}
	}(s, ev)
}

func (c *Controller) notify(n Notice) {
	c.sinksMu.RLock()
	sinks := append([]NoticeSink(nil), c.sinks...)
	c.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Notify(n)
	}
}

// subscription is what the gateway holds for one event kind.
type subscription struct {
	ctrl  *Controller
	epoch uint64
}

func (s *subscription) HandleLedgerEvent(ev Event) {
	s.ctrl.dispatch(s.epoch, ev)
}
