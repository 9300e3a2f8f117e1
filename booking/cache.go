/*
cache.go - Entity Cache

PURPOSE:
  Holds the last snapshot of each ledger collection this client has read.
  A collection is only ever replaced wholesale from a fresh ledger read;
  there is no upsert and no field-level patching. Replacing a collection
  bumps its generation so consumers can tell their copy is stale.

COLLECTIONS:
  all_properties     readAllProperties
  active_properties  readActiveProperties
  owner_properties   readPropertiesForOwner(session user)
  tenant_bookings    readBookingsForTenant(session user)
  all_bookings       readAllBookings

  Replacement is last-write-wins per collection.

SEE ALSO:
  - sync.go: The only writer
*/
package booking

import (
	"fmt"
	"sync"
	"time"
)

type Collection string

const (
	CollectionAllProperties    Collection = "all_properties"
	CollectionActiveProperties Collection = "active_properties"
	CollectionOwnerProperties  Collection = "owner_properties"
	CollectionTenantBookings   Collection = "tenant_bookings"
	CollectionAllBookings      Collection = "all_bookings"
)

// propertyCollections is the lookup order for FindProperty.
var propertyCollections = []Collection{
	CollectionAllProperties,
	CollectionOwnerProperties,
	CollectionActiveProperties,
}

var bookingCollections = []Collection{
	CollectionTenantBookings,
	CollectionAllBookings,
}

// Holds returns the entity kind stored in c.
func (c Collection) Holds() EntityKind {
	switch c {
	case CollectionTenantBookings, CollectionAllBookings:
		return KindBooking
	default:
		return KindProperty
	}
}

type propertySet struct {
	generation uint64
	loadedAt   time.Time
	items      []Property
	byID       map[PropertyID]int
}

type bookingSet struct {
	generation uint64
	loadedAt   time.Time
	items      []Booking
	byID       map[BookingID]int
}

// CollectionInfo describes one cached collection.
type CollectionInfo struct {
	Collection Collection
	Generation uint64
	LoadedAt   time.Time
	Size       int
}

type Cache struct {
	mu         sync.RWMutex
	properties map[Collection]*propertySet
	bookings   map[Collection]*bookingSet
	generation uint64
}

func NewCache() *Cache {
	return &Cache{
		properties: make(map[Collection]*propertySet),
		bookings:   make(map[Collection]*bookingSet),
	}
}

// ReplaceProperties swaps coll for snapshots and returns the new generation.
func (c *Cache) ReplaceProperties(coll Collection, snapshots []Property) (uint64, error) {
	if coll.Holds() != KindProperty {
		return 0, fmt.Errorf("collection %s does not hold properties", coll)
	}
	set := &propertySet{
		loadedAt: time.Now(),
		items:    make([]Property, len(snapshots)),
		byID:     make(map[PropertyID]int, len(snapshots)),
	}
	for i, p := range snapshots {
		set.items[i] = p.Clone()
		set.byID[p.ID] = i
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	set.generation = c.generation
	c.properties[coll] = set
	return set.generation, nil
}

// ReplaceBookings swaps coll for snapshots and returns the new generation.
func (c *Cache) ReplaceBookings(coll Collection, snapshots []Booking) (uint64, error) {
	if coll.Holds() != KindBooking {
		return 0, fmt.Errorf("collection %s does not hold bookings", coll)
	}
	set := &bookingSet{
		loadedAt: time.Now(),
		items:    append([]Booking(nil), snapshots...),
		byID:     make(map[BookingID]int, len(snapshots)),
	}
	for i, b := range snapshots {
		set.byID[b.ID] = i
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	set.generation = c.generation
	c.bookings[coll] = set
	return set.generation, nil
}

func (c *Cache) Property(coll Collection, id PropertyID) (Property, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.properties[coll]
	if !ok {
		return Property{}, false
	}
	i, ok := set.byID[id]
	if !ok {
		return Property{}, false
	}
	return set.items[i].Clone(), true
}

func (c *Cache) Booking(coll Collection, id BookingID) (Booking, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.bookings[coll]
	if !ok {
		return Booking{}, false
	}
	i, ok := set.byID[id]
	if !ok {
		return Booking{}, false
	}
	return set.items[i], true
}

// Properties returns a copy of coll and whether it has been loaded.
func (c *Cache) Properties(coll Collection) ([]Property, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.properties[coll]
	if !ok {
		return nil, false
	}
	out := make([]Property, len(set.items))
	for i, p := range set.items {
		out[i] = p.Clone()
	}
	return out, true
}

func (c *Cache) Bookings(coll Collection) ([]Booking, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.bookings[coll]
	if !ok {
		return nil, false
	}
	return append([]Booking(nil), set.items...), true
}

// FindProperty looks id up across every cached property collection.
func (c *Cache) FindProperty(id PropertyID) (Property, bool) {
	for _, coll := range propertyCollections {
		if p, ok := c.Property(coll, id); ok {
			return p, true
		}
	}
	return Property{}, false
}

// FindBooking looks id up across every cached booking collection.
func (c *Cache) FindBooking(id BookingID) (Booking, bool) {
	for _, coll := range bookingCollections {
		if b, ok := c.Booking(coll, id); ok {
			return b, true
		}
	}
	return Booking{}, false
}

// Generation returns the generation of coll, 0 if never loaded.
func (c *Cache) Generation(coll Collection) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if coll.Holds() == KindBooking {
		if set, ok := c.bookings[coll]; ok {
			return set.generation
		}
		return 0
	}
	if set, ok := c.properties[coll]; ok {
		return set.generation
	}
	return 0
}

// Collections describes what is currently cached.
func (c *Cache) Collections() []CollectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []CollectionInfo
	for coll, set := range c.properties {
		out = append(out, CollectionInfo{Collection: coll, Generation: set.generation, LoadedAt: set.loadedAt, Size: len(set.items)})
	}
	for coll, set := range c.bookings {
		out = append(out, CollectionInfo{Collection: coll, Generation: set.generation, LoadedAt: set.loadedAt, Size: len(set.items)})
	}
	return out
}

// Drop forgets every collection.
func (c *Cache) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties = make(map[Collection]*propertySet)
	c.bookings = make(map[Collection]*bookingSet)
}
