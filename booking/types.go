/*
Package booking provides the listing and booking synchronization engine.

PURPOSE:
  The ledger (a contract on a chain) owns every Property and Booking. This
  package keeps a local, read-only view of that state consistent with the
  ledger, tracks the mutations this client has in flight, and validates
  lifecycle transitions before they are submitted so obviously illegal
  requests never cost a round trip.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address: A wallet address, compared case-insensitively
  - Property: A listing snapshot as last read from the ledger
  - Booking: A reservation snapshot as last read from the ledger
  - Stay: Check-in/check-out dates with derived day-of-year values
  - PropertyDraft: User input for a new listing, before price parsing

DESIGN PRINCIPLES:
  1. The ledger is authoritative: snapshots are replaced, never patched
  2. Day-of-year values are the only stay-length unit; ISO dates are display data
  3. Prices are exact: CurrencyValue wraps decimal.Decimal integers

SEE ALSO:
  - currency.go: CurrencyValue and unit scaling
  - cache.go: Entity Cache
  - pending.go: Pending Operation Tracker
  - lifecycle.go: Booking Lifecycle Validator
  - price.go: Price Resolver
  - sync.go: Synchronization Controller
  - service.go: User actions (reserve, confirm, cancel, modify, list, deactivate)
*/
package booking

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Address is a wallet address. The zero value means "no address".
type Address string

// NormalizeAddress trims and lower-cases a hex address.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) IsZero() bool         { return strings.TrimSpace(string(a)) == "" }
func (a Address) Equal(b Address) bool { return !a.IsZero() && strings.EqualFold(string(a), string(b)) }
func (a Address) String() string       { return string(a) }

// PropertyID and BookingID are assigned by the ledger, sequentially from zero.
type PropertyID uint64
type BookingID uint64

// =============================================================================
// PROPERTY
// =============================================================================

// MaxImages is the number of image slots a listing form offers.
const MaxImages = 5

type Property struct {
	ID          PropertyID
	Owner       Address
	Name        string
	Description string
	Location    string
	Images      []string
	Price       CurrencyValue
	Currency    Currency
	IsActive    bool

	// BookedDays holds the day-of-year values taken by live bookings, ascending.
	BookedDays []int
}

// VisibleTo reports whether the property belongs in the exploration view for
// viewer. Inactive properties stay visible to their owner.
func (p Property) VisibleTo(viewer Address) bool {
	return p.IsActive || p.Owner.Equal(viewer)
}

// IsBooked reports whether day is taken.
func (p Property) IsBooked(day int) bool {
	i := sort.SearchInts(p.BookedDays, day)
	return i < len(p.BookedDays) && p.BookedDays[i] == day
}

// Overlaps returns the first booked day inside [checkIn, checkOut), ignoring
// days listed in except (a booking's own nights when it is being modified).
func (p Property) Overlaps(checkIn, checkOut int, except ...int) (int, bool) {
	skip := make(map[int]bool, len(except))
	for _, d := range except {
		skip[d] = true
	}
	for d := checkIn; d < checkOut; d++ {
		if p.IsBooked(d) && !skip[d] {
			return d, true
		}
	}
	return 0, false
}

// Clone returns a copy that shares no slices with p.
func (p Property) Clone() Property {
	p.Images = append([]string(nil), p.Images...)
	p.BookedDays = append([]int(nil), p.BookedDays...)
	return p
}

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID           BookingID
	PropertyID   PropertyID
	User         Address
	CheckInDay   int
	CheckOutDay  int
	CheckInDate  string
	CheckOutDate string
	TotalPrice   CurrencyValue
	IsConfirmed  bool
	IsDeleted    bool
}

// Nights returns the day-of-year values the booking occupies: [CheckInDay, CheckOutDay).
func (b Booking) Nights() []int {
	if b.CheckOutDay <= b.CheckInDay {
		return nil
	}
	days := make([]int, 0, b.CheckOutDay-b.CheckInDay)
	for d := b.CheckInDay; d < b.CheckOutDay; d++ {
		days = append(days, d)
	}
	return days
}

// =============================================================================
// STAY - Dates chosen by the user
// =============================================================================

// DateLayout is the ISO date form used for CheckInDate/CheckOutDate.
const DateLayout = "2006-01-02"

// Stay is a check-in/check-out pair. Day-of-year values are derived from the
// dates and are the only thing used for pricing and availability.
type Stay struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// ParseStay parses two ISO dates (YYYY-MM-DD or RFC 3339).
func ParseStay(checkIn, checkOut string) (Stay, error) {
	in, err := parseDate(checkIn)
	if err != nil {
		return Stay{}, fmt.Errorf("%w: check-in %q: %v", ErrInvalidRange, checkIn, err)
	}
	out, err := parseDate(checkOut)
	if err != nil {
		return Stay{}, fmt.Errorf("%w: check-out %q: %v", ErrInvalidRange, checkOut, err)
	}
	return Stay{CheckIn: in, CheckOut: out}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s Stay) CheckInDay() int  { return s.CheckIn.YearDay() }
func (s Stay) CheckOutDay() int { return s.CheckOut.YearDay() }

func (s Stay) CheckInDate() string  { return s.CheckIn.Format(DateLayout) }
func (s Stay) CheckOutDate() string { return s.CheckOut.Format(DateLayout) }

// Nights is CheckOutDay - CheckInDay. Only meaningful for a stay that passes
// Validate: both dates in the same year, check-out after check-in.
func (s Stay) Nights() int { return s.CheckOutDay() - s.CheckInDay() }

func (s Stay) Validate() error {
	if s.CheckIn.IsZero() || s.CheckOut.IsZero() {
		return fmt.Errorf("%w: both dates are required", ErrInvalidRange)
	}
	if !s.CheckOut.After(s.CheckIn) {
		return fmt.Errorf("%w: check-out %s is not after check-in %s",
			ErrInvalidRange, s.CheckOutDate(), s.CheckInDate())
	}
	if s.CheckIn.Year() != s.CheckOut.Year() {
		return fmt.Errorf("%w: stay from %s to %s crosses a year boundary",
			ErrInvalidRange, s.CheckInDate(), s.CheckOutDate())
	}
	if s.Nights() <= 0 {
		return fmt.Errorf("%w: check-out day %d is not after check-in day %d",
			ErrInvalidRange, s.CheckOutDay(), s.CheckInDay())
	}
	return nil
}

// =============================================================================
// PROPERTY DRAFT - Listing form input
// =============================================================================

type PropertyDraft struct {
	Name        string
	Description string
	Location    string
	Images      []string
	Price       string
	Currency    string
}

// Listing is a validated draft, ready to be submitted to the ledger.
type Listing struct {
	Name        string
	Description string
	Location    string
	Images      []string
	Price       CurrencyValue
	Currency    Currency
}

// Listing validates the draft and parses its price in the currency's native unit.
func (d PropertyDraft) Listing() (Listing, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Listing{}, fmt.Errorf("%w: name is required", ErrInvalidListing)
	}
	currency, err := ParseCurrency(d.Currency)
	if err != nil {
		return Listing{}, err
	}
	price, err := ParsePrice(d.Price, currency)
	if err != nil {
		return Listing{}, err
	}

	var images []string
	for _, img := range d.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	if len(images) > MaxImages {
		return Listing{}, fmt.Errorf("%w: at most %d images", ErrInvalidListing, MaxImages)
	}

	return Listing{
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Location:    d.Location,
		Images:      images,
		Price:       price,
		Currency:    currency,
	}, nil
}
