/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts travel as
  strings (raw integer + unit, plus a display form) so 18-decimal ETH
  values never pass through a float.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Session:      SessionDTO, ConnectRequest
  Properties:   PropertyDTO, ListPropertyRequest
  Bookings:     BookingDTO, ReservationDTO, StayRequest, ConfirmRequest
  Prices:       PriceDTO
  Operations:   OutcomeDTO, PendingOpDTO
  Ledger:       TxRecordDTO
  Scenarios:    ScenarioDTO
  Notices:      NoticeDTO

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/devchain"
)

// =============================================================================
// SESSION
// =============================================================================

// ConnectRequest selects a wallet address and, optionally, the views to sync.
type ConnectRequest struct {
	Address string   `json:"address"`
	Views   []string `json:"views,omitempty"`
}

type CollectionDTO struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Size       int    `json:"size"`
}

type SessionDTO struct {
	Connected   bool            `json:"connected"`
	Address     string          `json:"address,omitempty"`
	Collections []CollectionDTO `json:"collections"`
}

// =============================================================================
// PRICES
// =============================================================================

// PriceDTO carries an amount in its native unit and its display form.
type PriceDTO struct {
	Raw      string `json:"raw"`
	Unit     string `json:"unit"`
	Display  string `json:"display"`
	Currency string `json:"currency,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
}

func toPriceDTO(v booking.CurrencyValue, c booking.Currency) PriceDTO {
	dto := PriceDTO{Raw: v.String(), Unit: string(v.Unit), Display: v.Format()}
	if c.Valid() {
		dto.Currency = string(c)
		dto.Symbol = c.Symbol()
	}
	return dto
}

// =============================================================================
// PROPERTIES
// =============================================================================

type PropertyDTO struct {
	ID          uint64   `json:"id"`
	Owner       string   `json:"owner"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Images      []string `json:"images"`
	Price       PriceDTO `json:"price"`
	IsActive    bool     `json:"is_active"`
	BookedDays  []int    `json:"booked_days"`
	Pending     []string `json:"pending,omitempty"`
}

// ListPropertyRequest is the listing form. Price is in whole units ("0.25" ETH).
type ListPropertyRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Images      []string `json:"images"`
	Price       string   `json:"price"`
	Currency    string   `json:"currency"`
}

func (r ListPropertyRequest) draft() booking.PropertyDraft {
	return booking.PropertyDraft{
		Name:        r.Name,
		Description: r.Description,
		Location:    r.Location,
		Images:      r.Images,
		Price:       r.Price,
		Currency:    r.Currency,
	}
}

func toPropertyDTO(p booking.Property, pending []booking.OpKind) PropertyDTO {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	days := p.BookedDays
	if days == nil {
		days = []int{}
	}
	return PropertyDTO{
		ID:          uint64(p.ID),
		Owner:       string(p.Owner),
		Name:        p.Name,
		Description: p.Description,
		Location:    p.Location,
		Images:      images,
		Price:       toPriceDTO(p.Price, p.Currency),
		IsActive:    p.IsActive,
		BookedDays:  days,
		Pending:     opNames(pending),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

// StayRequest carries ISO dates (YYYY-MM-DD).
type StayRequest struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

func (r StayRequest) stay() (booking.Stay, error) {
	return booking.ParseStay(r.CheckIn, r.CheckOut)
}

// ConfirmRequest optionally overrides the payment, in whole units.
// Without it the booking's resolved price is paid.
type ConfirmRequest struct {
	Payment string `json:"payment,omitempty"`
}

type BookingDTO struct {
	ID           uint64   `json:"id"`
	PropertyID   uint64   `json:"property_id"`
	User         string   `json:"user"`
	CheckInDay   int      `json:"check_in_day"`
	CheckOutDay  int      `json:"check_out_day"`
	CheckInDate  string   `json:"check_in_date"`
	CheckOutDate string   `json:"check_out_date"`
	TotalPrice   PriceDTO `json:"total_price"`
	State        string   `json:"state"`
}

// ReservationDTO is one row of the reservations view. Property and Price are
// omitted for a stale row.
type ReservationDTO struct {
	Booking  BookingDTO   `json:"booking"`
	Property *PropertyDTO `json:"property,omitempty"`
	Price    *PriceDTO    `json:"price,omitempty"`
	Actions  []string     `json:"actions"`
	Pending  []string     `json:"pending,omitempty"`
	Stale    bool         `json:"stale"`
}

func toBookingDTO(b booking.Booking, c booking.Currency) BookingDTO {
	return BookingDTO{
		ID:           uint64(b.ID),
		PropertyID:   uint64(b.PropertyID),
		User:         string(b.User),
		CheckInDay:   b.CheckInDay,
		CheckOutDay:  b.CheckOutDay,
		CheckInDate:  b.CheckInDate,
		CheckOutDate: b.CheckOutDate,
		TotalPrice:   toPriceDTO(b.TotalPrice, c),
		State:        string(booking.StateOf(b)),
	}
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	var currency booking.Currency
	dto := ReservationDTO{
		Actions: make([]string, 0, len(r.Actions)),
		Pending: opNames(r.Pending),
		Stale:   r.Stale,
	}
	if r.Property != nil {
		currency = r.Property.Currency
		p := toPropertyDTO(*r.Property, nil)
		dto.Property = &p
	}
	if r.Price != nil {
		price := toPriceDTO(*r.Price, currency)
		dto.Price = &price
	}
	for _, a := range r.Actions {
		dto.Actions = append(dto.Actions, string(a))
	}
	dto.Booking = toBookingDTO(r.Booking, currency)
	return dto
}

// =============================================================================
// OPERATIONS
// =============================================================================

type OutcomeDTO struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash"`
	Block  uint64 `json:"block"`
	Reason string `json:"reason,omitempty"`
}

func toOutcomeDTO(o booking.Outcome) OutcomeDTO {
	return OutcomeDTO{Status: string(o.Status), TxHash: o.TxHash, Block: o.Block, Reason: o.Reason}
}

type PendingOpDTO struct {
	Entity string    `json:"entity"`
	Op     string    `json:"op"`
	Since  time.Time `json:"since"`
}

func opNames(ops []booking.OpKind) []string {
	if len(ops) == 0 {
		return nil
	}
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

// =============================================================================
// LEDGER
// =============================================================================

type TxRecordDTO struct {
	Hash       string    `json:"hash"`
	Block      uint64    `json:"block"`
	Method     string    `json:"method"`
	From       string    `json:"from"`
	PropertyID uint64    `json:"property_id"`
	BookingID  uint64    `json:"booking_id"`
	Value      string    `json:"value,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	MinedAt    time.Time `json:"mined_at"`
}

func toTxRecordDTO(r devchain.TxRecord) TxRecordDTO {
	return TxRecordDTO{
		Hash:       r.Hash,
		Block:      r.Block,
		Method:     string(r.Method),
		From:       string(r.From),
		PropertyID: uint64(r.PropertyID),
		BookingID:  uint64(r.BookingID),
		Value:      r.Value,
		Status:     string(r.Status),
		Reason:     r.Reason,
		MinedAt:    r.MinedAt,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// NOTICES
// =============================================================================

// NoticeDTO is pushed over /api/events whenever a cached collection changes.
type NoticeDTO struct {
	Cause      string    `json:"cause"`
	Collection string    `json:"collection,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Event      string    `json:"event,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	User       string    `json:"user,omitempty"`
	At         time.Time `json:"at"`
}

func toNoticeDTO(n booking.Notice) NoticeDTO {
	dto := NoticeDTO{
		Cause:      n.Cause,
		Collection: string(n.Collection),
		Generation: n.Generation,
		User:       string(n.User),
		At:         n.At,
	}
	if n.Event != nil {
		dto.Event = string(n.Event.Kind)
		dto.TxHash = n.Event.TxHash
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
