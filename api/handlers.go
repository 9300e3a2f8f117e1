/*
handlers.go - HTTP API handlers for the AirBlock client

PURPOSE:
  Exposes one client session (wallet + Synchronization Controller + action
  Service) over REST. Views are served from the Entity Cache; actions go
  through the Service, which submits to the ledger and waits for the outcome.

ENDPOINTS:
  Session:
    GET    /api/session                       Current session and cached collections
    POST   /api/session                       Connect a wallet address, start syncing
    DELETE /api/session                       Disconnect, drop the cache
    POST   /api/sync/refresh                  Re-read every tracked collection

  Properties:
    GET    /api/properties                    Explore view
    POST   /api/properties                    List a property
    GET    /api/listings                      Properties owned by the session user
    POST   /api/properties/{id}/deactivate    Mark inactive (owner)
    POST   /api/properties/{id}/reserve       Request a stay
    GET    /api/properties/{id}/quote         Price a stay (?check_in=&check_out=)

  Bookings:
    GET    /api/reservations                  Reservations view
    POST   /api/bookings/{id}/confirm         Pay and confirm
    POST   /api/bookings/{id}/cancel          Cancel
    POST   /api/bookings/{id}/modify          Change dates
    GET    /api/bookings/{id}/price           Confirmation price

  Ledger:
    GET    /api/pending                       In-flight operations
    GET    /api/ledger/transactions           Mined transactions
    GET    /api/events                        Websocket feed of cache notices

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input
  - 401: No wallet connected
  - 404: Entity not in the cache
  - 409: Operation already pending on the entity
  - 422: Rejected (invalid transition, range, local check or ledger revert)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: Websocket hub
  - scenarios.go: Demo data
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/devchain"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by ledger backends that can be wiped for demos.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Chain   *devchain.Chain
	Service *booking.Service
	Wallet  *booking.Wallet
	Events  *EventHub

	// Backend is optional; without it scenarios load on top of existing data.
	Backend Resetter

	logger *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler and subscribes its event hub to the controller.
func NewHandler(chain *devchain.Chain, svc *booking.Service, wallet *booking.Wallet, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	h := &Handler{
		Chain:   chain,
		Service: svc,
		Wallet:  wallet,
		Events:  NewEventHub(logger),
		logger:  logger,
	}
	svc.Controller.AddNoticeSink(h.Events)
	return h
}

func (h *Handler) controller() *booking.Controller { return h.Service.Controller }

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// GetSession reports the connected address and what is cached.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionDTO())
}

// Connect switches the session to the given address.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	addr := booking.NormalizeAddress(req.Address)
	if addr.IsZero() {
		writeError(w, http.StatusBadRequest, "address is required", nil)
		return
	}

	views := make([]booking.View, 0, len(req.Views))
	for _, s := range req.Views {
		v, err := booking.ParseView(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid view", err)
			return
		}
		views = append(views, v)
	}

	h.Wallet.Connect(addr)
	if err := h.controller().Activate(r.Context(), h.Chain, h.Wallet, views...); err != nil {
		h.Wallet.Disconnect()
		h.fail(w, "Failed to connect", err)
		return
	}

	writeJSON(w, http.StatusOK, h.sessionDTO())
}

// Disconnect ends the session.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.controller().Deactivate()
	h.Wallet.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// Refresh re-reads every collection the session tracks.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.controller().Refresh(r.Context()); err != nil {
		h.fail(w, "Failed to refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionDTO())
}

func (h *Handler) sessionDTO() SessionDTO {
	_, user, ok := h.controller().Session()
	dto := SessionDTO{Connected: ok, Address: string(user), Collections: []CollectionDTO{}}
	if !ok {
		return dto
	}
	for _, info := range h.controller().Cache().Collections() {
		dto.Collections = append(dto.Collections, CollectionDTO{
			Name:       string(info.Collection),
			Generation: info.Generation,
			Size:       info.Size,
		})
	}
	sort.Slice(dto.Collections, func(i, j int) bool { return dto.Collections[i].Name < dto.Collections[j].Name })
	return dto
}

// =============================================================================
// PROPERTY HANDLERS
// =============================================================================

// Explore returns active properties plus the user's own inactive ones.
func (h *Handler) Explore(w http.ResponseWriter, r *http.Request) {
	props, err := h.Service.ExploreView()
	if err != nil {
		h.fail(w, "Failed to load properties", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPropertyDTOs(props))
}

// Listings returns the user's properties.
func (h *Handler) Listings(w http.ResponseWriter, r *http.Request) {
	props, err := h.Service.ListingsView()
	if err != nil {
		h.fail(w, "Failed to load listings", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPropertyDTOs(props))
}

// ListProperty submits a new listing and waits for it to be mined.
func (h *Handler) ListProperty(w http.ResponseWriter, r *http.Request) {
	var req ListPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcome, err := h.Service.ListProperty(r.Context(), req.draft())
	if err != nil {
		h.fail(w, "Failed to list property", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(outcome))
}

// DeactivateProperty marks a property inactive.
func (h *Handler) DeactivateProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := propertyIDParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.Service.DeactivateProperty(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to deactivate property", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// Reserve requests a stay at a property.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	id, ok := propertyIDParam(w, r)
	if !ok {
		return
	}
	stay, ok := decodeStay(w, r)
	if !ok {
		return
	}
	outcome, err := h.Service.Reserve(r.Context(), id, stay)
	if err != nil {
		h.fail(w, "Failed to reserve", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(outcome))
}

// QuoteStay prices a prospective stay from the cached property.
func (h *Handler) QuoteStay(w http.ResponseWriter, r *http.Request) {
	id, ok := propertyIDParam(w, r)
	if !ok {
		return
	}
	stay, err := booking.ParseStay(r.URL.Query().Get("check_in"), r.URL.Query().Get("check_out"))
	if err != nil {
		h.fail(w, "Invalid dates", err)
		return
	}
	if _, _, ok := h.controller().Session(); !ok {
		h.fail(w, "Failed to quote", booking.ErrNotConnected)
		return
	}

	price, err := h.Service.QuoteStay(id, stay)
	if err != nil {
		h.fail(w, "Failed to quote", err)
		return
	}
	p, _ := h.controller().Cache().FindProperty(id)
	writeJSON(w, http.StatusOK, toPriceDTO(price, p.Currency))
}

func (h *Handler) toPropertyDTOs(props []booking.Property) []PropertyDTO {
	dtos := make([]PropertyDTO, 0, len(props))
	for _, p := range props {
		dtos = append(dtos, toPropertyDTO(p, h.Service.Tracker.PendingFor(booking.PropertyRef(p.ID))))
	}
	return dtos
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// Reservations returns the user's bookings joined with their properties.
func (h *Handler) Reservations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.ReservationsView()
	if err != nil {
		h.fail(w, "Failed to load reservations", err)
		return
	}
	dtos := make([]ReservationDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, toReservationDTO(row))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ConfirmBooking pays for a booking. The body is optional.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		outcome booking.Outcome
		err     error
	)
	if req.Payment == "" {
		outcome, err = h.Service.Confirm(r.Context(), id)
	} else {
		currency, cerr := h.bookingCurrency(id)
		if cerr != nil {
			h.fail(w, "Failed to confirm booking", cerr)
			return
		}
		payment, perr := booking.ParsePrice(req.Payment, currency)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment", perr)
			return
		}
		outcome, err = h.Service.ConfirmWithPayment(r.Context(), id, payment)
	}
	if err != nil {
		h.fail(w, "Failed to confirm booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// CancelBooking cancels a booking and frees its days.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.Service.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// ModifyBooking moves a booking to new dates.
func (h *Handler) ModifyBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	stay, ok := decodeStay(w, r)
	if !ok {
		return
	}
	outcome, err := h.Service.Modify(r.Context(), id, stay)
	if err != nil {
		h.fail(w, "Failed to modify booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// BookingPrice returns what confirming the booking would cost.
func (h *Handler) BookingPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	currency, err := h.bookingCurrency(id)
	if err != nil {
		h.fail(w, "Failed to price booking", err)
		return
	}
	price, err := h.Service.Quote(id)
	if err != nil {
		h.fail(w, "Failed to price booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceDTO(price, currency))
}

// bookingCurrency finds the currency of a cached booking's property.
func (h *Handler) bookingCurrency(id booking.BookingID) (booking.Currency, error) {
	if _, _, ok := h.controller().Session(); !ok {
		return "", booking.ErrNotConnected
	}
	cache := h.controller().Cache()
	b, ok := cache.FindBooking(id)
	if !ok {
		return "", fmt.Errorf("%w: booking %d", booking.ErrNotFound, id)
	}
	p, ok := cache.FindProperty(b.PropertyID)
	if !ok {
		return "", &booking.StaleReferenceError{BookingID: b.ID, PropertyID: b.PropertyID}
	}
	return p.Currency, nil
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListPending returns the operations in flight, oldest first.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	ops := h.Service.Tracker.Pending()
	sort.Slice(ops, func(i, j int) bool { return ops[i].Since.Before(ops[j].Since) })

	dtos := make([]PendingOpDTO, 0, len(ops))
	for _, op := range ops {
		dtos = append(dtos, PendingOpDTO{Entity: op.Ref.String(), Op: string(op.Op), Since: op.Since})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransactions returns the ledger's transaction log.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Chain.Records(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	dtos := make([]TxRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toTxRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height":       h.Chain.Height(),
		"transactions": dtos,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail writes err with the status its kind maps to.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "err", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, booking.ErrAlreadyPending):
		return http.StatusConflict
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrRejectedOperation):
		return http.StatusUnprocessableEntity
	case booking.IsClientError(err):
		return http.StatusBadRequest
	case booking.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func propertyIDParam(w http.ResponseWriter, r *http.Request) (booking.PropertyID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid property id", err)
		return 0, false
	}
	return booking.PropertyID(id), true
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (booking.BookingID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid booking id", err)
		return 0, false
	}
	return booking.BookingID(id), true
}

func decodeStay(w http.ResponseWriter, r *http.Request) (booking.Stay, bool) {
	var req StayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return booking.Stay{}, false
	}
	stay, err := req.stay()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid dates", err)
		return booking.Stay{}, false
	}
	return stay, true
}
