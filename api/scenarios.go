/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Seeds the dev ledger with listings and bookings so the UI has something
	to show. Scenarios submit ordinary contract calls from demo addresses,
	so the ledger validates them like any other transaction and connected
	sessions learn about them through the usual notifications.

AVAILABLE SCENARIOS:

	casa-koko:     One landlord, three listings in three currencies
	busy-season:   casa-koko plus requested, confirmed and cancelled
	               bookings from two tenants, and a retired listing

HOW SCENARIOS WORK:
 1. Reset the ledger backend (when it supports it)
 2. List properties as DemoLandlord
 3. Rent, confirm and cancel as DemoGuest / DemoGuest2
 4. Refresh the active session, if any

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-season"}

NOTE:

	Scenarios reset the ledger. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - devchain/contract.go: the rules every seeded call goes through
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/airblock/booking"
)

// Demo wallet addresses used by the scenarios.
const (
	DemoLandlord booking.Address = "0x5a1e0f3c9d2b4e6a8c0d1f3b5a7c9e1d3f5b7a9c"
	DemoGuest    booking.Address = "0x7b2c4d6e8f0a1b3c5d7e9f1a3b5c7d9e1f3a5b7d"
	DemoGuest2   booking.Address = "0x9c3d5e7f9a1b2c4d6e8f0a2b4c6d8e0f2a4b6c8e"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "casa-koko",
		Name:        "Casa Koko",
		Description: "One landlord with listings priced in ETH, EUR and USD",
	},
	{
		ID:          "busy-season",
		Name:        "Busy Season",
		Description: "Requested, confirmed and cancelled bookings, plus an inactive listing",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "casa-koko":
		load = func(ctx context.Context) error {
			_, err := h.loadCasaKokoScenario(ctx)
			return err
		}
	case "busy-season":
		load = h.loadBusySeasonScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.resetLedger(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset ledger", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.refreshSession(ctx)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"height":   h.Chain.Height(),
	})
}

// ResetDatabase wipes the ledger backend.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Backend == nil {
		writeError(w, http.StatusNotImplemented, "Ledger backend cannot be reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Backend.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset ledger", err)
		return
	}
	h.currentScenario = ""
	h.refreshSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetLedger(ctx context.Context) error {
	if h.Backend == nil {
		return nil
	}
	return h.Backend.Reset(ctx)
}

// refreshSession brings a connected session up to date with seeded data that
// no notification covered (rentals, deactivations, a reset).
func (h *Handler) refreshSession(ctx context.Context) {
	// Event re-reads started mid-scenario saw partial state; let them land first.
	h.controller().Wait()
	if err := h.controller().Refresh(ctx); err != nil && !errors.Is(err, booking.ErrNotConnected) {
		h.logger.Warn("refresh after scenario failed", "err", err)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type casaKoko struct {
	casa, loft, cabin booking.PropertyID
}

func (h *Handler) loadCasaKokoScenario(ctx context.Context) (casaKoko, error) {
	var (
		ids casaKoko
		err error
	)
	ids.casa, err = h.seedListing(ctx, DemoLandlord, booking.PropertyDraft{
		Name:        "Casa Koko",
		Description: "Hillside bungalow with a view of the canyon",
		Location:    "Los Angeles",
		Images:      []string{"ipfs://casa-koko/1.jpg", "ipfs://casa-koko/2.jpg"},
		Price:       "0.25",
		Currency:    string(booking.ETH),
	})
	if err != nil {
		return ids, err
	}
	ids.loft, err = h.seedListing(ctx, DemoLandlord, booking.PropertyDraft{
		Name:        "Loft Alfama",
		Description: "Top floor, tiled terrace",
		Location:    "Lisbon",
		Images:      []string{"ipfs://alfama/1.jpg"},
		Price:       "120",
		Currency:    string(booking.EUR),
	})
	if err != nil {
		return ids, err
	}
	ids.cabin, err = h.seedListing(ctx, DemoLandlord, booking.PropertyDraft{
		Name:     "Lake Cabin",
		Location: "Lake Tahoe",
		Price:    "1,250",
		Currency: string(booking.USD),
	})
	return ids, err
}

func (h *Handler) loadBusySeasonScenario(ctx context.Context) error {
	ids, err := h.loadCasaKokoScenario(ctx)
	if err != nil {
		return err
	}

	// Requested, awaiting payment.
	if _, err := h.seedRental(ctx, DemoGuest, ids.casa, "2022-01-04", "2022-01-06"); err != nil {
		return err
	}

	// Confirmed at the quoted total.
	confirmed, err := h.seedRental(ctx, DemoGuest2, ids.loft, "2022-03-01", "2022-03-04")
	if err != nil {
		return err
	}
	if err := h.seedSubmit(ctx, booking.Operation{
		Method: booking.MethodConfirmBooking, From: DemoGuest2,
		BookingID: confirmed.ID, Value: &confirmed.TotalPrice,
	}); err != nil {
		return err
	}

	// Cancelled, days freed.
	cancelled, err := h.seedRental(ctx, DemoGuest, ids.cabin, "2022-07-01", "2022-07-08")
	if err != nil {
		return err
	}
	if err := h.seedSubmit(ctx, booking.Operation{
		Method: booking.MethodDeleteBooking, From: DemoGuest, BookingID: cancelled.ID,
	}); err != nil {
		return err
	}

	// Retired listing, visible only to its owner.
	barn, err := h.seedListing(ctx, DemoLandlord, booking.PropertyDraft{
		Name:     "Old Barn",
		Location: "Vermont",
		Price:    "80",
		Currency: string(booking.CAD),
	})
	if err != nil {
		return err
	}
	return h.seedSubmit(ctx, booking.Operation{Method: booking.MethodMarkInactive, From: DemoLandlord, PropertyID: barn})
}

// =============================================================================
// HELPERS
// =============================================================================

// seedSubmit sends op and waits for it. A revert is an error.
func (h *Handler) seedSubmit(ctx context.Context, op booking.Operation) error {
	receipt, err := h.Chain.Submit(ctx, op)
	if err != nil {
		return fmt.Errorf("submit %s: %w", op.Method, err)
	}
	outcome, err := h.Chain.AwaitConfirmation(ctx, receipt)
	if err != nil {
		return fmt.Errorf("await %s: %w", op.Method, err)
	}
	if outcome.Status == booking.OutcomeReverted {
		return fmt.Errorf("%s reverted: %s", op.Method, outcome.Reason)
	}
	return nil
}

func (h *Handler) seedListing(ctx context.Context, owner booking.Address, draft booking.PropertyDraft) (booking.PropertyID, error) {
	listing, err := draft.Listing()
	if err != nil {
		return 0, fmt.Errorf("listing %q: %w", draft.Name, err)
	}
	if err := h.seedSubmit(ctx, booking.Operation{Method: booking.MethodListProperty, From: owner, Listing: &listing}); err != nil {
		return 0, err
	}

	props, err := h.Chain.ReadPropertiesForOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	var newest booking.PropertyID
	for _, p := range props {
		if p.ID >= newest {
			newest = p.ID
		}
	}
	return newest, nil
}

func (h *Handler) seedRental(ctx context.Context, tenant booking.Address, id booking.PropertyID, in, out string) (booking.Booking, error) {
	stay, err := booking.ParseStay(in, out)
	if err != nil {
		return booking.Booking{}, err
	}
	args := booking.StayArgsOf(stay)
	if err := h.seedSubmit(ctx, booking.Operation{
		Method: booking.MethodRentProperty, From: tenant, PropertyID: id, Stay: &args,
	}); err != nil {
		return booking.Booking{}, err
	}

	bookings, err := h.Chain.ReadBookingsForTenant(ctx, tenant)
	if err != nil {
		return booking.Booking{}, err
	}
	if len(bookings) == 0 {
		return booking.Booking{}, fmt.Errorf("rental by %s not found", tenant)
	}
	newest := bookings[0]
	for _, b := range bookings[1:] {
		if b.ID > newest.ID {
			newest = b
		}
	}
	return newest, nil
}
