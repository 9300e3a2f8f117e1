/*
handlers_test.go - HTTP API tests against an in-memory dev ledger

Tests for:
- Session connect/disconnect and the 401 guard on views
- List -> reserve -> confirm through the REST surface
- Error to status mapping
- Websocket notices
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/airblock/api"
	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/devchain"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	srv     *httptest.Server
	chain   *devchain.Chain
	handler *api.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := devchain.NewMemory()
	chain := devchain.New(backend, devchain.WithLogger(quietLogger()))
	require.NoError(t, chain.Start())

	ctrl := booking.NewController(booking.NewCache(), quietLogger())
	svc := booking.NewService(ctrl, booking.NewTracker(), quietLogger())
	h := api.NewHandler(chain, svc, &booking.Wallet{}, quietLogger())
	h.Backend = backend

	srv := httptest.NewServer(api.NewRouter(h, nil))
	t.Cleanup(func() {
		h.Events.Close()
		srv.Close()
		ctrl.Deactivate()
		chain.Stop()
	})
	return &testServer{srv: srv, chain: chain, handler: h}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (ts *testServer) connect(t *testing.T, addr booking.Address) {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/session", api.ConnectRequest{Address: string(addr)})
	require.Equal(t, http.StatusOK, status, string(body))
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

const (
	landlord booking.Address = "0x1a4d10d"
	tenant   booking.Address = "0x7e4a47"
)

// =============================================================================
// SESSION
// =============================================================================

func TestAPI_ViewsRequireSession(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[api.SessionDTO](t, body).Connected)

	for _, path := range []string{"/api/properties", "/api/listings", "/api/reservations"} {
		status, body = ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.NotEmpty(t, decode[api.ErrorResponse](t, body).Error)
	}
}

func TestAPI_ConnectAndDisconnect(t *testing.T) {
	// GIVEN: A connected session
	ts := newTestServer(t)
	ts.connect(t, tenant)

	status, body := ts.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	session := decode[api.SessionDTO](t, body)
	assert.True(t, session.Connected)
	assert.Equal(t, string(tenant), session.Address)
	assert.NotEmpty(t, session.Collections)

	// WHEN: It disconnects
	status, _ = ts.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusNoContent, status)

	// THEN: Views are refused again
	status, _ = ts.do(t, http.MethodGet, "/api/properties", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_ConnectValidation(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/api/session", api.ConnectRequest{Address: "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, "/api/session", api.ConnectRequest{Address: string(tenant), Views: []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// BOOKING FLOW
// =============================================================================

func TestAPI_ListReserveConfirm(t *testing.T) {
	// GIVEN: A landlord lists Casa Koko at 0.25 ETH
	ts := newTestServer(t)
	ts.connect(t, landlord)

	status, body := ts.do(t, http.MethodPost, "/api/properties", api.ListPropertyRequest{
		Name: "Casa Koko", Location: "Los Angeles", Price: "0.25", Currency: "ETH",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Equal(t, "confirmed", decode[api.OutcomeDTO](t, body).Status)

	status, body = ts.do(t, http.MethodGet, "/api/listings", nil)
	require.Equal(t, http.StatusOK, status)
	listings := decode[[]api.PropertyDTO](t, body)
	require.Len(t, listings, 1)
	assert.Equal(t, "250000000000000000", listings[0].Price.Raw)
	assert.Equal(t, "0.25", listings[0].Price.Display)
	assert.Equal(t, "Ξ", listings[0].Price.Symbol)

	// WHEN: A tenant quotes, reserves two nights and confirms
	ts.connect(t, tenant)
	status, body = ts.do(t, http.MethodGet, "/api/properties", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decode[[]api.PropertyDTO](t, body), 1)

	status, body = ts.do(t, http.MethodGet, "/api/properties/0/quote?check_in=2022-01-04&check_out=2022-01-06", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "0.5", decode[api.PriceDTO](t, body).Display)

	status, body = ts.do(t, http.MethodPost, "/api/properties/0/reserve", api.StayRequest{CheckIn: "2022-01-04", CheckOut: "2022-01-06"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = ts.do(t, http.MethodGet, "/api/reservations", nil)
	require.Equal(t, http.StatusOK, status)
	rows := decode[[]api.ReservationDTO](t, body)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, "500000000000000000", rows[0].Price.Raw)
	assert.Contains(t, rows[0].Actions, "confirm")
	assert.Equal(t, "requested", rows[0].Booking.State)

	status, body = ts.do(t, http.MethodGet, "/api/bookings/0/price", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "0.5", decode[api.PriceDTO](t, body).Display)

	status, body = ts.do(t, http.MethodPost, "/api/bookings/0/confirm", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	// THEN: The booking is confirmed, paid 0.5 ETH, and cannot be confirmed again
	status, body = ts.do(t, http.MethodGet, "/api/reservations", nil)
	require.Equal(t, http.StatusOK, status)
	rows = decode[[]api.ReservationDTO](t, body)
	assert.Equal(t, "confirmed", rows[0].Booking.State)
	assert.Empty(t, rows[0].Actions)

	status, _ = ts.do(t, http.MethodPost, "/api/bookings/0/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = ts.do(t, http.MethodGet, "/api/ledger/transactions", nil)
	require.Equal(t, http.StatusOK, status)
	var ledger struct {
		Height       uint64            `json:"height"`
		Transactions []api.TxRecordDTO `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(body, &ledger))
	assert.Equal(t, uint64(3), ledger.Height)
	require.Len(t, ledger.Transactions, 3)
	assert.Equal(t, "confirmBooking", ledger.Transactions[2].Method)
	assert.Equal(t, "500000000000000000", ledger.Transactions[2].Value)

	status, body = ts.do(t, http.MethodGet, "/api/pending", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]api.PendingOpDTO](t, body))
}

func TestAPI_ShortPaymentIsReverted(t *testing.T) {
	// GIVEN: A requested USD booking totalling 300
	ts := newTestServer(t)
	ts.connect(t, landlord)
	status, _ := ts.do(t, http.MethodPost, "/api/properties", api.ListPropertyRequest{Name: "Cabin", Price: "100", Currency: "USD"})
	require.Equal(t, http.StatusCreated, status)

	ts.connect(t, tenant)
	status, _ = ts.do(t, http.MethodPost, "/api/properties/0/reserve", api.StayRequest{CheckIn: "2022-02-01", CheckOut: "2022-02-04"})
	require.Equal(t, http.StatusCreated, status)

	// WHEN: The tenant pays 250
	status, body := ts.do(t, http.MethodPost, "/api/bookings/0/confirm", api.ConfirmRequest{Payment: "250"})

	// THEN: It is rejected and the booking stays requested
	assert.Equal(t, http.StatusUnprocessableEntity, status, string(body))
	status, body = ts.do(t, http.MethodGet, "/api/reservations", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "requested", decode[[]api.ReservationDTO](t, body)[0].Booking.State)
}

func TestAPI_CancelAndModify(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, landlord)
	status, _ := ts.do(t, http.MethodPost, "/api/properties", api.ListPropertyRequest{Name: "Loft", Price: "120", Currency: "EUR"})
	require.Equal(t, http.StatusCreated, status)

	ts.connect(t, tenant)
	status, _ = ts.do(t, http.MethodPost, "/api/properties/0/reserve", api.StayRequest{CheckIn: "2022-05-01", CheckOut: "2022-05-03"})
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.do(t, http.MethodPost, "/api/bookings/0/modify", api.StayRequest{CheckIn: "2022-05-02", CheckOut: "2022-05-06"})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = ts.do(t, http.MethodGet, "/api/reservations", nil)
	require.Equal(t, http.StatusOK, status)
	rows := decode[[]api.ReservationDTO](t, body)
	require.Len(t, rows, 1)
	assert.Equal(t, "2022-05-06", rows[0].Booking.CheckOutDate)
	assert.Equal(t, "480", rows[0].Booking.TotalPrice.Raw)

	status, _ = ts.do(t, http.MethodPost, "/api/bookings/0/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/api/bookings/0/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status, "cancelled is terminal")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, landlord)
	status, _ := ts.do(t, http.MethodPost, "/api/properties", api.ListPropertyRequest{Name: "Loft", Price: "120", Currency: "EUR"})
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodPost, "/api/bookings/abc/cancel", nil, http.StatusBadRequest},
		{"unknown property", http.MethodPost, "/api/properties/99/deactivate", nil, http.StatusNotFound},
		{"unknown booking price", http.MethodGet, "/api/bookings/7/price", nil, http.StatusNotFound},
		{"reversed dates", http.MethodPost, "/api/properties/0/reserve", api.StayRequest{CheckIn: "2022-05-03", CheckOut: "2022-05-01"}, http.StatusUnprocessableEntity},
		{"malformed date", http.MethodPost, "/api/properties/0/reserve", api.StayRequest{CheckIn: "soon", CheckOut: "2022-05-01"}, http.StatusUnprocessableEntity},
		{"unknown booking", http.MethodPost, "/api/bookings/3/cancel", nil, http.StatusNotFound},
		{"quote without dates", http.MethodGet, "/api/properties/0/quote", nil, http.StatusUnprocessableEntity},
		{"unknown currency", http.MethodPost, "/api/properties", api.ListPropertyRequest{Name: "X", Price: "1", Currency: "DOGE"}, http.StatusUnprocessableEntity},
		{"malformed body", http.MethodPost, "/api/properties", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, status, string(body))
		})
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAPI_EventsFeed(t *testing.T) {
	// GIVEN: A connected session and a websocket client
	ts := newTestServer(t)
	ts.connect(t, tenant)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// WHEN: The session is refreshed
	status, _ := ts.do(t, http.MethodPost, "/api/sync/refresh", nil)
	require.Equal(t, http.StatusOK, status)

	// THEN: The client receives a refresh notice for a collection
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var n api.NoticeDTO
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, booking.CauseRefresh, n.Cause)
	assert.NotEmpty(t, n.Collection)
	assert.Equal(t, string(tenant), n.User)
}
