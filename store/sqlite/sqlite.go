/*
Package sqlite provides a SQLite-backed devchain.Backend.

PURPOSE:
  Persists the dev ledger's contract state and transaction log so a local
  chain survives restarts. Behaves exactly like devchain.Memory.

INTERFACES IMPLEMENTED:
  devchain.State:   Contract reads and writes
  devchain.Backend: WithTx (one SQL transaction per mined block)

APPEND-ONLY ENFORCEMENT:
  The transactions table is never updated or deleted from. A repeated hash
  fails with devchain.ErrRecordExists.

KEY TABLES:
  properties:   Listings, price stored as the raw integer string + unit
  booked_days:  (property_id, day) pairs, the contract's isBooked array
  bookings:     Booking requests and their lifecycle flags
  transactions: Every mined transaction, confirmed or reverted

CONCURRENCY:
  One connection. sync.RWMutex serializes writers; WithTx holds the write
  lock for the whole block, and everything inside it goes through the
  *sql.Tx.

WAL MODE:
  Opened with WAL so reads from the API do not block on a long block.

USAGE:
  store, err := sqlite.New("./data/airblock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  chain := devchain.New(store)

SEE ALSO:
  - devchain/backend.go: Interface definitions
  - devchain/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/devchain"
)

// Store implements devchain.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		images_json TEXT NOT NULL DEFAULT '[]',
		price TEXT NOT NULL,
		price_unit TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(owner);

	CREATE TABLE IF NOT EXISTS booked_days (
		property_id INTEGER NOT NULL REFERENCES properties(id),
		day INTEGER NOT NULL,
		PRIMARY KEY (property_id, day)
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY,
		property_id INTEGER NOT NULL REFERENCES properties(id),
		user TEXT NOT NULL,
		check_in_day INTEGER NOT NULL,
		check_out_day INTEGER NOT NULL,
		check_in_date TEXT NOT NULL DEFAULT '',
		check_out_date TEXT NOT NULL DEFAULT '',
		total_price TEXT NOT NULL,
		total_unit TEXT NOT NULL,
		is_confirmed INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user);

	-- Transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		hash TEXT PRIMARY KEY,
		block INTEGER NOT NULL,
		method TEXT NOT NULL,
		sender TEXT NOT NULL,
		property_id INTEGER NOT NULL DEFAULT 0,
		booking_id INTEGER NOT NULL DEFAULT 0,
		value TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		mined_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROPERTIES
// =============================================================================

func (s *Store) Properties(ctx context.Context) ([]booking.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadProperties(ctx, s.db)
}

func (s *Store) Property(ctx context.Context, id booking.PropertyID) (booking.Property, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadProperty(ctx, s.db, id)
}

func (s *Store) NextPropertyID(ctx context.Context) (booking.PropertyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextPropertyID(ctx, s.db)
}

func (s *Store) PutProperty(ctx context.Context, p booking.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := putProperty(ctx, sqlTx, p); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const propertyColumns = `id, owner, name, description, location, images_json, price, price_unit, currency, is_active`

func loadProperties(ctx context.Context, q querier) ([]booking.Property, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var props []booking.Property
	index := make(map[booking.PropertyID]int)
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		index[p.ID] = len(props)
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dayRows, err := q.QueryContext(ctx, `SELECT property_id, day FROM booked_days ORDER BY property_id, day`)
	if err != nil {
		return nil, fmt.Errorf("failed to query booked days: %w", err)
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var (
			id  booking.PropertyID
			day int
		)
		if err := dayRows.Scan(&id, &day); err != nil {
			return nil, fmt.Errorf("failed to scan booked day: %w", err)
		}
		if i, ok := index[id]; ok {
			props[i].BookedDays = append(props[i].BookedDays, day)
		}
	}
	return props, dayRows.Err()
}

func loadProperty(ctx context.Context, q querier, id booking.PropertyID) (booking.Property, bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	if err != nil {
		return booking.Property{}, false, fmt.Errorf("failed to query property: %w", err)
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		return booking.Property{}, false, err
	}
	p, err := scanProperty(rows)
	rows.Close()
	if err != nil {
		return booking.Property{}, false, err
	}

	days, err := q.QueryContext(ctx, `SELECT day FROM booked_days WHERE property_id = ? ORDER BY day`, id)
	if err != nil {
		return booking.Property{}, false, fmt.Errorf("failed to query booked days: %w", err)
	}
	defer days.Close()
	for days.Next() {
		var d int
		if err := days.Scan(&d); err != nil {
			return booking.Property{}, false, err
		}
		p.BookedDays = append(p.BookedDays, d)
	}
	return p, true, days.Err()
}

func scanProperty(rows *sql.Rows) (booking.Property, error) {
	var (
		p          booking.Property
		owner      string
		imagesJSON string
		price      string
		priceUnit  string
		currency   string
		isActive   bool
	)
	err := rows.Scan(&p.ID, &owner, &p.Name, &p.Description, &p.Location, &imagesJSON, &price, &priceUnit, &currency, &isActive)
	if err != nil {
		return p, fmt.Errorf("failed to scan property: %w", err)
	}

	p.Owner = booking.Address(owner)
	p.Currency = booking.Currency(currency)
	p.IsActive = isActive
	if err := json.Unmarshal([]byte(imagesJSON), &p.Images); err != nil {
		return p, fmt.Errorf("property %d images: %w", p.ID, err)
	}
	p.Price, err = booking.ParseRawValue(price, booking.Unit(priceUnit))
	if err != nil {
		return p, fmt.Errorf("property %d price: %w", p.ID, err)
	}
	return p, nil
}

func nextPropertyID(ctx context.Context, q querier) (booking.PropertyID, error) {
	var next booking.PropertyID
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM properties`).Scan(&next)
	return next, err
}

func putProperty(ctx context.Context, q querier, p booking.Property) error {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			description = excluded.description,
			location = excluded.location,
			images_json = excluded.images_json,
			price = excluded.price,
			price_unit = excluded.price_unit,
			currency = excluded.currency,
			is_active = excluded.is_active
	`,
		p.ID, string(p.Owner), p.Name, p.Description, p.Location, string(imagesJSON),
		p.Price.String(), string(p.Price.Unit), string(p.Currency), p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save property %d: %w", p.ID, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM booked_days WHERE property_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear booked days: %w", err)
	}
	for _, d := range p.BookedDays {
		if _, err := q.ExecContext(ctx, `INSERT INTO booked_days (property_id, day) VALUES (?, ?)`, p.ID, d); err != nil {
			return fmt.Errorf("failed to book day %d: %w", d, err)
		}
	}
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (s *Store) Bookings(ctx context.Context) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBookings(ctx, s.db, `ORDER BY id`)
}

func (s *Store) Booking(ctx context.Context, id booking.BookingID) (booking.Booking, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBooking(ctx, s.db, id)
}

func (s *Store) NextBookingID(ctx context.Context) (booking.BookingID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextBookingID(ctx, s.db)
}

func (s *Store) PutBooking(ctx context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putBooking(ctx, s.db, b)
}

const bookingColumns = `id, property_id, user, check_in_day, check_out_day, check_in_date, check_out_date,
	total_price, total_unit, is_confirmed, is_deleted`

func loadBookings(ctx context.Context, q querier, tail string, args ...any) ([]booking.Booking, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func loadBooking(ctx context.Context, q querier, id booking.BookingID) (booking.Booking, bool, error) {
	bs, err := loadBookings(ctx, q, `WHERE id = ?`, id)
	if err != nil || len(bs) == 0 {
		return booking.Booking{}, false, err
	}
	return bs[0], true, nil
}

func scanBooking(rows *sql.Rows) (booking.Booking, error) {
	var (
		b         booking.Booking
		user      string
		total     string
		totalUnit string
	)
	err := rows.Scan(&b.ID, &b.PropertyID, &user, &b.CheckInDay, &b.CheckOutDay, &b.CheckInDate, &b.CheckOutDate,
		&total, &totalUnit, &b.IsConfirmed, &b.IsDeleted)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.User = booking.Address(user)
	b.TotalPrice, err = booking.ParseRawValue(total, booking.Unit(totalUnit))
	if err != nil {
		return b, fmt.Errorf("booking %d total: %w", b.ID, err)
	}
	return b, nil
}

func nextBookingID(ctx context.Context, q querier) (booking.BookingID, error) {
	var next booking.BookingID
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM bookings`).Scan(&next)
	return next, err
}

func putBooking(ctx context.Context, q querier, b booking.Booking) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			check_in_day = excluded.check_in_day,
			check_out_day = excluded.check_out_day,
			check_in_date = excluded.check_in_date,
			check_out_date = excluded.check_out_date,
			total_price = excluded.total_price,
			total_unit = excluded.total_unit,
			is_confirmed = excluded.is_confirmed,
			is_deleted = excluded.is_deleted
	`,
		b.ID, b.PropertyID, string(b.User), b.CheckInDay, b.CheckOutDay, b.CheckInDate, b.CheckOutDate,
		b.TotalPrice.String(), string(b.TotalPrice.Unit), b.IsConfirmed, b.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking %d: %w", b.ID, err)
	}
	return nil
}

// =============================================================================
// TRANSACTION LOG (append-only)
// =============================================================================

func (s *Store) AppendRecord(ctx context.Context, r devchain.TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(ctx, s.db, r)
}

func (s *Store) Records(ctx context.Context) ([]devchain.TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadRecords(ctx, s.db)
}

func (s *Store) Height(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return height(ctx, s.db)
}

func appendRecord(ctx context.Context, q querier, r devchain.TxRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(hash, block, method, sender, property_id, booking_id, value, status, reason, mined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Hash, r.Block, string(r.Method), string(r.From), r.PropertyID, r.BookingID,
		nullString(r.Value), string(r.Status), nullString(r.Reason),
		r.MinedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return devchain.ErrRecordExists
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func loadRecords(ctx context.Context, q querier) ([]devchain.TxRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT hash, block, method, sender, property_id, booking_id, value, status, reason, mined_at
		FROM transactions
		ORDER BY block ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var records []devchain.TxRecord
	for rows.Next() {
		var (
			r       devchain.TxRecord
			method  string
			sender  string
			status  string
			value   sql.NullString
			reason  sql.NullString
			minedAt string
		)
		if err := rows.Scan(&r.Hash, &r.Block, &method, &sender, &r.PropertyID, &r.BookingID,
			&value, &status, &reason, &minedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		r.Method = booking.Method(method)
		r.From = booking.Address(sender)
		r.Status = booking.OutcomeStatus(status)
		r.Value = value.String
		r.Reason = reason.String
		r.MinedAt, _ = time.Parse(time.RFC3339Nano, minedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func height(ctx context.Context, q querier) (uint64, error) {
	var h uint64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(block), 0) FROM transactions`).Scan(&h)
	return h, err
}

// =============================================================================
// TRANSACTIONAL STORE (devchain.Backend interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(devchain.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Properties(ctx context.Context) ([]booking.Property, error) {
	return loadProperties(ctx, ts.tx)
}

func (ts *txStore) Property(ctx context.Context, id booking.PropertyID) (booking.Property, bool, error) {
	return loadProperty(ctx, ts.tx, id)
}

func (ts *txStore) NextPropertyID(ctx context.Context) (booking.PropertyID, error) {
	return nextPropertyID(ctx, ts.tx)
}

func (ts *txStore) PutProperty(ctx context.Context, p booking.Property) error {
	return putProperty(ctx, ts.tx, p)
}

func (ts *txStore) Bookings(ctx context.Context) ([]booking.Booking, error) {
	return loadBookings(ctx, ts.tx, `ORDER BY id`)
}

func (ts *txStore) Booking(ctx context.Context, id booking.BookingID) (booking.Booking, bool, error) {
	return loadBooking(ctx, ts.tx, id)
}

func (ts *txStore) NextBookingID(ctx context.Context) (booking.BookingID, error) {
	return nextBookingID(ctx, ts.tx)
}

func (ts *txStore) PutBooking(ctx context.Context, b booking.Booking) error {
	return putBooking(ctx, ts.tx, b)
}

func (ts *txStore) AppendRecord(ctx context.Context, r devchain.TxRecord) error {
	return appendRecord(ctx, ts.tx, r)
}

func (ts *txStore) Records(ctx context.Context) ([]devchain.TxRecord, error) {
	return loadRecords(ctx, ts.tx)
}

func (ts *txStore) Height(ctx context.Context) (uint64, error) {
	return height(ctx, ts.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "bookings", "booked_days", "properties"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ devchain.Backend = (*Store)(nil)
