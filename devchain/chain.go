/*
chain.go - In-process ledger implementing booking.Gateway

PURPOSE:
  A single-node ledger for development, demos and tests. It runs the AirBlock
  contract rules over a Backend, mines one transaction per block in
  submission order, and delivers events to subscribers in block order.

MINING:
  Submit ─▶ queue ─▶ miner goroutine ─▶ Backend.WithTx(contract call)
                                          │
                      ┌───────────────────┴───────────────────┐
                  confirmed                                reverted
           record + events delivered              state rolled back,
                                                  record with reason
  Then the receipt is released to AwaitConfirmation.

  With a block time set, the miner waits that long before each block, which
  makes the pending window observable.

DELIVERY:
  Sinks are called synchronously on the miner goroutine, in subscription
  order, before the receipt is released. A sink must not block.

USAGE:
  chain := devchain.New(devchain.NewMemory(), devchain.WithBlockTime(time.Second))
  chain.Start()
  defer chain.Stop()

SEE ALSO:
  - contract.go: the rules
  - backend.go: storage
*/
package devchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/airblock/booking"
)

var (
	ErrStopped        = errors.New("ledger stopped")
	ErrUnknownReceipt = errors.New("unknown transaction")
	ErrUnknownHandle  = errors.New("unknown subscription")
)

const (
	queueSize = 64

	// DefaultReceiptRetention is how many mined receipts AwaitConfirmation
	// can still answer for.
	DefaultReceiptRetention = 1024
)

// =============================================================================
// OPTIONS
// =============================================================================

type Option func(*Chain)

// WithBlockTime delays each block by d.
func WithBlockTime(d time.Duration) Option {
	return func(c *Chain) { c.blockTime = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// WithReceiptRetention keeps the receipts of the last n mined transactions.
// Older ones are dropped and awaiting them returns ErrUnknownReceipt.
func WithReceiptRetention(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithClock overrides the time source for MinedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// =============================================================================
// CHAIN
// =============================================================================

type queued struct {
	hash string
	op   booking.Operation
}

type receipt struct {
	done    chan struct{}
	outcome booking.Outcome
}

type subscriber struct {
	handle booking.SubscriptionHandle
	kind   booking.EventKind
	sink   booking.EventSink
}

type Chain struct {
	backend   Backend
	logger    *slog.Logger
	blockTime time.Duration
	now       func() time.Time

	queue chan queued
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	height   uint64
	receipts map[string]*receipt
	mined    []string // receipt hashes in mining order, oldest first

	retention int

	subMu sync.RWMutex
	subs  []subscriber
}

func New(backend Backend, opts ...Option) *Chain {
	c := &Chain{
		backend:  backend,
		logger:   slog.Default(),
		now:      time.Now,
		queue:    make(chan queued, queueSize),
		stop:     make(chan struct{}),
		receipts:  make(map[string]*receipt),
		retention: DefaultReceiptRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "devchain")
	return c
}

// Start launches the miner. Height resumes from the backend's record log.
func (c *Chain) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if c.stopped {
		return ErrStopped
	}

	h, err := c.backend.Height(context.Background())
	if err != nil {
		return fmt.Errorf("read height: %w", err)
	}
	c.height = h
	c.started = true

	c.wg.Add(1)
	go c.run()
	c.logger.Info("ledger started", "height", h, "block_time", c.blockTime)
	return nil
}

// Stop halts mining. Queued transactions that were not mined are released
// with ErrStopped to their waiters.
func (c *Chain) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("ledger stopped")
}

func (c *Chain) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case tx := <-c.queue:
			if c.blockTime > 0 {
				timer := time.NewTimer(c.blockTime)
				select {
				case <-timer.C:
				case <-c.stop:
					timer.Stop()
					return
				}
			}
			c.mine(tx)
		}
	}
}

func (c *Chain) mine(tx queued) {
	ctx := context.Background()

	c.mu.Lock()
	c.height++
	block := c.height
	c.mu.Unlock()

	rec := TxRecord{
		Hash:       tx.hash,
		Block:      block,
		Method:     tx.op.Method,
		From:       tx.op.From,
		PropertyID: tx.op.PropertyID,
		BookingID:  tx.op.BookingID,
		MinedAt:    c.now(),
		Status:     booking.OutcomeConfirmed,
	}
	if tx.op.Value != nil {
		rec.Value = tx.op.Value.String()
	}

	var events []booking.Event
	err := c.backend.WithTx(ctx, func(st State) error {
		evs, err := execute(ctx, st, tx.op)
		if err != nil {
			return err
		}
		events = evs
		return st.AppendRecord(ctx, rec)
	})

	outcome := booking.Outcome{Status: booking.OutcomeConfirmed, TxHash: tx.hash, Block: block}
	if err != nil {
		var rev *Revert
		if errors.As(err, &rev) {
			outcome.Reason = rev.Reason
		} else {
			c.logger.Error("contract call failed", "tx", tx.hash, "method", tx.op.Method, "err", err)
			outcome.Reason = err.Error()
		}
		outcome.Status = booking.OutcomeReverted
		rec.Status, rec.Reason = booking.OutcomeReverted, outcome.Reason
		if err := c.backend.AppendRecord(ctx, rec); err != nil {
			c.logger.Error("recording reverted tx failed", "tx", tx.hash, "err", err)
		}
		events = nil
	}

	c.logger.Debug("block mined", "block", block, "tx", tx.hash, "method", tx.op.Method, "status", outcome.Status, "reason", outcome.Reason)

	for _, ev := range events {
		ev.TxHash, ev.Block = tx.hash, block
		c.deliver(ev)
	}

	c.mu.Lock()
	r := c.receipts[tx.hash]
	if r != nil {
		r.outcome = outcome
		close(r.done)
		c.retain(tx.hash)
	}
	c.mu.Unlock()
}

// retain records hash as mined and drops the oldest receipts past the
// retention limit. Waiters already holding a receipt still get its outcome.
// Callers hold c.mu.
func (c *Chain) retain(hash string) {
	c.mined = append(c.mined, hash)
	if over := len(c.mined) - c.retention; over > 0 {
		for _, h := range c.mined[:over] {
			delete(c.receipts, h)
		}
		c.mined = append(c.mined[:0], c.mined[over:]...)
	}
}

func (c *Chain) deliver(ev booking.Event) {
	c.subMu.RLock()
	subs := append([]subscriber(nil), c.subs...)
	c.subMu.RUnlock()
	for _, s := range subs {
		if s.kind == ev.Kind {
			s.sink.HandleLedgerEvent(ev)
		}
	}
}

// =============================================================================
// SUBMISSION
// =============================================================================

func newTxHash() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Chain) Submit(ctx context.Context, op booking.Operation) (booking.PendingReceipt, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return booking.PendingReceipt{}, ErrStopped
	}
	hash := newTxHash()
	c.receipts[hash] = &receipt{done: make(chan struct{})}
	c.mu.Unlock()

	select {
	case c.queue <- queued{hash: hash, op: op}:
	case <-ctx.Done():
		c.forget(hash)
		return booking.PendingReceipt{}, ctx.Err()
	case <-c.stop:
		c.forget(hash)
		return booking.PendingReceipt{}, ErrStopped
	}

	c.logger.Debug("tx submitted", "tx", hash, "method", op.Method, "from", op.From)
	return booking.PendingReceipt{TxHash: hash, Method: op.Method, SubmittedAt: c.now()}, nil
}

func (c *Chain) forget(hash string) {
	c.mu.Lock()
	delete(c.receipts, hash)
	c.mu.Unlock()
}

// AwaitConfirmation blocks until the transaction is mined. Receipts of the
// last retention-limit mined transactions are kept, so awaiting one of them
// again returns the same outcome.
func (c *Chain) AwaitConfirmation(ctx context.Context, pr booking.PendingReceipt) (booking.Outcome, error) {
	c.mu.Lock()
	r, ok := c.receipts[pr.TxHash]
	c.mu.Unlock()
	if !ok {
		return booking.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownReceipt, pr.TxHash)
	}

	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return booking.Outcome{}, ctx.Err()
	case <-c.stop:
		return booking.Outcome{}, ErrStopped
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (c *Chain) Subscribe(kind booking.EventKind, sink booking.EventSink) (booking.SubscriptionHandle, error) {
	if sink == nil {
		return "", errors.New("nil sink")
	}
	h := booking.SubscriptionHandle(uuid.NewString())
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, subscriber{handle: h, kind: kind, sink: sink})
	return h, nil
}

func (c *Chain) Unsubscribe(h booking.SubscriptionHandle) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, s := range c.subs {
		if s.handle == h {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
}

// =============================================================================
// READS
// =============================================================================

func (c *Chain) ReadAllProperties(ctx context.Context) ([]booking.Property, error) {
	return c.backend.Properties(ctx)
}

func (c *Chain) ReadActiveProperties(ctx context.Context) ([]booking.Property, error) {
	all, err := c.backend.Properties(ctx)
	if err != nil {
		return nil, err
	}
	var out []booking.Property
	for _, p := range all {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Chain) ReadPropertiesForOwner(ctx context.Context, owner booking.Address) ([]booking.Property, error) {
	all, err := c.backend.Properties(ctx)
	if err != nil {
		return nil, err
	}
	var out []booking.Property
	for _, p := range all {
		if p.Owner.Equal(owner) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Chain) ReadBookingsForTenant(ctx context.Context, user booking.Address) ([]booking.Booking, error) {
	all, err := c.backend.Bookings(ctx)
	if err != nil {
		return nil, err
	}
	var out []booking.Booking
	for _, b := range all {
		if b.User.Equal(user) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Chain) ReadAllBookings(ctx context.Context) ([]booking.Booking, error) {
	return c.backend.Bookings(ctx)
}

// Records returns the transaction log, oldest first.
func (c *Chain) Records(ctx context.Context) ([]TxRecord, error) {
	return c.backend.Records(ctx)
}

// Height is the number of the last mined block.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

var _ booking.Gateway = (*Chain)(nil)
