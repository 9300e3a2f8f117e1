/*
scheduler.go - Periodic cache refresh

PURPOSE:
  Re-reads every collection the active session tracks on a fixed interval.
  Two event re-reads can land out of order and leave the cache one
  generation behind until the next notification; the periodic refresh
  bounds how long that lasts.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Does nothing while no wallet is connected
  - Failures are logged and retried on the next tick

USAGE:
  scheduler := NewRefreshScheduler(controller, 30*time.Second, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Refresh endpoint (manual refresh)
  - booking/sync.go: Controller.Refresh
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/airblock/booking"
)

// RefreshScheduler periodically refreshes the controller's collections.
type RefreshScheduler struct {
	Controller *booking.Controller
	Interval   time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefreshScheduler creates a scheduler. A zero interval disables it.
func NewRefreshScheduler(ctrl *booking.Controller, interval time.Duration, logger *slog.Logger) *RefreshScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduler{
		Controller: ctrl,
		Interval:   interval,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.logger.Info("refresh scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run()

	rs.logger.Info("refresh scheduler started", "interval", rs.Interval)
}

// Stop stops the scheduler.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.logger.Info("refresh scheduler stopped")
	}
}

func (rs *RefreshScheduler) run() {
	defer rs.wg.Done()
	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow()
		case <-rs.stop:
			return
		}
	}
}

// RunNow refreshes immediately. It reports whether a session was refreshed.
func (rs *RefreshScheduler) RunNow() bool {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout())
	defer cancel()

	err := rs.Controller.Refresh(ctx)
	switch {
	case errors.Is(err, booking.ErrNotConnected):
		return false
	case err != nil:
		rs.logger.Warn("periodic refresh failed", "err", err)
		return false
	}
	return true
}

func (rs *RefreshScheduler) timeout() time.Duration {
	if rs.Interval > 0 {
		return rs.Interval
	}
	return 30 * time.Second
}
