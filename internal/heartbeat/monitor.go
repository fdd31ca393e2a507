// Package heartbeat keeps a session's liveness fresh on a fixed interval.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 30 * time.Second

// Beater is the session owner. Beat sets LastHeartbeat and Online on the
// current record and persists them best-effort.
type Beater interface {
	Beat(ctx context.Context) error
}

// BeatFunc adapts a function to Beater.
type BeatFunc func(ctx context.Context) error

// Beat implements Beater.
func (f BeatFunc) Beat(ctx context.Context) error { return f(ctx) }

// Monitor ticks a Beater.
type Monitor struct {
	beater   Beater
	interval time.Duration
	inFlight atomic.Bool
	beats    atomic.Int64
	failures atomic.Int64
}

// New creates a monitor. A non-positive interval uses DefaultInterval.
func New(b Beater, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{beater: b, interval: interval}
}

// Interval returns the tick period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Run beats every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick starts one beat unless the previous one is still running.
// Failures are logged and not retried; the next tick tries again.
func (m *Monitor) Tick(ctx context.Context) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("Heartbeat still in flight, skipping tick")
		return false
	}
	go func() {
		defer m.inFlight.Store(false)
		m.beats.Add(1)
		if err := m.beater.Beat(ctx); err != nil {
			m.failures.Add(1)
			log.Warn().Err(err).Msg("Heartbeat failed")
		}
	}()
	return true
}

// Stats returns the number of beats attempted and failed.
func (m *Monitor) Stats() (beats, failures int64) {
	return m.beats.Load(), m.failures.Load()
}
