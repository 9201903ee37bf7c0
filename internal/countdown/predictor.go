// Package countdown extrapolates an auction's seconds-remaining between
// infrequent authoritative timer pushes.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the subset of clockwork.Clock the predictor needs.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Predictor holds the last authoritative countdown value and derives the
// current remaining time from elapsed wall clock. Authoritative values always
// win; local ticks only read. Each authoritative overwrite bumps a generation
// so consumers can discard predictions computed under a stale baseline.
type Predictor struct {
	clock Clock

	mu        sync.Mutex
	lastValue int64
	lastAt    time.Time
	known     bool
	gen       uint64
}

// New returns a predictor with no baseline; predictions are unknown until the
// first authoritative value arrives.
func New(clock Clock) *Predictor {
	return &Predictor{clock: clock}
}

// SetAuthoritative overwrites the countdown baseline with a server-provided
// value and returns the new generation.
func (p *Predictor) SetAuthoritative(seconds int64) uint64 {
	if seconds < 0 {
		seconds = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastValue = seconds
	p.lastAt = p.clock.Now()
	p.known = true
	p.gen++
	return p.gen
}

// Predict returns max(0, lastValue - secondsSince(lastAt)) along with the
// generation it was computed under. ok is false while no authoritative value
// has ever been received; that distinguishes "unknown" from an ended room
// reporting 0.
func (p *Predictor) Predict() (seconds int64, gen uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.known {
		return 0, p.gen, false
	}
	remaining := p.lastValue - int64(p.clock.Now().Sub(p.lastAt)/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, p.gen, true
}

// Run publishes a prediction once per second until ctx is done. Ticks before
// the first authoritative value are skipped.
func (p *Predictor) Run(ctx context.Context, publish func(seconds int64, gen uint64)) {
	ticker := p.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if seconds, gen, ok := p.Predict(); ok {
				publish(seconds, gen)
			}
		}
	}
}
