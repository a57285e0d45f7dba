package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Governor is the single component allowed to introduce scheduling delay.
// It enforces a jittered per-request delay, a global requests-per-minute
// ceiling, and adaptive back-off driven by the rolling blocked-response ratio.
type Governor struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	perMinute  int
	lastAction time.Time
	// timestamps of requests issued within the trailing minute
	issued []time.Time

	// rolling outcome window for adaptive back-off
	outcomes    []bool // true = blocked or rate limited
	windowSize  int
	blockTarget float64
	maxBackoff  float64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Options struct {
	DelayMin       time.Duration
	DelayMax       time.Duration
	RequestsPerMin int
	WindowSize     int
}

func DefaultOptions() Options {
	return Options{
		DelayMin:       3 * time.Second,
		DelayMax:       10 * time.Second,
		RequestsPerMin: 60,
		WindowSize:     100,
	}
}

func NewGovernor(opts Options) *Governor {
	if opts.DelayMin <= 0 {
		opts.DelayMin = DefaultOptions().DelayMin
	}
	if opts.DelayMax < opts.DelayMin {
		opts.DelayMax = opts.DelayMin
	}
	if opts.RequestsPerMin < 1 {
		opts.RequestsPerMin = DefaultOptions().RequestsPerMin
	}
	if opts.WindowSize < 1 {
		opts.WindowSize = DefaultOptions().WindowSize
	}

	return &Governor{
		minDelay:    opts.DelayMin,
		maxDelay:    opts.DelayMax,
		perMinute:   opts.RequestsPerMin,
		windowSize:  opts.WindowSize,
		blockTarget: 0.02,
		maxBackoff:  10,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Wait suspends the caller until the next request may be issued.
func (g *Governor) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()
		wait := g.nextWait(now)
		if wait <= 0 {
			g.lastAction = now
			g.issued = append(g.issued, now)
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Record feeds the rolling outcome window; blocked covers both hard blocks
// and rate-limit responses.
func (g *Governor) Record(blocked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.outcomes = append(g.outcomes, blocked)
	if len(g.outcomes) > g.windowSize {
		g.outcomes = g.outcomes[len(g.outcomes)-g.windowSize:]
	}
}

// BlockRatio returns the blocked share of the rolling window.
func (g *Governor) BlockRatio() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockRatioLocked()
}

func (g *Governor) blockRatioLocked() float64 {
	if len(g.outcomes) == 0 {
		return 0
	}
	blocked := 0
	for _, b := range g.outcomes {
		if b {
			blocked++
		}
	}
	return float64(blocked) / float64(len(g.outcomes))
}

// EffectiveMinDelay is the configured minimum scaled by the adaptive back-off
// factor. The factor grows proportionally once the block ratio exceeds 2%.
func (g *Governor) EffectiveMinDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveMinLocked()
}

func (g *Governor) effectiveMinLocked() time.Duration {
	ratio := g.blockRatioLocked()
	if ratio <= g.blockTarget {
		return g.minDelay
	}
	factor := ratio / g.blockTarget
	if factor > g.maxBackoff {
		factor = g.maxBackoff
	}
	return time.Duration(float64(g.minDelay) * factor)
}

// nextWait computes the remaining suspension. Caller holds the mutex.
func (g *Governor) nextWait(now time.Time) time.Duration {
	var wait time.Duration

	min := g.effectiveMinLocked()
	max := g.maxDelay
	if max < min {
		max = min
	}
	delay := min
	if max > min {
		delay += time.Duration(rand.Int63n(int64(max - min)))
	}
	if !g.lastAction.IsZero() {
		if elapsed := now.Sub(g.lastAction); elapsed < delay {
			wait = delay - elapsed
		}
	}

	// Global ceiling: drop timestamps older than a minute, then check room.
	cutoff := now.Add(-time.Minute)
	kept := g.issued[:0]
	for _, t := range g.issued {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.issued = kept

	if len(g.issued) >= g.perMinute {
		until := g.issued[0].Add(time.Minute).Sub(now)
		if until > wait {
			wait = until
		}
	}

	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
