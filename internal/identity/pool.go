package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storelift/cafe24-harvester/internal/audit"
)

var ErrPoolExhausted = errors.New("identity pool exhausted")

type State string

const (
	StateHealthy     State = "healthy"
	StateCoolingDown State = "cooling-down"
	StateBlacklisted State = "blacklisted"
)

// Outcome is the caller's verdict on the request made through an identity.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Identity is one outbound network endpoint. All fields are guarded by the
// owning pool's mutex; callers treat an acquired identity as read-only.
type Identity struct {
	ID       string
	Proxy    string
	State    State
	LastUsed time.Time
	// ConsecutiveFails resets on success; TotalFails never does within a run.
	ConsecutiveFails int
	TotalFails       int
	coolingUntil     time.Time
}

type PoolOptions struct {
	CooldownAfter    int
	CooldownWindow   time.Duration
	BlacklistCeiling int
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		CooldownAfter:    3,
		CooldownWindow:   5 * time.Minute,
		BlacklistCeiling: 10,
	}
}

// Pool manages identity health and least-recently-used selection. Identities
// are never removed within a run, only demoted.
type Pool struct {
	mu         sync.Mutex
	identities []*Identity
	opts       PoolOptions
	sink       audit.Sink
	logger     *slog.Logger
	rotations  int
	lastID     string
	now        func() time.Time
}

func NewPool(proxies []string, opts PoolOptions, sink audit.Sink, logger *slog.Logger) (*Pool, error) {
	if len(proxies) == 0 {
		return nil, fmt.Errorf("identity pool requires at least one proxy endpoint")
	}
	if opts.CooldownAfter < 1 {
		opts.CooldownAfter = DefaultPoolOptions().CooldownAfter
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = DefaultPoolOptions().CooldownWindow
	}
	if opts.BlacklistCeiling < 1 {
		opts.BlacklistCeiling = DefaultPoolOptions().BlacklistCeiling
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	identities := make([]*Identity, 0, len(proxies))
	for i, proxy := range proxies {
		identities = append(identities, &Identity{
			ID:    fmt.Sprintf("identity-%d", i),
			Proxy: proxy,
			State: StateHealthy,
		})
	}

	return &Pool{
		identities: identities,
		opts:       opts,
		sink:       sink,
		logger:     logger.With("component", "identity_pool"),
		now:        time.Now,
	}, nil
}

// Acquire returns the least-recently-used healthy identity, rehabilitating
// cooled-down identities whose window has elapsed. Returns ErrPoolExhausted
// when no identity qualifies.
func (p *Pool) Acquire() (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	var chosen *Identity
	for _, id := range p.identities {
		if id.State == StateCoolingDown && now.After(id.coolingUntil) {
			p.transition(id, StateHealthy, "cooldown elapsed")
		}
		if id.State != StateHealthy {
			continue
		}
		if chosen == nil || id.LastUsed.Before(chosen.LastUsed) {
			chosen = id
		}
	}

	if chosen == nil {
		return nil, ErrPoolExhausted
	}

	chosen.LastUsed = now
	if p.lastID != "" && p.lastID != chosen.ID {
		p.rotations++
	}
	p.lastID = chosen.ID

	return chosen, nil
}

// Release reports the outcome of a request made through an identity.
// A cancelled attempt is neither success nor failure and leaves health
// bookkeeping untouched.
func (p *Pool) Release(id *Identity, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch outcome {
	case OutcomeSuccess:
		id.ConsecutiveFails = 0
	case OutcomeFailure:
		id.ConsecutiveFails++
		id.TotalFails++

		if id.State == StateBlacklisted {
			return
		}
		if id.TotalFails >= p.opts.BlacklistCeiling {
			p.transition(id, StateBlacklisted, fmt.Sprintf("%d total failures", id.TotalFails))
			return
		}
		if id.ConsecutiveFails >= p.opts.CooldownAfter {
			id.coolingUntil = p.now().Add(p.opts.CooldownWindow)
			p.transition(id, StateCoolingDown, fmt.Sprintf("%d consecutive failures", id.ConsecutiveFails))
		}
	case OutcomeCancelled:
		// no-op
	}
}

// Rehabilitate restores a blacklisted identity. Operator action, never called
// by the core during a run.
func (p *Pool) Rehabilitate(identityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.identities {
		if id.ID == identityID {
			id.ConsecutiveFails = 0
			id.TotalFails = 0
			p.transition(id, StateHealthy, "manual rehabilitation")
			return nil
		}
	}
	return fmt.Errorf("identity not found: %s", identityID)
}

// Rotations returns how many times selection moved to a different identity.
func (p *Pool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// HealthyCount reports identities currently selectable.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	now := p.now()
	for _, id := range p.identities {
		if id.State == StateHealthy {
			count++
		} else if id.State == StateCoolingDown && now.After(id.coolingUntil) {
			count++
		}
	}
	return count
}

func (p *Pool) transition(id *Identity, to State, reason string) {
	from := id.State
	if from == to {
		return
	}
	id.State = to

	p.logger.Info("identity state transition",
		"identity", id.ID, "from", string(from), "to", string(to), "reason", reason)

	if err := p.sink.Append(audit.NewEvent(audit.EventIdentityTransition, map[string]string{
		"identity_id": id.ID,
		"old_state":   string(from),
		"new_state":   string(to),
		"reason":      reason,
	})); err != nil {
		p.logger.Error("failed to audit identity transition", "identity", id.ID, "error", err)
	}
}
