package identity

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelift/cafe24-harvester/internal/audit"
)

func newTestPool(t *testing.T, proxies []string, opts PoolOptions) (*Pool, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink()
	pool, err := NewPool(proxies, opts, sink, slog.Default())
	require.NoError(t, err)
	return pool, sink
}

func TestNewPoolRequiresProxies(t *testing.T) {
	_, err := NewPool(nil, PoolOptions{}, nil, slog.Default())
	assert.Error(t, err)
}

func TestAcquirePicksLeastRecentlyUsed(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p0", "http://p1"}, PoolOptions{})

	// Deterministic clock so LastUsed ordering is strict.
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { now = now.Add(time.Second); return now }

	a, err := pool.Acquire()
	require.NoError(t, err)
	b, err := pool.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	// a is now the least recently used again
	c, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)

	assert.Equal(t, 2, pool.Rotations())
}

func TestReleaseCooldownAfterConsecutiveFailures(t *testing.T) {
	pool, sink := newTestPool(t, []string{"http://p0"}, PoolOptions{CooldownAfter: 3, CooldownWindow: 5 * time.Minute})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return base }

	id, err := pool.Acquire()
	require.NoError(t, err)

	pool.Release(id, OutcomeFailure)
	pool.Release(id, OutcomeFailure)
	assert.Equal(t, StateHealthy, id.State)

	pool.Release(id, OutcomeFailure)
	assert.Equal(t, StateCoolingDown, id.State)

	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	// window elapsed: identity is selectable again
	base = base.Add(5*time.Minute + time.Second)
	restored, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, id.ID, restored.ID)
	assert.Equal(t, StateHealthy, restored.State)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventIdentityTransition, events[0].Kind)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p0"}, PoolOptions{CooldownAfter: 3})

	id, err := pool.Acquire()
	require.NoError(t, err)

	pool.Release(id, OutcomeFailure)
	pool.Release(id, OutcomeFailure)
	pool.Release(id, OutcomeSuccess)
	pool.Release(id, OutcomeFailure)
	pool.Release(id, OutcomeFailure)

	assert.Equal(t, StateHealthy, id.State)
}

func TestBlacklistAtTotalFailureCeiling(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p0"}, PoolOptions{CooldownAfter: 100, BlacklistCeiling: 4})

	id, err := pool.Acquire()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		pool.Release(id, OutcomeFailure)
	}
	assert.Equal(t, StateBlacklisted, id.State)

	// Blacklisted identities never come back on their own, even after cooldown
	// windows would have elapsed.
	pool.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, pool.Rehabilitate(id.ID))
	restored, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, id.ID, restored.ID)
}

func TestCancelledReleaseIsNoOp(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p0"}, PoolOptions{CooldownAfter: 1, BlacklistCeiling: 1})

	id, err := pool.Acquire()
	require.NoError(t, err)

	pool.Release(id, OutcomeCancelled)
	assert.Equal(t, StateHealthy, id.State)
	assert.Zero(t, id.ConsecutiveFails)
	assert.Zero(t, id.TotalFails)
}

func TestHealthyCount(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p0", "http://p1", "http://p2"}, PoolOptions{CooldownAfter: 1, CooldownWindow: time.Hour})

	id, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(id, OutcomeFailure)

	assert.Equal(t, 2, pool.HealthyCount())
}
