package proxy

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// newTestPool returns a pool with an advanceable fake clock
func newTestPool(cfg config.ProxyPoolConfig) (*Pool, *time.Time) {
	p := NewPool(cfg, testEntry())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestInfo_URL(t *testing.T) {
	plain := Info{Host: "10.0.0.1", Port: 8080}
	assert.Equal(t, "http://10.0.0.1:8080", plain.URL().String())

	withAuth := Info{Host: "10.0.0.2", Port: 1080, Protocol: "socks5", Username: "u", Password: "p"}
	assert.Equal(t, "socks5://u:p@10.0.0.2:1080", withAuth.URL().String())
}

func TestPool_AcquireEmpty(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{})
	_, err := p.Acquire()
	assert.ErrorIs(t, err, utils.ErrNoProxyAvailable)
}

func TestPool_OptimisticNewProxyPreferred(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{})
	p.Register(Info{Host: "p1", Port: 8080})
	p.Register(Info{Host: "p2", Port: 8080})

	// P1: 9 successes, 1 failure -> 0.9. P2: no history -> optimistic 1.0.
	for i := 0; i < 9; i++ {
		require.NoError(t, p.RecordOutcome("p1:8080", true, time.Millisecond))
	}
	require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))

	got, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "p2:8080", got.Key())
}

func TestPool_LRUTieBreak(t *testing.T) {
	p, now := newTestPool(config.ProxyPoolConfig{})
	p.Register(Info{Host: "p1", Port: 8080})
	p.Register(Info{Host: "p2", Port: 8080})

	// Both untouched -> both rate 1.0, both lastUsed zero; either may win first
	first, err := p.Acquire()
	require.NoError(t, err)

	*now = now.Add(time.Second)

	// Second acquire must pick the other proxy (older lastUsed)
	second, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), second.Key())
}

func TestPool_BlacklistAfterFailureStreak(t *testing.T) {
	p, now := newTestPool(config.ProxyPoolConfig{
		FailureStreak: 3,
		BlacklistBase: time.Minute,
		BlacklistMax:  time.Hour,
	})
	p.Register(Info{Host: "p1", Port: 8080})

	for i := 0; i < 3; i++ {
		require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	}

	_, err := p.Acquire()
	assert.ErrorIs(t, err, utils.ErrNoProxyAvailable)

	// Suspension expires after blacklist_base; clock advancement re-admits
	*now = now.Add(time.Minute + time.Second)
	got, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "p1:8080", got.Key())
}

func TestPool_BlacklistExponentialGrowth(t *testing.T) {
	p, now := newTestPool(config.ProxyPoolConfig{
		FailureStreak: 2,
		BlacklistBase: time.Minute,
		BlacklistMax:  time.Hour,
	})
	p.Register(Info{Host: "p1", Port: 8080})

	blacklist := func() {
		for i := 0; i < 2; i++ {
			require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
		}
	}

	// First blacklist: 1 minute
	blacklist()
	snap := p.Snapshot()[0]
	assert.True(t, snap.Blacklisted)
	assert.Equal(t, now.Add(time.Minute), snap.BlacklistUntil)

	// Second blacklist: 2 minutes
	*now = now.Add(2 * time.Minute)
	blacklist()
	snap = p.Snapshot()[0]
	assert.Equal(t, now.Add(2*time.Minute), snap.BlacklistUntil)

	// Third blacklist: 4 minutes
	*now = now.Add(3 * time.Minute)
	blacklist()
	snap = p.Snapshot()[0]
	assert.Equal(t, now.Add(4*time.Minute), snap.BlacklistUntil)
}

func TestPool_SuccessResetsStreak(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{FailureStreak: 3})
	p.Register(Info{Host: "p1", Port: 8080})

	require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	require.NoError(t, p.RecordOutcome("p1:8080", true, time.Millisecond))
	require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))

	// Never hit 3 consecutive failures
	_, err := p.Acquire()
	assert.NoError(t, err)
}

func TestPool_RollingWindowDecay(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{OutcomeWindow: 4, FailureStreak: 100})
	p.Register(Info{Host: "p1", Port: 8080})

	// Old failures fall out of the bounded window
	for i := 0; i < 4; i++ {
		require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, p.RecordOutcome("p1:8080", true, time.Millisecond))
	}

	snap := p.Snapshot()[0]
	assert.Equal(t, 4, snap.Outcomes)
	assert.InDelta(t, 1.0, snap.SuccessRate, 1e-9)
}

func TestPool_RecordOutcomeUnknownProxy(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{})
	err := p.RecordOutcome("ghost:1", true, time.Millisecond)
	assert.ErrorIs(t, err, utils.ErrProxyUnknown)
}

func TestPool_RegisterOverwriteResetsHistory(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{FailureStreak: 2})
	p.Register(Info{Host: "p1", Port: 8080})
	for i := 0; i < 2; i++ {
		require.NoError(t, p.RecordOutcome("p1:8080", false, time.Millisecond))
	}
	require.True(t, p.Snapshot()[0].Blacklisted)

	p.Register(Info{Host: "p1", Port: 8080})
	snap := p.Snapshot()[0]
	assert.False(t, snap.Blacklisted)
	assert.Equal(t, 0, snap.Outcomes)
}

func TestPool_RemoveAndLen(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{})
	p.Register(Info{Host: "p1", Port: 8080})
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Remove("p1:8080"))
	assert.False(t, p.Remove("p1:8080"))
	assert.Equal(t, 0, p.Len())
}

func TestNewPool_RegistersConfiguredProxies(t *testing.T) {
	p, _ := newTestPool(config.ProxyPoolConfig{
		Proxies: []config.ProxyConfig{
			{Host: "10.0.0.1", Port: 8080},
			{Host: "10.0.0.2", Port: 8080, Protocol: "socks5"},
		},
	})
	assert.Equal(t, 2, p.Len())
}
