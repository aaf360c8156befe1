// Package proxy manages the rotating proxy pool: health scoring over a
// bounded window of recent outcomes, exponential blacklist suspensions, and
// best-first selection with a least-recently-used tie-break.
package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

// Info describes one registered proxy endpoint
type Info struct {
	Host     string
	Port     int
	Username string
	Password string
	Protocol string // "http" (default) or "socks5"
}

// Key returns the pool identity of the proxy (host:port)
func (p Info) Key() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL renders the proxy as a *url.URL suitable for http.Transport.Proxy
func (p Info) URL() *url.URL {
	scheme := p.Protocol
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: p.Key()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// entry is the pool's mutable per-proxy state
type entry struct {
	info Info

	// Rolling outcome window: true = success, newest last
	outcomes []bool

	failureStreak  int
	blacklistCount int       // How many times this proxy has been blacklisted
	blacklistUntil time.Time // Zero = eligible
	lastUsed       time.Time // Zero = never used
}

// successRate derives the health score from the rolling window only.
// A proxy with no recorded outcomes scores 1.0 so new entries get tried.
func (e *entry) successRate() float64 {
	if len(e.outcomes) == 0 {
		return 1.0
	}
	successes := 0
	for _, ok := range e.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(e.outcomes))
}

// Status is the externally visible health summary of one proxy
type Status struct {
	Key            string    `json:"key"`
	SuccessRate    float64   `json:"success_rate"`
	Outcomes       int       `json:"outcomes"`
	FailureStreak  int       `json:"failure_streak"`
	Blacklisted    bool      `json:"blacklisted"`
	BlacklistUntil time.Time `json:"blacklist_until,omitempty"`
	LastUsed       time.Time `json:"last_used,omitempty"`
}

// Pool is the rotating proxy pool. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	failureStreak int
	blacklistBase time.Duration
	blacklistMax  time.Duration
	windowSize    int

	now func() time.Time // Injectable clock for tests
	log *logrus.Entry
}

// NewPool creates a Pool and registers the configured proxies
func NewPool(cfg config.ProxyPoolConfig, log *logrus.Entry) *Pool {
	p := &Pool{
		entries:       make(map[string]*entry),
		failureStreak: cfg.FailureStreak,
		blacklistBase: cfg.BlacklistBase,
		blacklistMax:  cfg.BlacklistMax,
		windowSize:    cfg.OutcomeWindow,
		now:           time.Now,
		log:           log,
	}
	if p.failureStreak <= 0 {
		p.failureStreak = config.DefaultFailureStreak
	}
	if p.blacklistBase <= 0 {
		p.blacklistBase = config.DefaultBlacklistBase
	}
	if p.blacklistMax <= 0 {
		p.blacklistMax = config.DefaultBlacklistMax
	}
	if p.windowSize <= 0 {
		p.windowSize = config.DefaultOutcomeWindow
	}

	for _, pc := range cfg.Proxies {
		p.Register(Info{
			Host:     pc.Host,
			Port:     pc.Port,
			Username: pc.Username,
			Password: pc.Password,
			Protocol: pc.Protocol,
		})
	}
	return p
}

// Register adds a proxy or overwrites an existing registration.
// Overwriting resets the proxy's recorded history.
func (p *Pool) Register(info Info) {
	p.mu.Lock()
	p.entries[info.Key()] = &entry{info: info}
	p.mu.Unlock()
	p.log.WithField("proxy", info.Key()).Info("Registered proxy")
}

// Remove deletes a proxy from the pool (explicit configuration removal only;
// blacklisting never removes).
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	_, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()
	if ok {
		p.log.WithField("proxy", key).Info("Removed proxy")
	}
	return ok
}

// Acquire returns the best eligible proxy: highest rolling success rate,
// least-recently-used tie-break. Returns ErrNoProxyAvailable when the pool is
// empty or every proxy is blacklisted; callers decide whether that is fatal.
func (p *Pool) Acquire() (Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *entry
	for _, e := range p.entries {
		if e.blacklistUntil.After(now) {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		eRate, bestRate := e.successRate(), best.successRate()
		if eRate > bestRate || (eRate == bestRate && e.lastUsed.Before(best.lastUsed)) {
			best = e
		}
	}
	if best == nil {
		return Info{}, utils.ErrNoProxyAvailable
	}

	best.lastUsed = now
	return best.info, nil
}

// RecordOutcome updates rolling stats for the proxy that served an attempt.
// A failure streak reaching the threshold blacklists the proxy for
// base * 2^blacklistCount (capped) and resets the streak.
func (p *Pool) RecordOutcome(key string, success bool, latency time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", utils.ErrProxyUnknown, key)
	}

	e.outcomes = append(e.outcomes, success)
	if len(e.outcomes) > p.windowSize {
		e.outcomes = e.outcomes[len(e.outcomes)-p.windowSize:]
	}

	if success {
		e.failureStreak = 0
		return nil
	}

	e.failureStreak++
	if e.failureStreak < p.failureStreak {
		return nil
	}

	// Exponential suspension, capped
	suspension := p.blacklistBase << e.blacklistCount
	if suspension <= 0 || suspension > p.blacklistMax {
		suspension = p.blacklistMax
	}
	e.blacklistUntil = p.now().Add(suspension)
	e.blacklistCount++
	e.failureStreak = 0

	p.log.WithFields(logrus.Fields{
		"proxy":      key,
		"suspension": suspension,
		"until":      e.blacklistUntil,
		"times":      e.blacklistCount,
	}).Warn("Blacklisted proxy after repeated failures")
	return nil
}

// Snapshot returns the health summary of every registered proxy,
// sorted by key for stable output.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	statuses := make([]Status, 0, len(p.entries))
	for key, e := range p.entries {
		statuses = append(statuses, Status{
			Key:            key,
			SuccessRate:    e.successRate(),
			Outcomes:       len(e.outcomes),
			FailureStreak:  e.failureStreak,
			Blacklisted:    e.blacklistUntil.After(now),
			BlacklistUntil: e.blacklistUntil,
			LastUsed:       e.lastUsed,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

// Len returns the number of registered proxies
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
