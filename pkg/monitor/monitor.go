// Package monitor keeps rolling windows of crawl outcomes and evaluates
// alert thresholds against them. It only observes; acting on alerts is the
// caller's concern.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
)

// GlobalScope aggregates outcomes across all sources
const GlobalScope = "global"

// AlertKind identifies a triggered alert condition
type AlertKind string

const (
	AlertLowSuccessRate AlertKind = "low_success_rate"
	AlertSlowResponse   AlertKind = "slow_response"
	AlertHighBlockRate  AlertKind = "high_block_rate"
)

// outcome is one recorded attempt
type outcome struct {
	success bool
	blocked bool
	latency time.Duration
}

// window is a fixed-size FIFO ring of outcomes
type window struct {
	ring  []outcome
	next  int
	count int
}

func newWindow(size int) *window {
	return &window{ring: make([]outcome, size)}
}

func (w *window) add(o outcome) {
	w.ring[w.next] = o
	w.next = (w.next + 1) % len(w.ring)
	if w.count < len(w.ring) {
		w.count++
	}
}

// Snapshot summarizes a window's current aggregates
type Snapshot struct {
	Count       int           `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	BlockRate   float64       `json:"block_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
	P95Latency  time.Duration `json:"p95_latency"`
}

// Monitor tracks rolling outcome windows per scope
type Monitor struct {
	mu         sync.Mutex
	windows    map[string]*window
	windowSize int
	log        *logrus.Entry
}

// NewMonitor creates a Monitor with the configured window size
func NewMonitor(windowSize int, log *logrus.Entry) *Monitor {
	if windowSize <= 0 {
		windowSize = config.DefaultWindowSize
	}
	return &Monitor{
		windows:    make(map[string]*window),
		windowSize: windowSize,
		log:        log,
	}
}

// Record appends an outcome to the global window and, when scope is non-empty,
// to the per-scope window as well.
func (m *Monitor) Record(scope string, success, blocked bool, latency time.Duration) {
	o := outcome{success: success, blocked: blocked, latency: latency}

	m.mu.Lock()
	m.scopeWindow(GlobalScope).add(o)
	if scope != "" && scope != GlobalScope {
		m.scopeWindow(scope).add(o)
	}
	m.mu.Unlock()
}

// scopeWindow returns the window for a scope, creating it on first use.
// Caller must hold m.mu.
func (m *Monitor) scopeWindow(scope string) *window {
	w, ok := m.windows[scope]
	if !ok {
		w = newWindow(m.windowSize)
		m.windows[scope] = w
		m.log.WithFields(logrus.Fields{"scope": scope, "size": m.windowSize}).Debug("Created monitor window")
	}
	return w
}

// Snapshot computes the current aggregates for a scope.
// An unknown scope yields a zero snapshot.
func (m *Monitor) Snapshot(scope string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[scope]
	if !ok || w.count == 0 {
		return Snapshot{}
	}

	var successes, blocks int
	var total time.Duration
	latencies := make([]time.Duration, 0, w.count)
	for i := 0; i < w.count; i++ {
		o := w.ring[i]
		if o.success {
			successes++
		}
		if o.blocked {
			blocks++
		}
		total += o.latency
		latencies = append(latencies, o.latency)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	// Nearest-rank p95
	idx := (95*len(latencies) + 99) / 100
	if idx > 0 {
		idx--
	}

	return Snapshot{
		Count:       w.count,
		SuccessRate: float64(successes) / float64(w.count),
		BlockRate:   float64(blocks) / float64(w.count),
		MeanLatency: total / time.Duration(w.count),
		P95Latency:  latencies[idx],
	}
}

// Scopes returns all scopes with recorded outcomes
func (m *Monitor) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	scopes := make([]string, 0, len(m.windows))
	for scope := range m.windows {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// CheckAlerts evaluates the global snapshot against thresholds and returns
// the triggered alert kinds. Pure read; no internal state changes.
func (m *Monitor) CheckAlerts(thresholds config.AlertThresholds) []AlertKind {
	snap := m.Snapshot(GlobalScope)
	if snap.Count == 0 {
		return nil
	}

	var alerts []AlertKind
	if snap.SuccessRate < thresholds.MinSuccessRate {
		alerts = append(alerts, AlertLowSuccessRate)
	}
	if thresholds.MaxP95Latency > 0 && snap.P95Latency > thresholds.MaxP95Latency {
		alerts = append(alerts, AlertSlowResponse)
	}
	if thresholds.MaxBlockRate > 0 && snap.BlockRate > thresholds.MaxBlockRate {
		alerts = append(alerts, AlertHighBlockRate)
	}
	return alerts
}
