package monitor

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/robbine/financial-data-collection/pkg/config"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestMonitor_EmptySnapshot(t *testing.T) {
	m := NewMonitor(10, testEntry())
	snap := m.Snapshot(GlobalScope)
	assert.Equal(t, Snapshot{}, snap)
	assert.Nil(t, m.CheckAlerts(config.AlertThresholds{MinSuccessRate: 0.5}))
}

func TestMonitor_RecordAndSnapshot(t *testing.T) {
	m := NewMonitor(10, testEntry())

	m.Record("sec", true, false, 100*time.Millisecond)
	m.Record("sec", true, false, 200*time.Millisecond)
	m.Record("sec", false, false, 300*time.Millisecond)
	m.Record("nasdaq", false, true, 400*time.Millisecond)

	global := m.Snapshot(GlobalScope)
	assert.Equal(t, 4, global.Count)
	assert.InDelta(t, 0.5, global.SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, global.BlockRate, 1e-9)
	assert.Equal(t, 250*time.Millisecond, global.MeanLatency)

	sec := m.Snapshot("sec")
	assert.Equal(t, 3, sec.Count)
	assert.InDelta(t, 2.0/3.0, sec.SuccessRate, 1e-9)

	assert.Equal(t, []string{"global", "nasdaq", "sec"}, m.Scopes())
}

func TestMonitor_WindowEviction(t *testing.T) {
	m := NewMonitor(3, testEntry())

	// Three failures, then three successes; window of 3 sees only successes
	for i := 0; i < 3; i++ {
		m.Record("", false, false, time.Second)
	}
	for i := 0; i < 3; i++ {
		m.Record("", true, false, time.Second)
	}

	snap := m.Snapshot(GlobalScope)
	assert.Equal(t, 3, snap.Count)
	assert.InDelta(t, 1.0, snap.SuccessRate, 1e-9)
}

func TestMonitor_P95(t *testing.T) {
	m := NewMonitor(100, testEntry())

	for i := 1; i <= 100; i++ {
		m.Record("", true, false, time.Duration(i)*time.Millisecond)
	}

	snap := m.Snapshot(GlobalScope)
	assert.Equal(t, 95*time.Millisecond, snap.P95Latency)
}

func TestMonitor_CheckAlerts(t *testing.T) {
	thresholds := config.AlertThresholds{
		MinSuccessRate: 0.5,
		MaxP95Latency:  time.Second,
		MaxBlockRate:   0.1,
	}

	tests := []struct {
		name     string
		record   func(m *Monitor)
		expected []AlertKind
	}{
		{
			name: "healthy traffic triggers nothing",
			record: func(m *Monitor) {
				for i := 0; i < 10; i++ {
					m.Record("", true, false, 100*time.Millisecond)
				}
			},
			expected: nil,
		},
		{
			name: "low success rate",
			record: func(m *Monitor) {
				for i := 0; i < 6; i++ {
					m.Record("", false, false, 100*time.Millisecond)
				}
				for i := 0; i < 4; i++ {
					m.Record("", true, false, 100*time.Millisecond)
				}
			},
			expected: []AlertKind{AlertLowSuccessRate},
		},
		{
			name: "slow responses",
			record: func(m *Monitor) {
				for i := 0; i < 10; i++ {
					m.Record("", true, false, 5*time.Second)
				}
			},
			expected: []AlertKind{AlertSlowResponse},
		},
		{
			name: "blocked requests",
			record: func(m *Monitor) {
				for i := 0; i < 8; i++ {
					m.Record("", true, false, 100*time.Millisecond)
				}
				for i := 0; i < 2; i++ {
					m.Record("", true, true, 100*time.Millisecond)
				}
			},
			expected: []AlertKind{AlertHighBlockRate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(100, testEntry())
			tt.record(m)
			assert.Equal(t, tt.expected, m.CheckAlerts(thresholds))
		})
	}
}
