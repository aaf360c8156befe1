package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/models"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type recordingSubmitter struct {
	mu     sync.Mutex
	urls   []string
	delays []time.Duration
}

func (s *recordingSubmitter) SubmitTask(url string, _ models.ExtractionConfig, _ models.TaskPriority,
	_ int, _, delayPerHost time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	s.delays = append(s.delays, delayPerHost)
	return "id", nil
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}

func (s *recordingSubmitter) hostDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func watchConfig(sources map[string]config.SourceConfig) *config.AppConfig {
	cfg := &config.AppConfig{Sources: sources}
	cfg.ApplyDefaults()
	return cfg
}

func TestStateManager_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewStateManager(dir)
	require.NoError(t, m.Load())
	m.UpdateSourceState("quotes", 3, "")
	require.NoError(t, m.Save())

	m2 := NewStateManager(dir)
	require.NoError(t, m2.Load())
	st, ok := m2.SourceState("quotes")
	require.True(t, ok)
	assert.Equal(t, 3, st.TasksSubmitted)
	assert.False(t, st.LastCycleTime.IsZero())

	_, err := os.Stat(filepath.Join(dir, stateFileName))
	assert.NoError(t, err)
}

func TestStateManager_MemoryOnly(t *testing.T) {
	m := NewStateManager("")
	require.NoError(t, m.Load())
	m.UpdateSourceState("quotes", 1, "")
	require.NoError(t, m.Save(), "empty state dir must not touch disk")

	st, ok := m.SourceState("quotes")
	require.True(t, ok)
	assert.Equal(t, 1, st.TasksSubmitted)
}

func TestStateManager_ShouldRun(t *testing.T) {
	m := NewStateManager("")

	assert.True(t, m.ShouldRun("never-cycled", time.Hour))

	m.UpdateSourceState("recent", 1, "")
	assert.False(t, m.ShouldRun("recent", time.Hour))
	assert.True(t, m.ShouldRun("recent", time.Nanosecond))
}

func TestWatcher_FirstCycleImmediate(t *testing.T) {
	cfg := watchConfig(map[string]config.SourceConfig{
		"quotes":  {SeedURLs: []string{"https://data.example/a", "https://data.example/b"}},
		"filings": {SeedURLs: []string{"https://filings.example/recent"}},
	})
	sub := &recordingSubmitter{}
	w := NewWatcher(cfg, sub, testEntry())
	w.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sub.submitted()) == 3 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{
		"https://data.example/a", "https://data.example/b", "https://filings.example/recent",
	}, sub.submitted())
}

func TestWatcher_PassesSourceHostDelay(t *testing.T) {
	cfg := watchConfig(map[string]config.SourceConfig{
		"quotes": {SeedURLs: []string{"https://data.example/a"}, DelayPerHost: 7 * time.Second},
	})
	sub := &recordingSubmitter{}
	w := NewWatcher(cfg, sub, testEntry())
	w.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sub.submitted()) == 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []time.Duration{7 * time.Second}, sub.hostDelays())
}

func TestWatcher_DoesNotResubmitWithinInterval(t *testing.T) {
	cfg := watchConfig(map[string]config.SourceConfig{
		"quotes": {SeedURLs: []string{"https://data.example/a"}, MinInterval: time.Hour},
	})
	sub := &recordingSubmitter{}
	w := NewWatcher(cfg, sub, testEntry())
	w.tick = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	// One immediate cycle; ticks within the hour interval submit nothing
	assert.Len(t, sub.submitted(), 1)
}

func TestWatcher_ResubmitsAfterInterval(t *testing.T) {
	cfg := watchConfig(map[string]config.SourceConfig{
		"quotes": {SeedURLs: []string{"https://data.example/a"}, MinInterval: 15 * time.Millisecond},
	})
	sub := &recordingSubmitter{}
	w := NewWatcher(cfg, sub, testEntry())
	w.tick = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sub.submitted()) >= 2 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_TickIntervalDerivedAndClamped(t *testing.T) {
	cfg := watchConfig(map[string]config.SourceConfig{
		"fast": {SeedURLs: []string{"https://data.example/a"}, MinInterval: 5 * time.Second},
	})
	w := NewWatcher(cfg, &recordingSubmitter{}, testEntry())
	assert.Equal(t, time.Second, w.tickInterval(), "sub-second check cadence clamps to 1s")

	cfg = watchConfig(map[string]config.SourceConfig{
		"slow": {SeedURLs: []string{"https://data.example/a"}, MinInterval: 24 * time.Hour},
	})
	w = NewWatcher(cfg, &recordingSubmitter{}, testEntry())
	assert.Equal(t, 10*time.Minute, w.tickInterval(), "long intervals clamp to 10m")
}
