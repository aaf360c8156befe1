package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbine/financial-data-collection/pkg/models"
)

func intPtr(i int) *int {
	return &i
}

func TestApplyDefaults(t *testing.T) {
	var cfg AppConfig
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultConcurrencyLimit, cfg.Scheduler.ConcurrencyLimit)
	assert.Equal(t, DefaultMaxRetries, cfg.Scheduler.DefaultMaxRetries)
	assert.Equal(t, DefaultBackoffBase, cfg.Scheduler.BackoffBase)
	assert.Equal(t, DefaultFailureStreak, cfg.ProxyPool.FailureStreak)
	assert.Equal(t, DefaultOutcomeWindow, cfg.ProxyPool.OutcomeWindow)
	assert.Equal(t, DefaultMinInterval, cfg.Incremental.MinInterval)
	assert.Equal(t, DefaultWindowSize, cfg.Monitor.WindowSize)
	assert.Equal(t, DefaultMinSuccessRate, cfg.Monitor.Thresholds.MinSuccessRate)
	assert.Equal(t, DefaultMaxP95Latency, cfg.Monitor.Thresholds.MaxP95Latency)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := AppConfig{}
	cfg.Scheduler.ConcurrencyLimit = 12
	cfg.Incremental.MinInterval = 10 * time.Minute
	cfg.ApplyDefaults()

	assert.Equal(t, 12, cfg.Scheduler.ConcurrencyLimit)
	assert.Equal(t, 10*time.Minute, cfg.Incremental.MinInterval)
}

func TestGetEffectiveMinInterval(t *testing.T) {
	appCfg := &AppConfig{}
	appCfg.ApplyDefaults()

	tests := []struct {
		name     string
		srcCfg   SourceConfig
		expected time.Duration
	}{
		{"source override", SourceConfig{MinInterval: 5 * time.Minute}, 5 * time.Minute},
		{"global fallback", SourceConfig{}, DefaultMinInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveMinInterval(tt.srcCfg, appCfg))
		})
	}
}

func TestGetEffectiveMaxRetries(t *testing.T) {
	appCfg := &AppConfig{}
	appCfg.ApplyDefaults()

	assert.Equal(t, 7, GetEffectiveMaxRetries(SourceConfig{MaxRetries: intPtr(7)}, appCfg))
	assert.Equal(t, 0, GetEffectiveMaxRetries(SourceConfig{MaxRetries: intPtr(0)}, appCfg))
	assert.Equal(t, DefaultMaxRetries, GetEffectiveMaxRetries(SourceConfig{}, appCfg))
}

func TestGetEffectiveDelayPerHost(t *testing.T) {
	appCfg := &AppConfig{}
	appCfg.ApplyDefaults()
	appCfg.Fetch.DefaultDelayPerHost = 2 * time.Second

	assert.Equal(t, 9*time.Second, GetEffectiveDelayPerHost(SourceConfig{DelayPerHost: 9 * time.Second}, appCfg))
	assert.Equal(t, 2*time.Second, GetEffectiveDelayPerHost(SourceConfig{}, appCfg))
}

func TestGetEffectivePriority(t *testing.T) {
	assert.Equal(t, models.PriorityUrgent, GetEffectivePriority(SourceConfig{Priority: models.PriorityUrgent}))
	assert.Equal(t, models.PriorityNormal, GetEffectivePriority(SourceConfig{}))
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg := &AppConfig{}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults are valid", func(c *AppConfig) {}, ""},
		{
			"backoff base above max",
			func(c *AppConfig) { c.Scheduler.BackoffBase = time.Hour; c.Scheduler.BackoffMax = time.Second },
			"backoff_base",
		},
		{
			"delay range inverted",
			func(c *AppConfig) { c.AntiDetection.MinDelay = 5 * time.Second; c.AntiDetection.MaxDelay = time.Second },
			"min_delay",
		},
		{
			"success rate out of range",
			func(c *AppConfig) { c.Monitor.Thresholds.MinSuccessRate = 1.5 },
			"min_success_rate",
		},
		{
			"proxy missing host",
			func(c *AppConfig) { c.ProxyPool.Proxies = []ProxyConfig{{Port: 8080}} },
			"empty host",
		},
		{
			"proxy bad port",
			func(c *AppConfig) { c.ProxyPool.Proxies = []ProxyConfig{{Host: "10.0.0.1", Port: 70000}} },
			"invalid port",
		},
		{
			"proxy bad protocol",
			func(c *AppConfig) {
				c.ProxyPool.Proxies = []ProxyConfig{{Host: "10.0.0.1", Port: 8080, Protocol: "ftp"}}
			},
			"unsupported protocol",
		},
		{
			"captcha enabled without key",
			func(c *AppConfig) { c.Captcha.Enabled = true; c.Captcha.Endpoint = "https://solver.example" },
			"api_key",
		},
		{
			"persistence without state dir",
			func(c *AppConfig) { c.Incremental.PersistFingerprints = true },
			"state_dir",
		},
		{
			"source without seeds",
			func(c *AppConfig) { c.Sources = map[string]SourceConfig{"sec": {}} },
			"no seed_urls",
		},
		{
			"source with bad seed",
			func(c *AppConfig) {
				c.Sources = map[string]SourceConfig{"sec": {SeedURLs: []string{"not a url"}}}
			},
			"invalid seed URL",
		},
		{
			"source negative retries",
			func(c *AppConfig) {
				c.Sources = map[string]SourceConfig{"sec": {
					SeedURLs:   []string{"https://sec.example/filings"},
					MaxRetries: intPtr(-1),
				}}
			},
			"negative max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.yaml")
	content := `
scheduler:
  concurrency_limit: 3
proxy_pool:
  proxies:
    - host: 10.0.0.1
      port: 8080
sources:
  nasdaq:
    seed_urls:
      - https://quotes.example/AAPL
    priority: high
    min_interval: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scheduler.ConcurrencyLimit)
	assert.Len(t, cfg.ProxyPool.Proxies, 1)
	// Unset knobs picked up defaults
	assert.Equal(t, DefaultBackoffBase, cfg.Scheduler.BackoffBase)

	src, ok := cfg.Sources["nasdaq"]
	require.True(t, ok)
	assert.Equal(t, models.PriorityHigh, src.Priority)
	assert.Equal(t, 30*time.Minute, src.MinInterval)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scheduler: ["), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}
