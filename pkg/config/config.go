package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robbine/financial-data-collection/pkg/models"
)

// ProxyConfig describes one proxy endpoint in the rotation pool
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Protocol string `yaml:"protocol,omitempty"` // "http" (default) or "socks5"
}

// SourceConfig holds per-source overrides for a data source (an exchange,
// a filings site, a news feed). Nil/empty fields fall back to global settings.
type SourceConfig struct {
	SeedURLs     []string                `yaml:"seed_urls,omitempty"`
	Priority     models.TaskPriority     `yaml:"priority,omitempty"`
	MaxRetries   *int                    `yaml:"max_retries,omitempty"`
	MinInterval  time.Duration           `yaml:"min_interval,omitempty"` // Re-crawl gate for this source
	Extraction   models.ExtractionConfig `yaml:"extraction,omitempty"`   // Opaque payload for the fetch capability
	DelayPerHost time.Duration           `yaml:"delay_per_host,omitempty"`
}

// SchedulerConfig controls dispatch concurrency and retry backoff
type SchedulerConfig struct {
	ConcurrencyLimit  int           `yaml:"concurrency_limit,omitempty"`
	DefaultMaxRetries int           `yaml:"default_max_retries,omitempty"`
	BackoffBase       time.Duration `yaml:"backoff_base,omitempty"`
	BackoffMax        time.Duration `yaml:"backoff_max,omitempty"`
}

// ProxyPoolConfig controls rotation health scoring and blacklisting
type ProxyPoolConfig struct {
	Proxies             []ProxyConfig `yaml:"proxies,omitempty"`
	FailureStreak       int           `yaml:"failure_streak,omitempty"`        // Consecutive failures before blacklist
	BlacklistBase       time.Duration `yaml:"blacklist_base,omitempty"`        // First suspension length
	BlacklistMax        time.Duration `yaml:"blacklist_max,omitempty"`         // Suspension cap
	OutcomeWindow       int           `yaml:"outcome_window,omitempty"`        // Rolling outcomes kept per proxy
	ProceedWithoutProxy bool          `yaml:"proceed_without_proxy,omitempty"` // Crawl unproxied when pool is exhausted
}

// AntiDetectionConfig controls per-attempt identity randomization
type AntiDetectionConfig struct {
	UserAgents []string      `yaml:"user_agents,omitempty"`
	Referers   []string      `yaml:"referers,omitempty"`
	Viewports  []string      `yaml:"viewports,omitempty"` // "WxH" strings
	MinDelay   time.Duration `yaml:"min_delay,omitempty"`
	MaxDelay   time.Duration `yaml:"max_delay,omitempty"`
}

// IncrementalConfig controls the fingerprint store and re-crawl gating
type IncrementalConfig struct {
	MinInterval         time.Duration `yaml:"min_interval,omitempty"` // Global default re-crawl gate
	Capacity            int           `yaml:"capacity,omitempty"`     // Max fingerprint records (LRU evicted)
	PersistFingerprints bool          `yaml:"persist_fingerprints,omitempty"`
	StateDir            string        `yaml:"state_dir,omitempty"` // BadgerDB directory when persisting
}

// AlertThresholds are evaluated against the monitor's rolling aggregates
type AlertThresholds struct {
	MinSuccessRate float64       `yaml:"min_success_rate,omitempty"`
	MaxP95Latency  time.Duration `yaml:"max_p95_latency,omitempty"`
	MaxBlockRate   float64       `yaml:"max_block_rate,omitempty"`
}

// MonitorConfig controls the rolling outcome windows
type MonitorConfig struct {
	WindowSize int             `yaml:"window_size,omitempty"`
	Thresholds AlertThresholds `yaml:"thresholds,omitempty"`
}

// CaptchaConfig configures the external captcha-solving service.
// CaptchaRequired fetch errors are retried only when Enabled is true.
type CaptchaConfig struct {
	Enabled      bool          `yaml:"enabled,omitempty"`
	Endpoint     string        `yaml:"endpoint,omitempty"`
	APIKey       string        `yaml:"api_key,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	SolveTimeout time.Duration `yaml:"solve_timeout,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP transport
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// FetchConfig controls the HTTP fetch implementation and politeness
type FetchConfig struct {
	RequestTimeout      time.Duration    `yaml:"request_timeout,omitempty"` // Per-attempt fetch timeout
	MaxRequestsPerHost  int              `yaml:"max_requests_per_host,omitempty"`
	DefaultDelayPerHost time.Duration    `yaml:"default_delay_per_host,omitempty"`
	RespectRobots       bool             `yaml:"respect_robots,omitempty"`
	HTTPClientSettings  HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Scheduler     SchedulerConfig         `yaml:"scheduler,omitempty"`
	ProxyPool     ProxyPoolConfig         `yaml:"proxy_pool,omitempty"`
	AntiDetection AntiDetectionConfig     `yaml:"anti_detection,omitempty"`
	Incremental   IncrementalConfig       `yaml:"incremental,omitempty"`
	Monitor       MonitorConfig           `yaml:"monitor,omitempty"`
	Captcha       CaptchaConfig           `yaml:"captcha,omitempty"`
	Fetch         FetchConfig             `yaml:"fetch,omitempty"`
	Sources       map[string]SourceConfig `yaml:"sources,omitempty"`
}

// Defaults mirror the knobs the system shipped with before they were configurable
const (
	DefaultConcurrencyLimit = 5
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 1 * time.Second
	DefaultBackoffMax       = 5 * time.Minute
	DefaultFailureStreak    = 3
	DefaultBlacklistBase    = 1 * time.Minute
	DefaultBlacklistMax     = 1 * time.Hour
	DefaultOutcomeWindow    = 50
	DefaultMinDelay         = 1 * time.Second
	DefaultMaxDelay         = 3 * time.Second
	DefaultMinInterval      = 1 * time.Hour
	DefaultCapacity         = 10000
	DefaultWindowSize       = 100
	DefaultMinSuccessRate   = 0.5
	DefaultMaxP95Latency    = 30 * time.Second
	DefaultMaxBlockRate     = 0.1
	DefaultRequestTimeout   = 30 * time.Second
	DefaultCaptchaPoll      = 10 * time.Second
	DefaultCaptchaTimeout   = 5 * time.Minute
)

// LoadConfig reads, parses, applies defaults to, and validates a YAML config file
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued knobs with their shipped defaults
func (c *AppConfig) ApplyDefaults() {
	if c.Scheduler.ConcurrencyLimit <= 0 {
		c.Scheduler.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if c.Scheduler.DefaultMaxRetries <= 0 {
		c.Scheduler.DefaultMaxRetries = DefaultMaxRetries
	}
	if c.Scheduler.BackoffBase <= 0 {
		c.Scheduler.BackoffBase = DefaultBackoffBase
	}
	if c.Scheduler.BackoffMax <= 0 {
		c.Scheduler.BackoffMax = DefaultBackoffMax
	}
	if c.ProxyPool.FailureStreak <= 0 {
		c.ProxyPool.FailureStreak = DefaultFailureStreak
	}
	if c.ProxyPool.BlacklistBase <= 0 {
		c.ProxyPool.BlacklistBase = DefaultBlacklistBase
	}
	if c.ProxyPool.BlacklistMax <= 0 {
		c.ProxyPool.BlacklistMax = DefaultBlacklistMax
	}
	if c.ProxyPool.OutcomeWindow <= 0 {
		c.ProxyPool.OutcomeWindow = DefaultOutcomeWindow
	}
	if c.AntiDetection.MinDelay <= 0 {
		c.AntiDetection.MinDelay = DefaultMinDelay
	}
	if c.AntiDetection.MaxDelay <= 0 {
		c.AntiDetection.MaxDelay = DefaultMaxDelay
	}
	if c.Incremental.MinInterval <= 0 {
		c.Incremental.MinInterval = DefaultMinInterval
	}
	if c.Incremental.Capacity <= 0 {
		c.Incremental.Capacity = DefaultCapacity
	}
	if c.Monitor.WindowSize <= 0 {
		c.Monitor.WindowSize = DefaultWindowSize
	}
	if c.Monitor.Thresholds.MinSuccessRate <= 0 {
		c.Monitor.Thresholds.MinSuccessRate = DefaultMinSuccessRate
	}
	if c.Monitor.Thresholds.MaxP95Latency <= 0 {
		c.Monitor.Thresholds.MaxP95Latency = DefaultMaxP95Latency
	}
	if c.Monitor.Thresholds.MaxBlockRate <= 0 {
		c.Monitor.Thresholds.MaxBlockRate = DefaultMaxBlockRate
	}
	if c.Captcha.PollInterval <= 0 {
		c.Captcha.PollInterval = DefaultCaptchaPoll
	}
	if c.Captcha.SolveTimeout <= 0 {
		c.Captcha.SolveTimeout = DefaultCaptchaTimeout
	}
	if c.Fetch.RequestTimeout <= 0 {
		c.Fetch.RequestTimeout = DefaultRequestTimeout
	}
	if c.Fetch.MaxRequestsPerHost <= 0 {
		c.Fetch.MaxRequestsPerHost = 2
	}
}

// --- Effective value helpers: source config (if set) overrides global ---

// GetEffectiveMinInterval determines the re-crawl gate for a source
func GetEffectiveMinInterval(srcCfg SourceConfig, appCfg *AppConfig) time.Duration {
	if srcCfg.MinInterval > 0 {
		return srcCfg.MinInterval
	}
	return appCfg.Incremental.MinInterval
}

// GetEffectiveMaxRetries determines the retry budget for a source
func GetEffectiveMaxRetries(srcCfg SourceConfig, appCfg *AppConfig) int {
	if srcCfg.MaxRetries != nil {
		return *srcCfg.MaxRetries
	}
	return appCfg.Scheduler.DefaultMaxRetries
}

// GetEffectivePriority determines the submission priority for a source
func GetEffectivePriority(srcCfg SourceConfig) models.TaskPriority {
	if srcCfg.Priority.IsValid() {
		return srcCfg.Priority
	}
	return models.PriorityNormal
}

// GetEffectiveDelayPerHost determines the politeness delay for a source
func GetEffectiveDelayPerHost(srcCfg SourceConfig, appCfg *AppConfig) time.Duration {
	if srcCfg.DelayPerHost > 0 {
		return srcCfg.DelayPerHost
	}
	return appCfg.Fetch.DefaultDelayPerHost
}
