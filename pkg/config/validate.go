package config

import (
	"fmt"
	"net/url"

	"github.com/robbine/financial-data-collection/pkg/utils"
)

// Validate checks the configuration for inconsistencies that would produce
// broken runtime behavior. Call after ApplyDefaults.
func (c *AppConfig) Validate() error {
	if c.Scheduler.BackoffBase > c.Scheduler.BackoffMax {
		return fmt.Errorf("%w: scheduler backoff_base (%v) exceeds backoff_max (%v)",
			utils.ErrConfigValidation, c.Scheduler.BackoffBase, c.Scheduler.BackoffMax)
	}
	if c.ProxyPool.BlacklistBase > c.ProxyPool.BlacklistMax {
		return fmt.Errorf("%w: proxy_pool blacklist_base (%v) exceeds blacklist_max (%v)",
			utils.ErrConfigValidation, c.ProxyPool.BlacklistBase, c.ProxyPool.BlacklistMax)
	}
	if c.AntiDetection.MinDelay > c.AntiDetection.MaxDelay {
		return fmt.Errorf("%w: anti_detection min_delay (%v) exceeds max_delay (%v)",
			utils.ErrConfigValidation, c.AntiDetection.MinDelay, c.AntiDetection.MaxDelay)
	}
	if rate := c.Monitor.Thresholds.MinSuccessRate; rate < 0 || rate > 1 {
		return fmt.Errorf("%w: monitor min_success_rate (%v) must be within [0,1]",
			utils.ErrConfigValidation, rate)
	}
	if rate := c.Monitor.Thresholds.MaxBlockRate; rate < 0 || rate > 1 {
		return fmt.Errorf("%w: monitor max_block_rate (%v) must be within [0,1]",
			utils.ErrConfigValidation, rate)
	}

	for i, p := range c.ProxyPool.Proxies {
		if p.Host == "" {
			return fmt.Errorf("%w: proxy #%d has empty host", utils.ErrConfigValidation, i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("%w: proxy %s has invalid port %d", utils.ErrConfigValidation, p.Host, p.Port)
		}
		switch p.Protocol {
		case "", "http", "https", "socks5":
		default:
			return fmt.Errorf("%w: proxy %s:%d has unsupported protocol %q",
				utils.ErrConfigValidation, p.Host, p.Port, p.Protocol)
		}
	}

	if c.Captcha.Enabled {
		if c.Captcha.Endpoint == "" {
			return fmt.Errorf("%w: captcha enabled but endpoint is empty", utils.ErrConfigValidation)
		}
		if c.Captcha.APIKey == "" {
			return fmt.Errorf("%w: captcha enabled but api_key is empty", utils.ErrConfigValidation)
		}
	}

	if c.Incremental.PersistFingerprints && c.Incremental.StateDir == "" {
		return fmt.Errorf("%w: persist_fingerprints requires state_dir", utils.ErrConfigValidation)
	}

	for key, src := range c.Sources {
		if len(src.SeedURLs) == 0 {
			return fmt.Errorf("%w: source %q has no seed_urls", utils.ErrConfigValidation, key)
		}
		for _, seed := range src.SeedURLs {
			parsed, err := url.Parse(seed)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Errorf("%w: source %q has invalid seed URL %q",
					utils.ErrConfigValidation, key, seed)
			}
		}
		if src.MaxRetries != nil && *src.MaxRetries < 0 {
			return fmt.Errorf("%w: source %q has negative max_retries", utils.ErrConfigValidation, key)
		}
	}

	return nil
}
