// Package identity produces randomized request identities so that repeated
// crawl attempts do not present a stable browser signature.
package identity

import (
	"math/rand"
	"sync"
	"time"

	"github.com/robbine/financial-data-collection/pkg/config"
)

// Built-in pools used when the configuration supplies none
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/121.0",
}

var defaultReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://www.yahoo.com/",
	"https://www.baidu.com/",
}

var defaultViewports = []string{
	"1920x1080",
	"1366x768",
	"1536x864",
	"1440x900",
	"2560x1440",
}

// Identity is one randomized request persona, consumed per attempt
type Identity struct {
	UserAgent string
	Referer   string
	Viewport  string // "WxH", for capabilities that render pages
	Headers   map[string]string
	Delay     time.Duration // Pause to apply before the request
}

// Manager draws identities from configured pools. Safe for concurrent use.
type Manager struct {
	userAgents []string
	referers   []string
	viewports  []string
	minDelay   time.Duration
	maxDelay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewManager creates a Manager from configuration, falling back to the
// built-in pools where the config is empty. Never fails.
func NewManager(cfg config.AntiDetectionConfig) *Manager {
	userAgents := cfg.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	referers := cfg.Referers
	if len(referers) == 0 {
		referers = defaultReferers
	}
	viewports := cfg.Viewports
	if len(viewports) == 0 {
		viewports = defaultViewports
	}
	minDelay, maxDelay := cfg.MinDelay, cfg.MaxDelay
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &Manager{
		userAgents: userAgents,
		referers:   referers,
		viewports:  viewports,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextIdentity returns a fresh randomized identity
func (m *Manager) NextIdentity() Identity {
	m.mu.Lock()
	ua := m.userAgents[m.rng.Intn(len(m.userAgents))]
	referer := m.referers[m.rng.Intn(len(m.referers))]
	viewport := m.viewports[m.rng.Intn(len(m.viewports))]
	delay := m.minDelay
	if spread := m.maxDelay - m.minDelay; spread > 0 {
		delay += time.Duration(m.rng.Int63n(int64(spread)))
	}
	m.mu.Unlock()

	return Identity{
		UserAgent: ua,
		Referer:   referer,
		Viewport:  viewport,
		Delay:     delay,
		Headers: map[string]string{
			"User-Agent":                ua,
			"Referer":                   referer,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.5",
			"Accept-Encoding":           "gzip, deflate",
			"DNT":                       "1",
			"Connection":                "keep-alive",
			"Upgrade-Insecure-Requests": "1",
		},
	}
}
