package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate fetches, parses, and caches robots.txt per host and answers
// allow/deny for crawl URLs. A host whose robots.txt cannot be fetched or
// parsed is treated as fully allowed.
type RobotsGate struct {
	client  *http.Client
	cache   map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = allow all)
	cacheMu sync.Mutex
	log     *logrus.Entry
}

// NewRobotsGate creates a RobotsGate using the given client for robots fetches
func NewRobotsGate(client *http.Client, log *logrus.Entry) *RobotsGate {
	return &RobotsGate{
		client: client,
		cache:  make(map[string]*robotstxt.RobotsData),
		log:    log,
	}
}

// Allowed reports whether userAgent may fetch targetURL per the host's
// robots.txt.
func (rg *RobotsGate) Allowed(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	host := targetURL.Hostname()

	rg.cacheMu.Lock()
	data, found := rg.cache[host]
	rg.cacheMu.Unlock()

	if !found {
		data = rg.fetchRobots(ctx, targetURL)
		rg.cacheMu.Lock()
		rg.cache[host] = data
		rg.cacheMu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.Path, userAgent)
}

// fetchRobots retrieves and parses a host's robots.txt.
// Returns nil (allow all) on any fetch or parse failure.
func (rg *RobotsGate) fetchRobots(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	scheme := targetURL.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := &url.URL{Scheme: scheme, Host: targetURL.Host, Path: "/robots.txt"}
	robotsLog := rg.log.WithField("robots_url", robotsURL.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Warnf("Failed to build robots.txt request: %v", err)
		return nil
	}

	resp, err := rg.client.Do(req)
	if err != nil {
		robotsLog.Warnf("Failed to fetch robots.txt: %v", err)
		return nil
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// 4xx means no restrictions; anything else unexpected is treated the same
	if resp.StatusCode != http.StatusOK {
		robotsLog.Debugf("robots.txt returned status %d, allowing all", resp.StatusCode)
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		robotsLog.Warnf("Failed to parse robots.txt: %v", err)
		return nil
	}
	robotsLog.Debug("Cached robots.txt")
	return data
}
