package fetch

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/proxy"
)

// ClientPool builds and caches one *http.Client per proxy endpoint (plus a
// direct client), so transports keep their connection pools across attempts.
type ClientPool struct {
	cfg     config.HTTPClientConfig
	mu      sync.Mutex
	clients map[string]*http.Client // proxy key ("" = direct) -> client
	log     *logrus.Entry
}

// NewClientPool creates a ClientPool
func NewClientPool(cfg config.HTTPClientConfig, log *logrus.Entry) *ClientPool {
	return &ClientPool{
		cfg:     cfg,
		clients: make(map[string]*http.Client),
		log:     log,
	}
}

// For returns the cached client routed through p, or the direct client when
// p is nil.
func (cp *ClientPool) For(p *proxy.Info) *http.Client {
	key := ""
	var proxyURL *url.URL
	if p != nil {
		key = p.Key()
		proxyURL = p.URL()
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if client, ok := cp.clients[key]; ok {
		return client
	}
	client := cp.newClient(proxyURL)
	cp.clients[key] = client
	return client
}

// newClient builds an HTTP client from the configured transport settings
func (cp *ClientPool) newClient(proxyURL *url.URL) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cp.cfg.DialerTimeout,
		KeepAlive: cp.cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cp.cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cp.cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cp.cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cp.cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cp.cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20, // 1MB max header size
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if cp.cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cp.cfg.ForceAttemptHTTP2
	}

	client := &http.Client{
		Timeout:   cp.cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			cp.log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}

	if proxyURL != nil {
		cp.log.WithField("proxy", proxyURL.Host).Debug("Initialized proxied HTTP client")
	} else {
		cp.log.Debug("Initialized direct HTTP client")
	}
	return client
}
