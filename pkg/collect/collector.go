// Package collect wires the scheduler, proxy pool, incremental tracker,
// identity manager, monitor and fetcher into a single collection engine.
// The Collector is the only type callers need.
package collect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/captcha"
	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/event"
	"github.com/robbine/financial-data-collection/pkg/fetch"
	"github.com/robbine/financial-data-collection/pkg/identity"
	"github.com/robbine/financial-data-collection/pkg/incremental"
	"github.com/robbine/financial-data-collection/pkg/models"
	"github.com/robbine/financial-data-collection/pkg/monitor"
	"github.com/robbine/financial-data-collection/pkg/proxy"
	"github.com/robbine/financial-data-collection/pkg/scheduler"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

// taskOptions are per-task settings resolved once at submission time
type taskOptions struct {
	minInterval  time.Duration
	delayPerHost time.Duration
	captchaToken string // Last solved token, sent on the next attempt
}

// Options override individual Collector components, mainly for tests.
// Zero-value fields fall back to the config-driven defaults.
type Options struct {
	Fetcher fetch.Fetcher
	Solver  captcha.Solver
	Events  event.Sink
	Store   incremental.Store
}

// Collector is the collection engine facade
type Collector struct {
	cfg        *config.AppConfig
	sched      *scheduler.Scheduler
	pool       *proxy.Pool
	tracker    *incremental.Tracker
	identities *identity.Manager
	mon        *monitor.Monitor
	fetcher    fetch.Fetcher
	solver     captcha.Solver // Nil when solving is not configured
	events     event.Sink
	log        *logrus.Entry

	optsMu sync.Mutex
	opts   map[string]*taskOptions // task id -> options

	alertMu sync.Mutex
	active  map[monitor.AlertKind]bool // Alerts currently firing, for edge-triggered events
}

// New builds a Collector from configuration. The fingerprint store is
// persistent (BadgerDB) when cfg.Incremental.PersistFingerprints is set,
// in-memory LRU otherwise.
func New(cfg *config.AppConfig, log *logrus.Entry, opt Options) (*Collector, error) {
	store := opt.Store
	if store == nil {
		if cfg.Incremental.PersistFingerprints {
			var err error
			store, err = incremental.NewBadgerStore(cfg.Incremental.StateDir, log.WithField("component", "fingerprints"))
			if err != nil {
				return nil, fmt.Errorf("opening fingerprint store: %w", err)
			}
		} else {
			store = incremental.NewMemoryStore(cfg.Incremental.Capacity, log.WithField("component", "fingerprints"))
		}
	}

	fetcher := opt.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(cfg.Fetch, log.WithField("component", "fetch"))
	}

	solver := opt.Solver
	if solver == nil {
		if s := captcha.NewHTTPSolver(cfg.Captcha, log); s != nil {
			solver = s
		}
	}

	events := opt.Events
	if events == nil {
		events = event.NewLogSink(log.WithField("component", "events"))
	}

	return &Collector{
		cfg:        cfg,
		sched:      scheduler.NewScheduler(cfg.Scheduler, log.WithField("component", "scheduler")),
		pool:       proxy.NewPool(cfg.ProxyPool, log.WithField("component", "proxies")),
		tracker:    incremental.NewTracker(store, log.WithField("component", "incremental")),
		identities: identity.NewManager(cfg.AntiDetection),
		mon:        monitor.NewMonitor(cfg.Monitor.WindowSize, log.WithField("component", "monitor")),
		fetcher:    fetcher,
		solver:     solver,
		events:     events,
		log:        log.WithField("component", "collector"),
		opts:       make(map[string]*taskOptions),
		active:     make(map[monitor.AlertKind]bool),
	}, nil
}

// SubmitTask enqueues one crawl. A negative maxRetries applies the
// configured default; zero disables retries. minInterval gates re-crawling
// of the URL and delayPerHost spaces requests to the URL's host; zero falls
// back to the global defaults for either. Returns the assigned task id.
func (c *Collector) SubmitTask(rawURL string, extraction models.ExtractionConfig,
	priority models.TaskPriority, maxRetries int, minInterval, delayPerHost time.Duration) (string, error) {

	if maxRetries < 0 {
		maxRetries = c.cfg.Scheduler.DefaultMaxRetries
	}
	if priority == 0 {
		priority = models.PriorityNormal
	}
	if minInterval <= 0 {
		minInterval = c.cfg.Incremental.MinInterval
	}

	id, err := c.sched.Submit(&models.CrawlTask{
		URL:        rawURL,
		Config:     extraction,
		Priority:   priority,
		MaxRetries: maxRetries,
	})
	if err != nil {
		return "", err
	}

	c.optsMu.Lock()
	c.opts[id] = &taskOptions{minInterval: minInterval, delayPerHost: delayPerHost}
	c.optsMu.Unlock()
	return id, nil
}

// SubmitSeeds enqueues the seed URLs of every configured source, applying
// per-source overrides. Returns the number of tasks submitted.
func (c *Collector) SubmitSeeds() (int, error) {
	submitted := 0
	for name, src := range c.cfg.Sources {
		minInterval := config.GetEffectiveMinInterval(src, c.cfg)
		maxRetries := config.GetEffectiveMaxRetries(src, c.cfg)
		prio := config.GetEffectivePriority(src)
		delayPerHost := config.GetEffectiveDelayPerHost(src, c.cfg)

		for _, seed := range src.SeedURLs {
			id, err := c.SubmitTask(seed, src.Extraction, prio, maxRetries, minInterval, delayPerHost)
			if err != nil {
				return submitted, fmt.Errorf("source %q seed %q: %w", name, seed, err)
			}
			c.log.WithFields(logrus.Fields{"source": name, "url": seed, "task_id": id}).Debug("Seed task submitted")
			submitted++
		}
	}
	return submitted, nil
}

// Status returns the external status of a task
func (c *Collector) Status(id string) (models.TaskStatus, error) {
	return c.sched.Status(id)
}

// Cancel requests cancellation of a task. See scheduler.Cancel for the
// pending/running distinction.
func (c *Collector) Cancel(id string) bool {
	ok := c.sched.Cancel(id)
	if ok {
		c.forgetOptions(id)
	}
	return ok
}

// Counts reports queued and in-flight task counts
func (c *Collector) Counts() (queued, running int) {
	return c.sched.Counts()
}

// PoolStatus reports per-proxy health
func (c *Collector) PoolStatus() []proxy.Status {
	return c.pool.Snapshot()
}

// Metrics returns the rolling aggregates for a scope. Use
// monitor.GlobalScope for the overall picture.
func (c *Collector) Metrics(scope string) monitor.Snapshot {
	return c.mon.Snapshot(scope)
}

// Scopes lists all scopes the monitor has seen
func (c *Collector) Scopes() []string {
	return c.mon.Scopes()
}

// Alerts evaluates the configured thresholds against the global window
func (c *Collector) Alerts() []monitor.AlertKind {
	return c.mon.CheckAlerts(c.cfg.Monitor.Thresholds)
}

// Run dispatches tasks until ctx is cancelled, then drains in-flight work.
// Blocks for the life of the engine.
func (c *Collector) Run(ctx context.Context) error {
	if hf, ok := c.fetcher.(*fetch.HTTPFetcher); ok {
		go hf.RunEviction(ctx, 5*time.Minute)
	}
	return c.sched.Run(ctx, c.execute, c.cfg.Scheduler.ConcurrencyLimit)
}

// Close releases the fingerprint store
func (c *Collector) Close() error {
	return c.tracker.Close()
}

// execute performs one crawl attempt. It is the Executor handed to the
// scheduler: transient failures come back as plain errors and are retried,
// stable rejections are wrapped Permanent.
func (c *Collector) execute(ctx context.Context, task *models.CrawlTask) (*models.CrawlResult, error) {
	opts := c.optionsFor(task.ID)
	taskLog := c.log.WithFields(logrus.Fields{"task_id": task.ID, "url": task.URL})

	if !c.tracker.ShouldCrawl(task.URL, opts.minInterval) {
		taskLog.Debug("Re-crawl interval not elapsed, skipping")
		c.forgetOptions(task.ID)
		c.events.Publish(event.Event{
			Type:      event.TypeTaskCompleted,
			Timestamp: time.Now(),
			Fields: map[string]any{
				"task_id":     task.ID,
				"url":         task.URL,
				"disposition": string(models.DispositionSkipped),
			},
		})
		return &models.CrawlResult{
			URL:         task.URL,
			Disposition: models.DispositionSkipped,
			FetchedAt:   time.Now(),
		}, nil
	}

	proxyInfo, proxied, err := c.acquireProxy()
	if err != nil {
		return nil, err
	}

	id := c.identities.NextIdentity()
	if opts.captchaToken != "" {
		id.Headers["X-Captcha-Token"] = opts.captchaToken
	}
	if id.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(id.Delay):
		}
	}

	req := fetch.Request{
		URL:          task.URL,
		Config:       task.Config,
		Identity:     id,
		Timeout:      c.cfg.Fetch.RequestTimeout,
		PerHostDelay: opts.delayPerHost,
	}
	if proxied {
		req.Proxy = &proxyInfo
	}

	start := time.Now()
	res, fetchErr := c.fetcher.Fetch(ctx, req)
	latency := time.Since(start)
	if res != nil {
		latency = res.Latency
	}

	c.recordOutcome(task.URL, proxyInfo, proxied, fetchErr, latency)
	c.checkAlerts()

	if fetchErr != nil {
		return nil, c.mapFetchError(ctx, task, taskLog, fetchErr)
	}

	disposition := models.DispositionUnchanged
	if c.tracker.HasChanged(task.URL, res.Content) {
		disposition = models.DispositionChanged
	}
	if err := c.tracker.Commit(task.URL, res.Content); err != nil {
		taskLog.WithError(err).Warn("Fingerprint commit failed, next crawl will re-fetch")
	}

	result := &models.CrawlResult{
		URL:              task.URL,
		Disposition:      disposition,
		ContentHash:      utils.ContentHash(res.Content),
		StructuredFields: res.StructuredFields,
		Latency:          latency,
		FetchedAt:        time.Now(),
	}
	if proxied {
		result.ProxyUsed = proxyInfo.Key()
	}

	c.forgetOptions(task.ID)
	c.events.Publish(event.Event{
		Type:      event.TypeTaskCompleted,
		Timestamp: time.Now(),
		Fields: map[string]any{
			"task_id":     task.ID,
			"url":         task.URL,
			"disposition": string(disposition),
		},
	})
	return result, nil
}

// acquireProxy picks a proxy, or elects to go direct when the pool is empty
// or exhausted and the configuration allows it.
func (c *Collector) acquireProxy() (proxy.Info, bool, error) {
	if c.pool.Len() == 0 {
		return proxy.Info{}, false, nil
	}
	info, err := c.pool.Acquire()
	if err == nil {
		return info, true, nil
	}
	if errors.Is(err, utils.ErrNoProxyAvailable) && c.cfg.ProxyPool.ProceedWithoutProxy {
		c.log.Warn("Proxy pool exhausted, proceeding without proxy")
		return proxy.Info{}, false, nil
	}
	return proxy.Info{}, false, err
}

// recordOutcome feeds the proxy pool and the monitor with the attempt result
func (c *Collector) recordOutcome(rawURL string, proxyInfo proxy.Info, proxied bool, fetchErr error, latency time.Duration) {
	success := fetchErr == nil
	blocked := false
	var fe *fetch.Error
	if errors.As(fetchErr, &fe) {
		blocked = fe.Kind == fetch.KindBlocked || fe.Kind == fetch.KindCaptchaRequired
	}

	if proxied {
		if err := c.pool.RecordOutcome(proxyInfo.Key(), success, latency); err != nil {
			c.log.WithError(err).Warn("Proxy outcome not recorded")
		}
	}
	c.mon.Record(monitor.GlobalScope, success, blocked, latency)
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		c.mon.Record(u.Hostname(), success, blocked, latency)
	}
}

// mapFetchError translates a fetch failure into the scheduler's retry
// vocabulary and publishes terminal failure events.
func (c *Collector) mapFetchError(ctx context.Context, task *models.CrawlTask, taskLog *logrus.Entry, fetchErr error) error {
	var fe *fetch.Error
	if !errors.As(fetchErr, &fe) {
		// Context cancellation and other plumbing errors pass through so
		// the scheduler's shutdown handling sees them unwrapped.
		return fetchErr
	}

	var mapped error
	switch {
	case fe.Kind == fetch.KindCaptchaRequired && c.solver != nil:
		// Solve now so the token is ready for the retry attempt.
		token, serr := c.solver.Solve(ctx, captcha.Challenge{
			Kind:    captcha.KindRecaptcha,
			PageURL: task.URL,
		})
		if serr != nil {
			taskLog.WithError(serr).Warn("Captcha solve failed")
			mapped = scheduler.Permanent(fmt.Errorf("%w: %v", utils.ErrCaptchaUnsolved, fetchErr))
			break
		}
		c.setCaptchaToken(task.ID, token)
		mapped = fetchErr
	case fe.Kind == fetch.KindCaptchaRequired:
		mapped = scheduler.Permanent(fmt.Errorf("%w: no solver configured: %v", utils.ErrCaptchaUnsolved, fetchErr))
	case fe.Transient():
		mapped = fetchErr
	default:
		mapped = scheduler.Permanent(fetchErr)
	}

	var perm *scheduler.PermanentError
	terminal := errors.As(mapped, &perm) || task.RetryCount >= task.MaxRetries
	if terminal {
		c.forgetOptions(task.ID)
		c.events.Publish(event.Event{
			Type:      event.TypeTaskFailed,
			Timestamp: time.Now(),
			Fields: map[string]any{
				"task_id":        task.ID,
				"url":            task.URL,
				"error":          mapped.Error(),
				"error_category": utils.CategorizeError(mapped),
			},
		})
	}
	return mapped
}

// checkAlerts emits an event for each alert that newly starts firing
func (c *Collector) checkAlerts() {
	firing := c.mon.CheckAlerts(c.cfg.Monitor.Thresholds)

	c.alertMu.Lock()
	defer c.alertMu.Unlock()

	current := make(map[monitor.AlertKind]bool, len(firing))
	for _, kind := range firing {
		current[kind] = true
		if !c.active[kind] {
			c.log.WithField("alert", string(kind)).Warn("Alert threshold crossed")
			c.events.Publish(event.Event{
				Type:      event.TypeAlertTriggered,
				Timestamp: time.Now(),
				Fields:    map[string]any{"alert": string(kind)},
			})
		}
	}
	c.active = current
}

func (c *Collector) optionsFor(id string) taskOptions {
	c.optsMu.Lock()
	defer c.optsMu.Unlock()
	if o, ok := c.opts[id]; ok {
		return *o
	}
	return taskOptions{minInterval: c.cfg.Incremental.MinInterval}
}

func (c *Collector) setCaptchaToken(id, token string) {
	c.optsMu.Lock()
	defer c.optsMu.Unlock()
	if o, ok := c.opts[id]; ok {
		o.captchaToken = token
	}
}

func (c *Collector) forgetOptions(id string) {
	c.optsMu.Lock()
	delete(c.opts, id)
	c.optsMu.Unlock()
}
