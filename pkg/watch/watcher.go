// Package watch re-submits source seed URLs on a schedule so the engine can
// run as a long-lived collection daemon. Each source cycles at its effective
// re-crawl interval; the incremental tracker still gates individual URLs, so
// an early re-submission costs a skipped task, not a redundant fetch.
package watch

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/models"
)

// Submitter enqueues crawl tasks. Satisfied by collect.Collector.
type Submitter interface {
	SubmitTask(url string, extraction models.ExtractionConfig, priority models.TaskPriority,
		maxRetries int, minInterval, delayPerHost time.Duration) (string, error)
}

// Watcher drives periodic seed submission for all configured sources
type Watcher struct {
	cfg    *config.AppConfig
	submit Submitter
	state  *StateManager
	tick   time.Duration // Zero = derived from source intervals
	log    *logrus.Entry
}

// NewWatcher creates a watcher over every source in cfg
func NewWatcher(cfg *config.AppConfig, submit Submitter, log *logrus.Entry) *Watcher {
	return &Watcher{
		cfg:    cfg,
		submit: submit,
		state:  NewStateManager(cfg.Incremental.StateDir),
		log:    log.WithField("component", "watch"),
	}
}

// Run cycles due sources until ctx is cancelled. The first cycle happens
// immediately for sources that have never run.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.state.Load(); err != nil {
		w.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	w.log.Infof("Watch mode: %d sources, checking every %v", len(w.cfg.Sources), w.tickInterval())
	w.runDueSources()

	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Watch loop shutting down")
			if err := w.state.Save(); err != nil {
				w.log.Errorf("Failed to save watch state: %v", err)
			}
			return nil
		case <-ticker.C:
			w.runDueSources()
		}
	}
}

// runDueSources submits seeds for every source whose interval has elapsed
func (w *Watcher) runDueSources() {
	cycled := 0
	for _, name := range w.sourceNames() {
		src := w.cfg.Sources[name]
		interval := config.GetEffectiveMinInterval(src, w.cfg)
		if !w.state.ShouldRun(name, interval) {
			continue
		}

		submitted, errMsg := 0, ""
		maxRetries := config.GetEffectiveMaxRetries(src, w.cfg)
		prio := config.GetEffectivePriority(src)
		delayPerHost := config.GetEffectiveDelayPerHost(src, w.cfg)
		for _, seed := range src.SeedURLs {
			if _, err := w.submit.SubmitTask(seed, src.Extraction, prio, maxRetries, interval, delayPerHost); err != nil {
				w.log.WithFields(logrus.Fields{"source": name, "url": seed}).
					Warnf("Seed submission failed: %v", err)
				errMsg = err.Error()
				continue
			}
			submitted++
		}

		w.state.UpdateSourceState(name, submitted, errMsg)
		w.log.WithFields(logrus.Fields{"source": name, "submitted": submitted}).
			Info("Source cycle submitted")
		cycled++
	}

	if cycled > 0 {
		if err := w.state.Save(); err != nil {
			w.log.Errorf("Failed to save watch state: %v", err)
		}
	}
	w.logNextDue()
}

// tickInterval derives the check cadence from the shortest source interval:
// a tenth of it, clamped to [1s, 10m].
func (w *Watcher) tickInterval() time.Duration {
	if w.tick > 0 {
		return w.tick
	}

	shortest := time.Duration(0)
	for _, src := range w.cfg.Sources {
		iv := config.GetEffectiveMinInterval(src, w.cfg)
		if shortest == 0 || iv < shortest {
			shortest = iv
		}
	}
	if shortest == 0 {
		shortest = w.cfg.Incremental.MinInterval
	}

	check := shortest / 10
	if check < time.Second {
		check = time.Second
	}
	if check > 10*time.Minute {
		check = 10 * time.Minute
	}
	return check
}

// logNextDue logs the soonest upcoming source cycle
func (w *Watcher) logNextDue() {
	var nextName string
	var nextAt time.Time
	for _, name := range w.sourceNames() {
		at := w.state.NextRunTime(name, config.GetEffectiveMinInterval(w.cfg.Sources[name], w.cfg))
		if nextName == "" || at.Before(nextAt) {
			nextName, nextAt = name, at
		}
	}
	if nextName == "" {
		return
	}
	until := time.Until(nextAt)
	if until < 0 {
		until = 0
	}
	w.log.Debugf("Next source cycle: %s in %v", nextName, until.Round(time.Second))
}

func (w *Watcher) sourceNames() []string {
	names := make([]string, 0, len(w.cfg.Sources))
	for name := range w.cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
