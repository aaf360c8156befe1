package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/collect"
	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/monitor"
	"github.com/robbine/financial-data-collection/pkg/watch"
)

// version is set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// --- Early Initialization & Flags ---
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	validateFlag := flag.Bool("validate", false, "Validate the config file and exit")
	watchFlag := flag.Bool("watch", false, "Keep running, re-submitting source seeds at their re-crawl intervals")
	pprofAddr := flag.String("pprof", "", "Address for pprof HTTP server (e.g., ':6060', empty to disable)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("collector %s\n", version)
		return
	}

	// --- Logger Configuration ---
	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	log.Infof("Loading configuration from %s", *configFileFlag)
	appCfg, err := config.LoadConfig(*configFileFlag)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if *validateFlag {
		fmt.Printf("%s: configuration OK (%d sources, %d proxies)\n",
			*configFileFlag, len(appCfg.Sources), len(appCfg.ProxyPool.Proxies))
		return
	}
	logAppConfig(appCfg, log)

	// --- Start pprof HTTP Server (Optional) ---
	if *pprofAddr != "" {
		go func() {
			log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Errorf("Pprof server failed to start on %s: %v", *pprofAddr, err)
			}
		}()
	}

	// --- Global Context & Signal Handling ---
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// --- Initialize the Collection Engine ---
	log.Info("Initializing collection engine...")
	engine, err := collect.New(appCfg, logrus.NewEntry(log), collect.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize collection engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("Error closing fingerprint store: %v", err)
		}
	}()

	if *watchFlag {
		watcher := watch.NewWatcher(appCfg, engine, logrus.NewEntry(log))
		go func() {
			if err := watcher.Run(runCtx); err != nil {
				log.Errorf("Watch loop ended with error: %v", err)
			}
		}()
		log.Infof("Watch mode enabled for %d sources", len(appCfg.Sources))
	} else {
		submitted, err := engine.SubmitSeeds()
		if err != nil {
			log.Fatalf("Failed to submit seed tasks: %v", err)
		}
		if submitted == 0 {
			log.Fatal("No seed URLs configured; nothing to collect. Add sources to the config file.")
		}
		log.Infof("Submitted %d seed tasks from %d sources", submitted, len(appCfg.Sources))
	}

	// --- Run Until Signalled ---
	startTime := time.Now()
	if err := engine.Run(runCtx); err != nil {
		log.Errorf("Collection run ended with error: %v", err)
	}

	// --- Final Summary ---
	snap := engine.Metrics(monitor.GlobalScope)
	log.Infof("Collection finished in %v: %d attempts, success rate %.2f, block rate %.2f, p95 latency %v",
		time.Since(startTime).Round(time.Millisecond),
		snap.Count, snap.SuccessRate, snap.BlockRate, snap.P95Latency)
	for _, ps := range engine.PoolStatus() {
		log.Infof("Proxy %s: success rate %.2f over %d outcomes, blacklisted=%v",
			ps.Key, ps.SuccessRate, ps.Outcomes, ps.Blacklisted)
	}
	for _, alert := range engine.Alerts() {
		log.Warnf("Alert still firing at shutdown: %s", alert)
	}
}

// logAppConfig logs the effective global settings at startup
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Scheduler: concurrency=%d, max_retries=%d, backoff=%v..%v",
		cfg.Scheduler.ConcurrencyLimit, cfg.Scheduler.DefaultMaxRetries,
		cfg.Scheduler.BackoffBase, cfg.Scheduler.BackoffMax)
	log.Infof("Proxy pool: %d proxies, blacklist after %d failures, suspension %v..%v",
		len(cfg.ProxyPool.Proxies), cfg.ProxyPool.FailureStreak,
		cfg.ProxyPool.BlacklistBase, cfg.ProxyPool.BlacklistMax)
	log.Infof("Incremental: min_interval=%v, capacity=%d, persist=%v",
		cfg.Incremental.MinInterval, cfg.Incremental.Capacity, cfg.Incremental.PersistFingerprints)
	log.Infof("Fetch: timeout=%v, max_per_host=%d, robots=%v",
		cfg.Fetch.RequestTimeout, cfg.Fetch.MaxRequestsPerHost, cfg.Fetch.RespectRobots)
	if cfg.Captcha.Enabled {
		log.Infof("Captcha solving enabled via %s", cfg.Captcha.Endpoint)
	}
}
