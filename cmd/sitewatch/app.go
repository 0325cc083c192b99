package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"go-sitewatch/internal/alert"
	"go-sitewatch/internal/config"
	"go-sitewatch/internal/models"
	"go-sitewatch/internal/monitor"
)

func loadConfig(extraSites []string) (config.Config, error) {
	cfg := config.Default()
	if *configFlag != "" {
		var err error
		cfg, err = config.Load(*configFlag)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.Sites = append(cfg.Sites, extraSites...)
	if *logLevelFlag != "" {
		cfg.Log.Level = *logLevelFlag
	}
	return cfg, nil
}

// newLogger writes to out and, when configured, also to the log file. The
// returned closer releases the file.
func newLogger(cfg config.Log, out io.Writer) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level %s not supported", cfg.Level)
	}

	closer := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, f)
		closer = func() { f.Close() }
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          "sitewatch",
	})
	return logger, closer, nil
}

func siteList(cfg config.Config) []models.Site {
	sites := make([]models.Site, 0, len(cfg.Sites))
	for _, raw := range cfg.Sites {
		sites = append(sites, models.NewSite(raw))
	}
	return sites
}

func newDispatcher(cfg config.Config, logger *log.Logger, extra []alert.Opt) (*alert.Dispatcher, error) {
	transport, err := alert.NewTransport(cfg.Notifier, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Recipients) == 0 {
		logger.Warn("no recipients configured, offline alerts will only be logged")
	}

	opts := []alert.Opt{
		alert.WithLogger(logger),
		alert.WithRate(cfg.Notifier.RatePerSecond),
		alert.WithSendTimeout(cfg.SendTimeout()),
	}
	return alert.NewDispatcher(transport, cfg.Recipients, append(opts, extra...)...), nil
}

func newEngine(cfg config.Config, notifier monitor.Notifier, observer monitor.Observer, logger *log.Logger) (*monitor.Engine, error) {
	if cfg.Interval != "" && !cfg.IntervalValid() {
		logger.Warn("invalid interval, using default", "interval", cfg.Interval, "default", monitor.DefaultInterval)
	}

	return monitor.New(cfg.Sites, notifier, observer,
		monitor.WithInterval(cfg.IntervalSeconds()),
		monitor.WithProber(monitor.NewHTTPProber(cfg.Probe.IgnoreTLS, cfg.Probe.MaxBody)),
		monitor.WithProbeTimeout(cfg.ProbeTimeout()),
		monitor.WithParallelism(cfg.Probe.Parallel),
		monitor.WithLogger(logger),
	)
}
