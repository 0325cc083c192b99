package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go-sitewatch/internal/alert"
	"go-sitewatch/internal/console"
	"go-sitewatch/internal/models"
	"go-sitewatch/internal/monitor"
	"go-sitewatch/internal/store"
)

var (
	checkfs    = flag.NewFlagSet("check", flag.ExitOnError)
	notifyFlag = checkfs.Bool("notify", false, "send offline alerts for sites found offline")
)

var errSitesOffline = errors.New("one or more sites are offline")

// offlineCounter counts offline observations of a cycle.
type offlineCounter struct{ n int }

func (c *offlineCounter) Observe(obs models.Observation) {
	if !obs.Online {
		c.n++
	}
}

func (c *offlineCounter) Tick(int) {}

func execCheck(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if len(cfg.Sites) == 0 {
		return errors.New("no sites to check")
	}

	logger, closeLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	history, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	counter := &offlineCounter{}
	observers := monitor.Observers{console.NewPrinter(os.Stdout), counter}
	var recorders []alert.Recorder
	if history != nil {
		observers = append(observers, &store.ObservationRecorder{Store: history, Logger: logger})
		recorders = append(recorders, history)
	}

	var notifier monitor.Notifier = monitor.NopNotifier{}
	if *notifyFlag {
		dispatcher, err := newDispatcher(cfg, logger, []alert.Opt{alert.WithSync(), alert.WithRecorders(recorders...)})
		if err != nil {
			return err
		}
		notifier = dispatcher
	}

	engine, err := newEngine(cfg, notifier, observers, logger)
	if err != nil {
		return err
	}
	if err := engine.Cycle(ctx); err != nil {
		return err
	}

	if counter.n > 0 {
		return fmt.Errorf("%w (%d of %d)", errSitesOffline, counter.n, len(cfg.Sites))
	}
	return nil
}
