package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/oklog/run"

	"go-sitewatch/internal/alert"
	"go-sitewatch/internal/cluster"
	"go-sitewatch/internal/console"
	"go-sitewatch/internal/metrics"
	"go-sitewatch/internal/monitor"
	"go-sitewatch/internal/server"
	"go-sitewatch/internal/sshd"
	"go-sitewatch/internal/store"
	"go-sitewatch/internal/tui"
)

var (
	runfs           = flag.NewFlagSet("run", flag.ExitOnError)
	headlessFlag    = runfs.Bool("headless", false, "never start the terminal dashboard")
	intervalFlag    = runfs.String("interval", "", "seconds between cycles, overrides the config file")
	gracePeriodFlag = runfs.Int("grace", 10, "shutdown grace period in seconds")
)

var errInterrupted = errors.New("interrupted")

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func execRun(runCtx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if *intervalFlag != "" {
		cfg.Interval = *intervalFlag
		if err := cfg.Apply(); err != nil {
			return err
		}
	}

	interactive := !*headlessFlag && isTerminal(os.Stdout)
	board := monitor.NewBoard(siteList(cfg), cfg.IntervalSeconds())

	// the dashboard owns the terminal, so logs go to its log tab instead
	var logOut io.Writer = os.Stderr
	if interactive {
		logOut = board
	}
	logger, closeLog, err := newLogger(cfg.Log, logOut)
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

	m := metrics.New()
	recorders := []alert.Recorder{board, m}
	observers := monitor.Observers{board, m}
	if history != nil {
		recorders = append(recorders, history)
		observers = append(observers, &store.ObservationRecorder{Store: history, Logger: logger})
	}
	if !interactive {
		printer := console.NewPrinter(os.Stdout)
		printer.Color = isTerminal(os.Stdout)
		observers = append(observers, printer)
	}

	dispatcher, err := newDispatcher(cfg, logger, []alert.Opt{alert.WithRecorders(recorders...)})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	engine, err := newEngine(cfg, dispatcher, observers, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(runCtx)
	defer cancel()
	grace := time.Duration(*gracePeriodFlag) * time.Second

	// the run group takes care of running and shutting down all components
	g := run.Group{}

	g.Add(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		select {
		case sig := <-c:
			logger.Info("received signal", "signal", sig)
			return errInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}, func(error) {
		cancel()
	})

	switch cfg.Cluster.Mode {
	case cluster.ModeFollower:
		follower, err := cluster.NewFollower(cluster.Config{
			PeerURL:      cfg.Cluster.PeerURL,
			SharedKey:    cfg.Cluster.SharedKey,
			PollInterval: cfg.ClusterPoll(),
			Threshold:    cfg.Cluster.Threshold,
		}, logger)
		if err != nil {
			return err
		}
		g.Add(func() error { return follower.Run(ctx, engine.Run) }, func(error) { cancel() })
	default:
		if cfg.Cluster.Mode == cluster.ModeLeader {
			logger.Info("cluster: running as LEADER (active)")
			if !cfg.HTTP.Enabled {
				logger.Warn("cluster: leader has http disabled, followers will take over")
			}
		}
		g.Add(func() error { return engine.Run(ctx) }, func(error) { cancel() })
	}

	if cfg.HTTP.Enabled {
		httpSrv := server.New(server.Config{Addr: cfg.HTTP.Addr, Secret: cfg.HTTP.Secret}, board, history, m.Handler(), logger)
		g.Add(httpSrv.ListenAndServe, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), grace)
			defer done()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown error", "server", "http", "error", err)
			}
		})
	}

	if cfg.SSH.Enabled {
		sshSrv, err := sshd.New(sshd.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKey,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeys,
		}, board, logger)
		if err != nil {
			return fmt.Errorf("ssh server: %w", err)
		}
		g.Add(sshSrv.ListenAndServe, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), grace)
			defer done()
			if err := sshSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown error", "server", "ssh", "error", err)
			}
		})
	}

	if interactive {
		p := tea.NewProgram(tui.New(board), tea.WithAltScreen())
		g.Add(func() error {
			if _, err := p.Run(); err != nil {
				return err
			}
			return errInterrupted
		}, func(error) {
			p.Quit()
		})
	} else {
		logger.Info("running in headless mode", "sites", len(cfg.Sites))
	}

	err = g.Run()
	if errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("shutting down")
	return err
}
