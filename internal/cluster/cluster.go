package cluster

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	ModeStandalone = ""
	ModeLeader     = "leader"
	ModeFollower   = "follower"

	// SecretHeader must match the header the leader's HTTP server checks.
	SecretHeader = "X-Sitewatch-Secret"

	DefaultPollInterval = 5 * time.Second
	DefaultThreshold    = 3
)

type Config struct {
	PeerURL      string
	SharedKey    string
	PollInterval time.Duration
	Threshold    int
}

// Follower is a warm standby. It polls the leader's health endpoint and runs
// the given work only while the leader has been unreachable for Threshold
// consecutive polls. When the leader comes back the work is cancelled.
type Follower struct {
	cfg    Config
	client *http.Client
	logger *log.Logger

	mu     sync.Mutex
	active bool
}

func NewFollower(cfg Config, logger *log.Logger) (*Follower, error) {
	if cfg.PeerURL == "" {
		return nil, errors.New("cluster: follower needs a peer url")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Follower{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}, nil
}

func (f *Follower) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Follower) setActive(v bool) {
	f.mu.Lock()
	f.active = v
	f.mu.Unlock()
}

// Run blocks until ctx is done. work is started with a child context on
// takeover and that context is cancelled when the leader is healthy again;
// Run waits for work to return before polling on.
func (f *Follower) Run(ctx context.Context, work func(context.Context) error) error {
	f.logger.Info("cluster: running as FOLLOWER (passive)", "leader", f.cfg.PeerURL)

	var (
		failures   int
		workCancel context.CancelFunc
		workDone   chan error
	)
	stopWork := func() {
		if workCancel == nil {
			return
		}
		workCancel()
		if err := <-workDone; err != nil {
			f.logger.Error("cluster: work stopped with error", "error", err)
		}
		workCancel, workDone = nil, nil
		f.setActive(false)
	}
	defer stopWork()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-workDone:
			// work ended on its own; surface it like a standalone engine would
			workCancel()
			workCancel, workDone = nil, nil
			f.setActive(false)
			return err
		case <-ticker.C:
		}

		if f.leaderHealthy(ctx) {
			failures = 0
			if workCancel != nil {
				f.logger.Info("cluster: leader detected, switching to PASSIVE")
				stopWork()
			}
			continue
		}

		failures++
		if failures >= f.cfg.Threshold && workCancel == nil {
			f.logger.Warn("cluster: leader unreachable, switching to ACTIVE", "failures", failures)
			var workCtx context.Context
			workCtx, workCancel = context.WithCancel(ctx)
			workDone = make(chan error, 1)
			f.setActive(true)
			go func(ctx context.Context, done chan<- error) {
				done <- work(ctx)
			}(workCtx, workDone)
		}
	}
}

func (f *Follower) leaderHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.PeerURL+"/api/health", nil)
	if err != nil {
		return false
	}
	if f.cfg.SharedKey != "" {
		req.Header.Set(SecretHeader, f.cfg.SharedKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
