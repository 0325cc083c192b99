package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"go-sitewatch/internal/models"
)

const (
	DefaultInterval     = 10
	DefaultTick         = time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Engine probes a fixed list of sites in cycles. All state transitions,
// notifications and observer calls happen on the goroutine running Cycle/Run.
type Engine struct {
	sites    []string
	state    *StateTable
	notifier Notifier
	observer Observer
	prober   Prober

	interval     int
	tick         time.Duration
	probeTimeout time.Duration
	parallel     int

	logger *log.Logger
	now    func() time.Time
}

// Opt is a functional option for an Engine.
type Opt func(*Engine)

// WithInterval sets the countdown length in seconds. Non-positive values fall
// back to DefaultInterval.
func WithInterval(seconds int) Opt {
	return func(e *Engine) {
		if seconds <= 0 {
			seconds = DefaultInterval
		}
		e.interval = seconds
	}
}

// WithTick sets the duration of one countdown step.
func WithTick(d time.Duration) Opt {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

func WithProber(p Prober) Opt {
	return func(e *Engine) {
		if p != nil {
			e.prober = p
		}
	}
}

// WithProbeTimeout bounds every single probe. A timed out probe is offline.
func WithProbeTimeout(d time.Duration) Opt {
	return func(e *Engine) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithParallelism lets up to n probes of a cycle run at once. State updates
// still happen one site at a time, in input order.
func WithParallelism(n int) Opt {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

func WithLogger(logger *log.Logger) Opt {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Opt {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine for the given raw URLs. Each URL is normalized and
// gets its state entry right away. Duplicates share one entry.
func New(urls []string, notifier Notifier, observer Observer, opts ...Opt) (*Engine, error) {
	if err := checkHash(); err != nil {
		return nil, err
	}

	e := &Engine{
		state:        NewStateTable(),
		notifier:     notifier,
		observer:     observer,
		prober:       NewHTTPProber(false, 0),
		interval:     DefaultInterval,
		tick:         DefaultTick,
		probeTimeout: DefaultProbeTimeout,
		parallel:     1,
		logger:       log.Default(),
		now:          time.Now,
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.observer == nil {
		e.observer = Observers(nil)
	}

	for _, o := range opts {
		o(e)
	}

	for _, raw := range urls {
		url := models.NormalizeURL(raw)
		e.sites = append(e.sites, url)
		e.state.GetOrInit(url)
	}

	return e, nil
}

func (e *Engine) Interval() int { return e.interval }

// Sites returns the configured sites in input order with their current last
// change time.
func (e *Engine) Sites() []models.Site {
	sites := make([]models.Site, 0, len(e.sites))
	for _, url := range e.sites {
		sites = append(sites, models.Site{URL: url, LastChange: e.state.GetOrInit(url).LastChange})
	}
	return sites
}

// Run executes cycles until ctx is cancelled. Cancellation is checked at the
// top of every cycle and interrupts the countdown.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("monitoring started", "sites", len(e.sites), "interval", e.interval)

	for {
		if ctx.Err() != nil {
			e.logger.Info("monitoring stopped")
			return nil
		}
		if err := e.Cycle(ctx); err != nil {
			continue
		}
		if err := e.countdown(ctx); err != nil {
			continue
		}
	}
}

// Cycle probes every site once and publishes one observation per site in
// input order. It returns ctx.Err() if it was interrupted, in which case the
// interrupted probe is discarded without touching state.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cycleID := uuid.NewString()
	e.logger.Debug("cycle started", "cycle", cycleID)

	if e.parallel > 1 && len(e.sites) > 1 {
		results := e.probeAll(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, url := range e.sites {
			e.observer.Observe(e.apply(ctx, cycleID, url, results[i]))
		}
		return nil
	}

	for _, url := range e.sites {
		res := e.probe(ctx, url)
		if err := ctx.Err(); err != nil {
			return err
		}
		e.observer.Observe(e.apply(ctx, cycleID, url, res))
	}
	return nil
}

func (e *Engine) probe(ctx context.Context, url string) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	return e.prober.Probe(probeCtx, url)
}

func (e *Engine) probeAll(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(e.sites))
	sem := make(chan struct{}, e.parallel)
	wg := &sync.WaitGroup{}

	for i, url := range e.sites {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.probe(ctx, url)
		}(i, url)
	}
	wg.Wait()

	return results
}

// apply runs the per-site state machine for one probe result.
func (e *Engine) apply(ctx context.Context, cycleID, url string, res ProbeResult) models.Observation {
	st := e.state.GetOrInit(url)
	obs := models.Observation{
		Cycle:   cycleID,
		URL:     url,
		Online:  res.Online,
		Latency: res.Latency,
		At:      e.now(),
	}

	if !res.Online {
		if e.state.ArmOffline(url) {
			e.logger.Warn("site is offline, sending alert", "url", url)
			e.notifier.NotifyOffline(ctx, url)
		} else {
			e.logger.Debug("site still offline", "url", url)
		}
		obs.LastChange = st.LastChange
		return obs
	}

	if e.state.RecordSuccess(url, res.fingerprint()) {
		st.LastChange = obs.At.Format(models.TimeLayout)
		obs.Changed = true
		e.logger.Info("content changed", "url", url, "at", st.LastChange)
	}
	if st.OfflineLatched {
		e.logger.Info("site recovered", "url", url)
	}
	e.state.ClearOffline(url)

	obs.LastChange = st.LastChange
	return obs
}

// countdown publishes interval..0, waiting one tick after each value.
func (e *Engine) countdown(ctx context.Context) error {
	for i := e.interval; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.observer.Tick(i)

		timer := time.NewTimer(e.tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
