package monitor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"go-sitewatch/internal/models"
)

var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

type fakeNotifier struct {
	mu   sync.Mutex
	urls []string
}

func (n *fakeNotifier) NotifyOffline(_ context.Context, url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *fakeNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

type recorder struct {
	mu    sync.Mutex
	obs   []models.Observation
	ticks []int
}

func (r *recorder) Observe(obs models.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
}

func (r *recorder) Tick(remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, remaining)
}

func (r *recorder) observations() []models.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Observation(nil), r.obs...)
}

func testLogger() *log.Logger { return log.New(io.Discard) }

func newTestEngine(t *testing.T, urls []string, n Notifier, o Observer, opts ...Opt) *Engine {
	t.Helper()
	opts = append([]Opt{WithInterval(1), WithTick(time.Millisecond), WithLogger(testLogger())}, opts...)
	e, err := New(urls, n, o, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func runCycles(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := e.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle() #%d error: %v", i+1, err)
		}
	}
}

type want struct {
	online        bool
	changed       bool
	hasLastChange bool
}

func checkObservations(t *testing.T, got []models.Observation, wants []want) {
	t.Helper()
	if len(got) != len(wants) {
		t.Fatalf("got %d observations, want %d", len(got), len(wants))
	}
	for i, w := range wants {
		o := got[i]
		if o.Online != w.online || o.Changed != w.changed {
			t.Errorf("observation %d = (online=%v, changed=%v), want (%v, %v)", i+1, o.Online, o.Changed, w.online, w.changed)
		}
		if w.hasLastChange && !timestampRe.MatchString(o.LastChange) {
			t.Errorf("observation %d last change = %q, want timestamp", i+1, o.LastChange)
		}
		if !w.hasLastChange && o.LastChange != "" {
			t.Errorf("observation %d last change = %q, want none", i+1, o.LastChange)
		}
	}
}

// sequenceServer answers request n (1-based) of path with handlers[n-1],
// repeating the last handler after the sequence is exhausted.
func sequenceServer(t *testing.T, path string, handlers ...func(http.ResponseWriter)) (*httptest.Server, *int32) {
	t.Helper()
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n := int(atomic.AddInt32(&count, 1))
		if n > len(handlers) {
			n = len(handlers)
		}
		handlers[n-1](w)
	}))
	t.Cleanup(server.Close)
	return server, &count
}

func body(s string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.Write([]byte(s)) }
}

func status(code int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		w.Write([]byte("nope"))
	}
}

func TestEngine_SuccessUnchanged(t *testing.T) {
	server, _ := sequenceServer(t, "/s", body("hello"))
	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL + "/s"}, n, rec)

	runCycles(t, e, 2)

	checkObservations(t, rec.observations(), []want{{online: true}, {online: true}})
	if calls := n.calls(); len(calls) != 0 {
		t.Errorf("notifier called %d times, want 0", len(calls))
	}
}

func TestEngine_SuccessChanged(t *testing.T) {
	server, _ := sequenceServer(t, "/c", body("hello"), body("world"))
	n, rec := &fakeNotifier{}, &recorder{}
	start := time.Now().Truncate(time.Second)
	e := newTestEngine(t, []string{server.URL + "/c"}, n, rec)

	runCycles(t, e, 2)

	obs := rec.observations()
	checkObservations(t, obs, []want{{online: true}, {online: true, changed: true, hasLastChange: true}})
	if len(n.calls()) != 0 {
		t.Errorf("notifier called, want 0 calls")
	}

	ts, err := time.ParseInLocation(models.TimeLayout, obs[1].LastChange, time.Local)
	if err != nil {
		t.Fatalf("parse last change: %v", err)
	}
	if ts.Before(start) {
		t.Errorf("last change %s is before the probe started (%s)", ts, start)
	}
	if got := e.Sites()[0].LastChange; got != obs[1].LastChange {
		t.Errorf("Sites()[0].LastChange = %q, want %q", got, obs[1].LastChange)
	}
}

func TestEngine_ErrorStatusNotifiesOnce(t *testing.T) {
	server, _ := sequenceServer(t, "/e", status(http.StatusNotFound))
	n, rec := &fakeNotifier{}, &recorder{}
	url := server.URL + "/e"
	e := newTestEngine(t, []string{url}, n, rec)

	runCycles(t, e, 3)

	checkObservations(t, rec.observations(), []want{{}, {}, {}})
	calls := n.calls()
	if len(calls) != 1 || calls[0] != url {
		t.Errorf("notifier calls = %v, want [%s]", calls, url)
	}
}

func TestEngine_Recovery(t *testing.T) {
	server, _ := sequenceServer(t, "/r",
		status(http.StatusServiceUnavailable),
		status(http.StatusServiceUnavailable),
		body("ok"))
	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL + "/r"}, n, rec)

	runCycles(t, e, 4)

	checkObservations(t, rec.observations(), []want{{}, {}, {online: true}, {online: true}})
	if calls := n.calls(); len(calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(calls))
	}
	if e.state.GetOrInit(server.URL + "/r").OfflineLatched {
		t.Error("latch not cleared after recovery")
	}
}

func TestEngine_Flap(t *testing.T) {
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1)%2 == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL + "/f"}, n, rec)

	var notified []int
	for i := 1; i <= 6; i++ {
		before := len(n.calls())
		runCycles(t, e, 1)
		if len(n.calls()) > before {
			notified = append(notified, i)
		}
	}

	if len(notified) != 3 || notified[0] != 1 || notified[1] != 3 || notified[2] != 5 {
		t.Errorf("notified at cycles %v, want [1 3 5]", notified)
	}
	for i, o := range rec.observations() {
		if o.Changed {
			t.Errorf("cycle %d reported changed", i+1)
		}
		if o.Online != (i%2 == 1) {
			t.Errorf("cycle %d online = %v", i+1, o.Online)
		}
	}
}

func TestEngine_FingerprintSurvivesOfflineGap(t *testing.T) {
	server, _ := sequenceServer(t, "/g",
		body("one"),
		status(http.StatusInternalServerError),
		body("two"))
	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL + "/g"}, n, rec)

	runCycles(t, e, 3)

	checkObservations(t, rec.observations(), []want{
		{online: true},
		{},
		{online: true, changed: true, hasLastChange: true},
	})
}

func TestEngine_LastChangeKeptWhileOffline(t *testing.T) {
	server, _ := sequenceServer(t, "/k",
		body("one"),
		body("two"),
		status(http.StatusBadGateway))
	rec := &recorder{}
	e := newTestEngine(t, []string{server.URL + "/k"}, nil, rec)

	runCycles(t, e, 3)

	obs := rec.observations()
	if obs[2].Online || obs[2].Changed {
		t.Fatalf("third observation = %+v, want offline unchanged", obs[2])
	}
	if obs[2].LastChange != obs[1].LastChange || obs[2].LastChange == "" {
		t.Errorf("last change while offline = %q, want %q", obs[2].LastChange, obs[1].LastChange)
	}
}

func TestEngine_FirstProbeOffline(t *testing.T) {
	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{"http://127.0.0.1:1/down"}, n, rec)

	runCycles(t, e, 1)

	if calls := n.calls(); len(calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(calls))
	}
}

func TestEngine_Normalization(t *testing.T) {
	server, _ := sequenceServer(t, "/s", status(http.StatusNotFound))
	raw := strings.TrimPrefix(server.URL, "http://") + "/s"
	want := server.URL + "/s"

	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{raw}, n, rec)

	if sites := e.Sites(); len(sites) != 1 || sites[0].URL != want {
		t.Fatalf("Sites() = %+v, want URL %s", sites, want)
	}

	runCycles(t, e, 1)

	if calls := n.calls(); len(calls) != 1 || calls[0] != want {
		t.Errorf("notifier calls = %v, want [%s]", calls, want)
	}
	if obs := rec.observations(); obs[0].URL != want {
		t.Errorf("observation url = %s, want %s", obs[0].URL, want)
	}
}

func TestEngine_DuplicatesShareState(t *testing.T) {
	server, _ := sequenceServer(t, "/d", status(http.StatusNotFound))
	raw := strings.TrimPrefix(server.URL, "http://") + "/d"

	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{raw, server.URL + "/d"}, n, rec)

	runCycles(t, e, 2)

	if got := len(rec.observations()); got != 4 {
		t.Errorf("got %d observations, want 4", got)
	}
	if calls := n.calls(); len(calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(calls))
	}
	if e.state.Len() != 1 {
		t.Errorf("state entries = %d, want 1", e.state.Len())
	}
}

func TestEngine_ParallelKeepsInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(50 * time.Millisecond)
		}
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	urls := []string{server.URL + "/slow", server.URL + "/fast", server.URL + "/down"}
	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, urls, n, rec, WithParallelism(3))

	runCycles(t, e, 2)

	obs := rec.observations()
	if len(obs) != 6 {
		t.Fatalf("got %d observations, want 6", len(obs))
	}
	for i, o := range obs {
		if o.URL != urls[i%3] {
			t.Errorf("observation %d url = %s, want %s", i, o.URL, urls[i%3])
		}
	}
	if calls := n.calls(); len(calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(calls))
	}
}

func TestEngine_ProbeTimeoutIsOffline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL}, n, rec, WithProbeTimeout(50*time.Millisecond))

	runCycles(t, e, 1)

	checkObservations(t, rec.observations(), []want{{}})
	if len(n.calls()) != 1 {
		t.Errorf("notifier called %d times, want 1", len(n.calls()))
	}
}

func TestEngine_CancelledCycleLeavesStateAlone(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	n, rec := &fakeNotifier{}, &recorder{}
	e := newTestEngine(t, []string{server.URL}, n, rec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := e.Cycle(ctx); err == nil {
		t.Fatal("Cycle() on cancelled context returned nil")
	}
	if len(rec.observations()) != 0 || len(n.calls()) != 0 {
		t.Errorf("interrupted cycle published %d observations and %d alerts", len(rec.observations()), len(n.calls()))
	}
	if e.state.GetOrInit(server.URL).OfflineLatched {
		t.Error("interrupted probe latched the site offline")
	}
}

// stopAfter cancels the run once the given number of cycles has been observed.
type stopAfter struct {
	recorder
	sites  int
	cycles int
	cancel context.CancelFunc
}

func (s *stopAfter) Observe(obs models.Observation) {
	s.recorder.Observe(obs)
	if len(s.observations()) == s.sites*s.cycles {
		s.cancel()
	}
}

func TestEngine_RunCountdown(t *testing.T) {
	server, count := sequenceServer(t, "/s", body("hello"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &stopAfter{sites: 1, cycles: 3, cancel: cancel}
	e := newTestEngine(t, []string{server.URL + "/s"}, nil, obs, WithInterval(3))

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}

	if got := atomic.LoadInt32(count); got != 3 {
		t.Errorf("server saw %d probes, want 3", got)
	}
	obs.mu.Lock()
	ticks := append([]int(nil), obs.ticks...)
	obs.mu.Unlock()
	want := []int{3, 2, 1, 0, 3, 2, 1, 0}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
}

func TestEngine_RunEmptySiteList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int32
	obs := tickFunc(func(remaining int) {
		if atomic.AddInt32(&ticks, 1) == 5 {
			cancel()
		}
	})
	e := newTestEngine(t, nil, nil, obs, WithInterval(1))

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := atomic.LoadInt32(&ticks); got != 5 {
		t.Errorf("ticks = %d, want 5", got)
	}
}

func TestEngine_RunStopsDuringCountdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	obs := tickFunc(func(int) { cancel() })
	e := newTestEngine(t, nil, nil, obs, WithInterval(3600), WithTick(time.Hour))

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown was not interrupted")
	}
}

type tickFunc func(int)

func (f tickFunc) Observe(models.Observation) {}
func (f tickFunc) Tick(remaining int)          { f(remaining) }

func TestNew_Defaults(t *testing.T) {
	e, err := New([]string{"example.com"}, nil, nil, WithInterval(0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if e.Interval() != DefaultInterval {
		t.Errorf("Interval() = %d, want %d", e.Interval(), DefaultInterval)
	}
	if e.tick != DefaultTick || e.probeTimeout != DefaultProbeTimeout {
		t.Errorf("unexpected defaults: tick=%v timeout=%v", e.tick, e.probeTimeout)
	}
}

func TestEngine_ChangePastBodyCapDetected(t *testing.T) {
	server, _ := sequenceServer(t, "/big", body("0123456789-A"), body("0123456789-B"))
	rec := &recorder{}
	e := newTestEngine(t, []string{server.URL + "/big"}, &fakeNotifier{}, rec,
		WithProber(NewHTTPProber(false, 10)))

	runCycles(t, e, 2)

	checkObservations(t, rec.observations(), []want{
		{online: true},
		{online: true, changed: true, hasLastChange: true},
	})
}
