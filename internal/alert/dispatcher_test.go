package alert

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"go-sitewatch/internal/models"
)

type sent struct {
	recipient string
	message   string
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []sent
	fail  map[string]error
	block chan struct{}
}

func (f *fakeTransport) Name() string    { return "fake" }
func (f *fakeTransport) Validate() error { return nil }
func (f *fakeTransport) Send(ctx context.Context, recipient, message string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{recipient, message})
	return f.fail[recipient]
}

func (f *fakeTransport) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type memRecorder struct {
	mu      sync.Mutex
	records []models.AlertRecord
}

func (m *memRecorder) RecordAlert(_ context.Context, rec models.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestDispatcher_SingleRecipient(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, []string{"X"}, WithLogger(quietLogger()))

	d.NotifyOffline(context.Background(), "http://a.test")
	d.Close()

	got := tr.messages()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].recipient != "X" {
		t.Errorf("recipient = %q", got[0].recipient)
	}
	if got[0].message != "WARNING: The URL: http://a.test is down." {
		t.Errorf("message = %q", got[0].message)
	}
}

func TestDispatcher_RecipientOrderAndFailures(t *testing.T) {
	tr := &fakeTransport{fail: map[string]error{"B": errors.New("boom")}}
	rec := &memRecorder{}
	d := NewDispatcher(tr, []string{"A", "B", "C"},
		WithSync(),
		WithRecorders(rec),
		WithLogger(quietLogger()),
	)

	d.NotifyOffline(context.Background(), "http://a.test")

	got := tr.messages()
	if len(got) != 3 {
		t.Fatalf("a failing recipient must not stop the others, got %d sends", len(got))
	}
	for i, want := range []string{"A", "B", "C"} {
		if got[i].recipient != want {
			t.Errorf("send %d went to %q, want %q", i, got[i].recipient, want)
		}
	}

	if len(rec.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(rec.records))
	}
	if !rec.records[0].Delivered() || rec.records[1].Delivered() {
		t.Errorf("delivery flags wrong: %+v", rec.records)
	}
	if rec.records[1].Error != "boom" {
		t.Errorf("error = %q", rec.records[1].Error)
	}
	if rec.records[2].Transport != "fake" {
		t.Errorf("transport = %q", rec.records[2].Transport)
	}
}

func TestDispatcher_NoRecipients(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, nil, WithSync(), WithLogger(quietLogger()))
	d.NotifyOffline(context.Background(), "http://a.test")
	if len(tr.messages()) != 0 {
		t.Error("nothing should be sent without recipients")
	}
}

func TestDispatcher_SurvivesCallerCancel(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	d := NewDispatcher(tr, []string{"X"}, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	d.NotifyOffline(ctx, "http://a.test")
	cancel()
	close(tr.block)
	d.Close()

	if len(tr.messages()) != 1 {
		t.Error("alert should be delivered even after the caller's context is done")
	}
}

func TestDispatcher_SendTimeout(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	rec := &memRecorder{}
	d := NewDispatcher(tr, []string{"X"},
		WithSync(),
		WithSendTimeout(20*time.Millisecond),
		WithRecorders(rec),
		WithLogger(quietLogger()),
	)

	start := time.Now()
	d.NotifyOffline(context.Background(), "http://a.test")
	if time.Since(start) > time.Second {
		t.Fatal("send was not bounded by the timeout")
	}
	if len(rec.records) != 1 || rec.records[0].Delivered() {
		t.Errorf("expected one failed record, got %+v", rec.records)
	}
}

func TestDispatcher_RateLimit(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, []string{"A", "B", "C"}, WithSync(), WithRate(20), WithLogger(quietLogger()))

	start := time.Now()
	d.NotifyOffline(context.Background(), "http://a.test")
	// burst of one, so the last two sends wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("rate limit not applied, took %v", elapsed)
	}
	if len(tr.messages()) != 3 {
		t.Errorf("expected 3 sends, got %d", len(tr.messages()))
	}
}

// silentListener accepts connections and never writes to them.
func silentListener(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return l
}

func TestDispatcher_StalledSMTPBoundedByTimeout(t *testing.T) {
	l := silentListener(t)
	host, port, _ := net.SplitHostPort(l.Addr().String())

	rec := &memRecorder{}
	d := NewDispatcher(&EmailTransport{Host: host, Port: port, From: "sitewatch@example.test"}, []string{"ops@example.test"},
		WithSync(),
		WithSendTimeout(200*time.Millisecond),
		WithRecorders(rec),
		WithLogger(quietLogger()),
	)

	done := make(chan struct{})
	go func() {
		d.NotifyOffline(context.Background(), "http://a.test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("email send not bounded by the send timeout")
	}
	if len(rec.records) != 1 || rec.records[0].Delivered() {
		t.Errorf("expected one failed record, got %+v", rec.records)
	}
}
