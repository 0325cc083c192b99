package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"go-sitewatch/internal/models"
)

// OfflineMessage is the alert body sent to every recipient.
func OfflineMessage(url string) string {
	return fmt.Sprintf("WARNING: The URL: %s is down.", url)
}

// Recorder is told about every delivery attempt.
type Recorder interface {
	RecordAlert(ctx context.Context, rec models.AlertRecord) error
}

// Dispatcher sends offline alerts to a fixed list of recipients through one
// transport. Delivery is best effort: failures are logged and recorded but
// never returned to the caller, and nothing is retried.
type Dispatcher struct {
	transport  Transport
	recipients []string
	limiter    *rate.Limiter
	recorders  []Recorder
	logger     *log.Logger
	timeout    time.Duration
	sync       bool
	now        func() time.Time

	wg sync.WaitGroup
}

// Opt is a functional option for a Dispatcher.
type Opt func(*Dispatcher)

// WithRate limits sends to perSecond messages per second. Zero disables the
// limit.
func WithRate(perSecond float64) Opt {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithRecorders(recorders ...Recorder) Opt {
	return func(d *Dispatcher) {
		d.recorders = append(d.recorders, recorders...)
	}
}

func WithLogger(logger *log.Logger) Opt {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSendTimeout bounds each single send.
func WithSendTimeout(timeout time.Duration) Opt {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithSync makes NotifyOffline deliver before returning instead of in the
// background.
func WithSync() Opt {
	return func(d *Dispatcher) { d.sync = true }
}

func NewDispatcher(t Transport, recipients []string, opts ...Opt) *Dispatcher {
	d := &Dispatcher{
		transport:  t,
		recipients: append([]string(nil), recipients...),
		logger:     log.Default(),
		timeout:    10 * time.Second,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NotifyOffline sends one alert per recipient, in recipient order.
func (d *Dispatcher) NotifyOffline(ctx context.Context, url string) {
	if len(d.recipients) == 0 {
		d.logger.Warn("no recipients configured, alert not sent", "url", url)
		return
	}

	// alerts outlive the cycle that raised them
	ctx = context.WithoutCancel(ctx)
	msg := OfflineMessage(url)

	if d.sync {
		d.dispatch(ctx, url, msg)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(ctx, url, msg)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, url, msg string) {
	for _, recipient := range d.recipients {
		rec := models.AlertRecord{
			URL:       url,
			Recipient: recipient,
			Transport: d.transport.Name(),
			Message:   msg,
		}

		if err := d.send(ctx, recipient, msg); err != nil {
			rec.Error = err.Error()
			d.logger.Error("alert delivery failed",
				"transport", rec.Transport,
				"recipient", recipient,
				"url", url,
				"error", err,
			)
		} else {
			d.logger.Info("alert sent", "transport", rec.Transport, "recipient", recipient, "url", url)
		}
		rec.At = d.now()

		for _, r := range d.recorders {
			if err := r.RecordAlert(ctx, rec); err != nil {
				d.logger.Warn("failed to record alert", "url", url, "error", err)
			}
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, recipient, msg string) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.transport.Send(ctx, recipient, msg)
}

// Close waits for alerts still being delivered.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
