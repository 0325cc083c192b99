package monitor

import (
	"context"

	"go-sitewatch/internal/models"
)

// Observer receives every observation and every countdown tick. It is called
// from the engine goroutine and must not block for long; UI observers hand
// the data over to their own goroutine.
type Observer interface {
	Observe(obs models.Observation)
	Tick(remaining int)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Observe(obs models.Observation) {
	for _, ob := range o {
		ob.Observe(obs)
	}
}

func (o Observers) Tick(remaining int) {
	for _, ob := range o {
		ob.Tick(remaining)
	}
}

// Notifier emits an offline alert for url. Implementations never report
// failures back to the engine.
type Notifier interface {
	NotifyOffline(ctx context.Context, url string)
}

// NopNotifier drops every alert.
type NopNotifier struct{}

func (NopNotifier) NotifyOffline(context.Context, string) {}
