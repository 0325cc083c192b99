package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"go-sitewatch/internal/config"
	"go-sitewatch/internal/models"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// DefaultLimit caps history queries that pass a non-positive limit.
const DefaultLimit = 100

// Store keeps the history of observations and alert deliveries. It is never
// read back by the engine; monitoring state lives in memory only.
type Store interface {
	Init() error

	RecordObservation(ctx context.Context, obs models.Observation) error
	RecordAlert(ctx context.Context, rec models.AlertRecord) error

	// Recent* return the newest entries first.
	RecentObservations(ctx context.Context, limit int) ([]models.Observation, error)
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error)

	Close() error
}

// New opens and initializes the store selected by cfg. It returns nil, nil
// when history is disabled.
func New(cfg config.Store) (Store, error) {
	var s Store
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		s = &SQLiteStore{DBPath: cfg.DSN}
	case "postgres":
		s = &PostgresStore{ConnStr: cfg.DSN}
	case "leveldb":
		s = &LevelStore{Path: cfg.DSN}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}

	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10*DefaultLimit {
		return DefaultLimit
	}
	return limit
}

// ObservationRecorder writes every published observation to a Store. Write
// errors are logged and dropped so a broken database never stalls monitoring.
type ObservationRecorder struct {
	Store  Store
	Logger *log.Logger
}

func (r *ObservationRecorder) Observe(obs models.Observation) {
	if err := r.Store.RecordObservation(context.Background(), obs); err != nil {
		r.logger().Warn("failed to record observation", "url", obs.URL, "error", err)
	}
}

func (r *ObservationRecorder) Tick(int) {}

func (r *ObservationRecorder) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}
