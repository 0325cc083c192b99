package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"go-sitewatch/internal/models"
)

const (
	obsPrefix   = "o:"
	alertPrefix = "a:"
)

// LevelStore keeps history in an embedded LevelDB. Keys are the record time
// in nanoseconds plus a sequence number, so iteration order is time order.
type LevelStore struct {
	Path string

	// Storage overrides Path, mostly for in-memory tests.
	Storage storage.Storage

	db  *leveldb.DB
	seq atomic.Uint64
}

func (l *LevelStore) Init() error {
	var err error
	if l.Storage != nil {
		l.db, err = leveldb.Open(l.Storage, nil)
	} else {
		l.db, err = leveldb.OpenFile(l.Path, nil)
	}
	return err
}

func (l *LevelStore) key(prefix string, unixNano int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%010d", prefix, unixNano, l.seq.Add(1)))
}

func (l *LevelStore) RecordObservation(_ context.Context, obs models.Observation) error {
	b, err := encodeGob(obs)
	if err != nil {
		return err
	}
	return l.db.Put(l.key(obsPrefix, obs.At.UnixNano()), b, nil)
}

func (l *LevelStore) RecordAlert(_ context.Context, rec models.AlertRecord) error {
	b, err := encodeGob(rec)
	if err != nil {
		return err
	}
	return l.db.Put(l.key(alertPrefix, rec.At.UnixNano()), b, nil)
}

func (l *LevelStore) RecentObservations(ctx context.Context, limit int) ([]models.Observation, error) {
	return recent[models.Observation](ctx, l.db, obsPrefix, clampLimit(limit))
}

func (l *LevelStore) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return recent[models.AlertRecord](ctx, l.db, alertPrefix, clampLimit(limit))
}

func recent[T any](ctx context.Context, db *leveldb.DB, prefix string, limit int) ([]T, error) {
	it := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var out []T
	for ok := it.Last(); ok && len(out) < limit; ok = it.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v T
		if err := decodeGob(it.Value(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LevelStore) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
