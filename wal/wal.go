package wal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

const (
	// KeyPrefix is the substrate prefix of event records.
	KeyPrefix = "wal/"

	// markerPrefix is the substrate prefix of idempotency markers.
	markerPrefix = "ids/"
)

// LogOptions configure a Log.
type LogOptions struct {
	// Codec encodes event bodies. Defaults to codec.Default.
	Codec codec.Codec

	// Compression is applied to record bodies at rest.
	Compression Compression
}

// Log is the append-only event log over a key-value substrate. Record keys
// embed the event's day partition and sequence number, so a prefix listing
// yields records in append order:
//
//	wal/<day>/<seq>.<id>.json
type Log struct {
	store kvstore.Store
	opts  LogOptions

	lastSeq atomic.Uint64
}

// NewLog creates a log over the given substrate.
func NewLog(store kvstore.Store, optFns ...func(o *LogOptions)) *Log {
	opts := LogOptions{
		Codec:       codec.Default,
		Compression: CompressionNone,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Log{store: store, opts: opts}
}

// Key returns the record key for an event.
func Key(ev model.Event) string {
	return fmt.Sprintf("%s%s/%020d.%s.json", KeyPrefix, ev.Day(), ev.Seq, ev.ID)
}

func markerKey(id string) string { return markerPrefix + id }

// NextSeq assigns a server-side sequence number. Values are strictly
// increasing within the process and seeded from the wall clock, so restarts
// keep later appends ordered after earlier ones.
func (l *Log) NextSeq() uint64 {
	for {
		last := l.lastSeq.Load()

		next := uint64(time.Now().UnixMicro())
		if next <= last {
			next = last + 1
		}

		if l.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// AppendOnce durably appends an event, at most once per event id. It returns
// the record key and whether the id had already been recorded.
//
// The id marker and the record are separate keys, so a crash between the two
// writes can leave a duplicate record in the log. Replay dedupes those by
// event id, which is why appends never need to be transactional.
func (l *Log) AppendOnce(ctx context.Context, ev model.Event) (string, bool, error) {
	if ev.ID == "" {
		return "", false, errors.New("wal: event id must not be empty")
	}

	if ev.Seq == 0 {
		return "", false, errors.New("wal: event seq must not be zero")
	}

	if _, err := l.store.Get(ctx, markerKey(ev.ID)); err == nil {
		return "", true, nil
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return "", false, fmt.Errorf("wal: check marker: %w", err)
	}

	body, err := l.opts.Codec.Marshal(ev)
	if err != nil {
		return "", false, fmt.Errorf("wal: encode event: %w", err)
	}

	record, err := encodeRecord(l.opts.Compression, body)
	if err != nil {
		return "", false, fmt.Errorf("wal: frame record: %w", err)
	}

	key := Key(ev)

	if _, err := l.store.ConditionalPut(ctx, key, 0, record); err != nil {
		if errors.Is(err, kvstore.ErrKeyExists) {
			return key, true, nil
		}

		return "", false, fmt.Errorf("wal: append %q: %w", key, err)
	}

	if _, err := l.store.ConditionalPut(ctx, markerKey(ev.ID), 0, []byte(key)); err != nil {
		if errors.Is(err, kvstore.ErrKeyExists) {
			// Lost a race with a concurrent append of the same id. The extra
			// record stays in the log; replay will skip it.
			return key, true, nil
		}

		return "", false, fmt.Errorf("wal: mark %q: %w", ev.ID, err)
	}

	return key, false, nil
}

// Read decodes the record at the given key.
func (l *Log) Read(ctx context.Context, key string) (model.Event, error) {
	entry, err := l.store.Get(ctx, key)
	if err != nil {
		return model.Event{}, err
	}

	body, err := decodeRecord(entry.Value)
	if err != nil {
		return model.Event{}, fmt.Errorf("wal: record %q: %w", key, err)
	}

	var ev model.Event
	if err := l.opts.Codec.Unmarshal(body, &ev); err != nil {
		return model.Event{}, fmt.Errorf("wal: decode %q: %w", key, err)
	}

	return ev, nil
}

// List returns up to limit record keys strictly after the given cursor, in
// append order, plus the cursor for the next page. An empty next cursor
// means the listing is exhausted.
func (l *Log) List(ctx context.Context, after string, limit int) ([]string, string, error) {
	return l.store.ListByPrefix(ctx, KeyPrefix, after, limit)
}
