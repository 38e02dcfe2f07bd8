package wal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/feedpulse/codec"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

const (
	// IndexKey is the singleton substrate key of the durability index.
	IndexKey = "durability/index"

	// SeenCap bounds the replay dedup window. An id evicted from the window
	// can in principle be applied again if a duplicate record surfaces later;
	// the conditional-create append path makes that vanishingly rare.
	SeenCap = 50_000
)

// Applier consumes replayed events in log order. Apply must be idempotent:
// the same event may be delivered again after a crash between an apply and
// the index checkpoint.
type Applier interface {
	Apply(ctx context.Context, ev model.Event) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, ev model.Event) error

func (f ApplierFunc) Apply(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Progress summarizes one replay pass.
type Progress struct {
	// Processed counts events handed to the applier.
	Processed int `json:"processed"`

	// Duplicates counts records skipped by the dedup window.
	Duplicates int `json:"duplicates"`

	// Failed counts records the applier rejected. Their cursor still
	// advances; failures are logged, not retried.
	Failed int `json:"failed"`

	// LastProcessed is the checkpointed cursor after the pass.
	LastProcessed string `json:"lastProcessed"`
}

// indexState is the persisted durability index: the replay cursor plus a
// bounded FIFO of recently applied event ids.
type indexState struct {
	LastProcessedKey string   `json:"lastProcessedKey"`
	SeenEventIDs     []string `json:"seenEventIds"`
}

// IndexOptions configure a DurabilityIndex.
type IndexOptions struct {
	// Codec encodes the persisted index state. Defaults to codec.Default.
	Codec codec.Codec

	// PageSize bounds how many records one checkpoint covers.
	PageSize int

	// Logger receives skip and failure events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DurabilityIndex tracks replay progress over a Log. The cursor only ever
// moves forward; records before it are never revisited.
type DurabilityIndex struct {
	log    *Log
	store  kvstore.Store
	opts   IndexOptions
	logger *slog.Logger
}

// NewDurabilityIndex creates the replay index for the given log.
func NewDurabilityIndex(log *Log, store kvstore.Store, optFns ...func(o *IndexOptions)) *DurabilityIndex {
	opts := IndexOptions{
		Codec:    codec.Default,
		PageSize: 256,
		Logger:   slog.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &DurabilityIndex{log: log, store: store, opts: opts, logger: opts.Logger}
}

func (d *DurabilityIndex) load(ctx context.Context) (indexState, uint64, error) {
	entry, err := d.store.Get(ctx, IndexKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return indexState{}, 0, nil
		}

		return indexState{}, 0, fmt.Errorf("wal: load index: %w", err)
	}

	var state indexState
	if err := d.opts.Codec.Unmarshal(entry.Value, &state); err != nil {
		return indexState{}, 0, fmt.Errorf("wal: decode index: %w", err)
	}

	return state, entry.Version, nil
}

func (d *DurabilityIndex) checkpoint(ctx context.Context, state indexState, version uint64) (uint64, error) {
	value, err := d.opts.Codec.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("wal: encode index: %w", err)
	}

	next, err := d.store.ConditionalPut(ctx, IndexKey, version, value)
	if err != nil {
		if errors.Is(err, kvstore.ErrVersionConflict) || errors.Is(err, kvstore.ErrKeyExists) {
			return 0, fmt.Errorf("wal: concurrent replay detected: %w", err)
		}

		return 0, fmt.Errorf("wal: checkpoint index: %w", err)
	}

	return next, nil
}

// Cursor returns the current checkpointed replay cursor.
func (d *DurabilityIndex) Cursor(ctx context.Context) (string, error) {
	state, _, err := d.load(ctx)
	if err != nil {
		return "", err
	}

	return state.LastProcessedKey, nil
}

// ApplyAll replays every record after the cursor through the applier,
// checkpointing once per page. Decode failures and applier errors are
// logged and skipped; the cursor advances past them so a poison record can
// never wedge the pipeline.
func (d *DurabilityIndex) ApplyAll(ctx context.Context, applier Applier) (Progress, error) {
	state, version, err := d.load(ctx)
	if err != nil {
		return Progress{}, err
	}

	seen := make(map[string]struct{}, len(state.SeenEventIDs))
	for _, id := range state.SeenEventIDs {
		seen[id] = struct{}{}
	}

	var progress Progress

	for {
		keys, _, err := d.log.List(ctx, state.LastProcessedKey, d.opts.PageSize)
		if err != nil {
			return progress, fmt.Errorf("wal: list records: %w", err)
		}

		if len(keys) == 0 {
			break
		}

		for _, key := range keys {
			ev, err := d.log.Read(ctx, key)
			if err != nil {
				d.logger.Warn("skipping unreadable record", slog.String("key", key), slog.Any("error", err))

				state.LastProcessedKey = key
				progress.Failed++

				continue
			}

			if _, dup := seen[ev.ID]; dup {
				state.LastProcessedKey = key
				progress.Duplicates++

				continue
			}

			if err := applier.Apply(ctx, ev); err != nil {
				d.logger.Warn("skipping failed apply",
					slog.String("key", key),
					slog.String("event_id", ev.ID),
					slog.Any("error", err),
				)

				state.LastProcessedKey = key
				progress.Failed++

				continue
			}

			seen[ev.ID] = struct{}{}

			state.SeenEventIDs = append(state.SeenEventIDs, ev.ID)
			if len(state.SeenEventIDs) > SeenCap {
				evicted := state.SeenEventIDs[:len(state.SeenEventIDs)-SeenCap]
				for _, id := range evicted {
					delete(seen, id)
				}

				state.SeenEventIDs = state.SeenEventIDs[len(state.SeenEventIDs)-SeenCap:]
			}

			state.LastProcessedKey = key
			progress.Processed++
		}

		version, err = d.checkpoint(ctx, state, version)
		if err != nil {
			return progress, err
		}

		if err := ctx.Err(); err != nil {
			return progress, err
		}
	}

	progress.LastProcessed = state.LastProcessedKey

	return progress, nil
}
