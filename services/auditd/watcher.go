package auditd

import (
	"context"
	"log/slog"
	"time"

	"escrowchain/gateway"
)

const fetchBatchSize = 200

// EventSource is the slice of the node client the watcher needs.
type EventSource interface {
	FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]gateway.NodeEvent, error)
}

// Watcher tails the node's event feed into the audit store.
type Watcher struct {
	source   EventSource
	store    *Store
	logger   *slog.Logger
	interval time.Duration
}

func NewWatcher(source EventSource, store *Store, logger *slog.Logger, interval time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{source: source, store: store, logger: logger, interval: interval}
}

// Run polls until the context is cancelled. The cursor resumes from the
// store, so restarts never lose or duplicate events.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.poll(ctx); err != nil {
			w.logger.Warn("audit poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	cursor, err := w.store.LatestSequence()
	if err != nil {
		return err
	}
	for {
		events, err := w.source.FetchEvents(ctx, cursor, fetchBatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := w.store.RecordEvents(events); err != nil {
			return err
		}
		cursor = events[len(events)-1].Sequence
		w.logger.Debug("audited events",
			slog.Int("count", len(events)),
			slog.Int64("cursor", cursor))
		if len(events) < fetchBatchSize {
			return nil
		}
	}
}
