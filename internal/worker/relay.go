package worker

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"go.uber.org/zap"
)

// OutboxStore is the part of the repository the relay drains.
type OutboxStore interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay ships committed outbox rows to Kafka. Delivery is at-least-once: a crash
// between publish and mark re-sends the event on the next poll.
type Relay struct {
	store    OutboxStore
	interval time.Duration
	batch    int
	log      *zap.SugaredLogger
}

func NewRelay(store OutboxStore, interval time.Duration, batch int, log *zap.SugaredLogger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{store: store, interval: interval, batch: batch, log: log}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Errorf("poll outbox: %v", err)
			}
		}
	}
}

// RunOnce relays one batch and returns how many events were sent. It stops at the first
// publish failure so per-user ordering holds.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			return sent, nil
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			return sent, nil
		}
		r.log.Debugf("event %d sent type=%s user=%s", evt.ID, evt.EventType, evt.AggregateID)
		sent++
	}
	return sent, nil
}
