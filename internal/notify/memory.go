package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Broker is an in-process Bus keyed by user and topic.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*memSub]struct{}
	log  *zap.SugaredLogger
}

func NewBroker(log *zap.SugaredLogger) *Broker {
	return &Broker{subs: make(map[string]map[*memSub]struct{}), log: log}
}

func key(userID string, topic Topic) string { return userID + ":" + string(topic) }

// Publish delivers evt to every subscriber of its user and topic without blocking.
func (b *Broker) Publish(_ context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[key(evt.UserID, evt.Topic)] {
		if !s.deliver(evt) {
			b.log.Warnf("notify: dropped %s event for user %s, subscriber is full", evt.Topic, evt.UserID)
		}
	}
	return nil
}

// Subscribe registers for the given topics of one user.
func (b *Broker) Subscribe(_ context.Context, userID string, topics ...Topic) (Subscription, error) {
	s := &memSub{broker: b, ch: make(chan Event, defaultBuffer)}
	b.mu.Lock()
	for _, t := range topics {
		k := key(userID, t)
		if b.subs[k] == nil {
			b.subs[k] = make(map[*memSub]struct{})
		}
		b.subs[k][s] = struct{}{}
		s.keys = append(s.keys, k)
	}
	b.mu.Unlock()
	return s, nil
}

func (b *Broker) remove(s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range s.keys {
		delete(b.subs[k], s)
		if len(b.subs[k]) == 0 {
			delete(b.subs, k)
		}
	}
}

type memSub struct {
	broker *Broker
	keys   []string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *memSub) Events() <-chan Event { return s.ch }

func (s *memSub) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *memSub) Close() error {
	s.broker.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
