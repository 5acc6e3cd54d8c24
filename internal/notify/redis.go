package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// pubSub is the part of *redis.PubSub a subscription reads from.
type pubSub interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisBroker publishes events on per-user Redis channels.
type RedisBroker struct {
	rdb       *redis.Client
	subscribe func(ctx context.Context, channels ...string) pubSub
	log       *zap.SugaredLogger
}

func NewRedisBroker(rdb *redis.Client, log *zap.SugaredLogger) *RedisBroker {
	return &RedisBroker{
		rdb: rdb,
		subscribe: func(ctx context.Context, channels ...string) pubSub {
			return rdb.Subscribe(ctx, channels...)
		},
		log: log,
	}
}

// Channel is the Redis channel name for one user's topic.
func Channel(userID string, topic Topic) string {
	return "wallet:" + userID + ":" + string(topic)
}

func (b *RedisBroker) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(evt.UserID, evt.Topic), string(payload)).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string, topics ...Topic) (Subscription, error) {
	chans := make([]string, 0, len(topics))
	for _, t := range topics {
		chans = append(chans, Channel(userID, t))
	}
	ps := b.subscribe(ctx, chans...)
	// wait for confirmation that subscription is created
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", chans, err)
	}
	s := &redisSub{ps: ps, out: make(chan Event, defaultBuffer), log: b.log}
	go s.forward()
	return s, nil
}

type redisSub struct {
	ps  pubSub
	out chan Event
	log *zap.SugaredLogger
}

func (s *redisSub) Events() <-chan Event { return s.out }

func (s *redisSub) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			s.log.Warnf("notify: bad payload on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.out <- evt:
		default:
			s.log.Warnf("notify: dropped %s event for user %s, subscriber is full", evt.Topic, evt.UserID)
		}
	}
}

func (s *redisSub) Close() error { return s.ps.Close() }
