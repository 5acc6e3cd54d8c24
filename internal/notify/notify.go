// Package notify carries ledger change notifications to wallet sessions.
//
// Emission is the ledger's job; delivery is pluggable. Broker delivers in-process,
// RedisBroker fans out across server instances through Redis pub/sub.
// Delivery is fire-and-forget: a slow subscriber drops events rather than blocking a writer.
package notify

import (
	"context"
	"time"
)

type Topic string

const (
	TopicWallet       Topic = "wallet"
	TopicTransactions Topic = "transactions"
	TopicWithdrawals  Topic = "withdrawals"
)

// AllTopics is the set a wallet session listens to.
var AllTopics = []Topic{TopicWallet, TopicTransactions, TopicWithdrawals}

// Event signals that a slice of a user's wallet state changed. It carries no state itself.
type Event struct {
	UserID string    `json:"userId"`
	Topic  Topic     `json:"topic"`
	Type   string    `json:"type"`
	At     time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, userID string, topics ...Topic) (Subscription, error)
}

// Bus is both sides of the notification channel.
type Bus interface {
	Publisher
	Subscriber
}

type Subscription interface {
	// Events is closed once the subscription is closed.
	Events() <-chan Event
	Close() error
}

const defaultBuffer = 64
