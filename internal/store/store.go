// Package store provides a pluggable key-value/pub-sub layer used for the
// settings cache, lifecycle events and scheduler heartbeats. A Redis-backed
// implementation is used when REDIS_DSN is configured; otherwise a process-local
// in-memory store serves single-node deployments.
package store

import (
	"errors"
	"time"

	"vigil/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("store: key not found")

// Message represents a message received from a subscription.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription represents an active subscription to a channel.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// Store is the interface for the key-value store.
type Store interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Publish(channel string, message []byte) error
	Subscribe(channel string) (Subscription, error)
	Clear() error
	Close() error
}

// NewStore creates a store based on the configuration: Redis when a DSN is
// set, the in-memory store otherwise.
func NewStore(configManager types.ConfigManager) (Store, error) {
	redisDSN := configManager.GetRedisDSN()
	if redisDSN == "" {
		logrus.Info("REDIS_DSN not configured, using in-memory store")
		return NewMemoryStore(), nil
	}

	logrus.Info("Using Redis store")
	return NewRedisStore(redisDSN)
}
