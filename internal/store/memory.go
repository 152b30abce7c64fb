package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// memoryStoreItem holds the value and expiration timestamp for a key.
type memoryStoreItem struct {
	value     []byte
	expiresAt int64 // Unix-nano timestamp. 0 for no expiry.
}

// MemoryStore is an in-memory key-value store that is safe for concurrent use.
type MemoryStore struct {
	mu              sync.RWMutex
	data            map[string]memoryStoreItem
	muSubscribers   sync.RWMutex
	subscribers     map[string]map[chan *Message]struct{}
	droppedMessages atomic.Int64
	stopCleanup     chan struct{}
}

// NewMemoryStore creates and returns a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		data:        make(map[string]memoryStoreItem),
		subscribers: make(map[string]map[chan *Message]struct{}),
		stopCleanup: make(chan struct{}),
	}
	// Periodic sweep prevents leaks from expired items that are never read again
	go s.cleanupExpiredItems()
	return s
}

// Close cleans up resources.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)

	// Drop subscriber tracking; memorySubscription.Close handles channel cleanup
	// to avoid double-close panics.
	s.muSubscribers.Lock()
	for channel := range s.subscribers {
		delete(s.subscribers, channel)
	}
	s.muSubscribers.Unlock()

	return nil
}

// Set stores a key-value pair.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().UnixNano() + ttl.Nanoseconds()
	}

	s.data[key] = memoryStoreItem{
		value:     value,
		expiresAt: expiresAt,
	}
	return nil
}

// Get retrieves a value by its key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	item, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	if item.expiresAt > 0 && time.Now().UnixNano() > item.expiresAt {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return item.value, nil
}

// Delete removes a value by its key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Exists checks if a key exists.
func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.RLock()
	item, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if item.expiresAt > 0 && time.Now().UnixNano() > item.expiresAt {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// SetNX sets a key-value pair if the key does not already exist.
func (s *MemoryStore) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.data[key]
	if exists && (item.expiresAt == 0 || time.Now().UnixNano() < item.expiresAt) {
		return false, nil
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().UnixNano() + ttl.Nanoseconds()
	}
	s.data[key] = memoryStoreItem{
		value:     value,
		expiresAt: expiresAt,
	}
	return true, nil
}

// memorySubscription implements the Subscription interface for the in-memory store.
type memorySubscription struct {
	store     *MemoryStore
	channel   string
	msgChan   chan *Message
	closeOnce sync.Once
}

// Channel returns the message channel for the subscription.
func (ms *memorySubscription) Channel() <-chan *Message {
	return ms.msgChan
}

// Close removes the subscription from the store. Idempotent.
func (ms *memorySubscription) Close() error {
	ms.closeOnce.Do(func() {
		ms.store.muSubscribers.Lock()
		defer ms.store.muSubscribers.Unlock()

		if subs, ok := ms.store.subscribers[ms.channel]; ok {
			delete(subs, ms.msgChan)
			if len(subs) == 0 {
				delete(ms.store.subscribers, ms.channel)
			}
		}
		close(ms.msgChan)
	})
	return nil
}

// Publish sends a message to all subscribers of a channel. At-most-once
// delivery: messages are dropped under backpressure rather than blocking
// publishers.
func (s *MemoryStore) Publish(channel string, message []byte) error {
	s.muSubscribers.RLock()
	defer s.muSubscribers.RUnlock()

	msg := &Message{
		Channel: channel,
		Payload: message,
	}

	if subs, ok := s.subscribers[channel]; ok {
		droppedCount := 0
		for subCh := range subs {
			select {
			case subCh <- msg:
			default:
				droppedCount++
			}
		}
		if droppedCount > 0 {
			s.droppedMessages.Add(int64(droppedCount))
			logrus.WithFields(logrus.Fields{
				"channel":       channel,
				"dropped":       droppedCount,
				"dropped_total": s.droppedMessages.Load(),
			}).Debug("Dropped messages due to full subscriber buffers")
		}
	}
	return nil
}

// Subscribe listens for messages on a given channel.
func (s *MemoryStore) Subscribe(channel string) (Subscription, error) {
	s.muSubscribers.Lock()
	defer s.muSubscribers.Unlock()

	msgChan := make(chan *Message, 10)

	if _, ok := s.subscribers[channel]; !ok {
		s.subscribers[channel] = make(map[chan *Message]struct{})
	}
	s.subscribers[channel][msgChan] = struct{}{}

	return &memorySubscription{
		store:   s,
		channel: channel,
		msgChan: msgChan,
	}, nil
}

// Clear clears all data.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]memoryStoreItem)
	return nil
}

// cleanupExpiredItems periodically removes expired items from the store.
func (s *MemoryStore) cleanupExpiredItems() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performCleanup()
		case <-s.stopCleanup:
			logrus.Debug("MemoryStore cleanup goroutine stopped")
			return
		}
	}
}

// performCleanup scans the store and removes expired items.
func (s *MemoryStore) performCleanup() {
	now := time.Now().UnixNano()
	expiredKeys := make([]string, 0, 16)

	s.mu.RLock()
	for key, item := range s.data {
		if item.expiresAt > 0 && now > item.expiresAt {
			expiredKeys = append(expiredKeys, key)
		}
	}
	s.mu.RUnlock()

	if len(expiredKeys) == 0 {
		return
	}

	s.mu.Lock()
	for _, key := range expiredKeys {
		// Re-check under the write lock to avoid racing a concurrent Set
		if item, exists := s.data[key]; exists {
			if item.expiresAt > 0 && now > item.expiresAt {
				delete(s.data, key)
			}
		}
	}
	s.mu.Unlock()
}
