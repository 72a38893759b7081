package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"emc/pkg/utils/logger"
)

const subscriberBuffer = 100

// Bus is the process-wide broadcast hub. Channels are keyed by topic
// path, created on first subscribe and removed when the last
// subscriber leaves. Presence refcounts let publishers suppress
// duplicate notifications for users that are already watching.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[*Subscription]struct{}
	presence map[string]map[int64]int
}

// Subscription is one receiver on one path. Slow receivers lose
// frames; the channel never blocks a publisher.
type Subscription struct {
	C    chan []byte
	path string
	bus  *Bus

	mu     sync.Mutex
	closed bool
}

// trySend delivers without blocking. Serialized against Close so a
// concurrent broadcast never hits a closed channel.
func (s *Subscription) trySend(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.C <- frame:
		return true
	default:
		return false
	}
}

// NewBus creates an empty hub.
func NewBus() *Bus {
	return &Bus{
		subs:     make(map[string]map[*Subscription]struct{}),
		presence: make(map[string]map[int64]int),
	}
}

// Subscribe attaches a receiver to the path, creating it if needed.
func (b *Bus) Subscribe(path string) *Subscription {
	sub := &Subscription{
		C:    make(chan []byte, subscriberBuffer),
		path: path,
		bus:  b,
	}
	b.mu.Lock()
	set, ok := b.subs[path]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[path] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close detaches the receiver. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	b := s.bus
	b.mu.Lock()
	if set, ok := b.subs[s.path]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.path)
		}
	}
	b.mu.Unlock()
	close(s.C)
}

// Broadcast delivers the frame to every subscriber of the path.
// Unknown paths are a no-op. A full subscriber drops the frame rather
// than stalling the publisher.
func (b *Bus) Broadcast(path string, frame []byte) {
	b.mu.RLock()
	set := b.subs[path]
	receivers := make([]*Subscription, 0, len(set))
	for sub := range set {
		receivers = append(receivers, sub)
	}
	b.mu.RUnlock()

	for _, sub := range receivers {
		if !sub.trySend(frame) {
			logger.Debug(context.Background(), "dropping frame for slow subscriber",
				zap.String("path", path))
		}
	}
}

// SubscriberCount returns how many receivers a path has.
func (b *Bus) SubscriberCount(path string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[path])
}

// Register increments the user's presence refcount on the path.
func (b *Bus) Register(path string, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	users, ok := b.presence[path]
	if !ok {
		users = make(map[int64]int)
		b.presence[path] = users
	}
	users[userID]++
}

// Unregister decrements the refcount, removing it at zero.
func (b *Bus) Unregister(path string, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	users, ok := b.presence[path]
	if !ok {
		return
	}
	if users[userID] > 1 {
		users[userID]--
	} else {
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(b.presence, path)
	}
}

// IsPresent reports whether the user holds any subscription on the
// path.
func (b *Bus) IsPresent(path string, userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.presence[path][userID]
	return ok
}
