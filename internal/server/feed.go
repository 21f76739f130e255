package server

import (
	"context"
	"sync"
	"time"

	"github.com/prospectry/leadledger/internal/lead"
)

const (
	ChangeTypeMerged       = "lead-merged"
	ChangeTypeEventApplied = "event-applied"
	ChangeTypeUpdated      = "lead-updated"
	ChangeTypeDeleted      = "lead-deleted"
)

// LeadChange is one mutation announced to feed subscribers.
type LeadChange struct {
	LeadID     string     `json:"lead_id"`
	Stage      lead.Stage `json:"stage"`
	ChangeType string     `json:"change_type"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ChangeFeed fans lead mutations out to subscribers. Sends never block: a
// subscriber that falls behind its buffer misses messages rather than
// stalling the publisher.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan LeadChange
}

// NewChangeFeed constructs a ChangeFeed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber that is removed when ctx is done or the
// returned cleanup runs.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan LeadChange, func()) {
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan LeadChange, f.bufferSize),
	}
	f.registerSubscriber(subscriber)
	cleanup := func() {
		f.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the change to every current subscriber.
func (f *ChangeFeed) Publish(change LeadChange) {
	if change.LeadID == "" || change.ChangeType == "" {
		return
	}
	f.mu.RLock()
	copies := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- change:
		default:
		}
	}
}

func (f *ChangeFeed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *ChangeFeed) registerSubscriber(subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[subscriber.id] = subscriber
}

func (f *ChangeFeed) unregisterSubscriber(subscriberID int64) {
	f.mu.Lock()
	delete(f.subscribers, subscriberID)
	f.mu.Unlock()
}
