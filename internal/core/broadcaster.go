package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type snapshot struct {
	status      PrinterStatus
	version     uint64
	publishedAt time.Time
	// closed when this snapshot is replaced
	replaced chan struct{}
}

// Broadcaster holds the current PrinterStatus. Publish swaps in a new
// immutable snapshot; readers load the pointer and never block the writer
// or each other.
type Broadcaster struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	b.current.Store(&snapshot{
		status:   DefaultPrinterStatus(),
		replaced: make(chan struct{}),
	})
	return b
}

// Publish replaces the current snapshot and wakes all subscribers.
func (b *Broadcaster) Publish(status PrinterStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.current.Load()
	b.current.Store(&snapshot{
		status:      status,
		version:     old.version + 1,
		publishedAt: time.Now(),
		replaced:    make(chan struct{}),
	})
	close(old.replaced)
}

// Latest returns a copy of the current snapshot.
func (b *Broadcaster) Latest() PrinterStatus {
	return b.current.Load().status
}

// LastPublished returns when the current snapshot was published, or the
// zero time before the first publish.
func (b *Broadcaster) LastPublished() time.Time {
	return b.current.Load().publishedAt
}

// Version is 0 before the first publish and increments on every publish.
func (b *Broadcaster) Version() uint64 {
	return b.current.Load().version
}

// Subscribe returns a subscription whose first Next yields the current value.
func (b *Broadcaster) Subscribe() *Subscription {
	return &Subscription{b: b}
}

// Subscription follows the broadcaster with latest-value semantics: a slow
// reader skips intermediate snapshots instead of queueing them.
type Subscription struct {
	b       *Broadcaster
	seen    uint64
	started bool
}

// Next blocks until a snapshot newer than the last one returned exists, or
// ctx is done.
func (s *Subscription) Next(ctx context.Context) (PrinterStatus, error) {
	for {
		cur := s.b.current.Load()
		if !s.started || cur.version > s.seen {
			s.started = true
			s.seen = cur.version
			return cur.status, nil
		}

		select {
		case <-ctx.Done():
			return PrinterStatus{}, ctx.Err()
		case <-cur.replaced:
		}
	}
}
