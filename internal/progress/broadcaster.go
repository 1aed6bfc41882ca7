// Package progress fans progress records out to consumers and renders them.
package progress

import (
	"sync"

	"appkeep/internal/keep"
)

// DefaultBuffer is the queue length of a subscriber that asks for none.
const DefaultBuffer = 64

// Broadcaster is a single-producer, multi-consumer progress stream.
// Publish never blocks: every subscriber has a bounded queue and when it is
// full the oldest queued record is dropped to make room. The newest record,
// which is the terminal one at the end of an application, is always kept.
type Broadcaster struct {
	mu      sync.Mutex
	subs    []chan keep.ProgressRecord
	closed  bool
	dropped int
}

var _ keep.ProgressSink = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe returns a channel receiving every record published from now on.
// The channel is closed by Close.
func (b *Broadcaster) Subscribe(buffer int) <-chan keep.ProgressRecord {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan keep.ProgressRecord, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish hands r to every subscriber.
func (b *Broadcaster) Publish(r keep.ProgressRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- r:
			continue
		default:
		}
		// Full: drop the oldest. Only Publish sends, and it holds the lock,
		// so there is room afterwards.
		select {
		case <-ch:
			b.dropped++
		default:
		}
		select {
		case ch <- r:
		default:
			b.dropped++
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}

// Dropped returns how many records slow subscribers lost.
func (b *Broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
