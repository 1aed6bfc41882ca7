package progress

import (
	"context"

	"appkeep/internal/keep"
)

// Op is a batch operation such as keep.Service.Backup.
type Op func(ctx context.Context, ids []string, sink keep.ProgressSink) ([]keep.Outcome, error)

// Batch is a running operation whose progress is consumed as a stream.
type Batch struct {
	broadcaster *Broadcaster
	records     <-chan keep.ProgressRecord
	done        chan struct{}

	outcomes []keep.Outcome
	err      error
}

// Run starts op on a worker goroutine. The returned Batch's Records channel
// yields the records in order and is closed when op returns.
func Run(ctx context.Context, op Op, ids []string, buffer int) *Batch {
	b := &Batch{
		broadcaster: NewBroadcaster(),
		done:        make(chan struct{}),
	}
	b.records = b.broadcaster.Subscribe(buffer)

	go func() {
		defer close(b.done)
		defer b.broadcaster.Close()
		b.outcomes, b.err = op(ctx, ids, b.broadcaster)
	}()
	return b
}

// Records is the lazy stream of progress records.
func (b *Batch) Records() <-chan keep.ProgressRecord {
	return b.records
}

// Wait blocks until the operation has finished and returns its result.
func (b *Batch) Wait() ([]keep.Outcome, error) {
	<-b.done
	return b.outcomes, b.err
}

// Dropped reports records lost because the consumer fell behind.
func (b *Batch) Dropped() int {
	return b.broadcaster.Dropped()
}
