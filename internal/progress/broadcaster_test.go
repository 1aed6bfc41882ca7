package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"appkeep/internal/keep"
)

func rec(id string, progress int) keep.ProgressRecord {
	return keep.ProgressRecord{PackageID: id, Name: id, Progress: progress, Max: 100}
}

func drain(ch <-chan keep.ProgressRecord) []keep.ProgressRecord {
	var out []keep.ProgressRecord
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	first := b.Subscribe(10)
	second := b.Subscribe(10)

	for i := 1; i <= 3; i++ {
		b.Publish(rec("a", i*10))
	}
	b.Close()

	for name, ch := range map[string]<-chan keep.ProgressRecord{"first": first, "second": second} {
		got := drain(ch)
		if len(got) != 3 {
			t.Fatalf("%s got %d records, want 3", name, len(got))
		}
		for i, r := range got {
			if r.Progress != (i+1)*10 {
				t.Errorf("%s record %d progress = %d, want %d", name, i, r.Progress, (i+1)*10)
			}
		}
	}
}

func TestBroadcaster_DropsOldest(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(2)

	for i := 1; i <= 5; i++ {
		b.Publish(rec("a", i))
	}
	b.Close()

	got := drain(ch)
	if len(got) != 2 || got[0].Progress != 4 || got[1].Progress != 5 {
		t.Errorf("records = %+v, want the two newest", got)
	}
	if b.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", b.Dropped())
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	b.Close()
	b.Close()
	b.Publish(rec("a", 1))

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
	if _, ok := <-b.Subscribe(1); ok {
		t.Error("Subscribe() after Close returned an open channel")
	}
}

func TestBroadcaster_ConcurrentConsumers(t *testing.T) {
	b := NewBroadcaster()
	const n = 500
	var wg sync.WaitGroup
	counts := make([]int, 3)
	for i := range counts {
		ch := b.Subscribe(n)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			last := 0
			for r := range ch {
				if r.Progress < last {
					t.Errorf("consumer %d saw progress go back from %d to %d", i, last, r.Progress)
				}
				last = r.Progress
				counts[i]++
			}
		}(i)
	}

	for i := 0; i < n; i++ {
		b.Publish(rec("a", i))
	}
	b.Close()
	wg.Wait()

	for i, c := range counts {
		if c == 0 || c > n {
			t.Errorf("consumer %d got %d records", i, c)
		}
	}
}

func TestRun(t *testing.T) {
	wantErr := errors.New("boom")
	op := func(ctx context.Context, ids []string, sink keep.ProgressSink) ([]keep.Outcome, error) {
		var outcomes []keep.Outcome
		for i, id := range ids {
			sink.Publish(keep.ProgressRecord{PackageID: id, Progress: (i + 1) * 50, Max: 100, Done: true})
			outcomes = append(outcomes, keep.Outcome{PackageID: id})
		}
		return outcomes, wantErr
	}

	b := Run(context.Background(), op, []string{"a", "b"}, 8)
	got := drain(b.Records())
	if len(got) != 2 || got[0].PackageID != "a" || got[1].PackageID != "b" {
		t.Errorf("records = %+v", got)
	}

	outcomes, err := b.Wait()
	if !errors.Is(err, wantErr) {
		t.Errorf("Wait() error = %v, want %v", err, wantErr)
	}
	if len(outcomes) != 2 {
		t.Errorf("len(outcomes) = %d, want 2", len(outcomes))
	}
	if b.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", b.Dropped())
	}
}
