package testutil

import (
	"sync"

	"appkeep/internal/keep"
)

// RecordingSink keeps every progress record it receives.
type RecordingSink struct {
	mu      sync.Mutex
	records []keep.ProgressRecord
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Publish(r keep.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Records returns the records received so far, in order.
func (s *RecordingSink) Records() []keep.ProgressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]keep.ProgressRecord(nil), s.records...)
}

// For returns the records of one application.
func (s *RecordingSink) For(packageID string) []keep.ProgressRecord {
	var out []keep.ProgressRecord
	for _, r := range s.Records() {
		if r.PackageID == packageID {
			out = append(out, r)
		}
	}
	return out
}

var _ keep.ProgressSink = (*RecordingSink)(nil)
