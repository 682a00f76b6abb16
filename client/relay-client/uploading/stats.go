package uploading

import "sync"

// UploadStats are the process-wide delivery counters
type UploadStats struct {
	mu               sync.Mutex
	attempted        int64
	succeeded        int64
	failed           int64
	bytesTransferred int64
}

type StatsSnapshot struct {
	Attempted        int64 `json:"attempted"`
	Succeeded        int64 `json:"succeeded"`
	Failed           int64 `json:"failed"`
	BytesTransferred int64 `json:"bytes_transferred"`
}

func NewUploadStats() *UploadStats {
	return &UploadStats{}
}

// RecordAttempt counts one delivery attempt
func (s *UploadStats) RecordAttempt() {
	s.mu.Lock()
	s.attempted++
	s.mu.Unlock()
}

// RecordSuccess counts a delivered record and its bytes
func (s *UploadStats) RecordSuccess(bytes int64) {
	s.mu.Lock()
	s.succeeded++
	s.bytesTransferred += bytes
	s.mu.Unlock()
}

// RecordFailure counts a record that became permanently failed
func (s *UploadStats) RecordFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *UploadStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Attempted:        s.attempted,
		Succeeded:        s.succeeded,
		Failed:           s.failed,
		BytesTransferred: s.bytesTransferred,
	}
}
