package uploading

import (
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// RelayQueue is the in-memory FIFO of records waiting for delivery.
// Enqueue never blocks and never drops; the local storage cap is what limits
// how much can pile up.
type RelayQueue struct {
	mu     sync.Mutex
	items  []*models.CaptureRecord
	notify chan struct{}
}

func NewRelayQueue() *RelayQueue {
	return &RelayQueue{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a record at the tail
func (q *RelayQueue) Enqueue(record *models.CaptureRecord) {
	q.mu.Lock()
	q.items = append(q.items, record)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes the head record. The caller owns it until it is enqueued
// again or reaches a terminal state.
func (q *RelayQueue) Dequeue() (*models.CaptureRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	record := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return record, true
}

func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns copies of the queued records in order
func (q *RelayQueue) Snapshot() []models.CaptureRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]models.CaptureRecord, 0, len(q.items))
	for _, r := range q.items {
		result = append(result, *r.Clone())
	}
	return result
}

// Notify fires after an Enqueue so idle workers can wake early
func (q *RelayQueue) Notify() <-chan struct{} {
	return q.notify
}
