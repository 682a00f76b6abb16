package uploading

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

var (
	// ErrNotQuarantined is returned when replaying an unknown record
	ErrNotQuarantined = errors.New("record is not quarantined")
	// ErrFileGone is returned when a quarantined record's file was evicted
	ErrFileGone = errors.New("capture file no longer exists")
)

// Quarantine holds permanently failed records for inspection and manual
// replay. It is bounded; the oldest entry is dropped on overflow.
type Quarantine struct {
	logger  logging.Logger
	repo    QuarantineRepository
	tracker filemanagement.FileTracker
	queue   *RelayQueue
	max     int

	mu      sync.Mutex
	entries []*models.CaptureRecord
}

// NewQuarantine creates a quarantine. repo may be nil for a memory-only quarantine.
func NewQuarantine(logger logging.Logger, repo QuarantineRepository, tracker filemanagement.FileTracker, queue *RelayQueue, max int) *Quarantine {
	if logger == nil {
		logger = logging.NopLogger
	}
	if max < 1 {
		max = 1
	}
	return &Quarantine{
		logger:  logger,
		repo:    repo,
		tracker: tracker,
		queue:   queue,
		max:     max,
	}
}

// Add takes a permanently failed record
func (q *Quarantine) Add(ctx context.Context, record *models.CaptureRecord) {
	entry := record.Clone()

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	var dropped *models.CaptureRecord
	if len(q.entries) > q.max {
		dropped = q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
	}
	q.mu.Unlock()

	q.logger.Warn("Record quarantined", "file", entry.FileName, "retries", entry.RetryCount, "error", entry.LastError)

	if q.repo != nil {
		if err := q.repo.Save(ctx, entry); err != nil {
			q.logger.Error("Failed to persist quarantined record", "id", entry.ID, "error", err)
		}
	}

	if dropped != nil {
		q.logger.Warn("Quarantine full, dropping oldest entry", "file", dropped.FileName)
		q.deleteFromRepo(ctx, dropped.ID)
	}
}

// List returns copies of the quarantined records, oldest first
func (q *Quarantine) List() []models.CaptureRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]models.CaptureRecord, 0, len(q.entries))
	for _, e := range q.entries {
		result = append(result, *e.Clone())
	}
	return result
}

func (q *Quarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Replay puts one quarantined record back in the queue with a fresh retry budget
func (q *Quarantine) Replay(ctx context.Context, id string) error {
	record := q.take(id)
	if record == nil {
		return ErrNotQuarantined
	}
	return q.requeue(ctx, record)
}

// ReplayAll re-queues every quarantined record whose file still exists.
// Returns the number of records re-queued.
func (q *Quarantine) ReplayAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	records := q.entries
	q.entries = nil
	q.mu.Unlock()

	replayed := 0
	var errs []error
	for _, record := range records {
		if err := q.requeue(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", record.ID, err))
			continue
		}
		replayed++
	}
	return replayed, errors.Join(errs...)
}

// Restore loads persisted entries after a restart. Entries whose file is
// gone are discarded; the rest are tracked again as permanently failed.
func (q *Quarantine) Restore(ctx context.Context) (int, error) {
	if q.repo == nil {
		return 0, nil
	}

	records, err := q.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, record := range records {
		if _, err := os.Stat(record.LocalPath); err != nil {
			q.logger.Warn("Discarding quarantined record", "id", record.ID, "error", err)
			q.deleteFromRepo(ctx, record.ID)
			continue
		}

		record.State = models.StatePermanentlyFailed
		q.tracker.Track(record.ID, record.LocalPath, record.CapturedAt)
		q.tracker.EndUpload(record.ID, models.StatePermanentlyFailed, false)

		var dropped *models.CaptureRecord
		q.mu.Lock()
		q.entries = append(q.entries, record)
		if len(q.entries) > q.max {
			dropped = q.entries[0]
			q.entries = q.entries[1:]
		}
		q.mu.Unlock()

		if dropped != nil {
			q.logger.Warn("Quarantine full, dropping oldest restored entry", "file", dropped.FileName)
			q.deleteFromRepo(ctx, dropped.ID)
		} else {
			restored++
		}
	}

	if restored > 0 {
		q.logger.Info("Restored quarantined records", "count", restored)
	}
	return restored, nil
}

func (q *Quarantine) take(id string) *models.CaptureRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e
		}
	}
	return nil
}

func (q *Quarantine) requeue(ctx context.Context, record *models.CaptureRecord) error {
	defer q.deleteFromRepo(ctx, record.ID)

	if !q.tracker.Reactivate(record.ID) {
		q.logger.Warn("Cannot replay record, file was evicted", "file", record.FileName)
		return ErrFileGone
	}
	if err := record.ResetForReplay(); err != nil {
		q.tracker.EndUpload(record.ID, models.StatePermanentlyFailed, false)
		return err
	}

	q.logger.Info("Replaying quarantined record", "file", record.FileName)
	q.queue.Enqueue(record)
	return nil
}

func (q *Quarantine) deleteFromRepo(ctx context.Context, id string) {
	if q.repo == nil {
		return
	}
	if err := q.repo.Delete(ctx, id); err != nil {
		q.logger.Error("Failed to delete quarantined record", "id", id, "error", err)
	}
}
