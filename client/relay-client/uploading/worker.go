package uploading

import (
	"context"
	"os"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/client"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/health"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// ConnectivityChecker reports whether the device is online
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) models.ConnectivityState
}

// Outcome is what one ProcessNext call did
type Outcome int

const (
	// OutcomeIdle means the queue was empty
	OutcomeIdle Outcome = iota
	// OutcomeStale means the record's file was gone and the record was dropped
	OutcomeStale
	// OutcomeDeferred means the device was offline; the record went back unchanged
	OutcomeDeferred
	OutcomeUploaded
	// OutcomeRequeued means the attempt failed and retries remain
	OutcomeRequeued
	// OutcomeFailed means the retry budget is spent and the record is quarantined
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeStale:
		return "stale"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// WorkerOptions configures delivery behaviour shared by all upload workers
type WorkerOptions struct {
	Identity       Identity
	KeyPrefix      string
	MaxRetries     int
	StorageTimeout time.Duration
	APITimeout     time.Duration
	Cleanup        bool          // delete the local file after a successful delivery
	PollInterval   time.Duration // idle sleep before health backoff
}

// Dependencies are the collaborators shared by all upload workers
type Dependencies struct {
	Queue        *RelayQueue
	Stats        *UploadStats
	Quarantine   *Quarantine
	Tracker      filemanagement.FileTracker
	Store        client.ObjectStore
	API          client.APIClient
	Connectivity ConnectivityChecker
	Policy       health.Policy
	Severity     func() models.Severity
}

// UploadWorker delivers queued records one at a time: object store first,
// then the API notification.
type UploadWorker struct {
	id      int
	logger  logging.Logger
	deps    Dependencies
	opts    WorkerOptions
	workers int
}

// NewUploadWorker creates worker number id of a pool of size workers
func NewUploadWorker(logger logging.Logger, id, workers int, deps Dependencies, opts WorkerOptions) *UploadWorker {
	if logger == nil {
		logger = logging.NopLogger
	}
	if deps.Policy == nil {
		deps.Policy = health.PassivePolicy{}
	}
	if deps.Severity == nil {
		deps.Severity = func() models.Severity { return models.SeverityHealthy }
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &UploadWorker{
		id:      id,
		logger:  logger,
		deps:    deps,
		opts:    opts,
		workers: workers,
	}
}

// Run processes records until ctx is cancelled. Cancellation is observed
// between records; an upload in flight is allowed to finish.
func (w *UploadWorker) Run(ctx context.Context) {
	w.logger.Info("Upload worker started", "worker", w.id)
	defer w.logger.Info("Upload worker stopped", "worker", w.id)

	for {
		if ctx.Err() != nil {
			return
		}

		severity := w.deps.Severity()
		if w.id >= w.deps.Policy.ActiveWorkers(severity, w.workers) {
			if !w.sleep(ctx, w.deps.Policy.Backoff(severity, w.opts.PollInterval), false) {
				return
			}
			continue
		}

		switch w.ProcessNext(ctx) {
		case OutcomeUploaded, OutcomeStale, OutcomeFailed:
			continue
		case OutcomeIdle:
			if !w.sleep(ctx, w.deps.Policy.Backoff(severity, w.opts.PollInterval), true) {
				return
			}
		default:
			if !w.sleep(ctx, w.deps.Policy.Backoff(severity, w.opts.PollInterval), false) {
				return
			}
		}
	}
}

// sleep waits for d, or for a new record when wake is set. Returns false on cancellation.
func (w *UploadWorker) sleep(ctx context.Context, d time.Duration, wake bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var notify <-chan struct{}
	if wake {
		notify = w.deps.Queue.Notify()
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-notify:
	}
	return true
}

// ProcessNext takes the head of the queue and runs one delivery attempt
func (w *UploadWorker) ProcessNext(ctx context.Context) Outcome {
	record, ok := w.deps.Queue.Dequeue()
	if !ok {
		return OutcomeIdle
	}

	if _, err := os.Stat(record.LocalPath); err != nil {
		w.logger.Warn("Dropping stale record, file is gone", "worker", w.id, "file", record.FileName)
		w.deps.Tracker.Forget(record.ID)
		return OutcomeStale
	}

	if state := w.deps.Connectivity.CheckConnectivity(ctx); !state.Connected {
		w.logger.Debug("Offline, deferring upload", "worker", w.id, "file", record.FileName)
		w.deps.Queue.Enqueue(record)
		return OutcomeDeferred
	}

	if !w.deps.Tracker.BeginUpload(record.ID) {
		w.logger.Warn("Dropping record not available for upload", "worker", w.id, "file", record.FileName)
		w.deps.Tracker.Forget(record.ID)
		return OutcomeStale
	}
	if err := record.BeginUpload(); err != nil {
		w.logger.Error("Unexpected record state", "worker", w.id, "error", err)
		w.deps.Tracker.EndUpload(record.ID, record.State, false)
		return OutcomeStale
	}

	w.deps.Stats.RecordAttempt()
	err := w.deliver(ctx, record)
	if err == nil {
		_ = record.CompleteUpload()
		w.deps.Stats.RecordSuccess(record.SizeBytes)
		w.deps.Tracker.EndUpload(record.ID, models.StateUploaded, w.opts.Cleanup)
		w.logger.Info("Uploaded image", "worker", w.id, "file", record.FileName, "bytes", record.SizeBytes)
		return OutcomeUploaded
	}

	state, _ := record.FailAttempt(w.opts.MaxRetries, err)
	if state == models.StateQueued {
		w.logger.Warn("Upload attempt failed, will retry", "worker", w.id, "file", record.FileName,
			"retry", record.RetryCount, "max_retries", w.opts.MaxRetries, "error", err)
		w.deps.Tracker.EndUpload(record.ID, models.StateQueued, false)
		w.deps.Queue.Enqueue(record)
		return OutcomeRequeued
	}

	failure := common.NewPermanentDeliveryError(record.ID, record.RetryCount+1, err)
	record.LastError = failure.Error()
	w.logger.Error("Upload permanently failed", "worker", w.id, "file", record.FileName, "error", failure)
	w.deps.Stats.RecordFailure()
	w.deps.Tracker.EndUpload(record.ID, models.StatePermanentlyFailed, false)
	if w.deps.Quarantine != nil {
		w.deps.Quarantine.Add(ctx, record)
	}
	return OutcomeFailed
}

// deliver stores the object then notifies the API. Both steps run under
// their own timeout and are not cut short by shutdown.
func (w *UploadWorker) deliver(ctx context.Context, record *models.CaptureRecord) error {
	job := NewUploadJob(w.opts.Identity, w.opts.KeyPrefix, record)
	base := context.WithoutCancel(ctx)

	storeCtx, cancel := withOptionalTimeout(base, w.opts.StorageTimeout)
	ref, err := w.deps.Store.Put(storeCtx, job.Object)
	cancel()
	if err != nil {
		return asTransient("storage upload", err)
	}

	apiCtx, cancel := withOptionalTimeout(base, w.opts.APITimeout)
	defer cancel()
	if err := w.deps.API.NotifyUpload(apiCtx, job.NotifyRequest(w.opts.Identity, ref)); err != nil {
		return asTransient("api notify", err)
	}
	return nil
}

// asTransient classifies err as a network failure unless the client already did
func asTransient(op string, err error) error {
	if common.IsTransientNetwork(err) {
		return err
	}
	return common.NewTransientNetworkError(op, err)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
