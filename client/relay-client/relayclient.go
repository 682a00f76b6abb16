package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/capture"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/client"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/health"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/status"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/uploading"
)

// RelayState is the lifecycle position of the RelayClient
type RelayState string

const (
	StateCreated      RelayState = "created"
	StateInitializing RelayState = "initializing"
	StateRunning      RelayState = "running"
	StateStopping     RelayState = "stopping"
	StateStopped      RelayState = "stopped"
)

// ConnectivityService is the part of the connectivity manager the relay drives
type ConnectivityService interface {
	Establish(ctx context.Context) bool
	CheckConnectivity(ctx context.Context) models.ConnectivityState
	Reconnect(ctx context.Context) bool
	SwitchInterface(ctx context.Context, it models.InterfaceType) bool
	State() models.ConnectivityState
	Close(ctx context.Context)
}

// LocationService is the part of the location provider the relay reads
type LocationService interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration) bool
	CurrentFix() (models.LocationSnapshot, bool)
	Latest() (models.LocationSnapshot, bool)
}

// HealthService samples and classifies local resources
type HealthService interface {
	CheckHealth(ctx context.Context) health.Report
	Latest() (health.Report, bool)
	Severity() models.Severity
}

// RelayComponents are the collaborators wired by main. OpenCapture and
// OpenLocation run during Start so their failures follow the startup rules.
type RelayComponents struct {
	OpenCapture    func() (capture.CaptureSource, error)
	Connectivity   ConnectivityService
	OpenLocation   func() (LocationService, error) // optional
	Monitor        HealthService
	Policy         health.Policy
	Tracker        filemanagement.FileTracker
	Store          client.ObjectStore
	API            client.APIClient
	QuarantineRepo uploading.QuarantineRepository // optional
	Closers        []io.Closer                    // released last
}

type RelayOptions struct {
	Identity         uploading.Identity
	CaptureInterval  time.Duration
	CheckInterval    time.Duration
	HealthInterval   time.Duration
	Workers          int
	QuarantineMax    int
	RecoverOnStartup bool
	ShutdownTimeout  time.Duration
	Worker           uploading.WorkerOptions
}

type loop struct {
	name string
	done chan struct{}
}

// RelayClient orchestrates capture, connectivity, upload and health
type RelayClient struct {
	logger     logging.Logger
	components RelayComponents
	opts       RelayOptions

	queue      *uploading.RelayQueue
	stats      *uploading.UploadStats
	quarantine *uploading.Quarantine

	source   capture.CaptureSource
	location LocationService

	mu        sync.RWMutex
	state     RelayState
	startedAt time.Time
	cancel    context.CancelFunc
	loops     []loop
	stopOnce  sync.Once

	captureTick  int64
	lastSeverity atomic.Value
}

// NewRelayClient creates a relay in the Created state
func NewRelayClient(logger logging.Logger, components RelayComponents, opts RelayOptions) *RelayClient {
	if logger == nil {
		logger = logging.NopLogger
	}
	if components.Policy == nil {
		components.Policy = health.PassivePolicy{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = 30 * time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Minute
	}
	opts.Worker.Identity = opts.Identity

	queue := uploading.NewRelayQueue()
	return &RelayClient{
		logger:     logger,
		components: components,
		opts:       opts,
		queue:      queue,
		stats:      uploading.NewUploadStats(),
		quarantine: uploading.NewQuarantine(logger, components.QuarantineRepo, components.Tracker, queue, opts.QuarantineMax),
		state:      StateCreated,
	}
}

// Start initializes every component and launches the background loops.
// Any mandatory failure leaves the relay Stopped.
func (r *RelayClient) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateCreated {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("relay client cannot start from state %s", state)
	}
	r.state = StateInitializing
	r.mu.Unlock()

	r.logger.Info("Starting relay client", "device_id", r.opts.Identity.DeviceID, "mission_id", r.opts.Identity.MissionID)

	if err := r.initialize(ctx); err != nil {
		r.logger.Error("Relay initialization failed", "error", err)
		r.release()
		r.setState(StateStopped)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.startedAt = time.Now()
	r.mu.Unlock()

	r.spawn("capture", func() { r.captureLoop(runCtx) })
	r.spawn("connectivity", func() { r.connectivityLoop(runCtx) })
	for i := 0; i < r.opts.Workers; i++ {
		worker := uploading.NewUploadWorker(r.logger, i, r.opts.Workers, r.workerDependencies(), r.opts.Worker)
		r.spawn(fmt.Sprintf("upload-%d", i), func() { worker.Run(runCtx) })
	}
	r.spawn("health", func() { r.healthLoop(runCtx) })

	r.setState(StateRunning)
	r.logger.Info("Relay client running", "workers", r.opts.Workers, "capture_interval", r.opts.CaptureInterval)
	return nil
}

func (r *RelayClient) initialize(ctx context.Context) error {
	if err := r.components.Tracker.EnsureDirectory(); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	source, err := r.components.OpenCapture()
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	r.source = source

	if r.components.Connectivity == nil {
		return errors.New("no connectivity manager configured")
	}
	if !r.components.Connectivity.Establish(ctx) {
		r.logger.Warn("No network at startup, uploads wait for the connectivity poll")
	}

	if _, err := r.quarantine.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore quarantine: %w", err)
	}
	if _, err := r.components.Tracker.RestoreOutcomes(); err != nil {
		return fmt.Errorf("failed to restore capture outcomes: %w", err)
	}
	if r.opts.RecoverOnStartup {
		r.recoverOrphans()
	}

	if r.components.OpenLocation != nil {
		location, err := r.components.OpenLocation()
		if err != nil {
			r.logger.Warn("Location unavailable, records will carry no fix", "error", err)
		} else {
			location.Start(context.Background())
			r.location = location
		}
	}

	if r.components.Monitor == nil {
		return errors.New("no health monitor configured")
	}
	report := r.components.Monitor.CheckHealth(ctx)
	r.lastSeverity.Store(report.Severity)
	r.logger.Info("Initial health", "severity", report.Severity, "disk_percent", report.Snapshot.DiskPercent)

	return nil
}

// recoverOrphans queues capture files left behind by a previous run
func (r *RelayClient) recoverOrphans() {
	paths, err := r.components.Tracker.Untracked()
	if err != nil {
		r.logger.Warn("Failed to scan for orphaned captures", "error", err)
		return
	}

	recovered := 0
	for _, path := range paths {
		record, err := r.source.Adopt(path)
		if err != nil {
			r.logger.Warn("Failed to adopt orphaned capture", "path", path, "error", err)
			continue
		}
		r.queue.Enqueue(record)
		recovered++
	}
	if recovered > 0 {
		r.logger.Info("Recovered orphaned captures", "count", recovered)
	}
}

func (r *RelayClient) workerDependencies() uploading.Dependencies {
	return uploading.Dependencies{
		Queue:        r.queue,
		Stats:        r.stats,
		Quarantine:   r.quarantine,
		Tracker:      r.components.Tracker,
		Store:        r.components.Store,
		API:          r.components.API,
		Connectivity: r.components.Connectivity,
		Policy:       r.components.Policy,
		Severity:     r.components.Monitor.Severity,
	}
}

func (r *RelayClient) spawn(name string, run func()) {
	l := loop{name: name, done: make(chan struct{})}
	r.mu.Lock()
	r.loops = append(r.loops, l)
	r.mu.Unlock()

	go func() {
		defer close(l.done)
		run()
	}()
}

func (r *RelayClient) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.captureOnce(ctx)
		}
	}
}

func (r *RelayClient) captureOnce(ctx context.Context) {
	tick := atomic.AddInt64(&r.captureTick, 1)
	severity := r.components.Monitor.Severity()
	if !r.components.Policy.AllowCapture(severity, tick) {
		r.logger.Debug("Skipping capture under critical health", "tick", tick)
		return
	}

	record, err := r.source.Capture(ctx)
	if err != nil {
		r.logger.Error("Capture failed", "error", err)
		return
	}

	if r.location != nil {
		if fix, ok := r.location.CurrentFix(); ok {
			record.Location = &fix
		}
	}

	r.queue.Enqueue(record)
	r.logger.Info("Captured image", "file", record.FileName, "has_fix", record.Location != nil, "queue_depth", r.queue.Len())
}

func (r *RelayClient) connectivityLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := r.components.Connectivity.CheckConnectivity(ctx)
			if !state.Connected && ctx.Err() == nil {
				r.logger.Info("Connectivity lost, reconnecting")
				if r.components.Connectivity.Reconnect(ctx) {
					r.logger.Info("Reconnected", "interface", r.components.Connectivity.State().CurrentInterface)
				}
			}
		}
	}
}

func (r *RelayClient) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

func (r *RelayClient) checkHealth(ctx context.Context) {
	report := r.components.Monitor.CheckHealth(ctx)

	previous, _ := r.lastSeverity.Load().(models.Severity)
	if report.Severity == previous {
		return
	}
	r.lastSeverity.Store(report.Severity)

	switch report.Severity {
	case models.SeverityCritical:
		r.logger.Error("Health critical", "alerts", report.Alerts, "warnings", report.Warnings)
	case models.SeverityWarning:
		r.logger.Warn("Health warning", "warnings", report.Warnings)
	default:
		r.logger.Info("Health recovered", "previous", previous)
	}
}

// Stop cancels the loops, joins them with a bounded wait and releases
// components in reverse order. Safe to call more than once.
func (r *RelayClient) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		if r.state == StateCreated || r.state == StateStopped {
			r.state = StateStopped
			r.mu.Unlock()
			return
		}
		r.state = StateStopping
		cancel := r.cancel
		loops := r.loops
		r.mu.Unlock()

		r.logger.Info("Stopping relay client...")
		if cancel != nil {
			cancel()
		}

		for _, l := range loops {
			select {
			case <-l.done:
			case <-time.After(r.opts.ShutdownTimeout):
				r.logger.Warn("Loop did not stop in time", "loop", l.name, "timeout", r.opts.ShutdownTimeout)
			}
		}

		r.release()
		r.setState(StateStopped)
		r.logger.Info("Relay client stopped", "queued", r.queue.Len(), "stats", r.stats.Snapshot())
	})
	return nil
}

// release frees components in reverse dependency order
func (r *RelayClient) release() {
	if r.location != nil {
		if !r.location.Stop(r.opts.ShutdownTimeout) {
			r.logger.Warn("Location receiver did not stop in time")
		}
	}

	if r.components.Connectivity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
		r.components.Connectivity.Close(ctx)
		cancel()
	}

	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.logger.Warn("Failed to close capture source", "error", err)
		}
	}

	for i := len(r.components.Closers) - 1; i >= 0; i-- {
		if err := r.components.Closers[i].Close(); err != nil {
			r.logger.Warn("Failed to close component", "error", err)
		}
	}
}

func (r *RelayClient) setState(state RelayState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *RelayClient) State() RelayState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Quarantine exposes the quarantine to the status server
func (r *RelayClient) Quarantine() *uploading.Quarantine {
	return r.quarantine
}

// Connectivity exposes the connectivity manager to the status server
func (r *RelayClient) Connectivity() ConnectivityService {
	return r.components.Connectivity
}

// Status reports the current view of every subsystem
func (r *RelayClient) Status() status.Report {
	r.mu.RLock()
	state := r.state
	startedAt := r.startedAt
	r.mu.RUnlock()

	report := status.Report{
		State:           string(state),
		DeviceID:        r.opts.Identity.DeviceID,
		MissionID:       r.opts.Identity.MissionID,
		QueueDepth:      r.queue.Len(),
		QuarantineCount: r.quarantine.Count(),
		TrackedFiles:    r.components.Tracker.Count(),
		Stats:           r.stats.Snapshot(),
		StartedAt:       startedAt,
	}
	if !startedAt.IsZero() {
		report.Uptime = time.Since(startedAt)
		report.UptimeSeconds = int64(report.Uptime.Seconds())
	}
	if r.source != nil {
		report.CaptureMode = r.source.Mode()
	}
	if r.components.Connectivity != nil {
		report.Connectivity = r.components.Connectivity.State()
	}
	if r.components.Monitor != nil {
		if h, ok := r.components.Monitor.Latest(); ok {
			snapshot := h.Snapshot
			report.Health = &snapshot
		}
	}
	if r.location != nil {
		if fix, ok := r.location.Latest(); ok {
			report.LastFix = &fix
		}
	}
	return report
}
