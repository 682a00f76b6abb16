package location

import (
	"context"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

const defaultPollInterval = time.Second

// Receiver produces fixes until ctx is cancelled or the source fails
type Receiver interface {
	Name() string
	Run(ctx context.Context, update func(models.LocationSnapshot)) error
}

// Provider keeps the most recent fix from a Receiver running in the background
type Provider struct {
	logger        logging.Logger
	receiver      Receiver
	minSatellites int
	pollInterval  time.Duration

	mu        sync.RWMutex
	latest    models.LocationSnapshot
	hasLatest bool
	lastValid *models.LocationSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProvider(logger logging.Logger, receiver Receiver, minSatellites int) *Provider {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &Provider{
		logger:        logger,
		receiver:      receiver,
		minSatellites: minSatellites,
		pollInterval:  defaultPollInterval,
	}
}

// Start runs the receiver in the background. Calling Start twice is a no-op.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.logger.Info("Location provider started", "receiver", p.receiver.Name(), "min_satellites", p.minSatellites)

	go func() {
		defer close(done)
		if err := p.receiver.Run(ctx, p.update); err != nil && ctx.Err() == nil {
			p.logger.Error("Location receiver stopped", "receiver", p.receiver.Name(), "error", err)
		}
	}()
}

// Stop cancels the receiver and waits up to timeout for it to exit
func (p *Provider) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("Location receiver did not stop in time", "timeout", timeout)
		return false
	}
}

func (p *Provider) ReceiverName() string {
	return p.receiver.Name()
}

func (p *Provider) update(s models.LocationSnapshot) {
	p.mu.Lock()
	p.latest = s
	p.hasLatest = true
	var previous *models.LocationSnapshot
	if p.IsValidFix(s) {
		previous = p.lastValid
		fix := s
		p.lastValid = &fix
	}
	p.mu.Unlock()

	if previous != nil {
		p.RecordMovement(*previous, s)
	}
}

// CurrentFix returns a copy of the latest fix, or false if it is not valid
func (p *Provider) CurrentFix() (models.LocationSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.hasLatest || !p.IsValidFix(p.latest) {
		return models.LocationSnapshot{}, false
	}
	return p.latest, true
}

// Latest returns the last fix whatever its quality
func (p *Provider) Latest() (models.LocationSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasLatest
}

func (p *Provider) IsValidFix(s models.LocationSnapshot) bool {
	return s.IsValid(p.minSatellites)
}

// WaitForFix polls until a valid fix is available. It returns false when
// timeout elapses or ctx is cancelled.
func (p *Provider) WaitForFix(ctx context.Context, timeout time.Duration) bool {
	if _, ok := p.CurrentFix(); ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			p.logger.Warn("GPS fix timeout", "timeout", timeout)
			return false
		case <-ticker.C:
			if _, ok := p.CurrentFix(); ok {
				p.logger.Info("GPS fix acquired")
				return true
			}
		}
	}
}

// RecordMovement logs the movement between two fixes
func (p *Provider) RecordMovement(from, to models.LocationSnapshot) Movement {
	m := MovementBetween(from, to)
	p.logger.Debug("Movement",
		"distance_m", m.DistanceMeters,
		"elapsed", m.Elapsed,
		"speed_kmh", m.SpeedKmh,
		"gps_speed_kmh", m.ReportedKmh)
	return m
}
