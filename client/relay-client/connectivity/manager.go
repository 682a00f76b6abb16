package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

const DefaultStaleness = 30 * time.Second

// Driver brings network interfaces up and down. Implementations wrap
// whatever the OS offers; the manager only cares about the outcome.
type Driver interface {
	Available(it models.InterfaceType) bool
	Connect(ctx context.Context, it models.InterfaceType) error
	Disconnect(ctx context.Context, it models.InterfaceType) error
	// SignalQuality returns dBm when the interface reports it
	SignalQuality(it models.InterfaceType) (int, bool)
}

// Prober checks that the internet is reachable over the current route
type Prober interface {
	Probe(ctx context.Context) error
}

type Options struct {
	Primary        models.InterfaceType
	Fallback       models.InterfaceType
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	Staleness      time.Duration
}

// Manager owns the connectivity state. Interfaces are brought up one at a
// time, primary before fallback.
type Manager struct {
	logger logging.Logger
	driver Driver
	prober Prober
	opts   Options
	now    func() time.Time

	mu            sync.RWMutex
	state         models.ConnectivityState
	lastInterface models.InterfaceType

	establishMu sync.Mutex
	probeMu     sync.Mutex
}

func NewManager(logger logging.Logger, driver Driver, prober Prober, opts Options) *Manager {
	if logger == nil {
		logger = logging.NopLogger
	}
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.Fallback == "" {
		opts.Fallback = models.InterfaceNone
	}

	return &Manager{
		logger: logger,
		driver: driver,
		prober: prober,
		opts:   opts,
		now:    time.Now,
		state: models.ConnectivityState{
			CurrentInterface: models.InterfaceNone,
			Phase:            models.PhaseDisconnected,
		},
		lastInterface: models.InterfaceNone,
	}
}

// State returns the last known state without probing. A connection whose
// last successful probe is older than the staleness threshold is reported as
// disconnected; CheckConnectivity re-verifies it.
func (m *Manager) State() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := copyState(m.state)
	if st.Connected && m.now().Sub(st.LastVerifiedAt) >= m.opts.Staleness {
		st.Connected = false
		st.Phase = models.PhaseDisconnected
	}
	return st
}

func copyState(s models.ConnectivityState) models.ConnectivityState {
	if s.SignalQuality != nil {
		q := *s.SignalQuality
		s.SignalQuality = &q
	}
	return s
}

// Establish tries the primary interface, then the fallback. It returns true
// only after a successful probe.
func (m *Manager) Establish(ctx context.Context) bool {
	m.establishMu.Lock()
	defer m.establishMu.Unlock()
	return m.establishLocked(ctx)
}

func (m *Manager) establishLocked(ctx context.Context) bool {
	m.setPhase(models.PhaseConnectingPrimary)
	if m.tryInterface(ctx, m.opts.Primary) {
		return true
	}

	fallback := m.opts.Fallback
	if fallback != models.InterfaceNone && fallback != m.opts.Primary {
		m.logger.Warn("Primary interface failed, trying fallback", "primary", m.opts.Primary, "fallback", fallback)
		m.setPhase(models.PhaseConnectingFallback)
		if m.tryInterface(ctx, fallback) {
			return true
		}
	}

	m.markDisconnected()
	m.logger.Error("Failed to establish connectivity on any interface")
	return false
}

// tryInterface brings up one interface and probes through it
func (m *Manager) tryInterface(ctx context.Context, it models.InterfaceType) bool {
	if it == models.InterfaceNone {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if !m.driver.Available(it) {
		m.logger.Warn("Interface not available", "interface", it)
		return false
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	err := m.driver.Connect(connectCtx, it)
	cancel()
	if err != nil {
		m.logger.Warn("Interface bring-up failed", "interface", it, "error", err)
		return false
	}

	if err := m.probe(ctx); err != nil {
		m.logger.Warn("Connectivity probe failed", "interface", it, "error", err)
		return false
	}

	m.markConnected(it)
	m.logger.Info("Connected", "interface", it)
	return true
}

func (m *Manager) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	return m.prober.Probe(probeCtx)
}

// CheckConnectivity returns the cached state when it was verified within the
// staleness threshold, otherwise it probes again. A failed probe drops the
// state to disconnected.
func (m *Manager) CheckConnectivity(ctx context.Context) models.ConnectivityState {
	if st, fresh := m.freshState(); fresh {
		return st
	}

	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	// another caller may have probed while we waited
	if st, fresh := m.freshState(); fresh {
		return st
	}

	m.mu.RLock()
	last := m.lastInterface
	m.mu.RUnlock()

	if last == models.InterfaceNone {
		// nothing was ever brought up; Establish has to run first
		m.markDisconnected()
		return m.State()
	}

	if err := m.probe(ctx); err != nil {
		m.mu.RLock()
		wasConnected := m.state.Connected
		m.mu.RUnlock()
		if wasConnected {
			m.logger.Warn("Connectivity lost", "interface", last, "error", err)
		}
		m.markDisconnected()
		return m.State()
	}

	m.markConnected(last)
	return m.State()
}

func (m *Manager) freshState() (models.ConnectivityState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Connected && m.now().Sub(m.state.LastVerifiedAt) < m.opts.Staleness {
		return copyState(m.state), true
	}
	return models.ConnectivityState{}, false
}

// Reconnect re-runs Establish. Concurrent callers run one after another.
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.logger.Info("Reconnecting")
	return m.Establish(ctx)
}

// SwitchInterface disconnects the current interface and brings up it.
// Switching to none only disconnects.
func (m *Manager) SwitchInterface(ctx context.Context, it models.InterfaceType) bool {
	m.establishMu.Lock()
	defer m.establishMu.Unlock()

	m.mu.RLock()
	current := m.lastInterface
	m.mu.RUnlock()

	if current != models.InterfaceNone {
		disconnectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		if err := m.driver.Disconnect(disconnectCtx, current); err != nil {
			m.logger.Warn("Failed to disconnect interface", "interface", current, "error", err)
		}
		cancel()
	}
	m.markDisconnected()

	if it == models.InterfaceNone {
		m.mu.Lock()
		m.lastInterface = models.InterfaceNone
		m.mu.Unlock()
		m.logger.Info("Disconnected by operator", "interface", current)
		return true
	}

	m.logger.Info("Switching interface", "from", current, "to", it)
	if it == m.opts.Primary {
		m.setPhase(models.PhaseConnectingPrimary)
	} else {
		m.setPhase(models.PhaseConnectingFallback)
	}
	if m.tryInterface(ctx, it) {
		return true
	}
	m.markDisconnected()
	return false
}

// Close takes the current interface down
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	current := m.lastInterface
	m.mu.RUnlock()

	if current != models.InterfaceNone {
		disconnectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
		if err := m.driver.Disconnect(disconnectCtx, current); err != nil {
			m.logger.Warn("Failed to disconnect interface", "interface", current, "error", err)
		}
	}
	m.markDisconnected()
}

func (m *Manager) setPhase(phase models.ConnectivityPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Phase = phase
	if phase != models.PhaseConnected {
		m.state.Connected = false
	}
}

func (m *Manager) markConnected(it models.InterfaceType) {
	var quality *int
	if q, ok := m.driver.SignalQuality(it); ok {
		quality = &q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastInterface = it
	m.state = models.ConnectivityState{
		CurrentInterface: it,
		Connected:        true,
		LastVerifiedAt:   m.now(),
		SignalQuality:    quality,
		Phase:            models.PhaseConnected,
	}
}

func (m *Manager) markDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Connected = false
	m.state.CurrentInterface = models.InterfaceNone
	m.state.SignalQuality = nil
	m.state.Phase = models.PhaseDisconnected
}
