package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

var DefaultThresholds = Thresholds{
	Temperature: 80,
	Memory:      90,
	Disk:        95,
	CPU:         85,
}

type Thresholds struct {
	Temperature float64
	Memory      float64
	Disk        float64
	CPU         float64
}

// Report is a classified snapshot. Alerts are critical conditions,
// Warnings are not.
type Report struct {
	Snapshot   models.HealthSnapshot
	Severity   models.Severity
	Alerts     []string
	Warnings   []string
	Exhaustion []*common.ResourceExhaustionError
}

// Classify derives severity and messages from a snapshot. Any critical
// dimension makes the whole report critical.
func Classify(s models.HealthSnapshot, t Thresholds) Report {
	r := Report{Snapshot: s}

	switch {
	case s.TemperatureC >= t.Temperature:
		r.Alerts = append(r.Alerts, fmt.Sprintf("High CPU temperature: %.1f°C", s.TemperatureC))
	case s.TemperatureC >= t.Temperature-10:
		r.Warnings = append(r.Warnings, fmt.Sprintf("Elevated CPU temperature: %.1f°C", s.TemperatureC))
	}

	switch {
	case s.MemoryPercent >= t.Memory:
		r.Alerts = append(r.Alerts, fmt.Sprintf("High memory usage: %.1f%%", s.MemoryPercent))
		r.Exhaustion = append(r.Exhaustion, &common.ResourceExhaustionError{Resource: "memory", Percent: s.MemoryPercent})
	case s.MemoryPercent >= t.Memory-10:
		r.Warnings = append(r.Warnings, fmt.Sprintf("Elevated memory usage: %.1f%%", s.MemoryPercent))
	}

	switch {
	case s.DiskPercent >= t.Disk:
		r.Alerts = append(r.Alerts, fmt.Sprintf("Low disk space: %.1f%% used", s.DiskPercent))
		r.Exhaustion = append(r.Exhaustion, &common.ResourceExhaustionError{Resource: "disk", Percent: s.DiskPercent})
	case s.DiskPercent >= t.Disk-5:
		r.Warnings = append(r.Warnings, fmt.Sprintf("Disk space getting low: %.1f%% used", s.DiskPercent))
	}

	if s.CPUPercent >= t.CPU {
		r.Warnings = append(r.Warnings, fmt.Sprintf("High CPU usage: %.1f%%", s.CPUPercent))
	}

	if s.Throttled {
		r.Alerts = append(r.Alerts, "System is currently being throttled")
	} else if s.UnderVoltage {
		r.Warnings = append(r.Warnings, "Under-voltage condition detected")
	}

	switch {
	case len(r.Alerts) > 0:
		r.Severity = models.SeverityCritical
	case len(r.Warnings) > 0:
		r.Severity = models.SeverityWarning
	default:
		r.Severity = models.SeverityHealthy
	}
	r.Snapshot.Severity = r.Severity
	return r
}

// Monitor samples and classifies local resources and keeps the latest report
type Monitor struct {
	logger     logging.Logger
	sampler    Sampler
	thresholds Thresholds

	mu        sync.RWMutex
	latest    Report
	hasLatest bool
}

func NewMonitor(logger logging.Logger, sampler Sampler, thresholds Thresholds) *Monitor {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &Monitor{
		logger:     logger,
		sampler:    sampler,
		thresholds: thresholds,
	}
}

// Sample takes a fresh snapshot with its severity set
func (m *Monitor) Sample(ctx context.Context) models.HealthSnapshot {
	return m.CheckHealth(ctx).Snapshot
}

// CheckHealth samples and classifies. Sampling errors are logged; the
// counters that could be read are still classified.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	snapshot, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn("Health sample incomplete", "error", err)
	}

	report := Classify(snapshot, m.thresholds)

	m.mu.Lock()
	m.latest = report
	m.hasLatest = true
	m.mu.Unlock()

	return report
}

// Latest returns the last report without sampling
func (m *Monitor) Latest() (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Severity of the last report, healthy before the first sample
func (m *Monitor) Severity() models.Severity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLatest {
		return models.SeverityHealthy
	}
	return m.latest.Severity
}
