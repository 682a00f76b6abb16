package health

import (
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// Policy turns a severity into scheduling decisions
type Policy interface {
	// AllowCapture reports whether the capture loop should capture on this tick
	AllowCapture(severity models.Severity, tick int64) bool
	// ActiveWorkers is how many of the configured upload workers may run
	ActiveWorkers(severity models.Severity, configured int) int
	// Backoff scales the idle sleep of the upload workers
	Backoff(severity models.Severity, base time.Duration) time.Duration
}

// DefaultPolicy halves the capture rate, keeps one upload worker and backs
// off when critical
type DefaultPolicy struct{}

func (DefaultPolicy) AllowCapture(severity models.Severity, tick int64) bool {
	if severity == models.SeverityCritical {
		return tick%2 == 0
	}
	return true
}

func (DefaultPolicy) ActiveWorkers(severity models.Severity, configured int) int {
	if severity == models.SeverityCritical && configured > 1 {
		return 1
	}
	return configured
}

func (DefaultPolicy) Backoff(severity models.Severity, base time.Duration) time.Duration {
	switch severity {
	case models.SeverityCritical:
		return base * 4
	case models.SeverityWarning:
		return base * 2
	}
	return base
}

// PassivePolicy only reports; scheduling is unchanged
type PassivePolicy struct{}

func (PassivePolicy) AllowCapture(models.Severity, int64) bool { return true }

func (PassivePolicy) ActiveWorkers(_ models.Severity, configured int) int { return configured }

func (PassivePolicy) Backoff(_ models.Severity, base time.Duration) time.Duration { return base }
