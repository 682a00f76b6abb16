package models

import (
	"fmt"
	"time"
)

// RecordState is the delivery state of a CaptureRecord
type RecordState string

const (
	StateQueued            RecordState = "queued"
	StateUploading         RecordState = "uploading"
	StateUploaded          RecordState = "uploaded"
	StatePermanentlyFailed RecordState = "permanently_failed"
)

// IsTerminal reports whether no further delivery attempts will be made
func (s RecordState) IsTerminal() bool {
	return s == StateUploaded || s == StatePermanentlyFailed
}

// LocationSnapshot is an immutable GPS fix copied onto a record at capture time
type LocationSnapshot struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	SatelliteCount int       `json:"satellite_count"`
	FixQuality     int       `json:"fix_quality"`
	SpeedKmh       float64   `json:"speed_kmh"`
	HeadingDeg     float64   `json:"heading_deg"`
	CapturedAt     time.Time `json:"captured_at"`
}

// IsValid applies the satellite and quality thresholds
func (l LocationSnapshot) IsValid(minSatellites int) bool {
	return l.SatelliteCount >= minSatellites && l.FixQuality > 0
}

// CaptureRecord is a captured image waiting for, or done with, delivery
type CaptureRecord struct {
	ID            string            `json:"id"`
	LocalPath     string            `json:"local_path"`
	FileName      string            `json:"file_name"`
	CapturedAt    time.Time         `json:"captured_at"`
	Location      *LocationSnapshot `json:"location,omitempty"`
	SizeBytes     int64             `json:"size_bytes"`
	ContentDigest string            `json:"content_digest"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	RetryCount    int               `json:"retry_count"`
	State         RecordState       `json:"state"`
	LastError     string            `json:"last_error,omitempty"`
}

// TransitionError is returned for a state change the record does not allow
type TransitionError struct {
	RecordID string
	From     RecordState
	To       RecordState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: illegal transition %s -> %s", e.RecordID, e.From, e.To)
}

// BeginUpload moves a queued record to Uploading
func (r *CaptureRecord) BeginUpload() error {
	if r.State != StateQueued {
		return &TransitionError{RecordID: r.ID, From: r.State, To: StateUploading}
	}
	r.State = StateUploading
	return nil
}

// CompleteUpload marks an uploading record as delivered
func (r *CaptureRecord) CompleteUpload() error {
	if r.State != StateUploading {
		return &TransitionError{RecordID: r.ID, From: r.State, To: StateUploaded}
	}
	r.State = StateUploaded
	r.LastError = ""
	return nil
}

// FailAttempt records a failed attempt. The record goes back to Queued with
// RetryCount+1 while RetryCount < maxRetries, otherwise it becomes
// PermanentlyFailed. maxRetries=2 therefore allows three attempts.
func (r *CaptureRecord) FailAttempt(maxRetries int, cause error) (RecordState, error) {
	if r.State != StateUploading {
		return r.State, &TransitionError{RecordID: r.ID, From: r.State, To: StateQueued}
	}
	if cause != nil {
		r.LastError = cause.Error()
	}
	if r.RetryCount < maxRetries {
		r.RetryCount++
		r.State = StateQueued
	} else {
		r.State = StatePermanentlyFailed
	}
	return r.State, nil
}

// ResetForReplay puts a quarantined record back in the queue with a fresh budget
func (r *CaptureRecord) ResetForReplay() error {
	if r.State != StatePermanentlyFailed {
		return &TransitionError{RecordID: r.ID, From: r.State, To: StateQueued}
	}
	r.State = StateQueued
	r.RetryCount = 0
	r.LastError = ""
	return nil
}

// Clone returns a deep copy safe to hand to another owner
func (r *CaptureRecord) Clone() *CaptureRecord {
	c := *r
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	return &c
}

// InterfaceType is a network transport kind
type InterfaceType string

const (
	InterfaceNone     InterfaceType = "none"
	InterfaceCellular InterfaceType = "cellular"
	InterfaceWiFi     InterfaceType = "wifi"
	InterfaceEthernet InterfaceType = "ethernet"
)

// ParseInterfaceType accepts the config spellings of an interface
func ParseInterfaceType(s string) (InterfaceType, error) {
	switch s {
	case "cellular", "4g", "lte", "gsm":
		return InterfaceCellular, nil
	case "wifi", "wlan":
		return InterfaceWiFi, nil
	case "ethernet", "eth", "wired":
		return InterfaceEthernet, nil
	case "none", "":
		return InterfaceNone, nil
	default:
		return InterfaceNone, fmt.Errorf("unknown interface type %q", s)
	}
}

// ConnectivityPhase is the connectivity manager's state machine position
type ConnectivityPhase string

const (
	PhaseDisconnected       ConnectivityPhase = "disconnected"
	PhaseConnectingPrimary  ConnectivityPhase = "connecting_primary"
	PhaseConnectingFallback ConnectivityPhase = "connecting_fallback"
	PhaseConnected          ConnectivityPhase = "connected"
)

// ConnectivityState is a copy of the connectivity manager's current view
type ConnectivityState struct {
	CurrentInterface InterfaceType     `json:"current_interface"`
	Connected        bool              `json:"connected"`
	LastVerifiedAt   time.Time         `json:"last_verified_at"`
	SignalQuality    *int              `json:"signal_quality,omitempty"`
	Phase            ConnectivityPhase `json:"phase"`
}

// Severity is the health classification
type Severity string

const (
	SeverityHealthy  Severity = "healthy"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the worst one can be picked
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// HealthSnapshot is one sample of local resource state
type HealthSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	TemperatureC  float64   `json:"temperature_c"`
	Throttled     bool      `json:"throttled"`
	UnderVoltage  bool      `json:"under_voltage"`
	Severity      Severity  `json:"severity"`
	SampledAt     time.Time `json:"sampled_at"`
}
