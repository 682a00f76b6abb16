package status

import (
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/uploading"
)

// Report is a point-in-time view of the relay
type Report struct {
	State           string                   `json:"state"`
	DeviceID        string                   `json:"device_id"`
	MissionID       string                   `json:"mission_id"`
	CaptureMode     string                   `json:"capture_mode"`
	QueueDepth      int                      `json:"queue_depth"`
	QuarantineCount int                      `json:"quarantine_count"`
	TrackedFiles    int                      `json:"tracked_files"`
	Connectivity    models.ConnectivityState `json:"connectivity"`
	Health          *models.HealthSnapshot   `json:"health,omitempty"`
	Stats           uploading.StatsSnapshot  `json:"stats"`
	LastFix         *models.LocationSnapshot `json:"last_fix,omitempty"`
	StartedAt       time.Time                `json:"started_at"`
	Uptime          time.Duration            `json:"-"`
	UptimeSeconds   int64                    `json:"uptime_seconds"`
}
