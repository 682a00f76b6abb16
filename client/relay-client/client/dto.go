package client

// StorageObject describes one local file to be written to object storage
type StorageObject struct {
	Key         string
	LocalPath   string
	ContentType string
	Metadata    map[string]string
}

// Object metadata keys attached to every stored capture
const (
	MetaDeviceID      = "device_id"
	MetaMissionID     = "mission_id"
	MetaCaptureTime   = "capture_time"
	MetaContentType   = "content_type"
	MetaContentDigest = "content_digest"
	MetaGPSLatitude   = "gps_latitude"
	MetaGPSLongitude  = "gps_longitude"
	MetaGPSAltitude   = "gps_altitude"
	MetaGPSAccuracy   = "gps_accuracy"
)

// UploadImageRequest is the body of POST /upload-image
type UploadImageRequest struct {
	DeviceID      string   `json:"device_id"`
	ImageURL      string   `json:"image_url"`
	LocalPath     string   `json:"local_path"`
	Timestamp     string   `json:"timestamp"`
	MissionID     string   `json:"mission_id"`
	FileSize      int64    `json:"file_size"`
	ContentDigest string   `json:"content_digest,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Altitude      *float64 `json:"altitude,omitempty"`
	GPSAccuracy   *float64 `json:"gps_accuracy,omitempty"`
}
