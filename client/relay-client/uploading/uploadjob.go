package uploading

import (
	"path"
	"strconv"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/client"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// Identity is stamped on every stored object and API notification
type Identity struct {
	DeviceID  string
	MissionID string
}

// UploadJob is everything needed to deliver one record
type UploadJob struct {
	Record *models.CaptureRecord
	Object client.StorageObject
}

func NewUploadJob(identity Identity, keyPrefix string, record *models.CaptureRecord) *UploadJob {
	contentType := common.MimeTypeForPath(record.LocalPath)
	return &UploadJob{
		Record: record,
		Object: client.StorageObject{
			Key:         ObjectKey(keyPrefix, record),
			LocalPath:   record.LocalPath,
			ContentType: contentType,
			Metadata:    objectMetadata(identity, record, contentType),
		},
	}
}

// ObjectKey is {prefix}/{YYYY/MM/DD/HH}/{file name}, hour of capture in UTC.
// The same record always maps to the same key.
func ObjectKey(prefix string, record *models.CaptureRecord) string {
	datePath := record.CapturedAt.UTC().Format("2006/01/02/15")
	return path.Join(prefix, datePath, record.FileName)
}

func objectMetadata(identity Identity, record *models.CaptureRecord, contentType string) map[string]string {
	meta := map[string]string{
		client.MetaDeviceID:    identity.DeviceID,
		client.MetaMissionID:   identity.MissionID,
		client.MetaCaptureTime: record.CapturedAt.UTC().Format(time.RFC3339),
		client.MetaContentType: contentType,
	}
	if record.ContentDigest != "" {
		meta[client.MetaContentDigest] = record.ContentDigest
	}
	if loc := record.Location; loc != nil {
		meta[client.MetaGPSLatitude] = strconv.FormatFloat(loc.Latitude, 'f', 6, 64)
		meta[client.MetaGPSLongitude] = strconv.FormatFloat(loc.Longitude, 'f', 6, 64)
		meta[client.MetaGPSAltitude] = strconv.FormatFloat(loc.Altitude, 'f', 1, 64)
		meta[client.MetaGPSAccuracy] = strconv.FormatFloat(loc.AccuracyMeters, 'f', 1, 64)
	}
	return meta
}

// NotifyRequest builds the API notification for a stored object
func (j *UploadJob) NotifyRequest(identity Identity, objectRef string) client.UploadImageRequest {
	r := j.Record
	req := client.UploadImageRequest{
		DeviceID:      identity.DeviceID,
		ImageURL:      objectRef,
		LocalPath:     r.LocalPath,
		Timestamp:     r.CapturedAt.UTC().Format(time.RFC3339),
		MissionID:     identity.MissionID,
		FileSize:      r.SizeBytes,
		ContentDigest: r.ContentDigest,
	}
	if loc := r.Location; loc != nil {
		lat, lon, alt, acc := loc.Latitude, loc.Longitude, loc.Altitude, loc.AccuracyMeters
		req.Latitude = &lat
		req.Longitude = &lon
		req.Altitude = &alt
		req.GPSAccuracy = &acc
	}
	return req
}
