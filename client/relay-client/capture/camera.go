package capture

import (
	"context"
	"strconv"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
)

// Camera acquires a single still and writes it as JPEG to path.
// It returns the size of the written frame.
type Camera interface {
	Name() string
	CaptureTo(ctx context.Context, path string, settings Settings) (resolution.Resolution, error)
	Close() error
}

// parseDeviceID turns "0", "1" or "/dev/video1" into a capture index.
// Unknown values fall back to the default camera.
func parseDeviceID(device string) int {
	if device == "" {
		return 0
	}
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	const prefix = "/dev/video"
	if len(device) > len(prefix) && device[:len(prefix)] == prefix {
		if id, err := strconv.Atoi(device[len(prefix):]); err == nil {
			return id
		}
	}
	return 0
}
