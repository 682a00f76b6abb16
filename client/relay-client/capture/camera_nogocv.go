//go:build !gocv

package capture

import (
	"errors"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
)

// OpenCamera always reports the camera as unavailable in builds without the
// gocv tag. Build with -tags gocv to use a real device.
func OpenCamera(logger logging.Logger, device string) (Camera, error) {
	return nil, common.NewHardwareUnavailableError("camera "+device, errors.New("built without gocv support"))
}
