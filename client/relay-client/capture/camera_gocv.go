//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
	"gocv.io/x/gocv"
)

// warmupFrames are read and dropped before each still so auto exposure settles
// and no buffered frame from the previous tick is returned
const warmupFrames = 3

type gocvCamera struct {
	logger  logging.Logger
	device  string
	webcam  *gocv.VideoCapture
	current resolution.Resolution
	mu      sync.Mutex
}

// OpenCamera opens the video device. A missing or unusable device is reported
// as HardwareUnavailable so the caller can fall back to the synthetic source.
func OpenCamera(logger logging.Logger, device string) (Camera, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	deviceID := parseDeviceID(device)
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, common.NewHardwareUnavailableError("camera "+device, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, common.NewHardwareUnavailableError("camera "+device, errors.New("device did not open"))
	}

	logger.Info("Camera opened", "device", device, "index", deviceID)

	return &gocvCamera{
		logger: logger,
		device: device,
		webcam: webcam,
	}, nil
}

func (c *gocvCamera) Name() string {
	return "gocv:" + c.device
}

func (c *gocvCamera) CaptureTo(ctx context.Context, path string, settings Settings) (resolution.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return resolution.EmptyResolution(), errors.New("camera closed")
	}

	if !settings.Resolution.IsEmpty() && settings.Resolution != c.current {
		c.webcam.Set(gocv.VideoCaptureFrameWidth, float64(settings.Resolution.Width))
		c.webcam.Set(gocv.VideoCaptureFrameHeight, float64(settings.Resolution.Height))
		c.current = settings.Resolution
	}

	img := gocv.NewMat()
	defer img.Close()

	for i := 0; i <= warmupFrames; i++ {
		if err := ctx.Err(); err != nil {
			return resolution.EmptyResolution(), err
		}
		if ok := c.webcam.Read(&img); !ok {
			return resolution.EmptyResolution(), fmt.Errorf("failed to read frame from %s", c.device)
		}
	}
	if img.Empty() {
		return resolution.EmptyResolution(), fmt.Errorf("empty frame from %s", c.device)
	}

	quality := settings.JPEGQuality
	if quality <= 0 {
		quality = DefaultSettings.JPEGQuality
	}
	if ok := gocv.IMWriteWithParams(path, img, []int{int(gocv.IMWriteJpegQuality), quality}); !ok {
		return resolution.EmptyResolution(), fmt.Errorf("failed to write frame to %s", path)
	}

	return resolution.Resolution{Width: img.Cols(), Height: img.Rows()}, nil
}

func (c *gocvCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return nil
	}
	c.logger.Info("Closing camera", "device", c.device)
	err := c.webcam.Close()
	c.webcam = nil
	return err
}
