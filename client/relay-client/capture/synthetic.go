package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
)

// fallbackSyntheticResolution is used when no resolution is configured
var fallbackSyntheticResolution = resolution.Resolution{Width: 640, Height: 480}

// SyntheticCamera renders a deterministic test pattern: a seeded colour
// gradient with the frame counter drawn as a row of blocks. The same seed
// and frame number always produce the same bytes.
type SyntheticCamera struct {
	logger logging.Logger
	seed   int64
	frame  int64
	mu     sync.Mutex
}

func NewSyntheticCamera(logger logging.Logger, seed int64) *SyntheticCamera {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &SyntheticCamera{
		logger: logger,
		seed:   seed,
	}
}

func (c *SyntheticCamera) Name() string {
	return fmt.Sprintf("synthetic:%d", c.seed)
}

func (c *SyntheticCamera) CaptureTo(ctx context.Context, path string, settings Settings) (resolution.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return resolution.EmptyResolution(), err
	}

	c.mu.Lock()
	frame := c.frame
	c.frame++
	c.mu.Unlock()

	size := settings.Resolution
	if size.IsEmpty() {
		size = fallbackSyntheticResolution
	}
	quality := settings.JPEGQuality
	if quality <= 0 {
		quality = DefaultSettings.JPEGQuality
	}

	img := renderPattern(size, c.seed, frame)

	f, err := os.Create(path)
	if err != nil {
		return resolution.EmptyResolution(), fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return resolution.EmptyResolution(), fmt.Errorf("failed to encode synthetic frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return resolution.EmptyResolution(), err
	}

	c.logger.Debug("[MOCK] Synthetic frame written", "path", path, "frame", frame, "resolution", size.String())
	return size, nil
}

func (c *SyntheticCamera) Close() error {
	return nil
}

func renderPattern(size resolution.Resolution, seed, frame int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))

	base := uint32(seed*37) + uint32(frame*11)
	for y := 0; y < size.Height; y++ {
		g := uint8(y * 255 / size.Height)
		for x := 0; x < size.Width; x++ {
			r := uint8((uint32(x*255/size.Width) + base) & 0xff)
			b := uint8((uint32(x+y) + base*3) & 0xff)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}

	// frame counter as 16 black/white blocks along the top edge
	block := size.Width / 16
	if block < 1 {
		block = 1
	}
	bandHeight := size.Height / 20
	if bandHeight < 1 {
		bandHeight = 1
	}
	for bit := 0; bit < 16; bit++ {
		c := color.RGBA{A: 0xff}
		if frame&(1<<uint(15-bit)) != 0 {
			c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
		}
		for y := 0; y < bandHeight; y++ {
			for x := bit * block; x < (bit+1)*block && x < size.Width; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}

	return img
}
