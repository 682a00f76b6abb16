package capture

import (
	"context"
	"encoding/hex"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/config"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	FilePrefix     = "disaster_img_"
	FileExtension  = ".jpg"
	FilePattern    = FilePrefix + "*" + FileExtension
	fileTimeLayout = "20060102_150405"
)

const (
	ModeCamera    = "camera"
	ModeSynthetic = "synthetic"
)

// CaptureSource produces one queued record per call
type CaptureSource interface {
	// Capture acquires an image into a new local file and returns a queued
	// record referencing it. Errors are *CaptureError.
	Capture(ctx context.Context) (*models.CaptureRecord, error)

	// Adopt builds a queued record for an existing capture file, e.g. one
	// left behind by a previous run
	Adopt(path string) (*models.CaptureRecord, error)

	// Mode reports whether a real camera or the synthetic generator is in use
	Mode() string

	Close() error
}

type SourceOptions struct {
	Dir            string
	Device         string
	MaxLocalImages int
	SyntheticSeed  int64
	ForceSynthetic bool
}

// Source is the CaptureSource implementation. The camera strategy is chosen
// once in NewCaptureSource and never changes afterwards.
type Source struct {
	logger           logging.Logger
	opts             SourceOptions
	camera           Camera
	mode             string
	settingsProvider config.SettingsProvider[Settings]
	tracker          filemanagement.FileTracker
	postProcessor    PostProcessor
	now              func() time.Time
}

// NewCaptureSource prepares the capture directory and selects the camera.
// A missing camera is not an error: the synthetic generator takes its place.
func NewCaptureSource(
	logger logging.Logger,
	opts SourceOptions,
	settingsProvider config.SettingsProvider[Settings],
	tracker filemanagement.FileTracker,
	postProcessor PostProcessor,
) (*Source, error) {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settingsProvider == nil {
		settingsProvider = config.StaticSettingsProvider[Settings]{Settings: DefaultSettings}
	}
	if postProcessor == nil {
		postProcessor = NopPostProcessor{}
	}
	if tracker == nil {
		return nil, fmt.Errorf("capture source needs a file tracker")
	}

	if err := tracker.EnsureDirectory(); err != nil {
		return nil, fmt.Errorf("failed to prepare capture directory: %w", err)
	}

	s := &Source{
		logger:           logger,
		opts:             opts,
		settingsProvider: settingsProvider,
		tracker:          tracker,
		postProcessor:    postProcessor,
		now:              time.Now,
	}

	if opts.ForceSynthetic {
		s.camera = NewSyntheticCamera(logger, opts.SyntheticSeed)
		s.mode = ModeSynthetic
	} else if cam, err := OpenCamera(logger, opts.Device); err != nil {
		if !common.IsHardwareUnavailable(err) {
			return nil, err
		}
		logger.Warn("Camera unavailable, using synthetic images", "device", opts.Device, "error", err)
		s.camera = NewSyntheticCamera(logger, opts.SyntheticSeed)
		s.mode = ModeSynthetic
	} else {
		s.camera = cam
		s.mode = ModeCamera
	}

	logger.Info("Capture source ready", "mode", s.mode, "camera", s.camera.Name(), "dir", opts.Dir)
	return s, nil
}

func (s *Source) Mode() string {
	return s.mode
}

func (s *Source) Capture(ctx context.Context) (*models.CaptureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, newCaptureError("cancelled", err)
	}

	settings := s.settingsProvider.GetSettings()
	capturedAt := s.now().UTC()
	fileName := FileName(capturedAt, uuid.New())
	path := filepath.Join(s.opts.Dir, fileName)

	size, err := s.camera.CaptureTo(ctx, path, settings)
	if err != nil {
		os.Remove(path)
		return nil, newCaptureError("acquisition failed on "+s.camera.Name(), err)
	}

	if settings.PostProcess.Enabled {
		processed, err := s.postProcessor.Process(ctx, path, size, settings.PostProcess)
		if err != nil {
			s.logger.Warn("Post-processing failed, keeping original image", "path", path, "error", err)
		} else {
			size = processed
		}
	}

	record, err := s.newRecord(path, capturedAt, size)
	if err != nil {
		os.Remove(path)
		return nil, newCaptureError("could not read back captured file", err)
	}

	s.tracker.Track(record.ID, record.LocalPath, record.CapturedAt)
	s.tracker.EnforceCap(s.opts.MaxLocalImages)

	s.logger.Debug("Captured image", "id", record.ID, "path", path, "size", record.SizeBytes)
	return record, nil
}

func (s *Source) Adopt(path string) (*models.CaptureRecord, error) {
	capturedAt, ok := ParseFileTime(filepath.Base(path))
	if !ok {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		capturedAt = info.ModTime().UTC()
	}

	var size resolution.Resolution
	if f, err := os.Open(path); err == nil {
		if cfg, err := jpeg.DecodeConfig(f); err == nil {
			size = resolution.Resolution{Width: cfg.Width, Height: cfg.Height}
		}
		f.Close()
	}

	record, err := s.newRecord(path, capturedAt, size)
	if err != nil {
		return nil, err
	}
	s.tracker.Track(record.ID, record.LocalPath, record.CapturedAt)
	return record, nil
}

func (s *Source) Close() error {
	return s.camera.Close()
}

func (s *Source) newRecord(path string, capturedAt time.Time, size resolution.Resolution) (*models.CaptureRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	digest, err := FileDigest(path)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	return &models.CaptureRecord{
		ID:            id.String(),
		LocalPath:     path,
		FileName:      filepath.Base(path),
		CapturedAt:    capturedAt,
		SizeBytes:     info.Size(),
		ContentDigest: digest,
		Width:         size.Width,
		Height:        size.Height,
		State:         models.StateQueued,
	}, nil
}

// FileName builds disaster_img_YYYYmmdd_HHMMSS_<8 hex>.jpg
func FileName(capturedAt time.Time, id uuid.UUID) string {
	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]
	return FilePrefix + capturedAt.UTC().Format(fileTimeLayout) + "_" + suffix + FileExtension
}

// ParseFileTime recovers the capture time from a name built by FileName
func ParseFileTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, FilePrefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, FilePrefix)
	if len(rest) < len(fileTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(fileTimeLayout, rest[:len(fileTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FileDigest returns the hex BLAKE2b-256 of the file contents
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
