package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
	"github.com/xfrr/goffmpeg/transcoder"
)

type PostProcessor interface {
	// Process rewrites the image at path in place and returns its new size.
	// On error the original file is left untouched.
	Process(ctx context.Context, path string, source resolution.Resolution, settings PostProcessSettings) (resolution.Resolution, error)
}

// NopPostProcessor leaves every frame as captured
type NopPostProcessor struct{}

func (NopPostProcessor) Process(_ context.Context, _ string, source resolution.Resolution, _ PostProcessSettings) (resolution.Resolution, error) {
	return source, nil
}

// FfmpegPostProcessor downscales and re-encodes stills with FFmpeg
type FfmpegPostProcessor struct {
	logger   logging.Logger
	encoders EncoderProvider
}

func NewFfmpegPostProcessor(logger logging.Logger, encoders EncoderProvider) *FfmpegPostProcessor {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &FfmpegPostProcessor{
		logger:   logger,
		encoders: encoders,
	}
}

func (p *FfmpegPostProcessor) Process(ctx context.Context, path string, source resolution.Resolution, settings PostProcessSettings) (resolution.Resolution, error) {
	target := source.Fit(settings.MaxResolution)

	encoder := settings.Encoder
	if p.encoders != nil {
		resolved, err := p.encoders.ResolveEncoder(encoder)
		if err != nil {
			return source, err
		}
		encoder = resolved
	}

	tmpPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".pp" + filepath.Ext(path)

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, tmpPath); err != nil {
		return source, fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	trans.MediaFile().SetVideoCodec(encoder)
	trans.MediaFile().SetOutputFormat("image2")
	trans.MediaFile().SetSkipAudio(true)
	if target != source {
		trans.MediaFile().SetVideoFilter(fmt.Sprintf("scale=%s", target.Format("w:h")))
	}

	if err := ctx.Err(); err != nil {
		return source, err
	}

	// a single still encodes in well under a second, so this is not cancellable
	done := trans.Run(false)
	if err := <-done; err != nil {
		os.Remove(tmpPath)
		return source, fmt.Errorf("failed to post-process image: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return source, fmt.Errorf("failed to replace original image: %w", err)
	}

	p.logger.Debug("Post-processed image", "path", path, "from", source.String(), "to", target.String(), "encoder", encoder)
	return target, nil
}
