package capture

import (
	"fmt"
	"maps"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
)

// EncoderFallbackMap defines fallback chains for still image encoders.
// Hardware encoders fall back to the software mjpeg encoder.
var EncoderFallbackMap = map[string][]string{
	"mjpeg":       {"mjpeg", "mjpeg_vaapi", "mjpeg_qsv"},
	"mjpeg_vaapi": {"mjpeg_vaapi", "mjpeg_qsv", "mjpeg"},
	"mjpeg_qsv":   {"mjpeg_qsv", "mjpeg_vaapi", "mjpeg"},
}

// EncoderProvider answers which FFmpeg encoders can be used on this device
type EncoderProvider interface {
	IsEncoderAvailable(encoder string) bool
	ResolveEncoder(requested string) (string, error)
	AvailableEncoders() map[string]bool
}

// FFmpegEncoderProvider queries "ffmpeg -encoders" once and caches the result
type FFmpegEncoderProvider struct {
	logger       logging.Logger
	listEncoders func() ([]byte, error)
	available    map[string]bool
	once         sync.Once
}

func NewFFmpegEncoderProvider(logger logging.Logger) *FFmpegEncoderProvider {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &FFmpegEncoderProvider{
		logger: logger,
		listEncoders: func() ([]byte, error) {
			return exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
		},
	}
}

func (p *FFmpegEncoderProvider) load() {
	p.once.Do(func() {
		output, err := p.listEncoders()
		if err != nil {
			p.logger.Warn("Failed to query FFmpeg encoders", "error", err)
			p.available = map[string]bool{}
			return
		}
		p.available = parseEncoderList(string(output))
		p.logger.Info("Loaded available FFmpeg encoders", "count", len(p.available))
	})
}

func (p *FFmpegEncoderProvider) IsEncoderAvailable(encoder string) bool {
	p.load()
	return p.available[encoder]
}

// AvailableEncoders returns a copy of the cached encoder set
func (p *FFmpegEncoderProvider) AvailableEncoders() map[string]bool {
	p.load()
	result := make(map[string]bool, len(p.available))
	maps.Copy(result, p.available)
	return result
}

// ResolveEncoder returns the first available encoder from the fallback chain
func (p *FFmpegEncoderProvider) ResolveEncoder(requested string) (string, error) {
	if p.IsEncoderAvailable(requested) {
		return requested, nil
	}

	chain, exists := EncoderFallbackMap[requested]
	if !exists {
		return "", fmt.Errorf("encoder '%s' is not available and no fallback is defined", requested)
	}

	for _, encoder := range chain {
		if p.IsEncoderAvailable(encoder) {
			p.logger.Info("Using fallback encoder", "requested", requested, "encoder", encoder)
			return encoder, nil
		}
	}

	return "", fmt.Errorf("no suitable encoder available from fallback chain: %v", chain)
}

// Matches lines like " V....D mjpeg                MJPEG (Motion JPEG)"
var encoderLinePattern = regexp.MustCompile(`^ ([VAS][.FSXBD]{5})\s+([a-zA-Z0-9_-]+)\s+`)

func parseEncoderList(output string) map[string]bool {
	result := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		// legend lines look like " V..... = Video"
		if strings.Contains(line, " = ") {
			continue
		}
		matches := encoderLinePattern.FindStringSubmatch(line)
		if len(matches) < 3 {
			continue
		}
		if strings.HasPrefix(matches[1], "V") {
			result[matches[2]] = true
		}
	}
	return result
}
