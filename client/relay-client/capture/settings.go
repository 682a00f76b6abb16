package capture

import (
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/config"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
)

var DefaultSettings = Settings{
	Resolution:  resolution.Resolution{Width: 1920, Height: 1080},
	JPEGQuality: 85,
	PostProcess: PostProcessSettings{
		Enabled:       false,
		MaxResolution: resolution.Resolution{Width: 1280, Height: 720},
		Encoder:       "mjpeg",
	},
}

// Settings are re-read on every capture so changes in the config file apply
// without a restart.
type Settings struct {
	Resolution  resolution.Resolution
	JPEGQuality int
	PostProcess PostProcessSettings
}

type PostProcessSettings struct {
	Enabled       bool
	MaxResolution resolution.Resolution
	Encoder       string
}

// SettingsFromConfig maps the camera section of the config onto capture settings
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings
	if cfg == nil {
		return s
	}

	s.Resolution = resolution.ParseOrDefault(cfg.Camera.Resolution, DefaultSettings.Resolution)
	if cfg.Camera.JPEGQuality >= 1 && cfg.Camera.JPEGQuality <= 100 {
		s.JPEGQuality = cfg.Camera.JPEGQuality
	}

	s.PostProcess.Enabled = cfg.Camera.PostProcess.Enabled
	s.PostProcess.MaxResolution = resolution.ParseOrDefault(cfg.Camera.PostProcess.MaxResolution, DefaultSettings.PostProcess.MaxResolution)
	if cfg.Camera.PostProcess.Encoder != "" {
		s.PostProcess.Encoder = cfg.Camera.PostProcess.Encoder
	}

	return s
}
