package resolution

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolution is a frame size in pixels
type Resolution struct {
	Width  int
	Height int
}

func EmptyResolution() Resolution {
	return Resolution{}
}

var presets = map[string]Resolution{
	"240p":  {Width: 426, Height: 240},
	"360p":  {Width: 640, Height: 360},
	"480p":  {Width: 854, Height: 480},
	"720p":  {Width: 1280, Height: 720},
	"1080p": {Width: 1920, Height: 1080},
	"vga":   {Width: 640, Height: 480},
}

// Returns the string representation of this Resolution (e.g. 640x480)
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Format replaces "w" and "h" in formatString, e.g. Format("w:h") for an ffmpeg scale filter
func (r Resolution) Format(formatString string) string {
	result := strings.ReplaceAll(formatString, "w", strconv.Itoa(r.Width))
	return strings.ReplaceAll(result, "h", strconv.Itoa(r.Height))
}

// IsEmpty checks if the resolution is empty (both width and height are zero).
func (r Resolution) IsEmpty() bool {
	return r.Width == 0 && r.Height == 0
}

// Pixels returns the pixel count
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Fit scales r down to fit inside bounds keeping the aspect ratio. Dimensions
// are rounded to even numbers since most encoders reject odd sizes.
// A resolution that already fits is returned unchanged.
func (r Resolution) Fit(bounds Resolution) Resolution {
	if bounds.IsEmpty() || r.IsEmpty() {
		return r
	}
	if r.Width <= bounds.Width && r.Height <= bounds.Height {
		return r
	}

	scale := float64(bounds.Width) / float64(r.Width)
	if hs := float64(bounds.Height) / float64(r.Height); hs < scale {
		scale = hs
	}

	w := int(float64(r.Width)*scale) &^ 1
	h := int(float64(r.Height)*scale) &^ 1
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return Resolution{Width: w, Height: h}
}

// Parse converts a string representation of a resolution into a Resolution.
// Supported formats: "1920x1080", "1920:1080", and presets like "720p" or "vga".
func Parse(resolutionStr string) (Resolution, error) {
	s := strings.ToLower(strings.TrimSpace(resolutionStr))
	if preset, ok := presets[s]; ok {
		return preset, nil
	}

	s = strings.ReplaceAll(s, ":", "x")
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution format: %s", resolutionStr)
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("invalid width: %s", parts[0])
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid height: %s", parts[1])
	}

	return Resolution{Width: width, Height: height}, nil
}

// ParseOrDefault parses s and falls back to def on error
func ParseOrDefault(s string, def Resolution) Resolution {
	if r, err := Parse(s); err == nil {
		return r
	}
	return def
}
