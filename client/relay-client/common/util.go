package common

import (
	"path/filepath"
	"strings"
)

// ImageFormatToMimeType returns the MIME type for an image file extension or format name
func ImageFormatToMimeType(format string) string {
	format = strings.ToLower(format)
	format = strings.TrimPrefix(format, ".")
	switch format {
	case "jpg", "jpeg", "mjpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// MimeTypeForPath returns the MIME type for a file based on its extension
func MimeTypeForPath(path string) string {
	return ImageFormatToMimeType(filepath.Ext(path))
}
