package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestImageFormatToMimeType(t *testing.T) {
	cases := map[string]string{
		"jpg":   "image/jpeg",
		".JPEG": "image/jpeg",
		"png":   "image/png",
		"bin":   "application/octet-stream",
	}
	for in, want := range cases {
		if got := ImageFormatToMimeType(in); got != want {
			t.Errorf("ImageFormatToMimeType(%q) = %q, want %q", in, got, want)
		}
	}

	if got := MimeTypeForPath("/data/captures/disaster_img_1.jpg"); got != "image/jpeg" {
		t.Errorf("MimeTypeForPath = %q", got)
	}
}

func TestErrorHelpers_MatchWrappedErrors(t *testing.T) {
	base := errors.New("no such device")

	hw := fmt.Errorf("opening camera: %w", NewHardwareUnavailableError("/dev/video0", base))
	if !IsHardwareUnavailable(hw) {
		t.Error("expected wrapped HardwareUnavailableError to match")
	}
	if !errors.Is(hw, base) {
		t.Error("expected inner error to be reachable")
	}

	net := NewTransientNetworkError("probe", base)
	if !IsTransientNetwork(net) || IsHardwareUnavailable(net) {
		t.Error("transient network classification wrong")
	}

	perm := NewPermanentDeliveryError("rec-1", 3, net)
	if !IsPermanentDelivery(perm) || !IsTransientNetwork(perm) {
		t.Error("permanent delivery error should keep the transient cause in its chain")
	}

	cfg := &ConfigurationError{Problems: []string{"device.id is required"}}
	if !IsConfigurationError(cfg) {
		t.Error("expected configuration error")
	}
	if cfg.Error() != "invalid configuration: device.id is required" {
		t.Errorf("unexpected message %q", cfg.Error())
	}

	if IsResourceExhaustion(base) {
		t.Error("plain error must not match")
	}
	if !IsResourceExhaustion(&ResourceExhaustionError{Resource: "disk", Percent: 97}) {
		t.Error("expected resource exhaustion")
	}
}
