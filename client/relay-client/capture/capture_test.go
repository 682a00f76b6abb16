package capture

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/config"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/resolution"
	"github.com/google/uuid"
)

var smallSettings = Settings{
	Resolution:  resolution.Resolution{Width: 64, Height: 48},
	JPEGQuality: 80,
}

func newTestSource(t *testing.T, dir string, max int, settings Settings, post PostProcessor) (*Source, *filemanagement.LocalFileTracker) {
	t.Helper()
	tracker := filemanagement.NewLocalFileTracker(nil, dir, FilePattern)
	src, err := NewCaptureSource(nil, SourceOptions{
		Dir:            dir,
		MaxLocalImages: max,
		SyntheticSeed:  7,
		ForceSynthetic: true,
	}, config.StaticSettingsProvider[Settings]{Settings: settings}, tracker, post)
	if err != nil {
		t.Fatalf("NewCaptureSource failed: %v", err)
	}
	return src, tracker
}

func TestSyntheticCamera_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := NewSyntheticCamera(nil, 42)
	b := NewSyntheticCamera(nil, 42)

	pathA := filepath.Join(dir, "a.jpg")
	pathB := filepath.Join(dir, "b.jpg")
	if _, err := a.CaptureTo(context.Background(), pathA, smallSettings); err != nil {
		t.Fatalf("capture a: %v", err)
	}
	size, err := b.CaptureTo(context.Background(), pathB, smallSettings)
	if err != nil {
		t.Fatalf("capture b: %v", err)
	}
	if size != smallSettings.Resolution {
		t.Errorf("unexpected size %v", size)
	}

	dataA, _ := os.ReadFile(pathA)
	dataB, _ := os.ReadFile(pathB)
	if !bytes.Equal(dataA, dataB) {
		t.Error("same seed and frame should produce identical images")
	}

	// the next frame differs
	pathC := filepath.Join(dir, "c.jpg")
	a.CaptureTo(context.Background(), pathC, smallSettings)
	dataC, _ := os.ReadFile(pathC)
	if bytes.Equal(dataA, dataC) {
		t.Error("consecutive frames should differ")
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(dataA))
	if err != nil {
		t.Fatalf("synthetic output is not a valid JPEG: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("unexpected JPEG size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestSource_CaptureProducesQueuedRecord(t *testing.T) {
	dir := t.TempDir()
	src, tracker := newTestSource(t, dir, 10, smallSettings, nil)
	defer src.Close()

	if src.Mode() != ModeSynthetic {
		t.Errorf("expected synthetic mode, got %s", src.Mode())
	}

	rec, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if rec.State != models.StateQueued || rec.RetryCount != 0 {
		t.Errorf("unexpected record state %s retry %d", rec.State, rec.RetryCount)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("record ID is not a UUID: %v", err)
	}
	info, err := os.Stat(rec.LocalPath)
	if err != nil {
		t.Fatalf("captured file missing: %v", err)
	}
	if info.Size() != rec.SizeBytes || rec.SizeBytes == 0 {
		t.Errorf("size mismatch: record %d, file %d", rec.SizeBytes, info.Size())
	}
	if ok, _ := filepath.Match(FilePattern, rec.FileName); !ok {
		t.Errorf("file name %q does not match %q", rec.FileName, FilePattern)
	}
	if len(rec.ContentDigest) != 64 {
		t.Errorf("expected hex blake2b-256 digest, got %q", rec.ContentDigest)
	}
	if rec.Width != 64 || rec.Height != 48 {
		t.Errorf("unexpected dimensions %dx%d", rec.Width, rec.Height)
	}
	if tracker.Count() != 1 {
		t.Errorf("record not tracked")
	}

	second, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("second capture failed: %v", err)
	}
	if second.ID == rec.ID || second.LocalPath == rec.LocalPath {
		t.Error("captures must be uniquely named")
	}
}

func TestSource_CaptureEnforcesCap(t *testing.T) {
	dir := t.TempDir()
	src, tracker := newTestSource(t, dir, 3, smallSettings, nil)

	var records []*models.CaptureRecord
	for i := 0; i < 3; i++ {
		rec, err := src.Capture(context.Background())
		if err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
		records = append(records, rec)
	}
	// the first two are delivered, the third still queued
	for _, rec := range records[:2] {
		tracker.BeginUpload(rec.ID)
		tracker.EndUpload(rec.ID, models.StateUploaded, false)
	}

	if _, err := src.Capture(context.Background()); err != nil {
		t.Fatalf("capture over cap: %v", err)
	}

	if tracker.Count() != 3 {
		t.Errorf("expected cap of 3 tracked files, got %d", tracker.Count())
	}
	if _, err := os.Stat(records[2].LocalPath); err != nil {
		t.Error("queued file must survive eviction")
	}
	deleted := 0
	for _, rec := range records[:2] {
		if _, err := os.Stat(rec.LocalPath); os.IsNotExist(err) {
			deleted++
		}
	}
	if deleted != 1 {
		t.Errorf("expected exactly one delivered file evicted, got %d", deleted)
	}
}

func TestSource_CaptureCancelled(t *testing.T) {
	src, _ := newTestSource(t, t.TempDir(), 10, smallSettings, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Capture(ctx)
	if !IsCaptureError(err) {
		t.Fatalf("expected CaptureError, got %v", err)
	}
}

type failingPostProcessor struct{ calls int }

func (p *failingPostProcessor) Process(context.Context, string, resolution.Resolution, PostProcessSettings) (resolution.Resolution, error) {
	p.calls++
	return resolution.EmptyResolution(), errors.New("ffmpeg missing")
}

func TestSource_PostProcessFailureKeepsOriginal(t *testing.T) {
	settings := smallSettings
	settings.PostProcess = PostProcessSettings{Enabled: true, MaxResolution: resolution.Resolution{Width: 32, Height: 24}, Encoder: "mjpeg"}
	post := &failingPostProcessor{}
	src, _ := newTestSource(t, t.TempDir(), 10, settings, post)

	rec, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture should survive post-processing failure: %v", err)
	}
	if post.calls != 1 {
		t.Errorf("expected post-processor to run once, got %d", post.calls)
	}
	if rec.Width != 64 || rec.Height != 48 {
		t.Errorf("original dimensions should be kept, got %dx%d", rec.Width, rec.Height)
	}
}

func TestSource_AdoptOrphan(t *testing.T) {
	dir := t.TempDir()
	src, tracker := newTestSource(t, dir, 10, smallSettings, nil)

	name := "disaster_img_20240501_101500_deadbeef.jpg"
	path := filepath.Join(dir, name)
	if _, err := NewSyntheticCamera(nil, 1).CaptureTo(context.Background(), path, smallSettings); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	orphans, _ := tracker.Untracked()
	if len(orphans) != 1 {
		t.Fatalf("expected one orphan, got %v", orphans)
	}

	rec, err := src.Adopt(orphans[0])
	if err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	if !rec.CapturedAt.Equal(want) {
		t.Errorf("expected capture time %v, got %v", want, rec.CapturedAt)
	}
	if rec.Width != 64 || rec.State != models.StateQueued {
		t.Errorf("unexpected adopted record %+v", rec)
	}
	if orphans, _ := tracker.Untracked(); len(orphans) != 0 {
		t.Errorf("adopted file still reported as orphan")
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	name := FileName(at, uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"))
	if name != "disaster_img_20241231_235958_0a1b2c3d.jpg" {
		t.Errorf("unexpected name %q", name)
	}
	parsed, ok := ParseFileTime(name)
	if !ok || !parsed.Equal(at) {
		t.Errorf("ParseFileTime = %v, %v", parsed, ok)
	}
	if _, ok := ParseFileTime("clip_1.jpg"); ok {
		t.Error("foreign names should not parse")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Camera.Resolution = "720p"
	cfg.Camera.JPEGQuality = 60
	cfg.Camera.PostProcess.Enabled = true
	cfg.Camera.PostProcess.MaxResolution = "bogus"

	s := SettingsFromConfig(cfg)
	if s.Resolution != (resolution.Resolution{Width: 1280, Height: 720}) || s.JPEGQuality != 60 {
		t.Errorf("unexpected settings %+v", s)
	}
	if !s.PostProcess.Enabled || s.PostProcess.MaxResolution != DefaultSettings.PostProcess.MaxResolution {
		t.Errorf("unexpected post-process settings %+v", s.PostProcess)
	}
	if s.PostProcess.Encoder != "mjpeg" {
		t.Errorf("expected default encoder, got %q", s.PostProcess.Encoder)
	}

	cfg.Camera.JPEGQuality = 0
	if SettingsFromConfig(cfg).JPEGQuality != DefaultSettings.JPEGQuality {
		t.Error("out of range quality should fall back to the default")
	}
}

const sampleEncoders = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D mjpeg                MJPEG (Motion JPEG)
 V....D mjpeg_vaapi          MJPEG (VAAPI) (codec mjpeg)
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestEncoderProvider_ParseAndFallback(t *testing.T) {
	p := NewFFmpegEncoderProvider(nil)
	p.listEncoders = func() ([]byte, error) { return []byte(sampleEncoders), nil }

	if !p.IsEncoderAvailable("mjpeg") || !p.IsEncoderAvailable("libx264") {
		t.Error("expected parsed video encoders")
	}
	if p.IsEncoderAvailable("aac") {
		t.Error("audio encoders are not usable for stills")
	}

	got, err := p.ResolveEncoder("mjpeg_qsv")
	if err != nil || got != "mjpeg_vaapi" {
		t.Errorf("ResolveEncoder(mjpeg_qsv) = %q, %v", got, err)
	}
	if _, err := p.ResolveEncoder("png"); err == nil {
		t.Error("expected error for unknown encoder without fallback")
	}

	copied := p.AvailableEncoders()
	copied["injected"] = true
	if p.IsEncoderAvailable("injected") {
		t.Error("AvailableEncoders must return a copy")
	}
}

func TestEncoderProvider_QueryFailure(t *testing.T) {
	p := NewFFmpegEncoderProvider(nil)
	p.listEncoders = func() ([]byte, error) { return nil, errors.New("ffmpeg not found") }

	if _, err := p.ResolveEncoder("mjpeg"); err == nil {
		t.Error("expected error when no encoders are known")
	}
}
