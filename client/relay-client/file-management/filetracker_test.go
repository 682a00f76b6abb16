package filemanagement

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestEnforceCap_EvictsOldestTerminalOnly(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "*.jpg")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	terminal := make([]string, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("t%02d", i)
		terminal[i] = writeFile(t, dir, id+".jpg")
		tracker.Track(id, terminal[i], base.Add(time.Duration(i)*time.Minute))
		state := models.StateUploaded
		if i%2 == 1 {
			state = models.StatePermanentlyFailed
		}
		tracker.EndUpload(id, state, false)
	}

	// a queued file older than everything and an uploading one
	queued := writeFile(t, dir, "queued.jpg")
	tracker.Track("queued", queued, base.Add(-time.Hour))
	uploading := writeFile(t, dir, "uploading.jpg")
	tracker.Track("uploading", uploading, base.Add(-time.Hour))
	if !tracker.BeginUpload("uploading") {
		t.Fatal("BeginUpload failed")
	}

	// 12 tracked, cap 7 -> the 5 oldest terminal files go
	evicted := tracker.EnforceCap(7)
	if len(evicted) != 5 {
		t.Fatalf("expected 5 evictions, got %d: %v", len(evicted), evicted)
	}
	for i := 0; i < 5; i++ {
		if fileExists(terminal[i]) {
			t.Errorf("expected %s to be evicted", terminal[i])
		}
	}
	for i := 5; i < 10; i++ {
		if !fileExists(terminal[i]) {
			t.Errorf("expected %s to survive", terminal[i])
		}
	}
	if !fileExists(queued) || !fileExists(uploading) {
		t.Error("queued/uploading files must never be evicted")
	}
	if tracker.Count() != 7 {
		t.Errorf("expected 7 tracked files, got %d", tracker.Count())
	}
}

func TestEnforceCap_TenTerminalCapFive(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "")
	base := time.Now()

	paths := make([]string, 10)
	for i := range paths {
		id := fmt.Sprintf("r%d", i)
		paths[i] = writeFile(t, dir, id+".jpg")
		tracker.Track(id, paths[i], base.Add(time.Duration(i)*time.Second))
		tracker.EndUpload(id, models.StateUploaded, false)
	}

	tracker.EnforceCap(5)

	for i, p := range paths {
		if i < 5 && fileExists(p) {
			t.Errorf("oldest file %d should be deleted", i)
		}
		if i >= 5 && !fileExists(p) {
			t.Errorf("newer file %d should be kept", i)
		}
	}
}

func TestEnforceCap_NoTerminalFiles(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "")
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("q%d", i)
		tracker.Track(id, writeFile(t, dir, id), time.Now())
	}
	if evicted := tracker.EnforceCap(2); len(evicted) != 0 {
		t.Errorf("queued files evicted: %v", evicted)
	}
	if tracker.Count() != 4 {
		t.Errorf("expected 4 tracked, got %d", tracker.Count())
	}
}

func TestBeginUpload_Rules(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "")

	if tracker.BeginUpload("unknown") {
		t.Error("unknown record must not begin upload")
	}

	path := writeFile(t, dir, "a.jpg")
	tracker.Track("a", path, time.Now())
	if !tracker.BeginUpload("a") {
		t.Fatal("expected BeginUpload to succeed")
	}
	if tracker.BeginUpload("a") {
		t.Error("a second worker must not take an uploading record")
	}

	tracker.EndUpload("a", models.StateQueued, false)
	os.Remove(path)
	if tracker.BeginUpload("a") {
		t.Error("missing file must not begin upload")
	}
}

func TestEndUpload_DeleteAndReactivate(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "")

	done := writeFile(t, dir, "done.jpg")
	tracker.Track("done", done, time.Now())
	tracker.BeginUpload("done")
	tracker.EndUpload("done", models.StateUploaded, true)
	if fileExists(done) || tracker.Count() != 0 {
		t.Error("cleanup after upload should delete and untrack")
	}

	failed := writeFile(t, dir, "failed.jpg")
	tracker.Track("failed", failed, time.Now())
	if tracker.Reactivate("failed") {
		t.Error("queued record cannot be reactivated")
	}
	tracker.BeginUpload("failed")
	tracker.EndUpload("failed", models.StatePermanentlyFailed, false)
	if !fileExists(failed) {
		t.Fatal("permanently failed file must be retained")
	}
	if !tracker.Reactivate("failed") {
		t.Fatal("expected reactivation of retained file")
	}
	if !tracker.BeginUpload("failed") {
		t.Error("reactivated record should be uploadable")
	}
}

func TestUntracked_ListsOrphans(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "disaster_img_*.jpg")

	known := writeFile(t, dir, "disaster_img_20240101_000000_aaaaaaaa.jpg")
	tracker.Track("known", known, time.Now())
	orphan := writeFile(t, dir, "disaster_img_20240101_000001_bbbbbbbb.jpg")
	writeFile(t, dir, "notes.txt")

	orphans, err := tracker.Untracked()
	if err != nil {
		t.Fatalf("Untracked failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != filepath.Clean(orphan) {
		t.Errorf("unexpected orphans %v", orphans)
	}
}

// Workers upload while an evictor keeps enforcing a tiny cap. A file must
// exist for the whole time its record is uploading.
func TestEviction_NeverDeletesUploadingFiles(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(nil, dir, "")

	const records = 60
	ids := make(chan string, records)
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("s%03d", i)
		tracker.Track(id, writeFile(t, dir, id+".jpg"), time.Now().Add(time.Duration(i)*time.Millisecond))
		ids <- id
	}
	close(ids)

	var violations atomic.Int32
	stop := make(chan struct{})
	var evictor sync.WaitGroup
	evictor.Add(1)
	go func() {
		defer evictor.Done()
		for {
			select {
			case <-stop:
				return
			default:
				tracker.EnforceCap(1)
			}
		}
	}()

	var workers sync.WaitGroup
	for w := 0; w < 6; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for id := range ids {
				path := filepath.Join(dir, id+".jpg")
				if !tracker.BeginUpload(id) {
					violations.Add(1)
					continue
				}
				for k := 0; k < 5; k++ {
					if !fileExists(path) {
						violations.Add(1)
					}
					time.Sleep(100 * time.Microsecond)
				}
				state := models.StateUploaded
				if id[len(id)-1]%2 == 0 {
					state = models.StatePermanentlyFailed
				}
				tracker.EndUpload(id, state, false)
			}
		}()
	}

	workers.Wait()
	close(stop)
	evictor.Wait()

	if v := violations.Load(); v != 0 {
		t.Fatalf("%d uploading files were missing during upload", v)
	}
}
