package uploading

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/db"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/client"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	filemanagement "github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/file-management"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

type fakeStore struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	puts     []client.StorageObject
}

func (s *fakeStore) Put(ctx context.Context, object client.StorageObject) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return "", errors.New("bucket unreachable")
	}
	s.puts = append(s.puts, object)
	return "gs://bucket/" + object.Key, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeAPI struct {
	mu       sync.Mutex
	err      error
	requests []client.UploadImageRequest
}

func (a *fakeAPI) NotifyUpload(ctx context.Context, request client.UploadImageRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.requests = append(a.requests, request)
	return nil
}

// flappingConnectivity alternates offline and online on every check
type flappingConnectivity struct {
	mu     sync.Mutex
	calls  int
	always *bool
}

func (c *flappingConnectivity) CheckConnectivity(context.Context) models.ConnectivityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	connected := c.calls%2 == 0
	if c.always != nil {
		connected = *c.always
	}
	return models.ConnectivityState{Connected: connected, CurrentInterface: models.InterfaceCellular}
}

func online() *flappingConnectivity {
	b := true
	return &flappingConnectivity{always: &b}
}

type harness struct {
	dir        string
	queue      *RelayQueue
	stats      *UploadStats
	tracker    *filemanagement.LocalFileTracker
	quarantine *Quarantine
	store      *fakeStore
	api        *fakeAPI
}

func newHarness(t *testing.T, repo QuarantineRepository, quarantineMax int) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:     dir,
		queue:   NewRelayQueue(),
		stats:   NewUploadStats(),
		tracker: filemanagement.NewLocalFileTracker(nil, dir, "*.jpg"),
		store:   &fakeStore{},
		api:     &fakeAPI{},
	}
	h.quarantine = NewQuarantine(nil, repo, h.tracker, h.queue, quarantineMax)
	return h
}

func (h *harness) worker(conn ConnectivityChecker, maxRetries int, cleanup bool) *UploadWorker {
	deps := Dependencies{
		Queue:        h.queue,
		Stats:        h.stats,
		Quarantine:   h.quarantine,
		Tracker:      h.tracker,
		Store:        h.store,
		API:          h.api,
		Connectivity: conn,
	}
	opts := WorkerOptions{
		Identity:   Identity{DeviceID: "edge-01", MissionID: "m-7"},
		KeyPrefix:  "captures",
		MaxRetries: maxRetries,
		Cleanup:    cleanup,
	}
	return NewUploadWorker(nil, 0, 1, deps, opts)
}

func (h *harness) capture(t *testing.T, i int) *models.CaptureRecord {
	t.Helper()
	name := fmt.Sprintf("disaster_img_20240501_1000%02d_abcd%04d.jpg", i, i)
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &models.CaptureRecord{
		ID:         fmt.Sprintf("rec-%d", i),
		LocalPath:  path,
		FileName:   name,
		CapturedAt: time.Date(2024, 5, 1, 10, 0, i, 0, time.UTC),
		SizeBytes:  10,
		State:      models.StateQueued,
	}
	h.tracker.Track(rec.ID, rec.LocalPath, rec.CapturedAt)
	h.queue.Enqueue(rec)
	return rec
}

func drain(w *UploadWorker, limit int) map[Outcome]int {
	counts := map[Outcome]int{}
	for i := 0; i < limit; i++ {
		o := w.ProcessNext(context.Background())
		if o == OutcomeIdle {
			break
		}
		counts[o]++
	}
	return counts
}

func TestRelayQueue_FIFO(t *testing.T) {
	q := NewRelayQueue()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("empty queue returned a record")
	}
	for i := 0; i < 3; i++ {
		q.Enqueue(&models.CaptureRecord{ID: fmt.Sprint(i)})
	}
	select {
	case <-q.Notify():
	default:
		t.Error("enqueue should signal")
	}
	if snap := q.Snapshot(); len(snap) != 3 || snap[0].ID != "0" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	for i := 0; i < 3; i++ {
		r, ok := q.Dequeue()
		if !ok || r.ID != fmt.Sprint(i) {
			t.Fatalf("expected %d, got %+v", i, r)
		}
	}
	if q.Len() != 0 {
		t.Error("queue should be empty")
	}
}

func TestWorker_FlappingConnectivityDeliversEverything(t *testing.T) {
	h := newHarness(t, nil, 10)
	records := make([]*models.CaptureRecord, 5)
	for i := range records {
		records[i] = h.capture(t, i)
	}

	counts := drain(h.worker(&flappingConnectivity{}, 3, false), 100)

	if counts[OutcomeUploaded] != 5 {
		t.Fatalf("expected 5 uploads, got %v", counts)
	}
	if counts[OutcomeDeferred] == 0 {
		t.Error("offline checks should defer")
	}
	for _, r := range records {
		if r.State != models.StateUploaded || r.RetryCount != 0 {
			t.Errorf("%s: state %s retries %d; deferral must not consume retries", r.ID, r.State, r.RetryCount)
		}
	}
	if s := h.stats.Snapshot(); s.Attempted != 5 || s.Succeeded != 5 || s.BytesTransferred != 50 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestWorker_RetriesThenQuarantines(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.api.err = client.NewRemoteError("notify upload", 500, "internal error")
	rec := h.capture(t, 1)

	counts := drain(h.worker(online(), 2, true), 20)

	if counts[OutcomeRequeued] != 2 || counts[OutcomeFailed] != 1 {
		t.Fatalf("maxRetries=2 means three attempts, got %v", counts)
	}
	s := h.stats.Snapshot()
	if s.Attempted != 3 || s.Failed != 1 || s.Succeeded != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
	if rec.State != models.StatePermanentlyFailed {
		t.Errorf("expected permanently failed, got %s", rec.State)
	}

	list := h.quarantine.List()
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("record should be quarantined, got %+v", list)
	}
	if _, err := os.Stat(rec.LocalPath); err != nil {
		t.Error("failed records keep their file for replay")
	}
}

func TestWorker_StorageFailureThenSuccess(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.store.failures = 2
	rec := h.capture(t, 3)

	counts := drain(h.worker(online(), 3, false), 20)
	if counts[OutcomeUploaded] != 1 || counts[OutcomeRequeued] != 2 {
		t.Fatalf("unexpected outcomes %v", counts)
	}
	if rec.RetryCount != 2 || rec.State != models.StateUploaded {
		t.Errorf("unexpected record %+v", rec)
	}

	if len(h.api.requests) != 1 {
		t.Fatalf("api must be notified once, got %d", len(h.api.requests))
	}
	req := h.api.requests[0]
	if req.ImageURL != "gs://bucket/captures/2024/05/01/10/"+rec.FileName {
		t.Errorf("unexpected image url %s", req.ImageURL)
	}
	if req.DeviceID != "edge-01" || req.MissionID != "m-7" || req.Timestamp != "2024-05-01T10:00:03Z" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestWorker_StoreFailureSkipsNotify(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.store.failures = 100
	h.capture(t, 1)

	drain(h.worker(online(), 0, false), 5)
	if len(h.api.requests) != 0 {
		t.Error("api must not be notified when the store fails")
	}
	list := h.quarantine.List()
	if len(list) != 1 || !strings.Contains(list[0].LastError, "permanently failed after 1 attempts") {
		t.Errorf("last error should be recorded, got %+v", list)
	}
}

func TestWorker_DeliverWrapsNetworkErrorsOnce(t *testing.T) {
	h := newHarness(t, nil, 10)
	rec := h.capture(t, 1)
	w := h.worker(online(), 3, false)

	h.store.failures = 1
	err := w.deliver(context.Background(), rec)
	if !common.IsTransientNetwork(err) || strings.Count(err.Error(), "storage upload") != 1 {
		t.Errorf("plain store errors should be wrapped once, got %v", err)
	}

	h.api.err = common.NewTransientNetworkError("api notify", client.NewRemoteError("upload-image", 500, "boom"))
	err = w.deliver(context.Background(), rec)
	if !common.IsTransientNetwork(err) {
		t.Fatalf("expected a transient network error, got %v", err)
	}
	if n := strings.Count(err.Error(), "api notify"); n != 1 {
		t.Errorf("api error wrapped %d times: %v", n, err)
	}
	if client.StatusCodeOf(err) != 500 {
		t.Errorf("status code lost in wrapping: %v", err)
	}
}

func TestWorker_StaleRecordDiscarded(t *testing.T) {
	h := newHarness(t, nil, 10)
	rec := h.capture(t, 1)
	os.Remove(rec.LocalPath)

	if o := h.worker(online(), 3, false).ProcessNext(context.Background()); o != OutcomeStale {
		t.Fatalf("expected stale, got %s", o)
	}
	if h.stats.Snapshot().Attempted != 0 || h.tracker.Count() != 0 || h.queue.Len() != 0 {
		t.Error("stale records are dropped without an attempt")
	}
}

func TestWorker_CleanupAfterUpload(t *testing.T) {
	for _, cleanup := range []bool{true, false} {
		t.Run(fmt.Sprint(cleanup), func(t *testing.T) {
			h := newHarness(t, nil, 10)
			rec := h.capture(t, 1)

			if o := h.worker(online(), 3, cleanup).ProcessNext(context.Background()); o != OutcomeUploaded {
				t.Fatalf("expected upload, got %s", o)
			}
			_, err := os.Stat(rec.LocalPath)
			if cleanup && err == nil {
				t.Error("file should be deleted after upload")
			}
			if !cleanup && err != nil {
				t.Error("file should be kept")
			}
		})
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.capture(t, 1)
	w := h.worker(online(), 3, false)
	w.opts.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for h.stats.Snapshot().Succeeded == 0 {
		select {
		case <-deadline:
			t.Fatal("record was not uploaded")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestObjectKeyAndMetadata(t *testing.T) {
	loc := &models.LocationSnapshot{Latitude: 48.1173, Longitude: 11.5167, Altitude: 545.4, AccuracyMeters: 4.5}
	rec := &models.CaptureRecord{
		LocalPath:     "/data/disaster_img_x.jpg",
		FileName:      "disaster_img_x.jpg",
		CapturedAt:    time.Date(2024, 5, 1, 23, 59, 0, 0, time.FixedZone("CEST", 2*3600)),
		ContentDigest: "abc",
		Location:      loc,
	}

	if key := ObjectKey("captures", rec); key != "captures/2024/05/01/21/disaster_img_x.jpg" {
		t.Errorf("key uses the UTC hour of capture, got %s", key)
	}
	if key := ObjectKey("", rec); key != "2024/05/01/21/disaster_img_x.jpg" {
		t.Errorf("unexpected key without prefix %s", key)
	}

	job := NewUploadJob(Identity{DeviceID: "d"}, "p", rec)
	meta := job.Object.Metadata
	if meta[client.MetaGPSLatitude] != "48.117300" || meta[client.MetaContentDigest] != "abc" || meta[client.MetaDeviceID] != "d" {
		t.Errorf("unexpected metadata %v", meta)
	}
	if job.Object.ContentType != "image/jpeg" {
		t.Errorf("unexpected content type %s", job.Object.ContentType)
	}

	req := job.NotifyRequest(Identity{DeviceID: "d"}, "ref")
	if req.Latitude == nil || *req.Latitude != 48.1173 || req.GPSAccuracy == nil || *req.GPSAccuracy != 4.5 {
		t.Errorf("location not carried into request: %+v", req)
	}
	rec.Location = nil
	if r := NewUploadJob(Identity{}, "p", rec).NotifyRequest(Identity{}, "ref"); r.Latitude != nil {
		t.Error("no fix means no coordinates")
	}
}

func failRecord(t *testing.T, h *harness, i int) *models.CaptureRecord {
	t.Helper()
	rec := h.capture(t, i)
	r, _ := h.queue.Dequeue()
	h.tracker.BeginUpload(r.ID)
	r.BeginUpload()
	r.FailAttempt(0, errors.New("boom"))
	h.tracker.EndUpload(r.ID, models.StatePermanentlyFailed, false)
	h.quarantine.Add(context.Background(), r)
	return rec
}

func TestQuarantine_BoundedDropsOldest(t *testing.T) {
	h := newHarness(t, nil, 2)
	for i := 0; i < 3; i++ {
		failRecord(t, h, i)
	}
	list := h.quarantine.List()
	if len(list) != 2 || list[0].ID != "rec-1" || list[1].ID != "rec-2" {
		t.Errorf("expected the two newest entries, got %+v", list)
	}
}

func TestQuarantine_Replay(t *testing.T) {
	h := newHarness(t, nil, 10)
	rec := failRecord(t, h, 1)

	if err := h.quarantine.Replay(context.Background(), "nope"); !errors.Is(err, ErrNotQuarantined) {
		t.Errorf("expected ErrNotQuarantined, got %v", err)
	}
	if err := h.quarantine.Replay(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}
	if h.quarantine.Count() != 0 || h.queue.Len() != 1 {
		t.Fatal("replayed record should move to the queue")
	}
	r, _ := h.queue.Dequeue()
	if r.State != models.StateQueued || r.RetryCount != 0 || r.LastError != "" {
		t.Errorf("replay should reset the record, got %+v", r)
	}
	h.queue.Enqueue(r)

	if o := h.worker(online(), 1, false).ProcessNext(context.Background()); o != OutcomeUploaded {
		t.Errorf("replayed record should upload, got %s", o)
	}
}

func TestQuarantine_ReplayAllSkipsEvicted(t *testing.T) {
	h := newHarness(t, nil, 10)
	a := failRecord(t, h, 1)
	failRecord(t, h, 2)
	os.Remove(a.LocalPath)

	n, err := h.quarantine.ReplayAll(context.Background())
	if n != 1 || !errors.Is(err, ErrFileGone) {
		t.Errorf("expected one replay and a file-gone error, got %d %v", n, err)
	}
	if h.queue.Len() != 1 || h.quarantine.Count() != 0 {
		t.Errorf("queue %d quarantine %d", h.queue.Len(), h.quarantine.Count())
	}
}

func setupTestRepo(t *testing.T) (*SQLiteQuarantineRepository, func()) {
	database, err := db.NewInMemoryDB()
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}

	repo, err := NewSQLiteQuarantineRepository(database)
	if err != nil {
		database.Close()
		t.Fatalf("Failed to create repository: %v", err)
	}

	cleanup := func() {
		database.Close()
	}

	return repo, cleanup
}

func TestSQLiteQuarantineRepository_SaveListDelete(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	fix := time.Date(2024, 5, 1, 9, 59, 58, 0, time.UTC)
	withFix := &models.CaptureRecord{
		ID: "b", LocalPath: "/d/b.jpg", FileName: "b.jpg", CapturedAt: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
		SizeBytes: 42, ContentDigest: "ff", Width: 640, Height: 480, RetryCount: 3, LastError: "api 500",
		State: models.StatePermanentlyFailed,
		Location: &models.LocationSnapshot{Latitude: 1.5, Longitude: -2.25, Altitude: 10, AccuracyMeters: 3,
			SatelliteCount: 7, FixQuality: 1, CapturedAt: fix},
	}
	noFix := &models.CaptureRecord{
		ID: "a", LocalPath: "/d/a.jpg", FileName: "a.jpg", CapturedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		State: models.StatePermanentlyFailed,
	}

	for _, r := range []*models.CaptureRecord{withFix, noFix} {
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	// saving again replaces
	withFix.RetryCount = 4
	if err := repo.Save(ctx, withFix); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("expected capture order a, b; got %+v", list)
	}
	if list[0].Location != nil {
		t.Error("record without fix should have no location")
	}
	got := list[1]
	if got.RetryCount != 4 || got.Width != 640 || got.LastError != "api 500" || got.State != models.StatePermanentlyFailed {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Location == nil || got.Location.Longitude != -2.25 || got.Location.SatelliteCount != 7 || !got.Location.CapturedAt.Equal(fix) {
		t.Errorf("unexpected location %+v", got.Location)
	}

	if err := repo.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting an unknown id is not an error: %v", err)
	}
	if list, _ := repo.List(ctx); len(list) != 1 {
		t.Errorf("expected one record left, got %d", len(list))
	}
}

func TestQuarantine_PersistsAndRestores(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	h := newHarness(t, repo, 10)
	kept := failRecord(t, h, 1)
	gone := failRecord(t, h, 2)
	os.Remove(gone.LocalPath)

	// a fresh process with the same database
	tracker := filemanagement.NewLocalFileTracker(nil, h.dir, "*.jpg")
	restored := NewQuarantine(nil, repo, tracker, NewRelayQueue(), 10)
	n, err := restored.Restore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || restored.List()[0].ID != kept.ID {
		t.Fatalf("expected only the record with a file, got %d", n)
	}
	if tracker.Count() != 1 {
		t.Error("restored record should be tracked")
	}
	if list, _ := repo.List(context.Background()); len(list) != 1 {
		t.Error("record without file should be purged from the database")
	}

	if err := restored.Replay(context.Background(), kept.ID); err != nil {
		t.Fatal(err)
	}
	if list, _ := repo.List(context.Background()); len(list) != 0 {
		t.Error("replay removes the persisted entry")
	}
}

func TestQuarantine_RestoreTrimsDatabaseToBound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	h := newHarness(t, repo, 10)
	for i := 1; i <= 3; i++ {
		failRecord(t, h, i)
	}

	tracker := filemanagement.NewLocalFileTracker(nil, h.dir, "*.jpg")
	restored := NewQuarantine(nil, repo, tracker, NewRelayQueue(), 2)
	if _, err := restored.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	list := restored.List()
	if len(list) != 2 || list[0].ID != "rec-2" || list[1].ID != "rec-3" {
		t.Fatalf("expected the two newest entries, got %+v", list)
	}
	rows, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("dropped entries must leave the database, %d rows left", len(rows))
	}
}
