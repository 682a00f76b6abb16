package filemanagement

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// FileTracker owns the capture directory: it knows which file belongs to
// which record and in which delivery state, and it is the only component that
// deletes capture files.
type FileTracker interface {
	// DeleteFile removes a file from disk
	DeleteFile(filePath string)

	// EnsureDirectory creates the capture directory if it doesn't exist
	EnsureDirectory() error

	// Track registers a freshly captured file as queued
	Track(id, path string, capturedAt time.Time)

	// BeginUpload marks a queued file as in use by an upload worker.
	// Returns false if the file is unknown, already uploading or gone from disk.
	BeginUpload(id string) bool

	// EndUpload records the outcome of an upload attempt. deleteFile removes
	// the file and stops tracking it.
	EndUpload(id string, state models.RecordState, deleteFile bool)

	// Reactivate moves a terminal file back to queued (quarantine replay).
	// Returns false if the file was already evicted.
	Reactivate(id string) bool

	// Forget stops tracking a record without touching its file
	Forget(id string)

	// EnforceCap deletes the oldest terminal files until at most max files
	// are tracked. Queued and uploading files are never evicted.
	EnforceCap(max int) []string

	// Count returns the number of tracked files
	Count() int

	// Untracked lists capture files in the directory that no record owns
	Untracked() ([]string, error)

	// RestoreOutcomes tracks terminal files kept by a previous run so they
	// count towards the cap and are not mistaken for orphans
	RestoreOutcomes() (int, error)
}

type trackedFile struct {
	id         string
	path       string
	capturedAt time.Time
	state      models.RecordState
}

// LocalFileTracker implements FileTracker for local filesystem
type LocalFileTracker struct {
	logger  logging.Logger
	dir     string
	pattern string
	files   map[string]*trackedFile
	ledger  OutcomeLedger
	mu      sync.Mutex
}

// NewLocalFileTracker creates a new local file tracker. pattern is a
// filepath.Match pattern for capture file names, used by Untracked.
func NewLocalFileTracker(logger logging.Logger, dir string, pattern string) *LocalFileTracker {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &LocalFileTracker{
		logger:  logger,
		dir:     dir,
		pattern: pattern,
		files:   make(map[string]*trackedFile),
	}
}

// UseLedger persists terminal outcomes of files kept on disk
func (t *LocalFileTracker) UseLedger(ledger OutcomeLedger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger = ledger
}

// DeleteFile removes a file from disk
func (t *LocalFileTracker) DeleteFile(filePath string) {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("Failed to remove file", "path", filePath, "error", err)
		return
	}
	t.logger.Debug("Deleted file", "path", filePath)
}

// EnsureDirectory creates the capture directory if it doesn't exist
func (t *LocalFileTracker) EnsureDirectory() error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return err
	}
	t.logger.Info("Capture directory ready", "dir", t.dir)
	return nil
}

func (t *LocalFileTracker) Track(id, path string, capturedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.files[id] = &trackedFile{
		id:         id,
		path:       path,
		capturedAt: capturedAt,
		state:      models.StateQueued,
	}
}

func (t *LocalFileTracker) BeginUpload(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[id]
	if !ok || f.state != models.StateQueued {
		return false
	}
	if _, err := os.Stat(f.path); err != nil {
		return false
	}
	f.state = models.StateUploading
	return true
}

func (t *LocalFileTracker) EndUpload(id string, state models.RecordState, deleteFile bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[id]
	if !ok {
		return
	}
	if deleteFile {
		delete(t.files, id)
		t.DeleteFile(f.path)
		t.forgetOutcome(id)
		return
	}
	f.state = state
	if state.IsTerminal() {
		t.recordOutcome(f)
	}
}

func (t *LocalFileTracker) Reactivate(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[id]
	if !ok || !f.state.IsTerminal() {
		return false
	}
	if _, err := os.Stat(f.path); err != nil {
		delete(t.files, id)
		t.forgetOutcome(id)
		return false
	}
	f.state = models.StateQueued
	t.forgetOutcome(id)
	return true
}

func (t *LocalFileTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, id)
	t.forgetOutcome(id)
}

func (t *LocalFileTracker) EnforceCap(max int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if max <= 0 || len(t.files) <= max {
		return nil
	}

	terminal := make([]*trackedFile, 0)
	for _, f := range t.files {
		if f.state.IsTerminal() {
			terminal = append(terminal, f)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		if terminal[i].capturedAt.Equal(terminal[j].capturedAt) {
			return terminal[i].id < terminal[j].id
		}
		return terminal[i].capturedAt.Before(terminal[j].capturedAt)
	})

	var evicted []string
	for _, f := range terminal {
		if len(t.files) <= max {
			break
		}
		delete(t.files, f.id)
		t.DeleteFile(f.path)
		t.forgetOutcome(f.id)
		evicted = append(evicted, f.path)
	}

	if len(t.files) > max {
		t.logger.Warn("Local storage over capacity with no terminal files left to evict",
			"tracked", len(t.files), "max", max)
	}
	if len(evicted) > 0 {
		t.logger.Info("Evicted terminal captures", "count", len(evicted), "max", max)
	}

	return evicted
}

func (t *LocalFileTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

func (t *LocalFileTracker) Untracked() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	known := make(map[string]struct{}, len(t.files))
	for _, f := range t.files {
		known[filepath.Clean(f.path)] = struct{}{}
	}
	t.mu.Unlock()

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if t.pattern != "" {
			if ok, _ := filepath.Match(t.pattern, entry.Name()); !ok {
				continue
			}
		}
		path := filepath.Clean(filepath.Join(t.dir, entry.Name()))
		if _, ok := known[path]; !ok {
			orphans = append(orphans, path)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (t *LocalFileTracker) RestoreOutcomes() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ledger == nil {
		return 0, nil
	}
	outcomes, err := t.ledger.List()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, o := range outcomes {
		if _, ok := t.files[o.ID]; ok {
			continue
		}
		if _, err := os.Stat(o.Path); err != nil {
			t.forgetOutcome(o.ID)
			continue
		}
		t.files[o.ID] = &trackedFile{id: o.ID, path: o.Path, capturedAt: o.CapturedAt, state: o.State}
		restored++
	}

	if restored > 0 {
		t.logger.Info("Restored terminal captures", "count", restored)
	}
	return restored, nil
}

// recordOutcome and forgetOutcome expect t.mu to be held
func (t *LocalFileTracker) recordOutcome(f *trackedFile) {
	if t.ledger == nil {
		return
	}
	err := t.ledger.Record(Outcome{ID: f.id, Path: f.path, CapturedAt: f.capturedAt, State: f.state})
	if err != nil {
		t.logger.Error("Failed to record capture outcome", "id", f.id, "error", err)
	}
}

func (t *LocalFileTracker) forgetOutcome(id string) {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.Remove(id); err != nil {
		t.logger.Error("Failed to remove capture outcome", "id", id, "error", err)
	}
}
