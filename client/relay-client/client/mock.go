package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
)

// LocalObjectStore copies objects into a local directory. It backs test mode
// so the whole pipeline can run without cloud credentials.
type LocalObjectStore struct {
	logger    logging.Logger
	outputDir string
}

// NewLocalObjectStore creates a new local object store rooted at outputDir
func NewLocalObjectStore(logger logging.Logger, outputDir string) (*LocalObjectStore, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	logger.Info("[MOCK] Object store writing to local directory", "dir", outputDir)

	return &LocalObjectStore{
		logger:    logger,
		outputDir: outputDir,
	}, nil
}

// Put copies the file to outputDir/key
func (s *LocalObjectStore) Put(ctx context.Context, object StorageObject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.outputDir, filepath.FromSlash(object.Key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	src, err := os.Open(object.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", object.LocalPath, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to copy object: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}

	s.logger.Info("[MOCK] Stored object", "key", object.Key, "metadata", object.Metadata)
	return "file://" + filepath.ToSlash(target), nil
}

func (s *LocalObjectStore) Close() error { return nil }

// OutputDir returns the directory objects are written to
func (s *LocalObjectStore) OutputDir() string {
	return s.outputDir
}

// NotificationRecord tracks API notifications received by the mock
type NotificationRecord struct {
	Request    UploadImageRequest
	ReceivedAt time.Time
}

// MockAPIClient accepts every notification and records it
type MockAPIClient struct {
	logger        logging.Logger
	mu            sync.Mutex
	notifications []NotificationRecord
}

// NewMockAPIClient creates a new mock API client
func NewMockAPIClient(logger logging.Logger) *MockAPIClient {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &MockAPIClient{logger: logger}
}

// NotifyUpload records the request and succeeds
func (m *MockAPIClient) NotifyUpload(ctx context.Context, request UploadImageRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.notifications = append(m.notifications, NotificationRecord{Request: request, ReceivedAt: time.Now()})
	total := len(m.notifications)
	m.mu.Unlock()

	m.logger.Info("[MOCK] Upload notification accepted", "imageURL", request.ImageURL, "total", total)
	return nil
}

// GetNotifications returns a copy of all recorded notifications
func (m *MockAPIClient) GetNotifications() []NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NotificationRecord, len(m.notifications))
	copy(out, m.notifications)
	return out
}
