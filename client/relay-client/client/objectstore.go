package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"google.golang.org/api/option"
)

// ObjectStore writes capture files to remote blob storage
type ObjectStore interface {
	// Put uploads the object and returns a reference (URL) to it
	Put(ctx context.Context, object StorageObject) (string, error)

	// Close releases the underlying client
	Close() error
}

// GCSObjectStore implements ObjectStore on Google Cloud Storage
type GCSObjectStore struct {
	logger logging.Logger
	client *storage.Client
	bucket string
}

// NewGCSObjectStore creates a GCS-backed store. An empty credentials file
// uses application default credentials.
func NewGCSObjectStore(ctx context.Context, logger logging.Logger, bucket, credentialsFile string) (*GCSObjectStore, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSObjectStore{
		logger: logger,
		client: client,
		bucket: bucket,
	}, nil
}

// Put streams the local file into the bucket
func (s *GCSObjectStore) Put(ctx context.Context, object StorageObject) (string, error) {
	file, err := os.Open(object.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", object.LocalPath, err)
	}
	defer file.Close()

	// cancelling the context is the only way to abort a storage.Writer
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(object.Key).NewWriter(writeCtx)
	writer.ContentType = object.ContentType
	writer.Metadata = object.Metadata

	if _, err := io.Copy(writer, file); err != nil {
		cancel()
		writer.Close()
		return "", common.NewTransientNetworkError("storage upload", err)
	}
	if err := writer.Close(); err != nil {
		return "", common.NewTransientNetworkError("storage upload", err)
	}

	ref := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object.Key)
	s.logger.Debug("Stored object in bucket", "bucket", s.bucket, "key", object.Key)
	return ref, nil
}

func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

// HTTPObjectStore implements ObjectStore as a plain HTTP PUT per object,
// for S3-compatible gateways or presigned endpoints. Metadata travels as
// X-Meta-* headers.
type HTTPObjectStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPObjectStore creates a new HTTP PUT object store
func NewHTTPObjectStore(baseURL, token string, timeout time.Duration) *HTTPObjectStore {
	return &HTTPObjectStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Put uploads the file with a PUT to baseURL/key
func (s *HTTPObjectStore) Put(ctx context.Context, object StorageObject) (string, error) {
	file, err := os.Open(object.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", object.LocalPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", object.LocalPath, err)
	}

	target := s.baseURL + "/" + escapeKey(object.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, file)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", object.ContentType)
	for k, v := range object.Metadata {
		req.Header.Set("X-Meta-"+k, v)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", common.NewTransientNetworkError("storage upload", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return target, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", common.NewTransientNetworkError("storage upload", NewRemoteError("put object", resp.StatusCode, string(body)))
	}
}

func (s *HTTPObjectStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// escapeKey escapes each path segment but keeps the slashes of the date path
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
