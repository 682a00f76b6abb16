package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
)

// APIClient notifies the remote API about a stored capture
type APIClient interface {
	NotifyUpload(ctx context.Context, request UploadImageRequest) error
}

// apiClient implements APIClient over HTTP
type apiClient struct {
	endpoint   string
	userAgent  string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a new HTTP API client
func NewAPIClient(endpoint, userAgent, token string, timeout time.Duration) APIClient {
	return &apiClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		userAgent: userAgent,
		token:     token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NotifyUpload posts the upload metadata. Only HTTP 200 counts as success.
func (c *apiClient) NotifyUpload(ctx context.Context, request UploadImageRequest) error {
	url := fmt.Sprintf("%s/upload-image", c.endpoint)

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode upload notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.NewTransientNetworkError("api notify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return common.NewTransientNetworkError("api notify", NewRemoteError("upload-image", resp.StatusCode, string(respBody)))
	}

	return nil
}
