package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
)

// HTTPProber succeeds on the first endpoint answering 200
type HTTPProber struct {
	logger    logging.Logger
	client    *http.Client
	endpoints []string
	userAgent string
}

func NewHTTPProber(logger logging.Logger, endpoints []string, userAgent string) *HTTPProber {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &HTTPProber{
		logger:    logger,
		client:    &http.Client{},
		endpoints: endpoints,
		userAgent: userAgent,
	}
}

// Probe uses ctx for its deadline
func (p *HTTPProber) Probe(ctx context.Context) error {
	if len(p.endpoints) == 0 {
		return common.NewTransientNetworkError("probe", errors.New("no probe endpoints configured"))
	}

	var lastErr error
	for _, endpoint := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return common.NewTransientNetworkError("probe", err)
		}
		err := p.probeOne(ctx, endpoint)
		if err == nil {
			return nil
		}
		p.logger.Debug("Probe endpoint failed", "endpoint", endpoint, "error", err)
		lastErr = err
	}
	return common.NewTransientNetworkError("probe", lastErr)
}

func (p *HTTPProber) probeOne(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return nil
}

// StaticProber always reports the network as reachable (test mode)
type StaticProber struct{}

func (StaticProber) Probe(ctx context.Context) error {
	return ctx.Err()
}
