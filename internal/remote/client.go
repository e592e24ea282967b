package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/logging"
)

// WorkerDescriptor is the cached result of the /meta handshake for one
// worker. Legacy marks workers whose /meta endpoint is unavailable; they
// are treated as body-less fetchers speaking an unversioned protocol.
type WorkerDescriptor struct {
	BaseURL           string
	APIVersion        int
	Capabilities      Capabilities
	Legacy            bool
	Healthy           bool
	LastHealthCheckAt time.Time
}

// ClientConfig controls the worker client adapter.
type ClientConfig struct {
	BaseURL string
	// RequestTimeout bounds each HTTP call to the worker.
	RequestTimeout time.Duration
	// MetaRefreshInterval is how long a cached descriptor stays fresh.
	MetaRefreshInterval time.Duration
	// WantBody asks for page bodies when the worker supports them.
	WantBody bool
}

func (c *ClientConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	}
	if c.MetaRefreshInterval <= 0 {
		c.MetaRefreshInterval = 5 * time.Minute
	}
}

// Client fetches through a remote worker. It satisfies crawler.Fetcher so
// the pipeline can swap it in for hosts routed to remote machines.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	clock  crawler.Clock
	logger *zap.Logger

	mu         sync.Mutex
	descriptor *WorkerDescriptor
}

// NewClient builds a worker client for one base URL.
func NewClient(cfg ClientConfig, clock crawler.Clock, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("worker base url is required")
	}
	cfg.applyDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		clock:  clock,
		logger: logging.Component(logger, "worker-client").With(zap.String("worker", cfg.BaseURL)),
	}, nil
}

// Descriptor returns the cached worker descriptor, performing the /meta
// handshake on first use or after the refresh interval.
func (c *Client) Descriptor(ctx context.Context) (WorkerDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.descriptor != nil && now.Sub(c.descriptor.LastHealthCheckAt) < c.cfg.MetaRefreshInterval {
		return *c.descriptor, nil
	}

	desc := WorkerDescriptor{BaseURL: c.cfg.BaseURL, LastHealthCheckAt: now}
	meta, err := c.fetchMeta(ctx)
	if err != nil {
		// A worker without /meta is a legacy, body-less fetcher.
		c.logger.Warn("meta handshake failed, treating worker as legacy", zap.Error(err))
		desc.Legacy = true
		desc.Healthy = true
	} else {
		desc.APIVersion = meta.APIVersion
		desc.Capabilities = meta.Capabilities
		desc.Healthy = true
	}
	c.descriptor = &desc
	return desc, nil
}

// Fetch retrieves one URL through the worker. Bodies are requested only
// when the worker advertised the includeBody capability; base64 payloads
// are decoded before the outcome is returned.
func (c *Client) Fetch(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	desc, err := c.Descriptor(ctx)
	if err != nil {
		return crawler.FetchOutcome{}, err
	}

	includeBody := c.cfg.WantBody && !desc.Legacy && desc.Capabilities.IncludeBody
	req := BatchRequest{
		Requests:    []FetchRequest{{URL: rawURL}},
		IncludeBody: includeBody,
	}
	resp, version, err := c.postBatch(ctx, req)
	if err != nil {
		return crawler.FetchOutcome{}, err
	}
	if !desc.Legacy && version != 0 && version != desc.APIVersion {
		c.logger.Warn("worker version drift detected",
			zap.Int("handshake_version", desc.APIVersion),
			zap.Int("response_version", version))
	}
	if len(resp.Results) == 0 {
		return crawler.FetchOutcome{}, fmt.Errorf("worker returned no results for %s", rawURL)
	}

	result := resp.Results[0]
	if result.Error != "" {
		return crawler.FetchOutcome{}, fmt.Errorf("worker fetch %s: %s", rawURL, result.Error)
	}

	outcome := crawler.FetchOutcome{
		URL:        rawURL,
		FinalURL:   result.FinalURL,
		Host:       crawler.HostOf(rawURL),
		Source:     crawler.SourceNetwork,
		StatusCode: result.StatusCode,
		Headers:    http.Header(result.Headers),
		Bytes:      result.Bytes,
		Duration:   time.Duration(result.DurationMs) * time.Millisecond,
		FetchedAt:  c.clock.Now(),
	}
	if outcome.FinalURL == "" {
		outcome.FinalURL = rawURL
	}
	if result.BodyBase64 != "" {
		body, err := base64.StdEncoding.DecodeString(result.BodyBase64)
		if err != nil {
			return crawler.FetchOutcome{}, fmt.Errorf("decode body for %s: %w", rawURL, err)
		}
		outcome.Body = body
		outcome.Bytes = int64(len(body))
	}
	return outcome, nil
}

func (c *Client) fetchMeta(ctx context.Context) (MetaResponse, error) {
	var meta MetaResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/meta", nil)
	if err != nil {
		return meta, fmt.Errorf("build meta request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return meta, fmt.Errorf("call meta: %w", err)
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return meta, fmt.Errorf("meta returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode meta response: %w", err)
	}
	return meta, nil
}

func (c *Client) postBatch(ctx context.Context, batch BatchRequest) (BatchResponse, int, error) {
	var out BatchResponse
	payload, err := json.Marshal(batch)
	if err != nil {
		return out, 0, fmt.Errorf("marshal batch request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/batch", bytes.NewReader(payload))
	if err != nil {
		return out, 0, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, 0, fmt.Errorf("call batch: %w", err)
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return out, 0, fmt.Errorf("batch returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, 0, fmt.Errorf("decode batch response: %w", err)
	}
	version := 0
	if v := resp.Header.Get(VersionHeader); v != "" {
		version, _ = strconv.Atoi(v)
	}
	if version == 0 {
		version = out.Summary.APIVersion
	}
	return out, version, nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
