package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/metrics"
	"github.com/openeduhub/metaqs/pkg/retry"
)

// Searcher executes one search request against the catalog index.
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Config holds the connection settings for the search index.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	Timeout  time.Duration

	// Retry governs transient failures of a single search. Nil uses
	// retry.DefaultConfig.
	Retry *retry.Config
}

// Client is a Searcher backed by Elasticsearch.
type Client struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
	retry   *retry.Config
	logger  *zap.Logger
}

var _ Searcher = (*Client)(nil)

// NewClient creates an Elasticsearch backed searcher. It does not contact
// the cluster; call Ping for that.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,

		// Retries happen in Search so rejected and unreachable clusters
		// share one backoff policy.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	rc := cfg.Retry
	if rc == nil {
		rc = retry.DefaultConfig()
	}
	return &Client{
		es:      es,
		index:   cfg.Index,
		timeout: cfg.Timeout,
		retry:   rc,
		logger:  logger.Named("search"),
	}, nil
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamQuery, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: %s", apperrors.ErrUpstreamQuery, res.Status())
	}
	return nil
}

// Search runs req against the configured index. Any non-success response is
// reported as ErrUpstreamQuery.
func (c *Client) Search(ctx context.Context, req *Request) (_ *Response, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSearch(time.Since(start), err) }()

	body, err := json.Marshal(req.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	var out *Response
	err = retry.DoIfRetryable(ctx, c.retry, func() error {
		var attemptErr error
		out, attemptErr = c.searchOnce(ctx, body)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Search executed",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("took_ms", out.Took),
		zap.Int64("hits", out.Total()))

	if out.TimedOut {
		return nil, fmt.Errorf("%w: search timed out", apperrors.ErrUpstreamQuery)
	}
	return out, nil
}

// searchOnce sends one request. The timeout applies per attempt.
func (c *Client) searchOnce(ctx context.Context, body []byte) (*Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstreamQuery, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		c.logger.Warn("Search request rejected",
			zap.Int("status", res.StatusCode),
			zap.String("detail", string(detail)))
		return nil, fmt.Errorf("%w: status %d", apperrors.ErrUpstreamQuery, res.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", apperrors.ErrUpstreamQuery, err)
	}
	return &out, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
