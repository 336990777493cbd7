// Package client provides the HTTP client for the remote document store, with
// retry, rate limiting, per-request deadlines and bearer auth.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/metrics"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/protocol"
	"github.com/fruitsalade/lifionfs/pkg/retry"
)

// Endpoint labels used in logs and metrics.
const (
	EndpointHealth = "health"
	EndpointList   = "documents"
	EndpointSize   = "document_size"
	EndpointScript = "document_script"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096
)

// Client talks to the remote document store.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	retryConfig retry.Config
	limiter     *rate.Limiter
	log         *zap.Logger

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds every single request attempt.
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	// RateLimit caps requests per second. Zero disables the limit.
	RateLimit float64
	// HTTPClient overrides the transport, e.g. in tests.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("client")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  hc,
		timeout:     cfg.Timeout,
		retryConfig: cfg.RetryConfig,
		log:         cfg.Logger,
		online:      true,
	}
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.AuthToken != "" {
		c.SetAuthToken(cfg.AuthToken)
	}
	return c
}

// BaseURL returns the remote store address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the bearer token for requests. A JWT that is already
// expired is accepted but logged.
func (c *Client) SetAuthToken(token string) {
	if exp, ok := TokenExpiry(token); ok && time.Now().After(exp) {
		c.log.Warn("auth token is expired", zap.Time("expired_at", exp))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.log.Info("document store is back online", zap.String("endpoint", c.baseURL))
		} else {
			c.log.Error("document store is offline", zap.String("endpoint", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable. It is not retried.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, retry.NoRetry(), EndpointHealth, protocol.PathHealth, func(io.Reader) error {
		return nil
	})
}

// ListDocuments fetches the (identifier, display name) pairs of the store.
// When a pair is malformed the pairs decoded before it are returned together
// with the error.
func (c *Client) ListDocuments(ctx context.Context) ([]models.DocumentRef, error) {
	var refs []models.DocumentRef
	err := c.get(ctx, c.retryConfig, EndpointList, protocol.PathDocuments, func(body io.Reader) error {
		refs = refs[:0]
		var resp protocol.DocumentsResponse
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for i, raw := range resp.IDs {
			ref, err := protocol.DecodeRef(raw)
			if err != nil {
				return fmt.Errorf("%w: pair %d: %v", ErrMalformed, i, err)
			}
			refs = append(refs, ref)
		}
		return nil
	})
	return refs, err
}

// DocumentSize fetches the size the store reports for a document.
func (c *Client) DocumentSize(ctx context.Context, id string) (int64, error) {
	var size int64
	err := c.get(ctx, c.retryConfig, EndpointSize, protocol.PathDocumentSize+url.PathEscape(id), func(body io.Reader) error {
		var resp protocol.DocumentSizeResponse
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		size = resp.Size
		return nil
	})
	return size, err
}

// DocumentScript fetches the text content of a document.
func (c *Client) DocumentScript(ctx context.Context, id string) (string, error) {
	var script string
	err := c.get(ctx, c.retryConfig, EndpointScript, protocol.PathDocumentScript+url.PathEscape(id), func(body io.Reader) error {
		var resp protocol.DocumentScriptResponse
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		script = resp.Script
		return nil
	})
	return script, err
}

// get performs a GET with retries and hands a 200 body to decode.
func (c *Client) get(ctx context.Context, cfg retry.Config, endpoint, path string, decode func(io.Reader) error) error {
	requestID := logging.GetRequestID(ctx)
	if requestID == "" {
		requestID = logging.NewRequestID()
	}
	log := c.log.With(zap.String("endpoint", endpoint), zap.String("request_id", requestID))

	cfg.OnRetry = func(attempt int, err error) {
		metrics.RecordRemoteRetry(endpoint)
		log.Warn("retrying remote request", zap.Int("attempt", attempt), zap.Error(err))
	}

	err := retry.Do(ctx, cfg, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(logging.RequestIDHeader, requestID)
		c.applyAuth(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(endpoint, 0, time.Since(start))
			c.setOnline(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(fmt.Errorf("%s: %w", endpoint, err))
		}
		defer resp.Body.Close()
		metrics.RecordRemoteRequest(endpoint, resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusOK {
			serr := newStatusError(endpoint, resp)
			if resp.StatusCode >= 500 {
				c.setOnline(false)
				return retry.Retryable(serr)
			}
			c.setOnline(true)
			return serr
		}

		c.setOnline(true)
		return decode(resp.Body)
	})
	if err != nil {
		log.Debug("remote request failed", zap.String("path", path), zap.Error(err))
	}
	return err
}

// ErrMalformed is returned when a response body cannot be decoded.
var ErrMalformed = errors.New("malformed response")

// StatusError is returned for a non-200 response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d", e.Endpoint, e.StatusCode)
}

// AsStatus checks if an error is a StatusError and returns it.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func newStatusError(endpoint string, resp *http.Response) *StatusError {
	se := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var errResp protocol.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		se.Message = errResp.Error
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}
