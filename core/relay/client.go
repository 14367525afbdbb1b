package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/sdrelay/sdrelay/core/infra/config"
	"github.com/sdrelay/sdrelay/core/infra/logging"
)

const getRetryAttempts = 3

// UpstreamResponse is the raw outcome of one upstream HTTP exchange.
type UpstreamResponse struct {
	Status  int
	Body    []byte
	Elapsed time.Duration
}

// Client issues one HTTP request per job against the local generation
// service. Timeouts are per-operation: generation runs minutes, metadata
// lookups do not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeouts   *config.TimeoutsConfig
}

// NewClient builds an upstream client for the given base URL.
func NewClient(baseURL string, timeouts *config.TimeoutsConfig) *Client {
	return &Client{
		baseURL: baseURL,
		// Timeouts are applied per request via context, not globally.
		httpClient: &http.Client{},
		timeouts:   timeouts,
	}
}

// Do performs the upstream call described by spec with the validated
// payload. Connection-phase failures surface as ErrConnRefused/ErrConnection
// and are distinguished from application-level errors, which come back as a
// normal UpstreamResponse with a non-2xx status.
//
// GET requests are retried on connection errors since they are idempotent
// and cheap. POSTs are never retried once issued: the upstream may already
// be generating, and duplicating minutes of GPU work is worse than failing
// the job. Cancelling ctx abandons the wait but does NOT cancel upstream
// work already accepted; the service has no cancellation primitive.
func (c *Client) Do(ctx context.Context, spec EndpointSpec, payload json.RawMessage) (*UpstreamResponse, error) {
	timeout := c.timeouts.For(spec.Operation)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 1
	if spec.Method == http.MethodGet {
		attempts = getRetryAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.roundTrip(reqCtx, spec, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrConnection) || errors.Is(err, context.Canceled) {
			break
		}
		if attempt < attempts {
			logging.Warn("upstream", "request failed, retrying", "operation", spec.Operation, "attempt", attempt, "error", err)
			select {
			case <-reqCtx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, spec EndpointSpec, payload json.RawMessage) (*UpstreamResponse, error) {
	var body io.Reader
	if spec.Method != http.MethodGet {
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, c.baseURL+spec.Path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, time.Since(start))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}
	return &UpstreamResponse{Status: resp.StatusCode, Body: data, Elapsed: time.Since(start)}, nil
}

// classifyTransportError splits "never reached the service" from "the
// service died on us", so the controller can route refusals back through
// the readiness phase.
func classifyTransportError(err error, elapsed time.Duration) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w (after %s)", ErrConnRefused, elapsed.Round(time.Millisecond))
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrConnRefused, opErr)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: request timed out after %s", ErrConnection, elapsed.Round(time.Millisecond))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out after %s", ErrConnection, elapsed.Round(time.Millisecond))
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
