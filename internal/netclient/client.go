package netclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"gatehouse/internal/sdkerr"
	"gatehouse/internal/telemetry/logging"
)

const (
	headerAPIKey     = "STATSIG-API-KEY"
	headerSDKType    = "STATSIG-SDK-TYPE"
	headerSDKVersion = "STATSIG-SDK-VERSION"
	headerClientTime = "STATSIG-CLIENT-TIME"
	headerSessionID  = "STATSIG-SERVER-SESSION-ID"
)

const (
	SDKType    = "gatehouse-go"
	SDKVersion = "1.4.2"
)

// Client is the shared HTTP transport for all adapters: SDK headers, retry
// classification, exponential backoff, gzip request bodies.
type Client struct {
	http      *http.Client
	sdkKey    string
	sessionID string
	log       *logging.Logger
	clock     clock.Clock
	disabled  bool
}

type Options struct {
	SDKKey         string
	SessionID      string
	Timeout        time.Duration
	DisableNetwork bool
	Log            *logging.Logger
	Clock          clock.Clock
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ck := opts.Clock
	if ck == nil {
		ck = clock.New()
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		sdkKey:    opts.SDKKey,
		sessionID: opts.SessionID,
		log:       opts.Log.Tagged("NetClient"),
		clock:     ck,
		disabled:  opts.DisableNetwork,
	}
}

// RequestArgs describes one logical request; Send retries it per the policy.
type RequestArgs struct {
	Method      string
	URL         string
	QueryParams map[string]string
	Headers     map[string]string
	Body        []byte
	GzipBody    bool
	Retries     int
	InitialWait time.Duration
}

type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// retryableStatus classifies HTTP statuses worth another attempt.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 599:
		return true
	}
	return false
}

// Send performs the request with up to args.Retries additional attempts on
// retryable failures, doubling the wait each time. Non-retryable statuses
// fail immediately with ErrRequestNotRetryable.
func (c *Client) Send(ctx context.Context, args RequestArgs) (*Response, error) {
	if c.disabled {
		return nil, sdkerr.NewNetworkError(sdkerr.ErrNetworkDisabled, 0, fmt.Errorf("network disabled for %s", args.URL))
	}

	wait := args.InitialWait
	if wait <= 0 {
		wait = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= args.Retries; attempt++ {
		if attempt > 0 {
			timer := c.clock.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, sdkerr.NewNetworkError(sdkerr.ErrRetriesExhausted, 0, ctx.Err())
			case <-timer.C:
			}
			wait *= 2
		}

		resp, err := c.send(ctx, args)
		if err != nil {
			lastErr = err
			c.log.Debug("request failed", "url", args.URL, "attempt", attempt, "err", err)
			continue
		}
		if resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}
		if !retryableStatus(resp.Status) {
			return resp, sdkerr.NewNetworkError(sdkerr.ErrRequestNotRetryable, resp.Status,
				fmt.Errorf("%s returned status %d", args.URL, resp.Status))
		}
		lastErr = fmt.Errorf("%s returned status %d", args.URL, resp.Status)
		c.log.Debug("retryable status", "url", args.URL, "status", resp.Status, "attempt", attempt)
	}
	return nil, sdkerr.NewNetworkError(sdkerr.ErrRetriesExhausted, 0, lastErr)
}

func (c *Client) send(ctx context.Context, args RequestArgs) (*Response, error) {
	body := args.Body
	if args.GzipBody && len(body) > 0 {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, args.Method, args.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	for k, v := range args.QueryParams {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set(headerAPIKey, c.sdkKey)
	req.Header.Set(headerSDKType, SDKType)
	req.Header.Set(headerSDKVersion, SDKVersion)
	req.Header.Set(headerClientTime, strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.sessionID != "" {
		req.Header.Set(headerSessionID, c.sessionID)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if args.GzipBody && len(body) > 0 {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: data, Headers: resp.Header}, nil
}
