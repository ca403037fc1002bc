package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/logging"
)

// HTTPTransportOptions configures an HTTPTransport.
type HTTPTransportOptions struct {
	// MaxRetries bounds retry attempts on 5xx responses and network errors.
	MaxRetries int
	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration
	// MaxPayloadBytes caps the response body size (spec §5: 10 MiB default).
	MaxPayloadBytes int64
	// RatePerSecond limits outgoing requests; zero disables limiting.
	RatePerSecond float64
	Log           *slog.Logger
}

func (o HTTPTransportOptions) withDefaults() HTTPTransportOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 10 * 1024 * 1024
	}
	return o
}

// StatusEvent reports one sync attempt's outcome, for observability hooks
// (spec §4.6: "status events emitted for observability").
type StatusEvent struct {
	URL     string
	Attempt int
	Err     error
}

// HTTPTransport implements Peer over an HTTP endpoint: POSTs a canonical-JSON
// sync-request, retries 5xx/network failures with randomized exponential
// backoff, and enforces a response-size ceiling (spec §4.6, §5).
type HTTPTransport struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	opts    HTTPTransportOptions
	log     *slog.Logger

	onStatus func(StatusEvent)
}

// NewHTTPTransport returns a transport that POSTs sync requests to url.
func NewHTTPTransport(url string, opts HTTPTransportOptions) (*HTTPTransport, error) {
	if url == "" {
		return nil, apperrors.New(apperrors.CodeSyncRemoteURL, "empty remote url")
	}
	opts = opts.withDefaults()
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &HTTPTransport{
		url:     url,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		limiter: limiter,
		opts:    opts,
		log:     logging.Component(log, "sync-transport"),
	}, nil
}

// OnStatus registers a callback invoked after every attempt (success or
// failure), for observability.
func (t *HTTPTransport) OnStatus(fn func(StatusEvent)) { t.onStatus = fn }

// ProcessSyncRequest POSTs req as canonical JSON and decodes a sync-response,
// retrying transient failures per opts.
func (t *HTTPTransport) ProcessSyncRequest(ctx context.Context, req Request) (Response, error) {
	body, err := MarshalCanonical(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal sync request: %w", err)
	}

	var resp Response
	attempt := 0
	policy := jitteredExponentialBackoff(t.opts.MaxRetries)

	op := func() error {
		attempt++
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		r, err := t.doOnce(ctx, body)
		t.emitStatus(attempt, err)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (t *HTTPTransport) doOnce(ctx context.Context, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, backoff.Permanent(apperrors.Wrap(apperrors.CodeSyncRemoteURL, "build sync request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, apperrors.Wrap(apperrors.CodeSyncTimeout, "sync request timed out", err)
		}
		return Response{}, fmt.Errorf("sync request: %w", err)
	}
	defer httpResp.Body.Close()

	limited := io.LimitReader(httpResp.Body, t.opts.MaxPayloadBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Response{}, fmt.Errorf("read sync response: %w", err)
	}
	if int64(len(data)) > t.opts.MaxPayloadBytes {
		return Response{}, apperrors.New(apperrors.CodeSyncHTTP, "sync response exceeds max payload size").
			WithContext("maxBytes", t.opts.MaxPayloadBytes)
	}

	if httpResp.StatusCode >= 500 {
		return Response{}, apperrors.New(apperrors.CodeSyncHTTP, fmt.Sprintf("sync peer returned %d", httpResp.StatusCode)).
			WithContext("status", httpResp.StatusCode).WithContext("body", string(data))
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, backoff.Permanent(apperrors.New(apperrors.CodeSyncHTTP, fmt.Sprintf("sync peer returned %d", httpResp.StatusCode)).
			WithContext("status", httpResp.StatusCode).WithContext("body", string(data)))
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode sync response: %w", err)
	}
	return resp, nil
}

func (t *HTTPTransport) emitStatus(attempt int, err error) {
	if t.onStatus != nil {
		t.onStatus(StatusEvent{URL: t.url, Attempt: attempt, Err: err})
	}
	if err != nil {
		t.log.Warn("sync attempt failed", "attempt", attempt, "url", t.url, "error", err)
	}
}

// jitteredExponentialBackoff returns an exponential backoff policy capped at
// maxRetries retries: the interval starts at 200ms, doubles per retry up to
// 5s, and each wait is randomized by +/-50% of the current interval. This is
// not decorrelated jitter: a wait is not derived from the previous wait.
func jitteredExponentialBackoff(maxRetries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0.5 // jitter: +/-50% of the computed interval
	eb.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(eb, uint64(maxRetries))
}
