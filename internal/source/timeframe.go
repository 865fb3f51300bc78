package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/observe"
)

// maxBodyBytes caps a single decoded response body.
const maxBodyBytes = 64 << 20

// Config configures the timeframe client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration // per attempt
	MaxAttempts       int
	RetryDelay        time.Duration // fixed, between attempts
	RequestsPerSecond float64       // 0 disables client-side rate limiting
}

// TimeframeClient fetches one chunk of the timeframe endpoint per call.
type TimeframeClient struct {
	cfg      Config
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	observer observe.Observer
}

// NewTimeframeClient creates a client. Zero config fields take defaults; a
// nil httpClient uses a fresh client whose deadlines come from Timeout.
func NewTimeframeClient(cfg Config, httpClient *http.Client, observer observe.Observer) (*TimeframeClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	endpoint, err := url.JoinPath(cfg.BaseURL, "timeframe")
	if err != nil {
		return nil, fmt.Errorf("build endpoint from %q: %w", cfg.BaseURL, err)
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if observer == nil {
		observer = observe.Nop
	}

	c := &TimeframeClient{
		cfg:      cfg,
		endpoint: endpoint,
		client:   httpClient,
		observer: observer,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Fetch returns the decoded payload for chunk. Transport, parse, HTTP status
// and API-level failures are all retried up to MaxAttempts with a fixed
// delay; after that a *FetchError carrying the last cause is returned.
func (c *TimeframeClient) Fetch(ctx context.Context, chunk daterange.Chunk, currencies []string, accessKey string) (Payload, error) {
	reqURL := c.requestURL(chunk, currencies, accessKey)

	var b backoff.BackOff = backoff.NewConstantBackOff(c.cfg.RetryDelay)
	b = backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	var (
		attempts int
		lastErr  error
		payload  Payload
	)

	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attempts++
		c.observer.Observe(observe.Event{Kind: observe.FetchAttempt, Chunk: chunk, Attempt: attempts})

		started := time.Now()
		body, err := c.attempt(ctx, reqURL)
		if err != nil {
			lastErr = err
			c.observer.Observe(observe.Event{
				Kind:     observe.FetchAttemptFailed,
				Chunk:    chunk,
				Attempt:  attempts,
				Err:      err,
				Duration: time.Since(started),
			})
			return err
		}
		payload = body
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
		return nil, &FetchError{Chunk: chunk, Attempts: attempts, Err: lastErr}
	}
	return payload, nil
}

func (c *TimeframeClient) requestURL(chunk daterange.Chunk, currencies []string, accessKey string) string {
	params := url.Values{}
	params.Set("start_date", chunk.Start.Format(daterange.Layout))
	params.Set("end_date", chunk.End.Format(daterange.Layout))
	params.Set("currencies", strings.Join(currencies, ","))
	if accessKey != "" {
		params.Set("access_key", accessKey)
	}
	return c.endpoint + "?" + params.Encode()
}

// attempt performs one request. The checks run in the same order the API
// contract is documented: body, JSON, API-level error, HTTP status.
func (c *TimeframeClient) attempt(ctx context.Context, reqURL string) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, zstd")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read body (status %d): %w", resp.StatusCode, err)
	}

	payload, err := parseJSON(body)
	if err != nil {
		return nil, err
	}

	if obj, ok := payload.(map[string]any); ok {
		if success, ok := obj["success"].(bool); ok && !success {
			return nil, &APIError{SuccessFalse: true, Detail: obj["error"]}
		}
		if detail, ok := obj["error"]; ok && !IsEmpty(detail) {
			return nil, &APIError{Detail: detail}
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: prefix(body, 1000)}
	}

	return payload, nil
}

// readBody reads the response, undoing any content encoding we asked for.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case "zstd":
		zr, err := zstd.NewReader(resp.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}

	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}

func parseJSON(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v (body prefix %q)", ErrNonJSON, err, prefix(body, 200))
	}
	// A valid document followed by anything but whitespace is a truncated or
	// spliced body.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document (body prefix %q)", ErrNonJSON, prefix(body, 200))
	}
	return v, nil
}

// IsEmpty reports whether a decoded JSON value carries nothing: null, false,
// zero, or an empty string, object or array.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case float64:
		return t == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
