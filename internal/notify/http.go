package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// poster delivers events to an HTTP endpoint.
type poster struct {
	endpoint string
	client   *http.Client
	retries  int
	delay    time.Duration
	onRetry  func(attempt int, err error, wait time.Duration)
}

// postWithRetry sends the event, doubling the wait after each failed attempt.
func (p *poster) postWithRetry(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.delay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := max(p.retries, 1)
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(retries-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		return p.post(ctx, body)
	}
	onRetry := func(err error, wait time.Duration) {
		if p.onRetry != nil {
			p.onRetry(attempt, err, wait)
		}
	}

	if err := backoff.RetryNotify(op, b, onRetry); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("all %d attempts failed: %w", attempt, err)
	}
	return nil
}

// post sends a single POST request.
func (p *poster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}
