package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var errNotFound = errors.New("not found")

// httpGetter performs GET requests and retries on HTTP 429 with exponential
// backoff starting at delay.
type httpGetter struct {
	name       string
	httpClient *http.Client
	delay      time.Duration
	maxRetries int
}

func newHTTPGetter(name string, delay time.Duration, maxRetries int) httpGetter {
	return httpGetter{
		name:       name,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		delay:      delay,
		maxRetries: maxRetries,
	}
}

// get returns the body of a 200 response. A 404 returns errNotFound.
func (g httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range g.maxRetries + 1 {
		if attempt > 0 {
			baseDelay := g.delay
			if baseDelay == 0 {
				baseDelay = 10 * time.Second
			}
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating %s request: %w", g.name, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", g.name, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", g.name, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return body, nil
		case http.StatusNotFound:
			return nil, errNotFound
		case http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%s rate limited (attempt %d/%d)", g.name, attempt+1, g.maxRetries+1)
			continue
		}

		return nil, fmt.Errorf("%s HTTP %d: %s", g.name, resp.StatusCode, string(body))
	}

	return nil, lastErr
}
