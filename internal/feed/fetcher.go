package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

const userAgent = "event-platform/1.0"

// Fetcher performs the outbound HTTP fetch of feed documents.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch GETs the url and returns the raw response body. Any non-2xx status
// or network failure surfaces as a FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, &FetchError{URL: url, Err: errors.New("empty URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	return body, nil
}

// ParseURL fetches the url and parses the result. Fetch failures come back
// as a FetchError; parse failures keep their own taxonomy.
func (f *Fetcher) ParseURL(ctx context.Context, url string) (*Document, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	return Parse(body)
}
