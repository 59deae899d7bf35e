// Package graphs downloads graph images referenced by an alert so they can be
// embedded in outgoing email.
package graphs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"alert-mailer/internal/retry"
)

const (
	// DefaultTimeout bounds a single image download.
	DefaultTimeout = 10 * time.Second
	// maxImageBytes caps how much of a response body is read.
	maxImageBytes = 5 << 20
)

// Image is a downloaded graph.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
}

// Fetcher downloads graph images over HTTP.
type Fetcher struct {
	httpClient *http.Client
	retryCfg   retry.Config
}

// NewFetcher creates a fetcher whose requests time out after timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retry.DefaultConfig(),
	}
}

// Fetch downloads a single image, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	var img *Image
	err := retry.WithRetry(ctx, f.retryCfg, "fetch_graph", func() error {
		var err error
		img, err = f.fetchOnce(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid graph url %q: %w", url, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("graph %s is not an image: %s", url, contentType)
	}

	return &Image{URL: url, ContentType: contentType, Data: data}, nil
}

// FetchAll downloads every url in order. The result has one entry per url;
// entries for images that could not be fetched are nil. Failures are logged
// and otherwise ignored.
func (f *Fetcher) FetchAll(ctx context.Context, alertID string, urls []string) []*Image {
	images := make([]*Image, len(urls))
	for i, url := range urls {
		img, err := f.Fetch(ctx, url)
		if err != nil {
			slog.Warn("Failed to fetch graph, skipping",
				"alert_id", alertID,
				"url", url,
				"error", err,
			)
			continue
		}
		images[i] = img
	}
	return images
}
