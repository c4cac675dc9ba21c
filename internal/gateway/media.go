package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxMediaBytes caps how much remote media the gateway will embed
const maxMediaBytes = 16 << 20 // 16 MiB

// MediaFetcher downloads remote media and converts it to a data URL so the
// extension receives an embeddable payload. It satisfies the broker's
// MediaResolver signature.
type MediaFetcher struct {
	client *http.Client
}

// NewMediaFetcher creates a media fetcher with a bounded request timeout
func NewMediaFetcher(timeout time.Duration) *MediaFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MediaFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Resolve fetches the media at url and returns it as a data URL
func (f *MediaFetcher) Resolve(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid media URL: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read media body: %w", err)
	}
	if len(body) > maxMediaBytes {
		return "", fmt.Errorf("media exceeds %d byte limit", maxMediaBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	encoded := base64.StdEncoding.EncodeToString(body)
	return fmt.Sprintf("data:%s;base64,%s", contentType, encoded), nil
}
