package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// PassthroughStrategy fetches any non-restricted URL with a plain GET and
// relays the body and content type unchanged. The body is returned unread so
// large media stream straight through without buffering here.
type PassthroughStrategy struct {
	httpClient *http.Client
	warnBytes  int64
}

func NewPassthroughStrategy(httpClient *http.Client, warnBytes int64) *PassthroughStrategy {
	return &PassthroughStrategy{
		httpClient: httpClient,
		warnBytes:  warnBytes,
	}
}

func (s *PassthroughStrategy) CanHandle(rawURL string) bool {
	return true
}

func (s *PassthroughStrategy) Resolve(ctx context.Context, rawURL string) (*Resolution, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &BlockedError{URL: rawURL, Detail: "source returned 403 for a direct fetch"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	if s.warnBytes > 0 && resp.ContentLength > s.warnBytes {
		slog.Warn("resolved media exceeds advisory size threshold",
			"url", rawURL,
			"content_length", resp.ContentLength,
			"threshold", s.warnBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	return &Resolution{
		Body:        resp.Body,
		ContentType: contentType,
	}, nil
}
