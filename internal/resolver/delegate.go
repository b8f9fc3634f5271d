package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// restrictedHosts are video platforms that reject plain hotlink fetches and
// need the extraction path.
var restrictedHosts = []string{"youtube.com", "youtu.be"}

func isRestrictedHost(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	for _, restricted := range restrictedHosts {
		if host == restricted || strings.HasSuffix(host, "."+restricted) {
			return true
		}
	}
	return false
}

// DelegateStrategy hands restricted URLs to an external resolution service
// that negotiates a playable format and returns a direct, unauthenticated
// media URL. The caller relays that URL onward; no bytes move through us, so
// hosting payload ceilings never apply.
type DelegateStrategy struct {
	endpoint   string
	httpClient *http.Client
}

func NewDelegateStrategy(endpoint string, httpClient *http.Client) *DelegateStrategy {
	return &DelegateStrategy{
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

func (s *DelegateStrategy) CanHandle(rawURL string) bool {
	return isRestrictedHost(rawURL)
}

type delegateRequest struct {
	URL          string `json:"url"`
	VideoQuality string `json:"videoQuality"`
	DownloadMode string `json:"downloadMode"`
}

type delegateResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Text   string `json:"text"`
}

func (s *DelegateStrategy) Resolve(ctx context.Context, rawURL string) (*Resolution, error) {
	slog.Info("resolving restricted platform link via delegate", "url", rawURL)

	// 360p is the smallest broadly decodable quality that still carries
	// combined audio and video; plenty for analysis.
	reqBody := delegateRequest{
		URL:          rawURL,
		VideoQuality: "360",
		DownloadMode: "video",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delegate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create delegate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delegate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read delegate response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || looksLikeBotChallenge(body) {
		return nil, &BlockedError{URL: rawURL, Detail: "delegate reported the platform refused automated clients"}
	}

	var data delegateResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("bad delegate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || data.URL == "" {
		detail := data.Text
		if detail == "" {
			detail = fmt.Sprintf("delegate returned status %d without a media URL", resp.StatusCode)
		}
		return nil, fmt.Errorf("delegate resolution failed: %s", detail)
	}

	return &Resolution{RedirectURL: data.URL}, nil
}

func looksLikeBotChallenge(body []byte) bool {
	text := strings.ToLower(string(body))
	return strings.Contains(text, "bot") && (strings.Contains(text, "challenge") ||
		strings.Contains(text, "captcha") || strings.Contains(text, "verify"))
}
