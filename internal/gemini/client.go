package gemini

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
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-3-flash-preview"
)

// Client talks to the Gemini Files and generateContent endpoints. Upload is
// the resumable three-phase protocol: start a session, transmit and finalize
// the payload, then poll the returned handle until it is indexed.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) keyed(rawURL string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "key=" + url.QueryEscape(c.apiKey)
}

// StartUpload opens a resumable upload session and returns its endpoint.
func (c *Client) StartUpload(ctx context.Context, mimeType, displayName string) (string, error) {
	var reqBody startUploadRequest
	reqBody.File.DisplayName = displayName

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.keyed(c.baseURL+"/upload/v1beta/files"), bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &HandshakeError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", &HandshakeError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return "", &HandshakeError{Status: resp.StatusCode, Message: "no upload URL received"}
	}

	return uploadURL, nil
}

// Upload transmits the full payload to the session endpoint in one finalized
// operation and returns the PENDING file handle the service issues.
func (c *Client) Upload(ctx context.Context, uploadURL string, data []byte) (*FileHandle, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.ContentLength = int64(len(data))
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransmissionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &TransmissionError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var meta uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, &TransmissionError{Status: resp.StatusCode, Message: fmt.Sprintf("bad upload response: %v", err)}
	}
	if meta.File.URI == "" {
		return nil, &TransmissionError{Status: resp.StatusCode, Message: "no file URI in upload response"}
	}

	state := meta.File.State
	if state == "" {
		state = StatePending
	}

	return &FileHandle{
		URI:      meta.File.URI,
		State:    state,
		MIMEType: meta.File.MIMEType,
	}, nil
}

// GetFileState fetches the current readiness state of an uploaded file.
func (c *Client) GetFileState(ctx context.Context, uri string) (FileState, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.keyed(uri), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to check file state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("file state check returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta fileMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode file metadata: %w", err)
	}

	return meta.State, nil
}

// GenerateContent sends the accumulated history plus the new turn and returns
// the model's raw reply text.
func (c *Client) GenerateContent(ctx context.Context, contents []Content) (string, error) {
	jsonData, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", c.keyed(endpoint), bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &InferenceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &InferenceError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", &InferenceError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	if genResp.Error != nil {
		return "", &InferenceError{Message: genResp.Error.Message}
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", &InferenceError{Message: "no response candidates"}
	}

	return genResp.Candidates[0].Content.Parts[0].Text, nil
}
