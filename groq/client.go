package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	// BaseURL is the Groq API base URL
	BaseURL = "https://api.groq.com"

	// DefaultTimeout for API requests (long audio can take a while)
	DefaultTimeout = 10 * time.Minute

	// MaxAudioBytes is the request-body ceiling for transcription
	// uploads (40 MiB), enforced before anything hits the network.
	MaxAudioBytes = 40 * 1024 * 1024
)

// Client is the Groq API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	debug      bool
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing)
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithDebug enables debug logging
func WithDebug(debug bool) ClientOption {
	return func(c *Client) {
		c.debug = debug
	}
}

// NewClient creates a new Groq API client
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: BaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Transcribe uploads an audio payload and returns its transcription.
func (c *Client) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("audio payload is empty")
	}
	if len(req.Audio) > MaxAudioBytes {
		return nil, fmt.Errorf("audio file is too large (%.2f MB), maximum size is 40 MB", float64(len(req.Audio))/(1024*1024))
	}
	if !IsSupportedMIMEType(req.MIMEType) {
		return nil, fmt.Errorf("unsupported audio MIME type %q", req.MIMEType)
	}

	model := req.Model
	if model == "" {
		model = ModelWhisperLargeV3Turbo
	}

	// Build multipart form
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", UploadFilename(req.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio to form: %w", err)
	}

	if err := writer.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("failed to write model: %w", err)
	}
	if req.Language != "" {
		if err := writer.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("failed to write language: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := c.baseURL + "/openai/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	if c.debug {
		fmt.Printf("[DEBUG] POST %s (%d audio bytes, %s)\n", url, len(req.Audio), req.MIMEType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		fmt.Printf("[DEBUG] Response status: %d\n", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var result TranscribeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Text == "" && len(result.Segments) == 0 {
		return nil, fmt.Errorf("transcription response did not contain any text")
	}

	return &result, nil
}

// parseAPIError turns a non-2xx response body into an *APIError,
// falling back to the raw body when it is not the JSON error envelope.
func parseAPIError(status int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{
			StatusCode: status,
			Message:    envelope.Error.Message,
			Type:       envelope.Error.Type,
		}
	}
	return &APIError{
		StatusCode: status,
		Message:    strings.TrimSpace(string(body)),
	}
}

// GetAPIKeyHelp returns help text for setting up the API key
func GetAPIKeyHelp() string {
	return `To use hearsay, you need a Groq API key.

1. Sign up at https://console.groq.com
2. Go to API Keys and create a new key
3. Run "hearsay config" to store it,
   or set the environment variable:

   export GROQ_API_KEY="your-api-key"

Or create a .env file with:
   GROQ_API_KEY=your-api-key`
}
