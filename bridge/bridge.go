// Package bridge is the short-lived helper for work that needs an
// ambient environment: fetching remote audio with cookies attached and
// reading the system clipboard. Callers create it on demand, a single
// guard deduplicates concurrent creation, and Close tears it down.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// Clipboard failure modes callers branch on.
var (
	// ErrClipboardUnavailable means the platform denied clipboard access
	// outright (no display, no utility installed).
	ErrClipboardUnavailable = errors.New("clipboard access is unavailable")

	// ErrClipboardEmpty means the clipboard held no text to read.
	ErrClipboardEmpty = errors.New("clipboard contains no text")
)

// FetchResult is a fetched audio payload plus the server's content type
// with any parameters stripped, empty when the server sent none.
type FetchResult struct {
	Data        []byte
	ContentType string
}

// Bridge performs fetch and clipboard work for the orchestrator.
type Bridge struct {
	httpClient *http.Client
	debug      bool

	readClipboard func() (string, error)
}

// Option configures the Bridge.
type Option func(*Bridge)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bridge) {
		b.httpClient = client
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(b *Bridge) {
		b.debug = debug
	}
}

// WithClipboardReader swaps the clipboard read function (for testing).
func WithClipboardReader(fn func() (string, error)) Option {
	return func(b *Bridge) {
		b.readClipboard = fn
	}
}

// New creates a Bridge. The HTTP client carries a cookie jar so fetches
// behave like an authenticated session against hosts that set cookies
// on redirect chains.
func New(opts ...Option) (*Bridge, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	b := &Bridge{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Jar:     jar,
		},
		readClipboard: clipboard.ReadAll,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// FetchAudio downloads the audio at url and returns the raw bytes along
// with the normalized Content-Type header.
func (b *Bridge) FetchAudio(ctx context.Context, url string) (FetchResult, error) {
	if url == "" {
		return FetchResult{}, fmt.Errorf("fetch URL is required")
	}

	if b.debug {
		fmt.Printf("[DEBUG] Fetching audio from %s\n", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("failed to fetch audio file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to read audio body: %w", err)
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if b.debug {
		fmt.Printf("[DEBUG] Fetched %d bytes, content type %q\n", len(data), contentType)
	}
	return FetchResult{Data: data, ContentType: contentType}, nil
}

// ReadClipboard returns the clipboard's text content. It distinguishes
// an unavailable clipboard from an empty one so callers can surface the
// right message.
func (b *Bridge) ReadClipboard() (string, error) {
	text, err := b.readClipboard()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClipboardUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrClipboardEmpty
	}
	return text, nil
}

// normalizeContentType lowercases the media type and strips parameters
// such as "; charset=utf-8".
func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Manager hands out a single shared Bridge, creating it at most once
// even under concurrent demand. Close discards the instance; the next
// Get creates a fresh one.
type Manager struct {
	mu       sync.Mutex
	creating *sync.Once
	bridge   *Bridge
	err      error
	opts     []Option
}

// NewManager creates a Manager that builds bridges with the given
// options.
func NewManager(opts ...Option) *Manager {
	return &Manager{creating: new(sync.Once), opts: opts}
}

// Get returns the shared Bridge, creating it on first use. Concurrent
// callers during creation all wait for the one in-flight build instead
// of racing to create duplicates.
func (m *Manager) Get() (*Bridge, error) {
	m.mu.Lock()
	once := m.creating
	m.mu.Unlock()

	once.Do(func() {
		b, err := New(m.opts...)
		m.mu.Lock()
		m.bridge, m.err = b, err
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bridge, m.err
}

// Close discards the current Bridge if one exists. Closing when none
// exists is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridge = nil
	m.err = nil
	m.creating = new(sync.Once)
}
