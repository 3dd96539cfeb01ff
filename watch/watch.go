// Package watch turns ambient desktop activity into bus events: audio
// files landing in the downloads directory become DownloadCompleted
// events, and freshly copied text becomes one-shot chat context.
package watch

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/fsnotify/fsnotify"

	"hearsay/bus"
	"hearsay/groq"
)

// partialSuffixes are in-progress browser download artifacts; these are
// never reported, the finished file shows up under its real name.
var partialSuffixes = []string{".crdownload", ".part", ".download"}

// Watcher observes a downloads directory and the system clipboard.
type Watcher struct {
	dir    string
	bus    *bus.Bus
	logger *slog.Logger

	// Interval between the two size samples that decide a file has
	// finished writing, and between clipboard polls.
	settle   time.Duration
	clipPoll time.Duration

	readClipboard func() (string, error)
}

// Option configures the Watcher.
type Option func(*Watcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithSettleInterval overrides the size-stability interval (tests).
func WithSettleInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.settle = d
	}
}

// WithClipboardPoll overrides the clipboard poll interval (tests).
func WithClipboardPoll(d time.Duration) Option {
	return func(w *Watcher) {
		w.clipPoll = d
	}
}

// WithClipboardReader swaps the clipboard read function (tests).
func WithClipboardReader(fn func() (string, error)) Option {
	return func(w *Watcher) {
		w.readClipboard = fn
	}
}

// New creates a Watcher for dir publishing onto b.
func New(dir string, b *bus.Bus, opts ...Option) *Watcher {
	w := &Watcher{
		dir:           dir,
		bus:           b,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		settle:        500 * time.Millisecond,
		clipPoll:      time.Second,
		readClipboard: clipboard.ReadAll,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until the context is cancelled. The downloads watcher and
// the clipboard poller run side by side.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching downloads", "dir", w.dir)

	go w.pollClipboard(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !isCandidate(event.Name) {
				continue
			}
			// Settle in its own goroutine so a slow writer does not
			// stall other events.
			go w.settleAndReport(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// settleAndReport waits until the file's size holds steady across two
// samples, then publishes it as a completed download.
func (w *Watcher) settleAndReport(ctx context.Context, path string) {
	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.settle):
		}
		info, err := os.Stat(path)
		if err != nil {
			// Renamed away or deleted mid-download.
			return
		}
		if info.Size() == lastSize {
			break
		}
		lastSize = info.Size()
	}

	mimeType := groq.MIMEFromExtension(path)
	w.logger.Info("download completed", "file", filepath.Base(path), "size", lastSize)
	if err := w.bus.Send(bus.DownloadCompleted{Path: path, Size: lastSize, MIMEType: mimeType}); err != nil {
		w.logger.Warn("dropped download event", "error", err)
	}
}

// pollClipboard offers newly copied non-URL text as chat context.
// URL-looking text is left alone for the transcribe-intent flow.
func (w *Watcher) pollClipboard(ctx context.Context) {
	var last string
	ticker := time.NewTicker(w.clipPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		text, err := w.readClipboard()
		if err != nil || text == last {
			continue
		}
		last = text
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || looksLikeURL(trimmed) {
			continue
		}
		if err := w.bus.Send(bus.SetSelectedText{Text: trimmed}); err != nil {
			w.logger.Warn("dropped selection event", "error", err)
		}
	}
}

// isCandidate filters out partial files and names with no audio
// extension before any stat work happens.
func isCandidate(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return groq.IsSupportedFilename(path)
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
