// Package orchestrator owns the transcription state machine and the
// chat turn flow. It consumes typed events from the bus, drives the
// bridge and the Groq clients, persists every state move through the
// store, and pushes notifications back toward UIs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"hearsay/bridge"
	"hearsay/bus"
	"hearsay/groq"
	"hearsay/store"
)

// SystemPrompt is prepended to every chat completion request. It is
// never persisted in the chat history.
const SystemPrompt = "You are a helpful assistant called Mark, you are an expert in the field of the swedish rental market and law"

// Orchestrator is the core event-loop service.
type Orchestrator struct {
	store   store.Store
	bus     *bus.Bus
	bridges *bridge.Manager
	logger  *slog.Logger

	groqOpts []groq.ClientOption

	// Monotonic source of pending-operation IDs.
	nextID atomic.Int64
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithGroqOptions forwards options to every Groq client the
// orchestrator creates (base URL overrides in tests).
func WithGroqOptions(opts ...groq.ClientOption) Option {
	return func(o *Orchestrator) {
		o.groqOpts = opts
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator wired to its collaborators.
func New(s store.Store, b *bus.Bus, bridges *bridge.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   s,
		bus:     b,
		bridges: bridges,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes bus events until the context is cancelled or the bus
// closes. Events are handled one at a time; there is never more than
// one transcription or chat turn in flight.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-o.bus.Events():
			if !ok {
				return
			}
			o.handle(ctx, event)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, event bus.Event) {
	switch e := event.(type) {
	case bus.DownloadCompleted:
		o.handleDownloadCompleted(e)
	case bus.TranscribeIntent:
		o.handleTranscribeIntent(e)
	case bus.StartTranscription:
		o.handleStart(e)
	case bus.CancelTranscription:
		o.handleCancel(e)
	case bus.CloseBridge:
		o.bridges.Close()
	case bus.AudioFetched:
		o.handleAudioFetched(ctx, e)
	case bus.AudioFetchError:
		o.handleAudioFetchError(e)
	case bus.ClipboardText:
		o.handleClipboardText(e)
	case bus.ClipboardReadError:
		o.fail(e.Message)
	case bus.SendChatMessage:
		o.handleChat(ctx, e)
	case bus.SetSelectedText:
		if err := o.store.SetSelectedText(e.Text); err != nil {
			o.logger.Error("failed to store selected text", "error", err)
		}
	default:
		o.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", event))
	}
}

// handleDownloadCompleted records a fresh pending operation when the
// file qualifies as audio, silently replacing any previous one.
func (o *Orchestrator) handleDownloadCompleted(e bus.DownloadCompleted) {
	if !groq.IsSupportedMIMEType(e.MIMEType) && !groq.IsSupportedFilename(e.Path) {
		o.logger.Debug("ignoring non-audio download", "path", e.Path, "mime", e.MIMEType)
		return
	}

	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	tr.SetPending(store.PendingDownload{
		DownloadID: o.nextID.Add(1),
		Filename:   filepath.Base(e.Path),
		URL:        e.Path,
		FileSize:   e.Size,
		MIME:       e.MIMEType,
	})
	if err := o.store.SaveTranscription(tr); err != nil {
		o.logger.Error("failed to persist pending download", "error", err)
		return
	}
	o.logger.Info("audio download detected", "file", tr.Pending.Filename, "id", tr.Pending.DownloadID)
	o.bus.Notify(bus.StateChanged{})
}

// handleTranscribeIntent handles the explicit "transcribe this" action:
// a direct URL when one is known, otherwise the clipboard is read and
// its reply arrives as a ClipboardText or ClipboardReadError event.
// Either way transcription starts immediately, without a confirmation
// step.
func (o *Orchestrator) handleTranscribeIntent(e bus.TranscribeIntent) {
	if e.DirectURL != "" {
		o.startFromURL(e.DirectURL)
		return
	}

	br, err := o.bridges.Get()
	if err != nil {
		o.bus.Send(bus.ClipboardReadError{Message: fmt.Sprintf("Could not access the clipboard: %v", err)})
		return
	}
	text, err := br.ReadClipboard()
	if err != nil {
		o.bus.Send(bus.ClipboardReadError{Message: clipboardErrorMessage(err)})
		return
	}
	o.bus.Send(bus.ClipboardText{Text: text})
}

// handleClipboardText validates the clipboard reply and starts the
// transcription when it holds an http(s) URL.
func (o *Orchestrator) handleClipboardText(e bus.ClipboardText) {
	target := strings.TrimSpace(e.Text)
	if !isHTTPURL(target) {
		o.fail(fmt.Sprintf("Clipboard does not contain a valid audio URL: %q", truncate(target, 80)))
		return
	}
	o.startFromURL(target)
}

// startFromURL records a URL-sourced pending operation and launches it.
func (o *Orchestrator) startFromURL(target string) {
	if !isHTTPURL(target) {
		o.fail(fmt.Sprintf("Not a valid audio URL: %q", truncate(target, 80)))
		return
	}
	pending := store.PendingDownload{
		DownloadID:  o.nextID.Add(1),
		Filename:    filepath.Base(mustParse(target).Path),
		URL:         target,
		IsURLSource: true,
	}
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	tr.SetPending(pending)
	if err := o.store.SaveTranscription(tr); err != nil {
		o.logger.Error("failed to persist pending operation", "error", err)
		return
	}
	o.bus.Notify(bus.StateChanged{})

	o.beginTranscription(pending)
}

// handleStart confirms the pending operation. Starts are idempotent:
// anything but a matching pending_user_action record is ignored.
func (o *Orchestrator) handleStart(e bus.StartTranscription) {
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	if tr.State != store.StatePendingUserAction || tr.Pending == nil || tr.Pending.DownloadID != e.DownloadID {
		o.logger.Debug("ignoring stale start", "id", e.DownloadID, "state", string(tr.State))
		return
	}
	o.beginTranscription(*tr.Pending)
}

// handleCancel abandons whatever is pending or in flight and clears
// every persisted transcription field. Cancelling when nothing is
// active is a no-op.
func (o *Orchestrator) handleCancel(e bus.CancelTranscription) {
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	if tr.State == store.StateNone {
		return
	}
	if err := o.store.ClearTranscription(); err != nil {
		o.logger.Error("failed to clear transcription state", "error", err)
		return
	}
	o.logger.Info("transcription cancelled", "id", e.DownloadID)
	o.bus.Notify(bus.StateChanged{})
}

// beginTranscription moves a pending operation into loading, then
// fetching, and hands the actual byte retrieval to the bridge. The
// bridge replies with an AudioFetched or AudioFetchError event, which
// carries the pending ID so late replies for a cancelled or replaced
// operation are discarded.
func (o *Orchestrator) beginTranscription(pending store.PendingDownload) {
	o.setState(store.StateLoading, &pending)

	br, err := o.bridges.Get()
	if err != nil {
		o.fail(fmt.Sprintf("Could not prepare the audio fetcher: %v", err))
		return
	}
	o.setState(store.StateFetching, &pending)

	go o.fetchAudio(br, pending)
}

// fetchAudio retrieves the audio bytes off the event loop: remote
// sources through the bridge, local downloads from disk.
func (o *Orchestrator) fetchAudio(br *bridge.Bridge, pending store.PendingDownload) {
	var data []byte
	var contentType string
	var err error

	if pending.IsURLSource || isHTTPURL(pending.URL) {
		var res bridge.FetchResult
		res, err = br.FetchAudio(context.Background(), pending.URL)
		if err != nil {
			err = fmt.Errorf("could not fetch the audio file: %w", err)
		}
		data, contentType = res.Data, res.ContentType
	} else {
		data, err = os.ReadFile(pending.URL)
		if err != nil {
			err = fmt.Errorf("could not read the downloaded file: %w", err)
		}
	}

	if err != nil {
		o.bus.Send(bus.AudioFetchError{DownloadID: pending.DownloadID, Message: err.Error()})
		return
	}
	o.bus.Send(bus.AudioFetched{
		DownloadID:  pending.DownloadID,
		EncodedData: bridge.EncodeAudio(data),
		ContentType: contentType,
	})
}

// handleAudioFetched finishes the pipeline: transcribing, then the API
// call, then the complete record. Replies that no longer match the
// in-flight operation are dropped.
func (o *Orchestrator) handleAudioFetched(ctx context.Context, e bus.AudioFetched) {
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	if tr.State != store.StateFetching || tr.Pending == nil || tr.Pending.DownloadID != e.DownloadID {
		o.logger.Debug("dropping stale fetch reply", "id", e.DownloadID, "state", string(tr.State))
		return
	}
	pending := *tr.Pending
	o.setState(store.StateTranscribing, &pending)

	data, err := bridge.DecodeAudio(e.EncodedData)
	if err != nil {
		o.fail(fmt.Sprintf("Audio payload was corrupted in transit: %v", err))
		return
	}

	mimeType, err := groq.ResolveMIMEType(e.ContentType, pending.MIME, pending.Filename)
	if err != nil {
		o.fail(fmt.Sprintf("Unsupported audio format for %q", pending.Filename))
		return
	}

	cfg, err := o.store.Config()
	if err != nil {
		o.fail(fmt.Sprintf("Could not read configuration: %v", err))
		return
	}
	if cfg.APIKey == "" {
		o.fail("Groq API key is not configured. Run `hearsay config` first.")
		return
	}
	client, err := groq.NewClient(cfg.APIKey, o.groqOpts...)
	if err != nil {
		o.fail(fmt.Sprintf("Could not create the Groq client: %v", err))
		return
	}

	resp, err := client.Transcribe(ctx, &groq.TranscribeRequest{
		Audio:    data,
		MIMEType: mimeType,
	})
	if err != nil {
		o.fail(fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	tr, err = o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	tr.SetComplete(resp.Text)
	if err := o.store.SaveTranscription(tr); err != nil {
		o.logger.Error("failed to persist transcription result", "error", err)
		return
	}
	o.logger.Info("transcription complete", "chars", len(resp.Text))
	o.bus.Notify(bus.StateChanged{})
	o.bus.Notify(bus.TranscriptionComplete{Text: resp.Text})
}

// handleAudioFetchError records the failure unless the reply is stale.
func (o *Orchestrator) handleAudioFetchError(e bus.AudioFetchError) {
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	if tr.State != store.StateFetching || tr.Pending == nil || tr.Pending.DownloadID != e.DownloadID {
		o.logger.Debug("dropping stale fetch error", "id", e.DownloadID)
		return
	}
	o.fail(e.Message)
}

// handleChat runs one streaming chat turn. The persisted history is
// rewritten wholesale after a successful turn; a failed turn leaves it
// untouched.
func (o *Orchestrator) handleChat(ctx context.Context, e bus.SendChatMessage) {
	cfg, err := o.store.Config()
	if err != nil {
		o.bus.Notify(bus.ChatError{Message: fmt.Sprintf("Could not read configuration: %v", err)})
		return
	}
	if cfg.APIKey == "" {
		o.bus.Notify(bus.ChatError{Message: "Groq API key is not configured. Run `hearsay config` first."})
		return
	}
	client, err := groq.NewClient(cfg.APIKey, o.groqOpts...)
	if err != nil {
		o.bus.Notify(bus.ChatError{Message: err.Error()})
		return
	}

	model := e.Model
	if model == "" {
		model = cfg.ModelOrDefault()
	}

	messages := make([]groq.ChatMessage, 0, len(e.Messages)+1)
	messages = append(messages, groq.ChatMessage{Role: groq.RoleSystem, Text: SystemPrompt})
	messages = append(messages, e.Messages...)

	full, err := client.StreamChat(ctx, &groq.ChatRequest{Model: model, Messages: messages}, func(chunk string) {
		o.bus.Notify(bus.ChatChunk{Text: chunk})
	})
	if err != nil {
		o.logger.Error("chat turn failed", "error", err)
		o.bus.Notify(bus.ChatError{Message: err.Error()})
		return
	}

	history := append([]groq.ChatMessage{}, e.Messages...)
	history = append(history, groq.ChatMessage{Role: groq.RoleAssistant, Text: full})
	if err := o.store.SaveChatHistory(history); err != nil {
		o.logger.Error("failed to persist chat history", "error", err)
	}
	o.bus.Notify(bus.ChatStreamEnd{FullResponse: full})
}

// ResetChat clears the persisted history wholesale.
func (o *Orchestrator) ResetChat() error {
	if err := o.store.SaveChatHistory(nil); err != nil {
		return fmt.Errorf("failed to reset chat history: %w", err)
	}
	o.bus.Notify(bus.StateChanged{})
	return nil
}

// setState moves the transcription record to a transient pipeline state
// while keeping the pending operation attached.
func (o *Orchestrator) setState(state store.State, pending *store.PendingDownload) {
	tr := store.Transcription{State: state, Pending: pending}
	if err := o.store.SaveTranscription(tr); err != nil {
		o.logger.Error("failed to persist state", "state", string(state), "error", err)
		return
	}
	o.bus.Notify(bus.StateChanged{})
}

// fail records a terminal error state with a human-readable message.
func (o *Orchestrator) fail(message string) {
	tr, err := o.store.Transcription()
	if err != nil {
		o.logger.Error("failed to load transcription state", "error", err)
		return
	}
	tr.SetError(message)
	if err := o.store.SaveTranscription(tr); err != nil {
		o.logger.Error("failed to persist error state", "error", err)
		return
	}
	o.logger.Warn("transcription failed", "message", message)
	o.bus.Notify(bus.StateChanged{})
}

func clipboardErrorMessage(err error) string {
	switch {
	case errors.Is(err, bridge.ErrClipboardEmpty):
		return "The clipboard is empty. Copy an audio URL first."
	case errors.Is(err, bridge.ErrClipboardUnavailable):
		return "Clipboard access is unavailable on this system."
	default:
		return fmt.Sprintf("Could not read the clipboard: %v", err)
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
