// Package bus carries typed events between the orchestrator and its
// peers (UI, watcher, bridge callbacks). Every event is an explicit
// variant rather than a stringly-typed action field; sends are
// fire-and-forget and never block the sender.
package bus

import (
	"errors"

	"hearsay/groq"
	"hearsay/store"
)

// Event is anything sent to the orchestrator.
type Event interface {
	Event()
}

// Notification is anything pushed from the orchestrator to UIs.
type Notification interface {
	Notification()
}

// --- Events (inbound to the orchestrator) ---

// DownloadCompleted reports a finished download of a candidate audio file.
type DownloadCompleted struct {
	Path     string
	Size     int64
	MIMEType string
}

// TranscribeIntent is the context-menu analog: a direct URL when one is
// known, otherwise the clipboard is consulted.
type TranscribeIntent struct {
	DirectURL string
}

// StartTranscription confirms the pending operation with the given ID.
type StartTranscription struct {
	DownloadID int64
}

// CancelTranscription abandons the pending operation.
type CancelTranscription struct {
	DownloadID int64
}

// CloseBridge asks for a best-effort teardown of the fetch/clipboard helper.
type CloseBridge struct{}

// SendChatMessage submits a user turn for streaming completion.
type SendChatMessage struct {
	Model    string
	Messages []groq.ChatMessage
}

// SetSelectedText stores captured selection text as one-shot chat context.
type SetSelectedText struct {
	Text string
}

// AudioFetched is the bridge's reply to a fetch: the payload travels
// base64-encoded so it survives any text transport unchanged.
type AudioFetched struct {
	DownloadID  int64
	EncodedData string
	ContentType string
}

// AudioFetchError is the bridge's failure reply to a fetch.
type AudioFetchError struct {
	DownloadID int64
	Message    string
}

// ClipboardText is the bridge's reply to a transcribe-intent clipboard
// read.
type ClipboardText struct {
	Text string
}

// ClipboardReadError is the bridge's failure reply to a clipboard read.
type ClipboardReadError struct {
	Message string
}

func (DownloadCompleted) Event()   {}
func (TranscribeIntent) Event()    {}
func (StartTranscription) Event()  {}
func (CancelTranscription) Event() {}
func (CloseBridge) Event()         {}
func (SendChatMessage) Event()     {}
func (SetSelectedText) Event()     {}
func (AudioFetched) Event()        {}
func (AudioFetchError) Event()     {}
func (ClipboardText) Event()       {}
func (ClipboardReadError) Event()  {}

// --- Notifications (outbound to UIs) ---

// StateChanged signals that persisted state moved; receivers re-pull the
// full state from the store rather than trusting a partial payload.
type StateChanged struct{}

// TranscriptionComplete carries the finished transcript text.
type TranscriptionComplete struct {
	Text string
}

// ChatChunk is one streamed delta of the in-flight assistant turn.
type ChatChunk struct {
	Text string
}

// ChatStreamEnd finalizes the turn with the full accumulated response.
type ChatStreamEnd struct {
	FullResponse string
}

// ChatError reports a failed chat turn.
type ChatError struct {
	Message string
}

func (StateChanged) Notification()          {}
func (TranscriptionComplete) Notification() {}
func (ChatChunk) Notification()             {}
func (ChatStreamEnd) Notification()         {}
func (ChatError) Notification()             {}

// ErrBusFull is returned when a channel's buffer is exhausted; the
// event is dropped rather than blocking the producer.
var ErrBusFull = errors.New("bus channel is full")

// Bus wires the two directions together.
type Bus struct {
	events        chan Event
	notifications chan Notification
}

// New creates a Bus with generous buffers; chat streams can burst many
// chunk notifications between UI frames.
func New() *Bus {
	return &Bus{
		events:        make(chan Event, 64),
		notifications: make(chan Notification, 256),
	}
}

// Send delivers an event to the orchestrator.
func (b *Bus) Send(event Event) error {
	select {
	case b.events <- event:
		return nil
	default:
		return ErrBusFull
	}
}

// Notify pushes a notification toward the UI.
func (b *Bus) Notify(n Notification) error {
	select {
	case b.notifications <- n:
		return nil
	default:
		return ErrBusFull
	}
}

// Events is the orchestrator's receive side.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// Notifications is the UI's receive side.
func (b *Bus) Notifications() <-chan Notification {
	return b.notifications
}

// Close tears both channels down.
func (b *Bus) Close() {
	close(b.events)
	close(b.notifications)
}

// Snapshot is the full pull-model state a UI renders from; bundled here
// so every consumer re-pulls the same way on StateChanged.
type Snapshot struct {
	Config        store.Config
	Transcription store.Transcription
	History       []groq.ChatMessage
}

// PullSnapshot loads a consistent-enough view of the store (individual
// group reads are atomic, the combination is best-effort by design).
func PullSnapshot(s store.Store) (Snapshot, error) {
	cfg, err := s.Config()
	if err != nil {
		return Snapshot{}, err
	}
	tr, err := s.Transcription()
	if err != nil {
		return Snapshot{}, err
	}
	history, err := s.ChatHistory()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Config: cfg, Transcription: tr, History: history}, nil
}
