// Package store persists hearsay's state: the API key and model choice,
// chat history, the single pending transcription, and the one-shot
// selection scratch value. The backing document is a flat key namespace
// with last-write-wins semantics and no transactions.
package store

import (
	"hearsay/groq"
)

// State is the transcription state machine tag.
type State string

const (
	StateNone              State = "none"
	StatePendingUserAction State = "pending_user_action"
	StateLoading           State = "loading"
	StateFetching          State = "fetching"
	StateTranscribing      State = "transcribing"
	StateComplete          State = "complete"
	StateError             State = "error"
)

// PendingDownload describes the single in-flight transcription source.
// Creating a new one overwrites any previous record.
type PendingDownload struct {
	DownloadID  int64  `json:"downloadId"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MIME        string `json:"mime,omitempty"`
	IsURLSource bool   `json:"isUrlSource,omitempty"`
}

// Transcription is the persisted transcription key group. The tagged
// state decides which optional fields are meaningful: Result is set
// only in StateComplete and Error only in StateError.
type Transcription struct {
	State   State
	Result  string
	Error   string
	Pending *PendingDownload
}

// SetPending records a fresh pending operation awaiting user action.
func (t *Transcription) SetPending(p PendingDownload) {
	t.State = StatePendingUserAction
	t.Pending = &p
	t.Result = ""
	t.Error = ""
}

// SetComplete finalizes a successful transcription and clears the
// pending operation.
func (t *Transcription) SetComplete(result string) {
	t.State = StateComplete
	t.Result = result
	t.Error = ""
	t.Pending = nil
}

// SetError records a failure and clears the pending operation.
func (t *Transcription) SetError(message string) {
	t.State = StateError
	t.Error = message
	t.Result = ""
	t.Pending = nil
}

// Config is the configuration key group.
type Config struct {
	APIKey string
	Model  string
}

// ModelOrDefault returns the configured chat model, falling back to the
// package default.
func (c Config) ModelOrDefault() string {
	if c.Model == "" {
		return groq.DefaultChatModel
	}
	return c.Model
}

// Store is the injected repository the orchestrator and UI share. Each
// method is an atomic read or write of one key group.
type Store interface {
	Config() (Config, error)
	SaveConfig(Config) error

	Transcription() (Transcription, error)
	SaveTranscription(Transcription) error
	// ClearTranscription removes every transcription key, returning the
	// state machine to none.
	ClearTranscription() error

	ChatHistory() ([]groq.ChatMessage, error)
	SaveChatHistory([]groq.ChatMessage) error

	SetSelectedText(text string) error
	// TakeSelectedText consumes the selection scratch value: it is
	// deleted on read and the second return reports whether one existed.
	TakeSelectedText() (string, bool, error)
}
