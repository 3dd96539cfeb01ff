// Package groq provides a Go client for the Groq OpenAI-compatible API.
// It supports batch audio transcription (Whisper models) and streaming
// chat completions.
package groq

import (
	"encoding/json"
	"fmt"
)

// Model IDs for the Groq API
const (
	ModelWhisperLargeV3      = "whisper-large-v3"
	ModelWhisperLargeV3Turbo = "whisper-large-v3-turbo"

	ModelLlama33Versatile = "llama-3.3-70b-versatile"
	ModelLlama31Instant   = "llama-3.1-8b-instant"

	// ModelLlamaVision is the only model that accepts image content parts.
	ModelLlamaVision = "llama-3.2-90b-vision-preview"
)

// DefaultChatModel is used when no model has been configured.
const DefaultChatModel = ModelLlama33Versatile

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscribeRequest represents the configuration for a transcription request
type TranscribeRequest struct {
	// Audio is the raw audio payload to upload.
	Audio []byte

	// MIMEType is the resolved audio MIME type. It must be one of the
	// supported set (see ResolveMIMEType); the upload filename is derived
	// from it so the API can sniff the container format.
	MIMEType string

	// Model is the model ID to use. Defaults to whisper-large-v3-turbo.
	Model string

	// Language is an optional ISO-639-1 language code.
	Language string
}

// TranscribeResponse represents the verbose_json response from the
// transcription endpoint.
type TranscribeResponse struct {
	// Text is the full transcribed text.
	Text string `json:"text"`

	// Language is the detected language, when reported.
	Language string `json:"language,omitempty"`

	// Duration is the audio duration in seconds, when reported.
	Duration float64 `json:"duration,omitempty"`

	// Segments contains timed transcript segments.
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is a timed portion of a transcript.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ImageURL carries an image reference for multi-part content. Data URLs
// are accepted, which is how attached images travel.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ChatMessage is a single entry in a conversation. Content is either
// plain text (Text) or multi-part (Parts); Parts wins when non-empty.
// ContextUsed marks user messages that carried attached transcript or
// selection context. It is persisted with the history but stripped from
// the wire format.
type ChatMessage struct {
	Role        string
	Text        string
	Parts       []ContentPart
	ContextUsed bool
}

// chatMessageJSON is the storage/wire shape: content is a string or an
// array of parts, matching the OpenAI message format.
type chatMessageJSON struct {
	Role        string          `json:"role"`
	Content     json.RawMessage `json:"content"`
	ContextUsed bool            `json:"contextUsed,omitempty"`
}

// MarshalJSON encodes Content as a bare string for plain messages and as
// a part array for multi-part ones.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if len(m.Parts) > 0 {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(chatMessageJSON{
		Role:        m.Role,
		Content:     content,
		ContextUsed: m.ContextUsed,
	})
}

// UnmarshalJSON accepts both content encodings.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw chatMessageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.ContextUsed = raw.ContextUsed
	m.Text = ""
	m.Parts = nil
	if len(raw.Content) == 0 {
		return nil
	}
	if raw.Content[0] == '[' {
		return json.Unmarshal(raw.Content, &m.Parts)
	}
	return json.Unmarshal(raw.Content, &m.Text)
}

// HasImage reports whether the message carries an image part.
func (m ChatMessage) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == "image_url" {
			return true
		}
	}
	return false
}

// PlainText returns the text content of the message, joining the text
// parts of a multi-part message.
func (m ChatMessage) PlainText() string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// wireMessage is what actually goes to the API: role and content only.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func (m ChatMessage) toWire() wireMessage {
	if len(m.Parts) > 0 {
		return wireMessage{Role: m.Role, Content: m.Parts}
	}
	return wireMessage{Role: m.Role, Content: m.Text}
}

// ChatRequest represents a streaming chat completion request.
type ChatRequest struct {
	// Model is the chat model ID. Defaults to DefaultChatModel.
	Model string

	// Messages is the ordered conversation history, oldest first.
	Messages []ChatMessage
}

// APIError represents an error response from the Groq API
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("groq: %s (%s, status %d)", e.Message, e.Type, e.StatusCode)
	}
	return fmt.Sprintf("groq: %s (status %d)", e.Message, e.StatusCode)
}

// apiErrorEnvelope is the JSON error wrapper the API returns.
type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
