package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hearsay/groq"
)

// document is the on-disk shape: one flat JSON object whose keys match
// the historical storage namespace.
type document struct {
	GroqAPIKey          string             `json:"groqApiKey,omitempty"`
	SelectedGroqModel   string             `json:"selectedGroqModel,omitempty"`
	ChatHistory         []groq.ChatMessage `json:"chatHistory,omitempty"`
	PendingDownload     *PendingDownload   `json:"pendingDownload,omitempty"`
	TranscriptionState  State              `json:"transcriptionState,omitempty"`
	TranscriptionResult string             `json:"transcriptionResult,omitempty"`
	TranscriptionError  string             `json:"transcriptionError,omitempty"`
	LastSelectedText    string             `json:"lastSelectedText,omitempty"`
}

// FileStore persists the document as JSON under the hearsay home
// directory. A single mutex serializes access; concurrent writers get
// last-write-wins, matching the storage model this replaces.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// StatePath returns the state file location: $HEARSAY_HOME/state.json
// when the override is set, ~/.hearsay/state.json otherwise.
func StatePath() (string, error) {
	var dir string
	if home := os.Getenv("HEARSAY_HOME"); home != "" {
		dir = home
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(homeDir, ".hearsay")
	}
	return filepath.Join(dir, "state.json"), nil
}

// Open creates a FileStore at the default state path, creating the
// directory if needed.
func Open() (*FileStore, error) {
	path, err := StatePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path: %w", err)
	}
	return OpenPath(path)
}

// OpenPath creates a FileStore at an explicit location.
func OpenPath(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// update loads, mutates, and saves the document under the lock.
func (s *FileStore) update(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(doc)
}

func (s *FileStore) Config() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Config{}, err
	}
	return Config{APIKey: doc.GroqAPIKey, Model: doc.SelectedGroqModel}, nil
}

func (s *FileStore) SaveConfig(cfg Config) error {
	return s.update(func(doc *document) {
		doc.GroqAPIKey = cfg.APIKey
		doc.SelectedGroqModel = cfg.Model
	})
}

func (s *FileStore) Transcription() (Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Transcription{}, err
	}
	return transcriptionFromDoc(doc), nil
}

func (s *FileStore) SaveTranscription(t Transcription) error {
	return s.update(func(doc *document) {
		doc.TranscriptionState = t.State
		doc.TranscriptionResult = t.Result
		doc.TranscriptionError = t.Error
		doc.PendingDownload = t.Pending
	})
}

func (s *FileStore) ClearTranscription() error {
	return s.update(func(doc *document) {
		doc.TranscriptionState = ""
		doc.TranscriptionResult = ""
		doc.TranscriptionError = ""
		doc.PendingDownload = nil
	})
}

func (s *FileStore) ChatHistory() ([]groq.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.ChatHistory, nil
}

func (s *FileStore) SaveChatHistory(history []groq.ChatMessage) error {
	return s.update(func(doc *document) {
		doc.ChatHistory = history
	})
}

func (s *FileStore) SetSelectedText(text string) error {
	return s.update(func(doc *document) {
		doc.LastSelectedText = text
	})
}

func (s *FileStore) TakeSelectedText() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	text := doc.LastSelectedText
	if text == "" {
		return "", false, nil
	}
	doc.LastSelectedText = ""
	if err := s.save(doc); err != nil {
		return "", false, err
	}
	return text, true, nil
}

func transcriptionFromDoc(doc *document) Transcription {
	state := doc.TranscriptionState
	if state == "" {
		state = StateNone
	}
	return Transcription{
		State:   state,
		Result:  doc.TranscriptionResult,
		Error:   doc.TranscriptionError,
		Pending: doc.PendingDownload,
	}
}
