package store

import (
	"sync"

	"hearsay/groq"
)

// MemoryStore is an in-memory Store used by tests and by deterministic
// orchestrator runs that must not touch the filesystem.
type MemoryStore struct {
	mu            sync.Mutex
	config        Config
	transcription Transcription
	history       []groq.ChatMessage
	selectedText  string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transcription: Transcription{State: StateNone}}
}

func (s *MemoryStore) Config() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *MemoryStore) SaveConfig(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	return nil
}

func (s *MemoryStore) Transcription() (Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcription, nil
}

func (s *MemoryStore) SaveTranscription(t Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcription = t
	return nil
}

func (s *MemoryStore) ClearTranscription() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcription = Transcription{State: StateNone}
	return nil
}

func (s *MemoryStore) ChatHistory() ([]groq.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]groq.ChatMessage, len(s.history))
	copy(history, s.history)
	return history, nil
}

func (s *MemoryStore) SaveChatHistory(history []groq.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]groq.ChatMessage, len(history))
	copy(s.history, history)
	return nil
}

func (s *MemoryStore) SetSelectedText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedText = text
	return nil
}

func (s *MemoryStore) TakeSelectedText() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.selectedText
	if text == "" {
		return "", false, nil
	}
	s.selectedText = ""
	return text, true, nil
}
