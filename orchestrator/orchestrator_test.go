package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hearsay/bridge"
	"hearsay/bus"
	"hearsay/groq"
	"hearsay/store"
)

type fixture struct {
	store *store.MemoryStore
	bus   *bus.Bus
	orch  *Orchestrator
}

// newFixture wires an orchestrator against a memory store, a fake
// clipboard, and the given Groq API server, and starts its event loop.
func newFixture(t *testing.T, groqURL string, clipboardText string) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	s.SaveConfig(store.Config{APIKey: "gsk_test"})

	b := bus.New()
	manager := bridge.NewManager(bridge.WithClipboardReader(func() (string, error) {
		return clipboardText, nil
	}))

	orch := New(s, b, manager, WithGroqOptions(groq.WithBaseURL(groqURL)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orch.Run(ctx)

	return &fixture{store: s, bus: b, orch: orch}
}

// waitFor drains notifications until pred accepts one.
func waitFor(t *testing.T, b *bus.Bus, pred func(bus.Notification) bool) bus.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-b.Notifications():
			if pred(n) {
				return n
			}
		case <-deadline:
			t.Fatal("timed out waiting for notification")
			return nil
		}
	}
}

func isComplete(n bus.Notification) bool {
	_, ok := n.(bus.TranscriptionComplete)
	return ok
}

func isStateChanged(n bus.Notification) bool {
	_, ok := n.(bus.StateChanged)
	return ok
}

// groqTestServer answers both the transcription and chat endpoints.
func groqTestServer(t *testing.T, transcript string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openai/v1/audio/transcriptions":
			json.NewEncoder(w).Encode(map[string]any{"text": transcript})
		case "/openai/v1/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hej\"}}]}\n\n")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" hej\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestDownloadToCompleteFlow(t *testing.T) {
	server := groqTestServer(t, "two million bytes of swedish radio")
	defer server.Close()

	// A 2 MB mp3 landing in the downloads directory.
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, server.URL, "")
	f.bus.Send(bus.DownloadCompleted{Path: path, Size: 2 * 1024 * 1024, MIMEType: "audio/mpeg"})
	waitFor(t, f.bus, isStateChanged)

	tr, _ := f.store.Transcription()
	if tr.State != store.StatePendingUserAction || tr.Pending == nil {
		t.Fatalf("expected pending_user_action, got %+v", tr)
	}
	if tr.Pending.Filename != "clip.mp3" {
		t.Errorf("pending filename mismatch: %q", tr.Pending.Filename)
	}

	f.bus.Send(bus.StartTranscription{DownloadID: tr.Pending.DownloadID})
	waitFor(t, f.bus, isComplete)

	tr, _ = f.store.Transcription()
	if tr.State != store.StateComplete {
		t.Fatalf("expected complete, got %q (error %q)", tr.State, tr.Error)
	}
	if tr.Result != "two million bytes of swedish radio" {
		t.Errorf("result mismatch: %q", tr.Result)
	}
	if tr.Pending != nil {
		t.Error("pending operation must be cleared on completion")
	}
}

func TestNonAudioDownloadIgnored(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/report.pdf", MIMEType: "application/pdf"})
	// Trigger a state change with a real audio file so we know the
	// first event has been processed.
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/voice.ogg", MIMEType: "audio/ogg"})
	waitFor(t, f.bus, isStateChanged)

	tr, _ := f.store.Transcription()
	if tr.Pending == nil || tr.Pending.Filename != "voice.ogg" {
		t.Fatalf("pdf must not create a pending operation: %+v", tr.Pending)
	}
}

func TestNewDownloadReplacesPending(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/first.mp3", MIMEType: "audio/mpeg"})
	waitFor(t, f.bus, isStateChanged)
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/second.wav", MIMEType: "audio/wav"})
	waitFor(t, f.bus, isStateChanged)

	tr, _ := f.store.Transcription()
	if tr.Pending.Filename != "second.wav" {
		t.Fatalf("expected silent replacement, got %+v", tr.Pending)
	}
}

func TestCancelClearsEverything(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/clip.mp3", MIMEType: "audio/mpeg"})
	waitFor(t, f.bus, isStateChanged)

	tr, _ := f.store.Transcription()
	f.bus.Send(bus.CancelTranscription{DownloadID: tr.Pending.DownloadID})
	waitFor(t, f.bus, isStateChanged)

	tr, _ = f.store.Transcription()
	if tr.State != store.StateNone || tr.Pending != nil || tr.Result != "" || tr.Error != "" {
		t.Fatalf("cancel must clear every field: %+v", tr)
	}

	// A fresh pending operation can be created afterwards.
	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/next.flac", MIMEType: "audio/flac"})
	waitFor(t, f.bus, isStateChanged)
	tr, _ = f.store.Transcription()
	if tr.State != store.StatePendingUserAction || tr.Pending.Filename != "next.flac" {
		t.Fatalf("expected a fresh pending operation: %+v", tr)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")

	// No pending operation at all: start is ignored.
	f.bus.Send(bus.StartTranscription{DownloadID: 99})

	f.bus.Send(bus.DownloadCompleted{Path: "/tmp/clip.mp3", MIMEType: "audio/mpeg"})
	waitFor(t, f.bus, isStateChanged)

	// Mismatched ID: still pending, untouched. The SetSelectedText
	// event behind it proves the loop has drained both.
	f.bus.Send(bus.StartTranscription{DownloadID: 99})
	f.bus.Send(bus.SetSelectedText{Text: "sync point"})
	waitForSelectedText(t, f.store)

	tr, _ := f.store.Transcription()
	if tr.State != store.StatePendingUserAction {
		t.Fatalf("mismatched start must be ignored, got %q", tr.State)
	}
}

// waitForSelectedText polls until the one-shot selection value lands.
func waitForSelectedText(t *testing.T, s store.Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if text, ok, _ := s.TakeSelectedText(); ok && text != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("selected text never arrived")
}

func TestStaleFetchReplyDropped(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")

	// A fetch reply with no matching in-flight operation must not
	// move the state machine.
	f.bus.Send(bus.AudioFetched{DownloadID: 123, EncodedData: "AAAA"})
	f.bus.Send(bus.SetSelectedText{Text: "sync point"})
	waitForSelectedText(t, f.store)

	tr, _ := f.store.Transcription()
	if tr.State != store.StateNone {
		t.Fatalf("stale reply must be dropped, got %q", tr.State)
	}
}

func TestCancelDuringFetchDiscardsLateReply(t *testing.T) {
	server := groqTestServer(t, "never used")
	defer server.Close()

	// An audio server that stalls until released, so cancel lands
	// while the fetch is in flight.
	release := make(chan struct{})
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(make([]byte, 16))
	}))
	defer audio.Close()

	f := newFixture(t, server.URL, audio.URL+"/slow.mp3")
	f.bus.Send(bus.TranscribeIntent{})

	// Wait until the operation is fetching, then cancel and release
	// the stalled response.
	deadline := time.Now().Add(5 * time.Second)
	for {
		tr, _ := f.store.Transcription()
		if tr.State == store.StateFetching {
			f.bus.Send(bus.CancelTranscription{DownloadID: tr.Pending.DownloadID})
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never reached fetching")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	// The late AudioFetched reply must not resurrect the operation.
	f.bus.Send(bus.SetSelectedText{Text: "sync point"})
	waitForSelectedText(t, f.store)
	time.Sleep(50 * time.Millisecond)

	tr, _ := f.store.Transcription()
	if tr.State != store.StateNone {
		t.Fatalf("cancelled operation came back: %+v", tr)
	}
}

func TestMissingAPIKeyFailsBeforeNetwork(t *testing.T) {
	server := groqTestServer(t, "never reached")
	defer server.Close()

	f := newFixture(t, server.URL, "")
	f.store.SaveConfig(store.Config{})

	path := filepath.Join(t.TempDir(), "clip.wav")
	os.WriteFile(path, []byte{1, 2, 3}, 0644)

	f.bus.Send(bus.DownloadCompleted{Path: path, MIMEType: "audio/wav"})
	waitFor(t, f.bus, isStateChanged)
	tr, _ := f.store.Transcription()
	f.bus.Send(bus.StartTranscription{DownloadID: tr.Pending.DownloadID})

	waitFor(t, f.bus, func(n bus.Notification) bool {
		if _, ok := n.(bus.StateChanged); !ok {
			return false
		}
		tr, _ := f.store.Transcription()
		return tr.State == store.StateError
	})

	tr, _ = f.store.Transcription()
	if !strings.Contains(tr.Error, "API key") {
		t.Fatalf("expected API key error, got %q", tr.Error)
	}
}

func TestTranscribeIntentFromClipboardURL(t *testing.T) {
	groqServer := groqTestServer(t, "from the clipboard")
	defer groqServer.Close()

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(make([]byte, 128))
	}))
	defer audio.Close()

	f := newFixture(t, groqServer.URL, audio.URL+"/episode.mp3")
	f.bus.Send(bus.TranscribeIntent{})
	waitFor(t, f.bus, isComplete)

	tr, _ := f.store.Transcription()
	if tr.State != store.StateComplete || tr.Result != "from the clipboard" {
		t.Fatalf("clipboard intent did not complete: %+v", tr)
	}
}

func TestTranscribeIntentRejectsNonURLClipboard(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "just some prose, not a link")
	f.bus.Send(bus.TranscribeIntent{})

	waitFor(t, f.bus, func(n bus.Notification) bool {
		if _, ok := n.(bus.StateChanged); !ok {
			return false
		}
		tr, _ := f.store.Transcription()
		return tr.State == store.StateError
	})

	tr, _ := f.store.Transcription()
	if !strings.Contains(tr.Error, "valid audio URL") {
		t.Fatalf("expected URL validation error, got %q", tr.Error)
	}
}

func TestChatTurnStreamsAndPersists(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hej\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	f := newFixture(t, server.URL, "")
	turn := []groq.ChatMessage{{Role: groq.RoleUser, Text: "hello"}}
	f.bus.Send(bus.SendChatMessage{Messages: turn})

	var chunks []string
	waitFor(t, f.bus, func(n bus.Notification) bool {
		switch v := n.(type) {
		case bus.ChatChunk:
			chunks = append(chunks, v.Text)
			return false
		case bus.ChatStreamEnd:
			if v.FullResponse != "Hej!" {
				t.Errorf("finalized text mismatch: %q", v.FullResponse)
			}
			return true
		case bus.ChatError:
			t.Fatalf("unexpected chat error: %s", v.Message)
			return true
		}
		return false
	})
	if len(chunks) != 2 || chunks[0] != "Hej" || chunks[1] != "!" {
		t.Errorf("chunk sequence mismatch: %v", chunks)
	}

	// The wire request carries the system prompt first.
	if !strings.Contains(string(gotBody), SystemPrompt) {
		t.Error("system prompt missing from the request")
	}

	// Persisted history holds user + assistant, never the system prompt.
	history, _ := f.store.ChatHistory()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Role != groq.RoleUser || history[1].Role != groq.RoleAssistant || history[1].Text != "Hej!" {
		t.Errorf("history mismatch: %+v", history)
	}
}

func TestChatWithoutAPIKey(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")
	f.store.SaveConfig(store.Config{})

	f.bus.Send(bus.SendChatMessage{Messages: []groq.ChatMessage{{Role: groq.RoleUser, Text: "hi"}}})
	n := waitFor(t, f.bus, func(n bus.Notification) bool {
		_, ok := n.(bus.ChatError)
		return ok
	})
	if !strings.Contains(n.(bus.ChatError).Message, "API key") {
		t.Fatalf("expected API key error, got %+v", n)
	}

	if history, _ := f.store.ChatHistory(); len(history) != 0 {
		t.Error("failed turn must not touch history")
	}
}

func TestResetChat(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "")
	f.store.SaveChatHistory([]groq.ChatMessage{
		{Role: groq.RoleUser, Text: "a"},
		{Role: groq.RoleAssistant, Text: "b"},
	})

	if err := f.orch.ResetChat(); err != nil {
		t.Fatalf("ResetChat: %v", err)
	}
	history, _ := f.store.ChatHistory()
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %+v", history)
	}
}
