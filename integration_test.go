//go:build integration
// +build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hearsay/bridge"
	"hearsay/bus"
	"hearsay/groq"
	"hearsay/orchestrator"
	"hearsay/store"
	"hearsay/watch"
)

// TestIntegration_DownloadToTranscript runs the real pipeline: a file
// landing in a watched directory, through the orchestrator, against a
// stub Groq server, down to the persisted transcript.
func TestIntegration_DownloadToTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "integration transcript"})
	}))
	defer server.Close()

	t.Setenv("HEARSAY_HOME", t.TempDir())
	s, err := store.Open()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.SaveConfig(store.Config{APIKey: "gsk_integration"})

	b := bus.New()
	bridges := bridge.NewManager(bridge.WithClipboardReader(func() (string, error) { return "", nil }))
	orch := orchestrator.New(s, b, bridges, orchestrator.WithGroqOptions(groq.WithBaseURL(server.URL)))

	downloads := t.TempDir()
	watcher := watch.New(downloads, b,
		watch.WithSettleInterval(20*time.Millisecond),
		watch.WithClipboardPoll(time.Hour),
		watch.WithClipboardReader(func() (string, error) { return "", nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)
	go watcher.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(downloads, "episode.mp3"), make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}

	// Wait for the pending record, confirm it, wait for completion.
	pendingID := waitForState(t, s, store.StatePendingUserAction)
	b.Send(bus.StartTranscription{DownloadID: pendingID})
	waitForState(t, s, store.StateComplete)

	tr, _ := s.Transcription()
	if tr.Result != "integration transcript" || tr.Pending != nil {
		t.Fatalf("unexpected final record: %+v", tr)
	}
}

func waitForState(t *testing.T, s store.Store, want store.State) int64 {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		tr, err := s.Transcription()
		if err != nil {
			t.Fatal(err)
		}
		if tr.State == want {
			if tr.Pending != nil {
				return tr.Pending.DownloadID
			}
			return 0
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("state never reached %q", want)
	return 0
}
