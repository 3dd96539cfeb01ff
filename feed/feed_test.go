package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hearsay/bus"
)

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	s := NewServer(nil)
	conn := dialTestServer(t, s)

	// Registration is asynchronous with the HTTP handshake.
	waitForClients(t, s, 1)

	s.Broadcast(Frame{Action: ActionChatChunk, Text: "hej"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.Action != ActionChatChunk || frame.Text != "hej" {
		t.Errorf("frame mismatch: %+v", frame)
	}
}

func TestFrameFor(t *testing.T) {
	cases := []struct {
		name string
		in   bus.Notification
		want Frame
		ok   bool
	}{
		{"state changed", bus.StateChanged{}, Frame{Action: ActionStateChanged}, true},
		{"chunk", bus.ChatChunk{Text: "a"}, Frame{Action: ActionChatChunk, Text: "a"}, true},
		{"stream end", bus.ChatStreamEnd{FullResponse: "ab"}, Frame{Action: ActionChatStreamEnd, Text: "ab"}, true},
		{"chat error", bus.ChatError{Message: "boom"}, Frame{Action: ActionChatError, Error: "boom"}, true},
		{"complete", bus.TranscriptionComplete{Text: "done"}, Frame{Action: ActionTranscriptionComplete, Text: "done"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FrameFor(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Errorf("FrameFor(%#v) = %+v, %v", tc.in, got, ok)
			}
		})
	}
}

func TestDisconnectedClientRemoved(t *testing.T) {
	s := NewServer(nil)
	conn := dialTestServer(t, s)
	waitForClients(t, s, 1)

	conn.Close()
	waitForClients(t, s, 0)

	// Broadcasting into an empty room must not panic or block.
	s.Broadcast(Frame{Action: ActionStateChanged})
}

func TestMirrorTranslatesNotifications(t *testing.T) {
	s := NewServer(nil)
	conn := dialTestServer(t, s)
	waitForClients(t, s, 1)

	b := bus.New()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Mirror(ctx, b.Notifications())

	b.Notify(bus.TranscriptionComplete{Text: "klart"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.Action != ActionTranscriptionComplete || frame.Text != "klart" {
		t.Errorf("frame mismatch: %+v", frame)
	}
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d", want)
}
