// Package feed serves the daemon's local WebSocket event feed. Bus
// notifications are mirrored to every connected UI client as JSON
// frames; a client that cannot keep up is dropped rather than allowed
// to block the broadcast.
package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hearsay/bus"
)

// Frame action names on the wire.
const (
	ActionStateChanged          = "updatePopupState"
	ActionChatChunk             = "addAiChatChunk"
	ActionChatStreamEnd         = "endAiChatStream"
	ActionChatError             = "chatError"
	ActionTranscriptionComplete = "transcriptionComplete"
)

// Frame is one JSON message pushed to feed clients.
type Frame struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed binds to localhost only; any local origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server broadcasts notifications to WebSocket clients.
type Server struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

// NewServer creates a feed Server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Frame, 64)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("feed client connected", "clients", count)

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) writeLoop(c *client) {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(frame); err != nil {
			s.drop(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop exists only to notice disconnects; clients never send.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// Broadcast sends a frame to every connected client. A full client
// buffer means the client is dropped; the broadcast never blocks.
func (s *Server) Broadcast(frame Frame) {
	s.mu.Lock()
	var stale []*client
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()
	for _, c := range stale {
		s.logger.Warn("dropping slow feed client")
		s.drop(c)
	}
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Mirror consumes bus notifications and broadcasts their frame
// equivalents until the context ends or the channel closes.
func (s *Server) Mirror(ctx context.Context, notifications <-chan bus.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if frame, ok := FrameFor(n); ok {
				s.Broadcast(frame)
			}
		}
	}
}

// FrameFor maps a bus notification to its wire frame. The second
// return is false for notifications that have no feed representation.
func FrameFor(n bus.Notification) (Frame, bool) {
	switch v := n.(type) {
	case bus.StateChanged:
		return Frame{Action: ActionStateChanged}, true
	case bus.ChatChunk:
		return Frame{Action: ActionChatChunk, Text: v.Text}, true
	case bus.ChatStreamEnd:
		return Frame{Action: ActionChatStreamEnd, Text: v.FullResponse}, true
	case bus.ChatError:
		return Frame{Action: ActionChatError, Error: v.Message}, true
	case bus.TranscriptionComplete:
		return Frame{Action: ActionTranscriptionComplete, Text: v.Text}, true
	default:
		return Frame{}, false
	}
}

// DecodeFrame parses a frame received by a feed client.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}
