package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opera-os/opera/internal/models"
)

// Stream frame types
const (
	frameComplete = "complete"
	framePing     = "ping"
	frameChunk    = "chunk"
	frameDone     = "done"
	frameError    = "error"
	framePong     = "pong"
)

// StreamRequest is a frame sent by the client.
type StreamRequest struct {
	Type        string           `json:"type"` // "complete", "ping"
	RequestID   string           `json:"request_id,omitempty"`
	Messages    []models.Message `json:"messages,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// StreamResponse is a frame sent back to the client. A "done" frame carries
// the full completion in Content.
type StreamResponse struct {
	Type      string `json:"type"` // "chunk", "done", "error", "pong"
	RequestID string `json:"request_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and serves completion requests one
// at a time until the client disconnects. Authentication has already run in
// the middleware, which also accepts ?token= for browsers.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is already open to any origin
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	s.logger.Info("stream connected", "remote", r.RemoteAddr)
	ctx := r.Context()

	for {
		var req StreamRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			s.logger.Debug("stream read ended", "error", err)
			return
		}

		switch req.Type {
		case framePing:
			s.send(ctx, conn, StreamResponse{Type: framePong, RequestID: req.RequestID})
		case frameComplete:
			if !s.streamCompletion(ctx, conn, req) {
				return
			}
		default:
			s.send(ctx, conn, StreamResponse{
				Type:      frameError,
				RequestID: req.RequestID,
				Error:     "unknown message type: " + req.Type,
			})
		}
	}
}

// streamCompletion relays one generation. It returns false once the
// connection is unusable.
func (s *Server) streamCompletion(ctx context.Context, conn *websocket.Conn, req StreamRequest) bool {
	fail := func(msg string) bool {
		return s.send(ctx, conn, StreamResponse{Type: frameError, RequestID: req.RequestID, Error: msg})
	}
	if s.provider == nil {
		return fail("no language model configured")
	}
	if len(req.Messages) == 0 {
		return fail("messages are required")
	}

	opts := models.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	chunks, err := s.provider.Stream(ctx, req.Messages, opts)
	if err != nil {
		s.logger.Warn("stream start failed", "provider", s.provider.Name(), "error", err)
		return fail(err.Error())
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			// Drain so the producer goroutine can exit.
			for range chunks {
			}
			return fail(chunk.Err.Error())
		}
		full.WriteString(chunk.Text)
		if !s.send(ctx, conn, StreamResponse{Type: frameChunk, RequestID: req.RequestID, Content: chunk.Text}) {
			for range chunks {
			}
			return false
		}
	}
	return s.send(ctx, conn, StreamResponse{Type: frameDone, RequestID: req.RequestID, Content: full.String()})
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, resp StreamResponse) bool {
	if err := wsjson.Write(ctx, conn, resp); err != nil {
		s.logger.Debug("stream write failed", "error", err)
		return false
	}
	return true
}
