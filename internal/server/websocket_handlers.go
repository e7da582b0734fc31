package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/docstream/internal/pipeline"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should check against allowed origins
		return true
	},
}

// WebSocketRequest submits a document over a text message. Binary messages
// carry the raw document bytes instead.
type WebSocketRequest struct {
	Type string `json:"type"` // "document"
	Data []byte `json:"data"` // base64 in JSON
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketError is sent when a request fails.
type WebSocketError struct {
	Type      string `json:"type"`
	ErrorType string `json:"error_type"`
	Error     string `json:"error"`
	Hash      string `json:"hash,omitempty"`
}

// documentWebSocketHandler streams page events for documents sent over a
// WebSocket. Documents on one connection are processed one at a time.
func (s *Server) documentWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

type wsMessage struct {
	messageType int
	data        []byte
}

// handleWebSocketConnection reads requests on a separate goroutine so a
// closed connection cancels the document in progress.
func (s *Server) handleWebSocketConnection(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	conn.SetReadLimit(s.maxUploadMB * 1024 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	messages := make(chan wsMessage)
	go func() {
		defer cancel()
		defer close(messages)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Error("WebSocket error", "error", err)
				}
				return
			}
			websocketMessagesTotal.WithLabelValues("received").Inc()
			select {
			case messages <- wsMessage{messageType: messageType, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			data, err := decodeWebSocketRequest(msg)
			if err != nil {
				s.sendWebSocketError(conn, "invalid_request", err.Error(), "")
				continue
			}
			if !s.streamWebSocketDocument(ctx, conn, data) {
				return
			}
		}
	}
}

func decodeWebSocketRequest(msg wsMessage) ([]byte, error) {
	switch msg.messageType {
	case websocket.BinaryMessage:
		if len(msg.data) == 0 {
			return nil, errors.New("no document data provided")
		}
		return msg.data, nil
	case websocket.TextMessage:
		var req WebSocketRequest
		if err := json.Unmarshal(msg.data, &req); err != nil {
			return nil, fmt.Errorf("failed to parse request: %w", err)
		}
		if req.Type != "document" {
			return nil, fmt.Errorf("unsupported request type: %q", req.Type)
		}
		if len(req.Data) == 0 {
			return nil, errors.New("no document data provided")
		}
		return req.Data, nil
	default:
		return nil, errors.New("unsupported message type")
	}
}

// streamWebSocketDocument sends every event of one document. It reports
// false when the connection is no longer writable.
func (s *Server) streamWebSocketDocument(parent context.Context, conn WebSocketConnWriter, data []byte) bool {
	uploadSizeBytes.Observe(float64(len(data)))
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	stats := &streamStats{}
	for ev, err := range s.pipeline.Stream(ctx, data) {
		if err != nil {
			stats.fail(ctx.Err() != nil)
			hash := ""
			var docErr *pipeline.DocumentError
			if errors.As(err, &docErr) {
				hash = docErr.Hash
			}
			return s.sendWebSocketError(conn, "processing_error", err.Error(), hash)
		}
		stats.observe(ev)
		if !s.sendWebSocketJSON(conn, ev) {
			return false
		}
	}
	return true
}

func (s *Server) sendWebSocketJSON(conn WebSocketConnWriter, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message, hash string) bool {
	return s.sendWebSocketJSON(conn, WebSocketError{
		Type:      "error",
		ErrorType: errorType,
		Error:     message,
		Hash:      hash,
	})
}
