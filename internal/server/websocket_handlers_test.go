package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/pipeline"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sentMessages []sentMessage
	failAfter    int
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	if m.failAfter > 0 && len(m.sentMessages) >= m.failAfter {
		return errors.New("connection closed")
	}
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func TestDecodeWebSocketRequest(t *testing.T) {
	tests := []struct {
		name    string
		msg     wsMessage
		want    string
		wantErr string
	}{
		{"binary", wsMessage{websocket.BinaryMessage, []byte("%PDF")}, "%PDF", ""},
		{"empty binary", wsMessage{websocket.BinaryMessage, nil}, "", "no document data"},
		{"json document", wsMessage{websocket.TextMessage, []byte(`{"type":"document","data":"JVBERg=="}`)}, "%PDF", ""},
		{"json wrong type", wsMessage{websocket.TextMessage, []byte(`{"type":"ping"}`)}, "", "unsupported request type"},
		{"json without data", wsMessage{websocket.TextMessage, []byte(`{"type":"document"}`)}, "", "no document data"},
		{"malformed json", wsMessage{websocket.TextMessage, []byte(`{`)}, "", "failed to parse request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeWebSocketRequest(tt.msg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestServer_StreamWebSocketDocument(t *testing.T) {
	t.Run("sends every event", func(t *testing.T) {
		s := newTestServer(t, Deps{})
		conn := &mockWebSocketConn{}

		ok := s.streamWebSocketDocument(context.Background(), conn, []byte("%PDF"))
		require.True(t, ok)
		require.Len(t, conn.sentMessages, 5)
		for _, m := range conn.sentMessages {
			assert.Equal(t, websocket.TextMessage, m.messageType)
		}

		var last pipeline.Event
		require.NoError(t, json.Unmarshal(conn.sentMessages[4].data, &last))
		assert.Equal(t, pipeline.EventDone, last.Type)
		assert.Equal(t, "Hello\fWorld", last.FullText)
	})

	t.Run("document error", func(t *testing.T) {
		streamer := &fakeStreamer{err: &pipeline.DocumentError{Hash: testHash, Err: errors.New("encrypted")}}
		s := newTestServer(t, Deps{Pipeline: streamer})
		conn := &mockWebSocketConn{}

		require.True(t, s.streamWebSocketDocument(context.Background(), conn, []byte("x")))
		require.Len(t, conn.sentMessages, 1)

		var msg WebSocketError
		require.NoError(t, json.Unmarshal(conn.sentMessages[0].data, &msg))
		assert.Equal(t, "error", msg.Type)
		assert.Equal(t, "processing_error", msg.ErrorType)
		assert.Equal(t, testHash, msg.Hash)
		assert.Contains(t, msg.Error, "encrypted")
	})

	t.Run("write failure stops the stream", func(t *testing.T) {
		s := newTestServer(t, Deps{})
		conn := &mockWebSocketConn{failAfter: 2}
		assert.False(t, s.streamWebSocketDocument(context.Background(), conn, []byte("x")))
		assert.Len(t, conn.sentMessages, 2)
	})
}

func dialWebSocket(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/documents"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn, n int) []map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	out := make([]map[string]any, 0, n)
	for range n {
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		out = append(out, m)
	}
	return out
}

func TestServer_WebSocketEndToEnd(t *testing.T) {
	streamer := &fakeStreamer{events: sampleEvents()}
	s := newTestServer(t, Deps{Pipeline: streamer})
	conn := dialWebSocket(t, s)

	// Two documents on one connection: binary, then JSON.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("%PDF one")))
	first := readEvents(t, conn, 5)
	assert.Equal(t, "page", first[0]["type"])
	assert.Equal(t, "done", first[4]["type"])

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: "document", Data: []byte("%PDF two")}))
	second := readEvents(t, conn, 5)
	assert.Equal(t, "done", second[4]["type"])

	require.Equal(t, 2, streamer.calls())
	assert.Equal(t, "%PDF two", string(streamer.received[1]))
}

func TestServer_WebSocketInvalidRequest(t *testing.T) {
	s := newTestServer(t, Deps{})
	conn := dialWebSocket(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown"}`)))
	msgs := readEvents(t, conn, 1)
	assert.Equal(t, "error", msgs[0]["type"])
	assert.Equal(t, "invalid_request", msgs[0]["error_type"])

	// The connection stays usable after a bad request.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("%PDF")))
	msgs = readEvents(t, conn, 5)
	assert.Equal(t, "done", msgs[4]["type"])
}

func TestServer_WebSocketRateLimited(t *testing.T) {
	s := newTestServer(t, Deps{}, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/documents"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
