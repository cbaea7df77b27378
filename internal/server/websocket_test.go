package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sent []WebSocketExtractResponse
}

func (m *mockWebSocketConn) WriteMessage(_ int, data []byte) error {
	var resp WebSocketExtractResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	m.sent = append(m.sent, resp)
	return nil
}

func (m *mockWebSocketConn) last() WebSocketExtractResponse {
	return m.sent[len(m.sent)-1]
}

func wsRequest(t *testing.T, req WebSocketExtractRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestHandleWebSocketMessage(t *testing.T) {
	png := testutil.SamplePNG(t)
	low := 0.85
	bad := 2.0

	tests := []struct {
		name       string
		msg        func(t *testing.T) []byte
		wantStatus string
		wantText   string
		wantErr    string
		wantCount  int
	}{
		{
			name: "extract base64",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "extract", Image: testutil.Base64(png)})
			},
			wantStatus: "completed",
			wantText:   "Hello\nWorld",
			wantCount:  3,
		},
		{
			name: "extract data url with threshold",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "extract", Image: testutil.DataURL("image/png", png), MinConfidence: &low})
			},
			wantStatus: "completed",
			wantText:   "Hello",
			wantCount:  3,
		},
		{
			name:       "malformed json",
			msg:        func(*testing.T) []byte { return []byte("{nope") },
			wantStatus: "error",
			wantErr:    errTypeInvalidRequest,
			wantCount:  1,
		},
		{
			name: "unknown type",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "pdf"})
			},
			wantStatus: "error",
			wantErr:    errTypeInvalidRequest,
			wantCount:  1,
		},
		{
			name: "missing image",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "extract"})
			},
			wantStatus: "error",
			wantCount:  2,
		},
		{
			name: "undecodable image",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "extract", Image: testutil.Base64([]byte("not an image"))})
			},
			wantStatus: "error",
			wantErr:    errTypeDecode,
			wantCount:  3,
		},
		{
			name: "threshold out of range",
			msg: func(t *testing.T) []byte {
				return wsRequest(t, WebSocketExtractRequest{Type: "extract", Image: testutil.Base64(png), MinConfidence: &bad})
			},
			wantStatus: "error",
			wantErr:    errTypeInvalidThreshold,
			wantCount:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, helloWorldStub(), Config{})
			conn := &mockWebSocketConn{}

			s.handleWebSocketMessage(context.Background(), conn, tt.msg(t))

			require.Len(t, conn.sent, tt.wantCount)
			last := conn.last()
			assert.Equal(t, tt.wantStatus, last.Status)
			if tt.wantStatus == "completed" {
				require.NotNil(t, last.Result)
				assert.Equal(t, tt.wantText, last.Result.Text)
				assert.Equal(t, last.RequestID, last.Result.RequestID)
				assert.InDelta(t, 1.0, last.Progress, 1e-9)
				assert.Equal(t, "processing", conn.sent[0].Status)
				return
			}
			assert.Equal(t, wsTypeError, last.Type)
			assert.Equal(t, tt.wantErr, last.ErrorType)
			assert.NotEmpty(t, last.Error)
		})
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/extract"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	require.NoError(t, conn.WriteJSON(WebSocketExtractRequest{
		Type:  "extract",
		Image: testutil.Base64(testutil.SamplePNG(t)),
	}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg WebSocketExtractResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Status == "processing" {
			continue
		}
		require.Equal(t, "completed", msg.Status, msg.Error)
		assert.Equal(t, "Hello\nWorld", msg.Result.Text)
		break
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	s := newTestServer(t, helloWorldStub(), Config{CORSOrigin: "https://app.example"})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/extract"
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, _, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)

	header = map[string][]string{"Origin": {"https://app.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebSocketRecognizerFailureHidesDetails(t *testing.T) {
	stub := helloWorldStub()
	stub.Err = errors.New("session run failed at /models/rec.onnx")
	s := newTestServer(t, stub, Config{})
	conn := &mockWebSocketConn{}

	msg := wsRequest(t, WebSocketExtractRequest{Type: "extract", Image: testutil.Base64(testutil.SamplePNG(t))})
	s.handleWebSocketMessage(context.Background(), conn, msg)

	last := conn.last()
	assert.Equal(t, wsTypeError, last.Type)
	assert.Equal(t, errTypeRecognizer, last.ErrorType)
	assert.Equal(t, recognizerFailedMessage, last.Error)
	assert.NotContains(t, last.Error, "rec.onnx")
}
