package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/source"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second

	wsTypeExtract  = "extract"
	wsTypeResponse = "extract_response"
	wsTypeError    = "error"
)

// WebSocketExtractRequest asks for one extraction. Image holds base64 or a
// data URL.
type WebSocketExtractRequest struct {
	Type          string   `json:"type"`
	Image         string   `json:"image"`
	Filename      string   `json:"filename,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// WebSocketExtractResponse reports progress and the final result.
type WebSocketExtractResponse struct {
	Type      string           `json:"type"`
	Status    string           `json:"status"` // processing, completed, error
	Progress  float64          `json:"progress,omitempty"`
	Result    *ExtractResponse `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// extractWebSocketHandler serves extractions over a long lived connection.
func (s *Server) extractWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, http.Header{RequestIDHeader: {RequestID(r.Context())}})
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.serveWebSocket(r.Context(), conn)
}

func (s *Server) serveWebSocket(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(s.maxUploadBytes*4/3 + formOverhead)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket closed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage processes one request and writes its responses.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketExtractRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", &requestError{message: fmt.Sprintf("Failed to parse request: %v", err), errType: errTypeInvalidRequest})
		return
	}
	if req.Type != wsTypeExtract {
		s.sendWebSocketError(conn, "", &requestError{message: "Unsupported request type: " + req.Type, errType: errTypeInvalidRequest})
		return
	}

	requestID := uuid.NewString()
	s.sendWebSocketResponse(conn, WebSocketExtractResponse{
		Type:      wsTypeResponse,
		Status:    "processing",
		RequestID: requestID,
	})

	if req.Image == "" {
		s.sendWebSocketError(conn, requestID, errNoImage)
		return
	}
	img, err := source.DecodeBase64(req.Image)
	if err != nil {
		s.sendWebSocketError(conn, requestID, &requestError{message: "Invalid base64 image: " + err.Error(), errType: errTypeDecode})
		return
	}
	if int64(len(img)) > s.maxUploadBytes {
		s.sendWebSocketError(conn, requestID, s.tooLarge())
		return
	}

	threshold := s.extractor.Config().Threshold
	if req.MinConfidence != nil {
		if err := extract.ValidateThreshold(*req.MinConfidence); err != nil {
			s.sendWebSocketError(conn, requestID, classify(err))
			return
		}
		threshold = *req.MinConfidence
	}

	s.sendWebSocketResponse(conn, WebSocketExtractResponse{
		Type:      wsTypeResponse,
		Status:    "processing",
		Progress:  0.5,
		RequestID: requestID,
	})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.runExtraction(ctx, "websocket", img, threshold)
	if err != nil {
		slog.Warn("Extraction failed",
			"error", err,
			"transport", "websocket",
			"request_id", requestID)
		s.sendWebSocketError(conn, requestID, classify(err))
		return
	}

	result := newExtractResponse(res, requestID)
	s.sendWebSocketResponse(conn, WebSocketExtractResponse{
		Type:      wsTypeResponse,
		Status:    "completed",
		Progress:  1.0,
		Result:    result,
		RequestID: requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketExtractResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID string, re *requestError) {
	s.sendWebSocketResponse(conn, WebSocketExtractResponse{
		Type:      wsTypeError,
		Status:    "error",
		Error:     re.message,
		ErrorType: re.errType,
		RequestID: requestID,
	})
}
