package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/forecast"
	"github.com/forecast-agent/backend/internal/middleware/validation"
	"github.com/forecast-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	service   ForecastService
	validator *validation.Validator
}

func NewWebSocketHandler(service ForecastService) *WebSocketHandler {
	return &WebSocketHandler{
		service:   service,
		validator: validation.New(),
	}
}

type wsRequest struct {
	Type string `json:"type"`
	forecast.Request
}

// HandleConnection runs one forecast per "forecast" message and streams each
// stage transition before the final result. Closing the socket cancels the
// forecast in flight.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	stream := &wsStream{conn: c, cancel: cancel}
	requests := make(chan forecast.Request, 1)
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		h.readLoop(ctx, stream, requests)
	}()

	// The connection is recycled once this returns, so the reader must be
	// gone first.
	defer func() {
		cancel()
		c.Close()
		<-readDone
		logger.Info("WebSocket connection closed")
	}()

	for req := range requests {
		if strings.TrimSpace(req.RequestID) == "" {
			req.RequestID = forecast.NewRequestID()
		}

		logger.Info("Processing WebSocket forecast",
			zap.String("request_id", req.RequestID),
			zap.String("company", req.Company),
		)

		if err := h.streamForecast(ctx, stream, req); err != nil {
			logger.Error("Failed to stream forecast", zap.String("request_id", req.RequestID), zap.Error(err))
			break
		}
	}
}

// readLoop owns all reads on the connection. It keeps reading while a
// forecast runs so a close or read error cancels ctx promptly.
func (h *WebSocketHandler) readLoop(ctx context.Context, stream *wsStream, requests chan<- forecast.Request) {
	defer close(requests)
	defer stream.cancel()

	for {
		var msg wsRequest
		if err := stream.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "forecast" {
			continue
		}

		if err := h.validator.Struct(msg.Request); err != nil {
			stream.send(map[string]any{"type": "error", "error": err.Error()})
			continue
		}

		select {
		case requests <- msg.Request:
		default:
			stream.send(map[string]any{"type": "error", "error": "A forecast is already running on this connection"})
		}
	}
}

func (h *WebSocketHandler) streamForecast(ctx context.Context, stream *wsStream, req forecast.Request) error {
	observer := forecast.ObserverFunc(func(requestID string, record domain.StageRecord) {
		stream.send(map[string]any{
			"type":       "stage",
			"request_id": requestID,
			"stage":      record.Stage,
			"detail":     record.Detail,
			"at":         record.At,
		})
	})

	result, err := h.service.Run(ctx, req, observer)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		body := failureBody(err, req.RequestID)
		body["type"] = "error"
		return stream.send(body)
	}

	return stream.send(map[string]any{
		"type":   "complete",
		"result": result,
	})
}

// wsStream serializes writes; stage callbacks may arrive from pipeline
// goroutines. A failed write cancels the connection's forecast.
type wsStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (s *wsStream) send(msg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		logger.Warn("Failed to write WebSocket message", zap.Error(err))
		s.cancel()
		return err
	}
	return nil
}
