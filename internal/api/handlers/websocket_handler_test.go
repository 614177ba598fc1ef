package handlers

import (
	"context"
	"net"
	"testing"
	"time"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/forecast"
	"github.com/forecast-agent/backend/internal/storage/models"
)

// streamingService reports one stage, then either returns a result or blocks
// until the caller's context ends.
type streamingService struct {
	block    bool
	started  chan struct{}
	canceled chan error
}

func newStreamingService(block bool) *streamingService {
	return &streamingService{
		block:    block,
		started:  make(chan struct{}, 1),
		canceled: make(chan error, 1),
	}
}

func (s *streamingService) Run(ctx context.Context, req forecast.Request, observer forecast.Observer) (*domain.ForecastResult, error) {
	observer.OnStage(req.RequestID, domain.StageRecord{Stage: "acquiring", At: time.Now()})
	s.started <- struct{}{}

	if s.block {
		<-ctx.Done()
		s.canceled <- ctx.Err()
		return nil, ctx.Err()
	}
	return &domain.ForecastResult{RequestID: req.RequestID, Company: "TCS"}, nil
}

func (s *streamingService) History(context.Context, int) ([]models.ForecastRecord, error) {
	return nil, nil
}

func (s *streamingService) Get(context.Context, string) (*models.ForecastRecord, error) {
	return nil, domain.ErrNotFound
}

func dialForecastSocket(t *testing.T, svc ForecastService) *wsclient.Conn {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(NewWebSocketHandler(svc).HandleConnection))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := wsclient.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketStreamsStagesThenResult(t *testing.T) {
	conn := dialForecastSocket(t, newStreamingService(false))
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "forecast", "company": "TCS", "request_id": "ws-1"}))

	var stage, complete map[string]any
	require.NoError(t, conn.ReadJSON(&stage))
	require.NoError(t, conn.ReadJSON(&complete))

	assert.Equal(t, "stage", stage["type"])
	assert.Equal(t, "ws-1", stage["request_id"])
	assert.Equal(t, "acquiring", stage["stage"])

	assert.Equal(t, "complete", complete["type"])
	result, ok := complete["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ws-1", result["request_id"])
}

func TestWebSocketRejectsInvalidRequest(t *testing.T) {
	conn := dialForecastSocket(t, newStreamingService(false))
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "forecast", "quarters": 40}))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "quarters")
}

func TestWebSocketCloseCancelsRunningForecast(t *testing.T) {
	svc := newStreamingService(true)
	conn := dialForecastSocket(t, svc)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "forecast", "company": "TCS"}))

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("forecast did not start")
	}
	require.NoError(t, conn.Close())

	select {
	case err := <-svc.canceled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("closing the socket did not cancel the forecast")
	}
}
