package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/mailer"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/logging"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	"github.com/xiaot623/gogo/chatrelay/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *hub.Hub) {
	return newTestHandlerWithModels(t, "mock")
}

func newTestHandlerWithModels(t *testing.T, offered ...string) (*Handler, *hub.Hub) {
	t.Helper()
	logger := logging.Discard()
	cfg := &config.Config{HistoryMode: domain.HistoryModeFull}
	gateway := service.NewModelGateway(llm.NewMockClient(offered...), "mock", time.Second, logger)
	svc := service.New(helpers.NewTestSQLiteStore(t), gateway, auth.NewTokenManager("secret", time.Hour), &mailer.Recorder{}, nil, cfg, logger)

	h := hub.New(nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewHandler(svc, h), h
}

func TestHealth(t *testing.T) {
	e := echo.New()
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, handler.Health(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["model"])
	assert.EqualValues(t, 0, body["connections"])
}

func TestHealthReportsMissingModel(t *testing.T) {
	e := echo.New()
	handler, _ := newTestHandlerWithModels(t, "other-model")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	require.NoError(t, handler.Health(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Contains(t, body["model"], "mock")
}

func TestSendToRoom(t *testing.T) {
	e := echo.New()
	handler, h := newTestHandler(t)

	conn := hub.NewConnection(nil, domain.Anonymous(), 4)
	require.True(t, h.Register(conn))
	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	h.Join(conn, hub.RoomKey("u1", "c1"))

	body := `{"userId":"u1","chatId":"c1","event":{"event":"llm-response","data":{"chatId":"c1","message":"hi"}}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/send", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler.Send(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"delivered":true}`, rec.Body.String())

	select {
	case frame := <-conn.Send():
		assert.JSONEq(t, `{"event":"llm-response","data":{"chatId":"c1","message":"hi"}}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSendToEmptyRoom(t *testing.T) {
	e := echo.New()
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/send", bytes.NewBufferString(`{"userId":"u1","chatId":"nobody","event":{"event":"joined"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, handler.Send(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"delivered":false}`, rec.Body.String())
}

func TestSendValidation(t *testing.T) {
	e := echo.New()
	handler, _ := newTestHandler(t)

	for _, body := range []string{`{"userId":"u1","event":{"event":"x"}}`, `{"userId":"u1","chatId":"c1"}`, `{"chatId":"c1","event":{"event":"x"}}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/internal/send", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		require.NoError(t, handler.Send(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSendIsScopedToOwner(t *testing.T) {
	e := echo.New()
	handler, h := newTestHandler(t)

	conn := hub.NewConnection(nil, domain.Anonymous(), 4)
	require.True(t, h.Register(conn))
	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	h.Join(conn, hub.RoomKey("u2", "c1"))

	req := httptest.NewRequest(http.MethodPost, "/internal/send", bytes.NewBufferString(`{"userId":"u1","chatId":"c1","event":{"event":"joined"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, handler.Send(e.NewContext(req, rec)))
	assert.JSONEq(t, `{"ok":true,"delivered":false}`, rec.Body.String())

	select {
	case frame := <-conn.Send():
		t.Fatalf("unexpected frame for another owner: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}
