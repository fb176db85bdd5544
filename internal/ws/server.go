// Package ws serves the chat WebSocket endpoint.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// ChatService is what a session needs from the service layer.
type ChatService interface {
	HandleMessage(ctx context.Context, id domain.Identity, chatID, content string) (*service.Turn, error)
	JoinChat(ctx context.Context, id domain.Identity, chatID string) error
}

const sendBuffer = 256

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	svc      ChatService
	auth     *auth.Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// turns tracks in-flight chat turns, which outlive their connection.
	// No turn starts once draining is set.
	mu       sync.Mutex
	draining bool
	turns    sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc ChatService, authn *auth.Authenticator, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		svc:    svc,
		auth:   authn,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket authenticates the request, upgrades it and starts the
// connection's reader, worker and writer.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	id, err := s.auth.Authenticate(req.Context(), req)
	if err != nil {
		if domain.IsAuthentication(err) {
			s.logger.Info("websocket authentication failed", "remote", c.RealIP(), "error", err)
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Authentication failed"})
		}
		s.logger.Error("websocket identity lookup failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return nil
	}

	conn := hub.NewConnection(ws, id, sendBuffer)
	if !s.hub.Register(conn) {
		ws.Close()
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	sess := newSession(s, conn, context.WithoutCancel(req.Context()))
	s.logger.Info("websocket connected", "conn_id", conn.ID, "identity", id.String())

	go s.writePump(conn)
	go sess.run()
	go s.readPump(sess)

	return nil
}

// beginTurn registers a turn unless the server is draining.
func (s *Server) beginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.turns.Add(1)
	return true
}

// Wait stops new turns from starting and blocks until in-flight turns
// finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump reads frames from the socket into the session queue.
func (s *Server) readPump(sess *session) {
	conn := sess.conn
	defer func() {
		sess.close()
		s.hub.Unregister(conn)
		conn.Close()
		s.logger.Info("websocket disconnected", "conn_id", conn.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		sess.accept(message)
	}
}

// writePump writes queued frames to the socket and keeps it alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
