package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateConnected State = iota
	StateAwaitingMessage
	StateProcessing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the per-connection event dispatcher. Frames accepted by the
// reader are handled one at a time, in order, by run.
type session struct {
	server  *Server
	conn    *hub.Connection
	ctx     context.Context
	inbound chan []byte
	limiter *rate.Limiter

	// room is the joined room key; only the worker touches it.
	room string

	state     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(s *Server, conn *hub.Connection, ctx context.Context) *session {
	sess := &session{
		server:  s,
		conn:    conn,
		ctx:     ctx,
		inbound: make(chan []byte, s.cfg.QueueSize),
		closed:  make(chan struct{}),
	}
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
	}
	return sess
}

// State returns the current state.
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// accept queues a frame from the reader. Frames over the rate limit or
// beyond the queue are answered with an error frame instead.
func (s *session) accept(frame []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.sendError(domain.MsgRateLimited)
		return
	}
	select {
	case s.inbound <- frame:
	case <-s.closed:
	default:
		s.sendError(domain.MsgRateLimited)
	}
}

// close moves the session to Closed. Queued frames are dropped; a turn that
// is already running finishes on its own.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *session) run() {
	s.setState(StateAwaitingMessage)
	defer s.setState(StateClosed)

	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.inbound:
			select {
			case <-s.closed:
				return
			default:
			}
			s.setState(StateProcessing)
			s.handle(frame)
			if s.State() == StateProcessing {
				s.setState(StateAwaitingMessage)
			}
		}
	}
}

func (s *session) handle(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.sendError(domain.MsgInvalidFormat)
		return
	}

	switch env.Event {
	case protocol.EventMessage:
		s.handleMessage(env)
	case protocol.EventJoinChat:
		s.handleJoin(env)
	case protocol.EventDisconnect:
		s.setState(StateClosed)
		s.close()
		s.conn.Close()
	default:
		s.sendError(domain.MsgInvalidFormat)
	}
}

func (s *session) handleMessage(env protocol.Envelope) {
	payload, content, err := protocol.DecodeMessage(env.Data)
	if err != nil {
		s.sendError(domain.MsgInvalidFormat)
		return
	}

	if !s.server.beginTurn() {
		s.sendError(domain.MsgShuttingDown)
		return
	}
	defer s.server.turns.Done()

	turn, err := s.server.svc.HandleMessage(s.ctx, s.conn.Identity, payload.ChatID, content)
	if err != nil {
		s.sendError(s.clientMessage(err, payload.ChatID))
		return
	}

	frame, err := protocol.Encode(protocol.EventLLMResponse, protocol.LLMResponsePayload{
		ChatID:  turn.ConversationID,
		Message: turn.Reply,
	})
	if err != nil {
		s.server.logger.Error("failed to encode response", "error", err)
		s.sendError(domain.MsgProcessingError)
		return
	}
	s.enqueue(frame)

	if s.server.cfg.RoomFanout {
		room := hub.RoomKey(s.conn.Identity.ID(), turn.ConversationID)
		if err := s.server.hub.Broadcast(s.ctx, room, s.conn.ID, frame); err != nil {
			s.server.logger.Warn("room broadcast failed", "chat_id", turn.ConversationID, "error", err)
		}
	}
}

func (s *session) handleJoin(env protocol.Envelope) {
	chatID, err := protocol.DecodeChatID(env.Data)
	if err != nil {
		s.sendError(domain.MsgInvalidFormat)
		return
	}
	if err := s.server.svc.JoinChat(s.ctx, s.conn.Identity, chatID); err != nil {
		s.sendError(s.clientMessage(err, chatID))
		return
	}
	room := hub.RoomKey(s.conn.Identity.ID(), chatID)
	if s.room != "" && s.room != room {
		s.server.hub.Leave(s.conn, s.room)
	}
	s.server.hub.Join(s.conn, room)
	s.room = room
	s.send(protocol.EventJoined, protocol.JoinedPayload{ChatID: chatID})
}

// clientMessage maps err to the text shown to the client. Internal failures
// are logged and replaced by a generic message.
func (s *session) clientMessage(err error, chatID string) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	if errors.Is(err, domain.ErrForbidden) {
		return domain.MsgForbidden
	}
	s.server.logger.Error("failed to process message",
		"conn_id", s.conn.ID,
		"identity", s.conn.Identity.String(),
		"chat_id", chatID,
		"gateway", domain.IsGateway(err),
		"error", err,
	)
	return domain.MsgProcessingError
}

func (s *session) sendError(msg string) {
	s.send(protocol.EventError, protocol.ErrorPayload{Message: msg})
}

func (s *session) send(event string, data interface{}) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		s.server.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	s.enqueue(frame)
}

func (s *session) enqueue(frame []byte) {
	switch err := s.conn.Enqueue(frame); err {
	case nil:
	case hub.ErrClosed:
		s.server.logger.Debug("connection closed, frame dropped", "conn_id", s.conn.ID)
	default:
		s.server.logger.Warn("connection buffer full, closing", "conn_id", s.conn.ID)
		go s.server.hub.Unregister(s.conn)
	}
}
