// Package hub tracks live chat connections and the conversation rooms they joined.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Hub manages all WebSocket connections and rooms.
type Hub struct {
	logger *slog.Logger
	broker Broker

	// Connections indexed by connection ID
	connections map[string]*Connection

	// Rooms maps a conversation id to the connections that joined it
	rooms map[string]map[string]*Connection

	// Channels for registration/unregistration
	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	mu sync.RWMutex
}

// New creates a Hub. A nil broker selects the in-process broker.
func New(broker Broker, logger *slog.Logger) *Hub {
	if broker == nil {
		broker = NewLocalBroker(256)
	}
	return &Hub{
		logger:      logger,
		broker:      broker,
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and room deliveries until ctx is cancelled.
// On return every remaining connection's send queue is closed.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.broker.Run(ctx, h.deliver)
	})
	g.Go(func() error {
		h.loop(ctx)
		return nil
	})
	return g.Wait()
}

func (h *Hub) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID, "identity", conn.Identity.String())

		case conn := <-h.unregister:
			h.remove(conn)
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.connections {
		conn.CloseSend()
		delete(h.connections, id)
	}
	h.rooms = make(map[string]map[string]*Connection)
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	for room, members := range h.rooms {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	conn.CloseSend()
}

// Register registers a connection with the hub. It returns false if the hub
// has stopped.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection from the hub and its rooms and closes its send queue.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.CloseSend()
	}
}

// RoomKey names the room of one owner's conversation. Conversation ids are
// unique per owner only, so the owner is part of the key.
func RoomKey(ownerID, chatID string) string {
	return ownerID + "/" + chatID
}

// Join adds conn to room.
func (h *Hub) Join(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Connection)
	}
	h.rooms[room][conn.ID] = conn
}

// Leave removes conn from room.
func (h *Hub) Leave(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast publishes data to every member of room except the connection
// with id except (which may be empty).
func (h *Hub) Broadcast(ctx context.Context, room, except string, data []byte) error {
	return h.broker.Publish(ctx, RoomMessage{Room: room, Except: except, Data: data})
}

// deliver hands a broker message to the local members of its room.
func (h *Hub) deliver(msg RoomMessage) {
	h.mu.RLock()
	members := make([]*Connection, 0, len(h.rooms[msg.Room]))
	for id, conn := range h.rooms[msg.Room] {
		if id != msg.Except {
			members = append(members, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range members {
		if err := conn.Enqueue(msg.Data); err == ErrBufferFull {
			h.logger.Warn("connection buffer full, closing", "conn_id", conn.ID)
			go h.Unregister(conn)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func newID() string {
	return uuid.New().String()
}
