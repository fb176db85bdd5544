package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/logging"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New(nil, logging.Discard())
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
	return h, cancel
}

func receive(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case b, ok := <-c.Send():
		require.True(t, ok, "send queue closed")
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestRegisterJoinBroadcast(t *testing.T) {
	h, _ := startHub(t)

	a := NewConnection(nil, domain.Anonymous(), 4)
	b := NewConnection(nil, domain.Anonymous(), 4)
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))
	require.Eventually(t, func() bool { return h.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	h.Join(a, "room1")
	h.Join(b, "room1")
	assert.Equal(t, 1, h.RoomCount())
	assert.Equal(t, 2, h.RoomSize("room1"))

	require.NoError(t, h.Broadcast(context.Background(), "room1", a.ID, []byte(`{"event":"x"}`)))
	assert.JSONEq(t, `{"event":"x"}`, string(receive(t, b)))

	select {
	case <-a.Send():
		t.Fatal("excluded connection received the broadcast")
	case <-time.After(50 * time.Millisecond):
	}

	h.Leave(b, "room1")
	assert.Equal(t, 1, h.RoomSize("room1"))
}

func TestUnregisterClosesSendAndLeavesRooms(t *testing.T) {
	h, _ := startHub(t)

	a := NewConnection(nil, domain.Anonymous(), 1)
	require.True(t, h.Register(a))
	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	h.Join(a, "room1")

	h.Unregister(a)
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.RoomCount())

	_, ok := <-a.Send()
	assert.False(t, ok)
	assert.ErrorIs(t, a.Enqueue([]byte("late")), ErrClosed)

	// closing twice is harmless
	a.CloseSend()
}

func TestEnqueueBufferFull(t *testing.T) {
	c := NewConnection(nil, domain.Anonymous(), 1)
	require.NoError(t, c.Enqueue([]byte("1")))
	assert.ErrorIs(t, c.Enqueue([]byte("2")), ErrBufferFull)
}

func TestJoinIgnoresUnregistered(t *testing.T) {
	h, _ := startHub(t)
	c := NewConnection(nil, domain.Anonymous(), 1)
	h.Join(c, "room1")
	assert.Equal(t, 0, h.RoomCount())
}

func TestRunClosesConnectionsOnShutdown(t *testing.T) {
	h := New(nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	c := NewConnection(nil, domain.Anonymous(), 1)
	require.True(t, h.Register(c))
	cancel()
	<-done

	_, ok := <-c.Send()
	assert.False(t, ok)
	assert.False(t, h.Register(NewConnection(nil, domain.Anonymous(), 1)))
}

func TestDecodeRoomMessage(t *testing.T) {
	msg, err := decodeRoomMessage("chatrelay:room:", "chatrelay:room:abc", `{"except":"c1","data":{"event":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.Room)
	assert.Equal(t, "c1", msg.Except)
	assert.JSONEq(t, `{"event":"x"}`, string(msg.Data))

	_, err = decodeRoomMessage("p:", "p:x", "nope")
	assert.Error(t, err)
}
