package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RoomMessage is a frame addressed to a room.
type RoomMessage struct {
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Broker carries room messages to every hub that may hold members of the room.
type Broker interface {
	Publish(ctx context.Context, msg RoomMessage) error
	// Run calls deliver for each message until ctx is cancelled.
	Run(ctx context.Context, deliver func(RoomMessage)) error
}

// LocalBroker delivers within the process.
type LocalBroker struct {
	ch chan RoomMessage
}

// NewLocalBroker creates a LocalBroker with the given queue size.
func NewLocalBroker(size int) *LocalBroker {
	return &LocalBroker{ch: make(chan RoomMessage, size)}
}

func (b *LocalBroker) Publish(ctx context.Context, msg RoomMessage) error {
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Run(ctx context.Context, deliver func(RoomMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.ch:
			deliver(msg)
		}
	}
}

// RedisBroker fans room messages out over Redis pub/sub so that several
// chatrelay instances share rooms.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to the Redis server at url (redis://...).
func NewRedisBroker(ctx context.Context, url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{client: client, prefix: "chatrelay:room:"}, nil
}

func (b *RedisBroker) channel(room string) string {
	return b.prefix + room
}

func (b *RedisBroker) Publish(ctx context.Context, msg RoomMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(msg.Room), payload).Err()
}

func (b *RedisBroker) Run(ctx context.Context, deliver func(RoomMessage)) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := decodeRoomMessage(b.prefix, m.Channel, m.Payload)
			if err != nil {
				continue
			}
			deliver(msg)
		}
	}
}

// Close closes the Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func decodeRoomMessage(prefix, channel, payload string) (RoomMessage, error) {
	var msg RoomMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, err
	}
	if msg.Room == "" {
		msg.Room = strings.TrimPrefix(channel, prefix)
	}
	return msg, nil
}
