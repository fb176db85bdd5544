// Package main provides an interactive terminal client for the chat relay.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

var (
	assistantColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	promptColor    = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorColor     = color.New(color.FgRed).SprintFunc()
	infoColor      = color.New(color.FgYellow).SprintFunc()
)

// Client represents a WebSocket chat client.
type Client struct {
	conn *websocket.Conn
	out  io.Writer

	mu     sync.Mutex
	chatID string
}

// Dial connects to the relay. A non-empty token is sent as a bearer header.
func Dial(addr, token string, out io.Writer) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn, out: out}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ChatID returns the conversation the client is talking in.
func (c *Client) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// SetChatID switches the current conversation. Empty starts a new one.
func (c *Client) SetChatID(id string) {
	c.mu.Lock()
	c.chatID = id
	c.mu.Unlock()
}

// Send sends a chat message in the current conversation.
func (c *Client) Send(content string) error {
	frame, err := protocol.Encode(protocol.EventMessage, protocol.MessagePayload{Content: &content, ChatID: c.ChatID()})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Join subscribes to a conversation room.
func (c *Client) Join(chatID string) error {
	frame, err := protocol.Encode(protocol.EventJoinChat, protocol.JoinedPayload{ChatID: chatID})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Disconnect asks the server to end the session.
func (c *Client) Disconnect() error {
	frame, err := protocol.Encode(protocol.EventDisconnect, struct{}{})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadMessages prints server frames until the connection closes.
func (c *Client) ReadMessages() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintln(c.out, errorColor("connection closed: "+err.Error()))
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		fmt.Fprintln(c.out, errorColor("malformed frame: "+string(data)))
		return
	}

	switch env.Event {
	case protocol.EventLLMResponse:
		var p protocol.LLMResponsePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			fmt.Fprintln(c.out, errorColor("malformed response"))
			return
		}
		c.mu.Lock()
		if c.chatID == "" {
			c.chatID = p.ChatID
		}
		current := c.chatID
		c.mu.Unlock()
		if p.ChatID != current {
			fmt.Fprintf(c.out, "%s %s\n", infoColor("["+p.ChatID+"]"), p.Message.Content)
			return
		}
		fmt.Fprintf(c.out, "%s %s\n", assistantColor("Assistant:"), p.Message.Content)
	case protocol.EventJoined:
		var p protocol.JoinedPayload
		_ = json.Unmarshal(env.Data, &p)
		fmt.Fprintln(c.out, infoColor("joined "+p.ChatID))
	case protocol.EventError:
		var p protocol.ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		fmt.Fprintln(c.out, errorColor("error: "+p.Message))
	default:
		fmt.Fprintf(c.out, "[%s] %s\n", env.Event, string(env.Data))
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	token := flag.String("token", "", "Bearer token; empty connects anonymously")
	chat := flag.String("chat", "", "Conversation to continue")
	flag.Parse()

	fmt.Printf("Connecting to %s...\n", *addr)
	client, err := Dial(*addr, *token, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorColor(err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	if *chat != "" {
		client.SetChatID(*chat)
		if err := client.Join(*chat); err != nil {
			fmt.Fprintln(os.Stderr, errorColor(err.Error()))
		}
	}

	fmt.Println(promptColor("Connected."))
	fmt.Println("Type a message and press Enter to send.")
	fmt.Println("Commands: /join <chatId>, /new, /quit")
	fmt.Println()

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		_ = client.Disconnect()
		_ = client.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case input == "/quit":
			_ = client.Disconnect()
			fmt.Println("Bye!")
			return
		case input == "/new":
			client.SetChatID("")
			fmt.Println(infoColor("next message starts a new chat"))
		case strings.HasPrefix(input, "/join "):
			id := strings.TrimSpace(strings.TrimPrefix(input, "/join "))
			client.SetChatID(id)
			if err := client.Join(id); err != nil {
				fmt.Fprintln(os.Stderr, errorColor(err.Error()))
			}
		default:
			if err := client.Send(input); err != nil {
				fmt.Fprintln(os.Stderr, errorColor("send: "+err.Error()))
			}
		}
	}
}
