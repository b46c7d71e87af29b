package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// loginTimeout bounds the login round trip when ctx has no deadline.
const loginTimeout = 10 * time.Second

// Client is one peer's connection to the relay.
type Client struct {
	ws   *websocket.Conn
	mu   sync.Mutex // serializes writes
	name string
}

// Dial connects to the relay at url, e.g. ws://127.0.0.1:7401/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling relay: %w", err)
	}
	return &Client{ws: ws}, nil
}

// Login registers name with the relay and waits for the verdict. It must be
// called before Listen. A taken name yields ErrLoginRejected.
func (c *Client) Login(ctx context.Context, name string) error {
	if err := c.write(Message{Type: MsgTypeLogin, Source: name}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(loginTimeout)
	}
	c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		var reply Message
		if err := c.ws.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read login reply: %w", err)
		}
		if reply.Type != MsgTypeLogin {
			continue
		}
		if !reply.Success {
			return fmt.Errorf("%w: %q", ErrLoginRejected, name)
		}
		c.name = name
		return nil
	}
}

// Name returns the logged-in name, or "" before Login.
func (c *Client) Name() string { return c.name }

// Send writes msg to the relay with Source set to our name. It is safe for
// concurrent use.
func (c *Client) Send(msg Message) error {
	if c.name == "" {
		return ErrNotLoggedIn
	}
	msg.Source = c.name
	return c.write(msg)
}

func (c *Client) write(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Listen reads messages and hands each to fn on the calling goroutine until
// the socket fails or is closed. It always returns a non-nil error.
func (c *Client) Listen(fn func(Message)) error {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}
		fn(msg)
	}
}

// Close closes the WebSocket, which ends Listen.
func (c *Client) Close() error {
	return c.ws.Close()
}
