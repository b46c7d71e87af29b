package app

import (
	"context"
	"fmt"

	"github.com/1ureka/tablink/internal/config"
	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/rtc"
	"github.com/1ureka/tablink/internal/tcp"
	"github.com/1ureka/tablink/internal/util"
)

// Client owns a participant's single outbound connection to the host.
type Client struct {
	conn.Connection
	done chan struct{}
	err  error // why the connection ended, readable after done closes
}

// NewClient builds the client connection for cfg without starting it, so
// listeners can be attached first.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	var c conn.Connection

	switch cfg.Transport {
	case config.TransportTCP:
		opts, err := tcpOptions(cfg)
		if err != nil {
			return nil, err
		}
		tc, err := tcp.Dial(ctx, cfg.Addr, opts)
		if err != nil {
			return nil, err
		}
		c = tc

	case config.TransportWebRTC:
		opts, err := rtcOptions(cfg)
		if err != nil {
			return nil, err
		}
		c = rtc.NewInitiator(cfg.WSURL, cfg.ID, cfg.HostID, opts)

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	cl := &Client{Connection: c, done: make(chan struct{})}
	c.OnDisconnect(func(id string, err error) {
		cl.err = err
		util.Stats.RemoveConn()
		close(cl.done)
	})
	return cl, nil
}

// Start connects to the host. Its failure is also reported on Done.
func (cl *Client) Start(ctx context.Context) error {
	util.Stats.AddConn()
	if err := cl.Connection.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	util.LogSuccess("[%s] connected to host", cl.ID())
	return nil
}

// Done is closed when the connection ends for any reason.
func (cl *Client) Done() <-chan struct{} { return cl.done }

// Err returns why the connection ended: nil for a local close. Valid after
// Done closes.
func (cl *Client) Err() error { return cl.err }
