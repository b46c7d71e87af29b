package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/tablink/internal/util"
)

// Listener accepts participant sockets and wraps each as a Conn.
type Listener struct {
	ln   net.Listener
	opts Options
}

// Listen starts listening on addr (e.g. ":7400", or "127.0.0.1:0" for a
// random port).
func Listen(addr string, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	opts.ID = "" // every accepted socket gets its own identity
	return &Listener{ln: ln, opts: opts}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting. Connections already accepted stay open.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts sockets until ctx is cancelled or the listener is closed,
// handing each unstarted Conn to handle on its own goroutine. It returns nil
// on a normal shutdown.
func (l *Listener) Serve(ctx context.Context, handle func(*Conn)) error {
	// Close the listener when context is done so Accept() returns an error.
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	util.LogInfo("accepting participants on %s", l.ln.Addr())

	for {
		sock, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil // normal shutdown
			}
			return fmt.Errorf("accept error: %w", err)
		}

		c := New(sock, l.opts)
		util.LogDebug("[%s] new socket from %s", c.ID(), sock.RemoteAddr())
		go handle(c)
	}
}
