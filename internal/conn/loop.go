package conn

import (
	"fmt"
	"io"
)

// SendLoop is the outbound goroutine body. It drains the multiplexer in
// scheduling order, writing each frame to w, and otherwise sleeps until a
// message is enqueued or the connection stops. A write error is reported via
// Fail and ends the loop.
func (c *Core) SendLoop(w io.Writer) {
	for {
		for {
			frame, ok := c.mux.DequeueNext()
			if !ok {
				break
			}
			if c.stopped.Load() {
				return
			}

			if err := c.WriteFrame(w, frame); err != nil {
				if c.stopped.Load() {
					return
				}
				c.Fail(fmt.Errorf("write frame: %w", err))
				return
			}
		}

		select {
		case <-c.mux.Signal():
		case <-c.stop:
			return
		}
	}
}

// ReceiveLoop is the inbound goroutine body. It reads frames from r and
// dispatches them in arrival order until the stream fails.
func (c *Core) ReceiveLoop(r io.Reader) {
	for {
		payload, err := c.ReadFrame(r)
		if err != nil {
			if c.stopped.Load() {
				// Expected: Close tore the stream down under us.
				return
			}
			c.Fail(fmt.Errorf("read frame: %w", err))
			return
		}
		c.Dispatch(payload)
	}
}
