package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Handshake runs over a freshly connected socket before the loops start.
// Both peers must use the same Handshake.
type Handshake func(rw io.ReadWriter) error

// NoHandshake always succeeds without touching the socket.
func NoHandshake(io.ReadWriter) error { return nil }

// helloMagic and helloVersion make up the 5-byte greeting of HelloHandshake.
var helloMagic = []byte("TBL1")

const helloVersion = 0x01

// ErrHandshake is returned when the peer's greeting does not match ours.
var ErrHandshake = errors.New("handshake mismatch")

// HelloHandshake writes a fixed greeting and checks that the peer sent the
// same one. Either side may write first; the greeting fits in one segment.
func HelloHandshake(rw io.ReadWriter) error {
	hello := append(append([]byte(nil), helloMagic...), helloVersion)

	errCh := make(chan error, 1)
	go func() {
		_, err := rw.Write(hello)
		errCh <- err
	}()

	peer := make([]byte, len(hello))
	if _, err := io.ReadFull(rw, peer); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}

	if !bytes.Equal(peer, hello) {
		return fmt.Errorf("%w: got %q", ErrHandshake, peer)
	}
	return nil
}
