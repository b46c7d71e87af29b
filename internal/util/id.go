// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
	"net"

	"github.com/google/uuid"
)

// ConnIDFromConn derives a short connection id from a TCP connection's
// 4-tuple. The value is only used for identification and log prefixes.
func ConnIDFromConn(conn net.Conn) string {
	h := fnv.New32a()
	h.Write([]byte(conn.LocalAddr().String()))
	h.Write([]byte(conn.RemoteAddr().String()))
	return fmt.Sprintf("%08x", h.Sum32())
}

// NewConnID returns a random connection id for links that have no
// socket 4-tuple (negotiated data channels, in-process pipes).
func NewConnID() string {
	return uuid.NewString()
}
