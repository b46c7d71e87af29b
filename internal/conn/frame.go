package conn

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/1ureka/tablink/internal/util"
)

// LengthSize is the size of the big-endian frame length prefix.
const LengthSize = 4

// progressChunk is the granularity of activity notifications. Frames are
// written and read in pieces of this size so progress can be reported on
// large transfers.
const progressChunk = 16 * 1024

// WriteFrame writes one already-encoded frame body to w, prefixed with its
// length. Activity listeners see a start, one progress event per chunk, and a
// completion event. Each chunk is written under writeMu and none is written
// once the connection is stopping; WriteFrame then returns ErrClosed.
func (c *Core) WriteFrame(w io.Writer, body []byte) error {
	total := len(body)
	if total > c.maxFrame || uint64(total) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, total, c.maxFrame)
	}

	var header [LengthSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(total))

	c.NotifyActivity(Outbound, PhaseStart, total, 0)
	if err := c.writeChunk(w, header[:]); err != nil {
		return err
	}

	for sent := 0; sent < total; {
		end := min(sent+progressChunk, total)
		if err := c.writeChunk(w, body[sent:end]); err != nil {
			return err
		}
		sent = end
		c.NotifyActivity(Outbound, PhaseProgress, total, sent)
	}

	util.Stats.AddSent(LengthSize + total)
	util.Stats.FrameSent()
	c.NotifyActivity(Outbound, PhaseComplete, total, total)
	return nil
}

// writeChunk writes p unless the connection is stopping.
func (c *Core) writeChunk(w io.Writer, p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.stopped.Load() {
		return ErrClosed
	}
	_, err := w.Write(p)
	return err
}

// ReadFrame blocks until one complete frame has been read from r, then
// decodes it. A short read, a closed stream, an oversized length prefix or an
// undecodable body are all returned as errors; the stream is unusable after
// any of them.
func (c *Core) ReadFrame(r io.Reader) ([]byte, error) {
	var header [LengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	total := int(binary.BigEndian.Uint32(header[:]))
	if total > c.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, total, c.maxFrame)
	}

	c.NotifyActivity(Inbound, PhaseStart, total, 0)

	body := make([]byte, total)
	for read := 0; read < total; {
		end := min(read+progressChunk, total)
		n, err := io.ReadFull(r, body[read:end])
		read += n
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("short frame (%d of %d bytes): %w", read, total, err)
		}
		c.NotifyActivity(Inbound, PhaseProgress, total, read)
	}

	payload, err := c.codec.Decode(body)
	if err != nil {
		return nil, err
	}

	util.Stats.AddRecv(LengthSize + total)
	util.Stats.FrameRecv()
	c.NotifyActivity(Inbound, PhaseComplete, total, total)
	return payload, nil
}
