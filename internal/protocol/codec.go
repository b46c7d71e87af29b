// Package protocol implements the payload codec used on every frame: a
// one-byte compression tag followed by the compressed payload.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm a payload was compressed with. The
// value is written as the first byte of every encoded payload, so it is a
// wire constant.
type Compression uint8

const (
	CompressionZstd Compression = 0x01 // zstd, default level
	CompressionLZ4  Compression = 0x02 // uvarint original size, then lz4 frame format
)

// TagSize is the number of bytes the compression tag occupies.
const TagSize = 1

var (
	// ErrCorruptPayload is returned when an encoded payload cannot be
	// decompressed back to its original bytes.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrUnknownCompression is returned for an unrecognised compression tag.
	ErrUnknownCompression = errors.New("unknown compression")
)

// String returns the human-readable name of a compression tag.
func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as used in config files and flags.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// Codec compresses payloads with one algorithm and decompresses payloads
// produced with any supported algorithm. A Codec holds no per-call state and
// is safe for concurrent use.
type Codec struct {
	tag Compression
}

// NewCodec returns a Codec that encodes with the given algorithm.
func NewCodec(tag Compression) (*Codec, error) {
	switch tag {
	case CompressionZstd, CompressionLZ4:
		return &Codec{tag: tag}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(tag))
	}
}

// Default is the codec used by Encode and Decode.
var Default = &Codec{tag: CompressionZstd}

// Encode compresses payload with the default codec.
func Encode(payload []byte) ([]byte, error) { return Default.Encode(payload) }

// Decode reverses Encode.
func Decode(data []byte) ([]byte, error) { return Default.Decode(data) }

// Compression reports the algorithm used for encoding.
func (c *Codec) Compression() Compression { return c.tag }

// Encode compresses payload and prefixes the compression tag.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	out := []byte{byte(c.tag)}

	switch c.tag {
	case CompressionZstd:
		return zstdEncoder.EncodeAll(payload, out), nil

	case CompressionLZ4:
		// The lz4 frame reader treats a stream cut at a block boundary as a
		// clean EOF, so the original size travels ahead of the frame.
		out = binary.AppendUvarint(out, uint64(len(payload)))
		buf := bytes.NewBuffer(out)
		w := lz4.NewWriter(buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c.tag))
	}
}

// Decode reads the compression tag and decompresses the rest. The result is
// either the complete original payload or an error; partial output is never
// returned.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if len(data) < TagSize {
		return nil, fmt.Errorf("%w: missing compression tag", ErrCorruptPayload)
	}

	body := data[TagSize:]
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrCorruptPayload)
	}

	switch Compression(data[0]) {
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptPayload, err)
		}
		return out, nil

	case CompressionLZ4:
		size, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, fmt.Errorf("%w: lz4: bad size header", ErrCorruptPayload)
		}
		r := io.LimitReader(lz4.NewReader(bytes.NewReader(body[n:])), int64(size)+1)
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptPayload, err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("%w: lz4: decoded %d of %d bytes", ErrCorruptPayload, len(out), size)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownCompression, data[0])
	}
}

// zstdEncoder and zstdDecoder are shared across calls. EncodeAll and
// DecodeAll are safe for concurrent use and keep no state between calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true), // empty payloads still produce a decodable frame
	)
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}
