package protocol_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/1ureka/tablink/internal/protocol"
)

// makeTestData generates deterministic, moderately compressible test data.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

// makeRandomData generates incompressible test data.
func makeRandomData(size int) []byte {
	r := rand.New(rand.NewSource(1))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(r.Intn(256))
	}
	return data
}

func codecs(t *testing.T) map[string]*protocol.Codec {
	t.Helper()
	out := make(map[string]*protocol.Codec)
	for _, tag := range []protocol.Compression{protocol.CompressionZstd, protocol.CompressionLZ4} {
		c, err := protocol.NewCodec(tag)
		if err != nil {
			t.Fatalf("NewCodec(%s) failed: %v", tag, err)
		}
		out[tag.String()] = c
	}
	return out
}

// TestEncodeDecodeRoundTrip verifies that Decode is the exact inverse of
// Encode for every codec and a range of payloads, including the empty one.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []struct {
		name string
		data []byte
	}{
		{"nil payload", nil},
		{"empty payload", []byte{}},
		{"single byte", []byte{0x42}},
		{"short text", []byte("hello world")},
		{"16KB patterned", makeTestData(16*1024, 7)},
		{"256KB patterned", makeTestData(256*1024, 9)},
		{"64KB random", makeRandomData(64 * 1024)},
	}

	for name, codec := range codecs(t) {
		for _, p := range payloads {
			t.Run(fmt.Sprintf("%s/%s", name, p.name), func(t *testing.T) {
				encoded, err := codec.Encode(p.data)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				if protocol.Compression(encoded[0]) != codec.Compression() {
					t.Fatalf("tag mismatch: got 0x%02x, want %s", encoded[0], codec.Compression())
				}

				decoded, err := codec.Decode(encoded)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if !bytes.Equal(decoded, p.data) {
					t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(decoded), len(p.data))
				}
			})
		}
	}
}

// TestDecodeAcceptsEitherAlgorithm verifies that a codec configured for one
// algorithm still decodes payloads produced with the other.
func TestDecodeAcceptsEitherAlgorithm(t *testing.T) {
	all := codecs(t)
	payload := makeTestData(4096, 3)

	for encName, enc := range all {
		for decName, dec := range all {
			t.Run(encName+"->"+decName, func(t *testing.T) {
				encoded, err := enc.Encode(payload)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				decoded, err := dec.Decode(encoded)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if !bytes.Equal(decoded, payload) {
					t.Error("payload mismatch")
				}
			})
		}
	}
}

// TestEncodeCompresses verifies that compressible payloads actually shrink.
func TestEncodeCompresses(t *testing.T) {
	payload := bytes.Repeat([]byte("token moved to 12,7;"), 4096)

	for name, codec := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			encoded, err := codec.Encode(payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(encoded) >= len(payload)/4 {
				t.Errorf("expected strong compression: %d -> %d bytes", len(payload), len(encoded))
			}
		})
	}
}

// TestDecodeRejectsCorruptPayload verifies that damaged input yields an
// error instead of truncated data.
func TestDecodeRejectsCorruptPayload(t *testing.T) {
	valid, err := protocol.Encode(makeTestData(8192, 1))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	validLZ4, err := codecs(t)["lz4"].Encode(makeTestData(8192, 1))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", []byte{}, protocol.ErrCorruptPayload},
		{"tag only", []byte{byte(protocol.CompressionZstd)}, protocol.ErrCorruptPayload},
		{"unknown tag", append([]byte{0x7f}, valid[1:]...), protocol.ErrUnknownCompression},
		{"truncated zstd", valid[:len(valid)/2], protocol.ErrCorruptPayload},
		{"garbage zstd", append([]byte{byte(protocol.CompressionZstd)}, makeRandomData(64)...), protocol.ErrCorruptPayload},
		{"garbage lz4", append([]byte{byte(protocol.CompressionLZ4)}, makeRandomData(64)...), protocol.ErrCorruptPayload},
		{"truncated lz4 header", validLZ4[:5], protocol.ErrCorruptPayload},
		{"truncated lz4", validLZ4[:len(validLZ4)/2], protocol.ErrCorruptPayload},
		{"lz4 size only", validLZ4[:3], protocol.ErrCorruptPayload},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := protocol.Decode(tc.data)
			if err == nil {
				t.Fatalf("expected error, got %d bytes", len(out))
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestDecodeNeverTruncates cuts an encoded payload at every length. Each cut
// must either fail or still yield the whole payload.
func TestDecodeNeverTruncates(t *testing.T) {
	payload := makeRandomData(20 * 1024)

	for name, codec := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			encoded, err := codec.Encode(payload)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			for cut := 1; cut < len(encoded); cut++ {
				out, err := codec.Decode(encoded[:cut])
				if err == nil && !bytes.Equal(out, payload) {
					t.Fatalf("cut %d/%d decoded %d bytes without error", cut, len(encoded), len(out))
				}
			}
		})
	}
}

// TestParseCompression covers the names accepted by config files and flags.
func TestParseCompression(t *testing.T) {
	testCases := []struct {
		name    string
		want    protocol.Compression
		wantErr bool
	}{
		{"", protocol.CompressionZstd, false},
		{"zstd", protocol.CompressionZstd, false},
		{"lz4", protocol.CompressionLZ4, false},
		{"lzma", 0, true},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.name), func(t *testing.T) {
			got, err := protocol.ParseCompression(tc.name)
			if tc.wantErr {
				if !errors.Is(err, protocol.ErrUnknownCompression) {
					t.Fatalf("expected ErrUnknownCompression, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCompression failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := protocol.NewCodec(protocol.Compression(9)); !errors.Is(err, protocol.ErrUnknownCompression) {
		t.Errorf("NewCodec(9) error = %v, want ErrUnknownCompression", err)
	}
}
