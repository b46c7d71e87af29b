// Package config holds the runtime configuration, loaded from an optional
// YAML file and overridden by CLI flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/tablink/internal/protocol"
	"github.com/1ureka/tablink/internal/transport"
)

// Role represents the process role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// TransportKind selects the connection backend.
type TransportKind string

const (
	TransportTCP    TransportKind = "tcp"
	TransportWebRTC TransportKind = "webrtc"
)

// Config stores every parameter of a session.
type Config struct {
	Role      Role          `yaml:"role"`
	Transport TransportKind `yaml:"transport"`

	// Listen is the host's TCP listen address.
	Listen string `yaml:"listen"`

	// Addr is the TCP address a client dials.
	Addr string `yaml:"addr"`

	// WSURL is the signaling relay URL, e.g. ws://127.0.0.1:7401/ws.
	WSURL string `yaml:"ws_url"`

	// WSListen makes the host run the signaling relay itself on this
	// address. Empty means an external relay at WSURL is used.
	WSListen string `yaml:"ws_listen"`

	// ID is this process's login name on the relay.
	ID string `yaml:"id"`

	// HostID is the host's login name; clients send their offer to it.
	HostID string `yaml:"host_id"`

	// Compression is "zstd" or "lz4".
	Compression string `yaml:"compression"`

	// Handshake enables the TCP greeting exchange.
	Handshake bool `yaml:"handshake"`

	// ICEServers lists STUN/TURN URLs for WebRTC.
	ICEServers []string `yaml:"ice_servers"`

	// Loopback allows 127.0.0.1 ICE candidates.
	Loopback bool `yaml:"loopback"`

	InboundPipeSize  int `yaml:"inbound_pipe_size"`
	OutboundPipeSize int `yaml:"outbound_pipe_size"`
	MaxFrameSize     int `yaml:"max_frame_size"`

	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when neither a file nor flags say
// otherwise.
func Default() *Config {
	return &Config{
		Transport:   TransportTCP,
		Listen:      ":7400",
		Addr:        "127.0.0.1:7400",
		WSURL:       "ws://127.0.0.1:7401/ws",
		HostID:      "host",
		Compression: protocol.CompressionZstd.String(),
		Handshake:   true,
		ICEServers:  append([]string(nil), transport.DefaultICEServers...),
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is complete for its role and
// transport.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost, RoleClient:
	default:
		return fmt.Errorf("invalid role %q: must be 'host' or 'client'", c.Role)
	}

	if _, err := protocol.ParseCompression(c.Compression); err != nil {
		return err
	}

	if c.InboundPipeSize < 0 || c.OutboundPipeSize < 0 || c.MaxFrameSize < 0 {
		return fmt.Errorf("pipe and frame sizes must not be negative")
	}

	switch c.Transport {
	case TransportTCP:
		if c.Role == RoleHost && c.Listen == "" {
			return fmt.Errorf("listen is required for a TCP host")
		}
		if c.Role == RoleClient && c.Addr == "" {
			return fmt.Errorf("addr is required for a TCP client")
		}

	case TransportWebRTC:
		if c.WSURL == "" && !(c.Role == RoleHost && c.WSListen != "") {
			return fmt.Errorf("ws_url is required unless the host runs the relay (ws_listen)")
		}
		if c.HostID == "" {
			return fmt.Errorf("host_id is required for WebRTC")
		}
		if c.Role == RoleClient && c.ID == "" {
			return fmt.Errorf("id is required for a WebRTC client")
		}
		if c.Role == RoleClient && c.ID == c.HostID {
			return fmt.Errorf("client id %q collides with host_id", c.ID)
		}

	default:
		return fmt.Errorf("invalid transport %q: must be 'tcp' or 'webrtc'", c.Transport)
	}

	return nil
}
