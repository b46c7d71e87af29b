package app

import (
	"github.com/1ureka/tablink/internal/config"
	"github.com/1ureka/tablink/internal/conn"
	"github.com/1ureka/tablink/internal/protocol"
	"github.com/1ureka/tablink/internal/rtc"
	"github.com/1ureka/tablink/internal/tcp"
	"github.com/1ureka/tablink/internal/transport"
)

// connOptions builds the backend-independent options from cfg.
func connOptions(cfg *config.Config) (conn.Options, error) {
	tag, err := protocol.ParseCompression(cfg.Compression)
	if err != nil {
		return conn.Options{}, err
	}
	codec, err := protocol.NewCodec(tag)
	if err != nil {
		return conn.Options{}, err
	}
	return conn.Options{Codec: codec, MaxFrameSize: cfg.MaxFrameSize}, nil
}

func tcpOptions(cfg *config.Config) (tcp.Options, error) {
	base, err := connOptions(cfg)
	if err != nil {
		return tcp.Options{}, err
	}
	opts := tcp.Options{Options: base}
	if cfg.Handshake {
		opts.Handshake = tcp.HelloHandshake
	}
	return opts, nil
}

func rtcOptions(cfg *config.Config) (rtc.Options, error) {
	base, err := connOptions(cfg)
	if err != nil {
		return rtc.Options{}, err
	}
	return rtc.Options{
		Options: base,
		Transport: transport.Options{
			ICEServers: cfg.ICEServers,
			Loopback:   cfg.Loopback,
		},
		InboundPipeSize:  cfg.InboundPipeSize,
		OutboundPipeSize: cfg.OutboundPipeSize,
	}, nil
}
