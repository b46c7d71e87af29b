// Tablink CLI entry point.
//
// Runs a tabletop session host or a participant over TCP or a WebRTC data
// channel. Lines typed on stdin are sent on the "chat" channel; the host
// relays every participant's lines to everyone else.
//
// It can be launched interactively (no --role) or non-interactively via CLI
// flags, optionally on top of a YAML file given with --config.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/tablink/internal/app"
	"github.com/1ureka/tablink/internal/config"
	"github.com/1ureka/tablink/internal/util"
)

var version = "dev"

// chatChannel carries the demo's text lines.
const chatChannel = "chat"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Tablink v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		askInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	util.StartStatsReporter(ctx)

	switch cfg.Role {
	case config.RoleHost:
		err = runHost(ctx, cfg)
	case config.RoleClient:
		err = runClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// parseFlags loads --config (if any) and overrides it with every flag given
// explicitly on the command line.
func parseFlags(args []string) (*config.Config, error) {
	def := config.Default()

	fs := pflag.NewFlagSet("tablink", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "YAML configuration file")
	role := fs.String("role", "", "Role: host or client (omit for interactive mode)")
	transportKind := fs.StringP("transport", "t", string(def.Transport), "Transport: tcp or webrtc")
	listen := fs.String("listen", def.Listen, "TCP listen address (host)")
	addr := fs.String("addr", def.Addr, "TCP address of the host (client)")
	wsURL := fs.String("ws-url", def.WSURL, "Signaling relay URL (webrtc)")
	wsListen := fs.String("ws-listen", def.WSListen, "Run the signaling relay on this address (webrtc host)")
	id := fs.String("id", "", "Login name on the relay (webrtc client)")
	hostID := fs.String("host-id", def.HostID, "Login name of the host on the relay (webrtc)")
	compression := fs.String("compression", def.Compression, "Compression: zstd or lz4")
	noHandshake := fs.Bool("no-handshake", false, "Skip the TCP greeting exchange")
	loopback := fs.Bool("loopback", false, "Allow loopback ICE candidates (webrtc)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("role") {
		cfg.Role = config.Role(*role)
	}
	if fs.Changed("transport") {
		cfg.Transport = config.TransportKind(*transportKind)
	}
	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	if fs.Changed("ws-url") {
		u, err := normalizeWSURL(*wsURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = u
	}
	if fs.Changed("ws-listen") {
		cfg.WSListen = *wsListen
	}
	if fs.Changed("id") {
		cfg.ID = *id
	}
	if fs.Changed("host-id") {
		cfg.HostID = *hostID
	}
	if fs.Changed("compression") {
		cfg.Compression = *compression
	}
	if fs.Changed("no-handshake") {
		cfg.Handshake = !*noHandshake
	}
	if fs.Changed("loopback") {
		cfg.Loopback = *loopback
	}
	if fs.Changed("debug") {
		cfg.Debug = *debug
	}

	if cfg.Role == config.RoleClient && cfg.Transport == config.TransportWebRTC && cfg.ID == "" {
		cfg.ID = "player-" + util.NewConnID()[:8]
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runHost accepts participants and relays chat lines between them until ctx
// is cancelled.
func runHost(ctx context.Context, cfg *config.Config) error {
	host := app.NewHost(cfg)

	host.OnMessage(func(id string, payload []byte) {
		pterm.Printfln("<%s> %s", id, payload)
		host.BroadcastExcept(id, chatChannel, payload)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()

	select {
	case <-host.Ready():
	case err := <-errCh:
		return err
	}
	util.LogSuccess("hosting on %s (%s)", host.Addr(), cfg.Transport)

	go readLines(os.Stdin, func(line string) {
		host.Broadcast(chatChannel, []byte(line))
	})

	return <-errCh
}

// runClient joins the host and exchanges chat lines until the connection
// ends or ctx is cancelled.
func runClient(ctx context.Context, cfg *config.Config) error {
	cl, err := app.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	cl.OnMessage(func(_ string, payload []byte) {
		pterm.Println(string(payload))
	})

	if err := cl.Start(ctx); err != nil {
		return err
	}

	go readLines(os.Stdin, func(line string) {
		if err := cl.SendMessage(chatChannel, []byte(line)); err != nil {
			util.LogWarning("message not sent: %v", err)
		}
	})

	select {
	case <-cl.Done():
		return cl.Err()
	case <-ctx.Done():
		return nil
	}
}

// readLines calls fn for every non-empty line of r.
func readLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// askInteractive fills role, transport and addresses from prompts.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Run the table", "Client — Join a table"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	kind, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"tcp", "webrtc"}).
		WithDefaultText("Select the transport").
		Show()
	pterm.Println()
	cfg.Transport = config.TransportKind(kind)

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		if cfg.Transport == config.TransportWebRTC {
			cfg.WSListen = ask("Relay listen address", ":7401")
		} else {
			cfg.Listen = ask("Listen address", cfg.Listen)
		}
		return
	}

	cfg.Role = config.RoleClient
	if cfg.Transport == config.TransportWebRTC {
		cfg.WSURL = askURL(cfg.WSURL)
		cfg.ID = ask("Your name", "player-"+util.NewConnID()[:8])
	} else {
		cfg.Addr = ask("Host address", cfg.Addr)
	}
}

// ask prompts for a value, falling back to def on empty input.
func ask(prompt, def string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("%s [%s]", prompt, def)).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(def string) string {
	for {
		wsURL, err := normalizeWSURL(ask("Relay URL", def))
		if err == nil {
			return wsURL
		}
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw relay URL. A bare host gets
// the ws scheme; the path is always /ws.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "ws"
	switch u.Scheme {
	case "wss", "https":
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
