package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/tablink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is the WebSocket server peers log in to. It forwards offer, answer
// and candidate messages to the peer named in Destination and nothing else;
// it never looks inside session descriptions.
type Relay struct {
	mu    sync.Mutex
	peers map[string]*peer

	listener net.Listener
	server   *http.Server
}

// peer is one logged-in WebSocket. Writes are serialized per socket.
type peer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteJSON(msg)
}

// NewRelay creates a relay with an empty login table.
func NewRelay() *Relay {
	return &Relay{peers: make(map[string]*peer)}
}

// Handler returns the HTTP handler serving the relay on /ws.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWS)
	return mux
}

// Start begins listening on addr (":0" for a random port) and serves in the
// background. It returns the bound address.
func (r *Relay) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start signaling relay: %w", err)
	}
	r.listener = listener
	r.server = &http.Server{Handler: r.Handler()}

	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("signaling relay stopped: %v", err)
		}
	}()

	util.LogInfo("signaling relay listening on %s", listener.Addr())
	return listener.Addr(), nil
}

// URL returns the ws:// URL of a started relay.
func (r *Relay) URL() string {
	return "ws://" + r.listener.Addr().String() + "/ws"
}

// Close stops the listener and drops every peer socket.
func (r *Relay) Close() error {
	var err error
	if r.server != nil {
		err = r.server.Close()
	}

	r.mu.Lock()
	for _, p := range r.peers {
		p.ws.Close()
	}
	r.peers = make(map[string]*peer)
	r.mu.Unlock()
	return err
}

// Peers returns the logged-in names, sorted.
func (r *Relay) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	p := &peer{ws: ws}
	var name string
	defer func() {
		if name != "" {
			r.unregister(name, p)
		}
	}()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}

		switch {
		case msg.Type == MsgTypeLogin:
			ok := name == "" && r.register(msg.Source, p)
			if ok {
				name = msg.Source
				util.LogDebug("signaling: %q logged in", name)
			} else {
				util.LogWarning("signaling: login %q rejected", msg.Source)
			}
			if err := p.send(Message{Type: MsgTypeLogin, Success: ok}); err != nil {
				return
			}

		case name == "":
			util.LogWarning("signaling: %s message before login dropped", msg.Type)

		default:
			msg.Source = name
			r.forward(msg)
		}
	}
}

// register claims name for p. It fails if the name is empty or taken.
func (r *Relay) register(name string, p *peer) bool {
	if name == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.peers[name]; taken {
		return false
	}
	r.peers[name] = p
	return true
}

func (r *Relay) unregister(name string, p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peers[name] == p {
		delete(r.peers, name)
		util.LogDebug("signaling: %q logged out", name)
	}
}

func (r *Relay) forward(msg Message) {
	r.mu.Lock()
	dst, ok := r.peers[msg.Destination]
	r.mu.Unlock()

	if !ok {
		util.LogWarning("signaling: %s from %q to unknown peer %q dropped", msg.Type, msg.Source, msg.Destination)
		return
	}
	if err := dst.send(msg); err != nil {
		util.LogWarning("signaling: forward %s to %q: %v", msg.Type, msg.Destination, err)
	}
}
