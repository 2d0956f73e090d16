// Package realtime pushes society events to WebSocket clients and optional
// message-bus mirrors.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/websocket"
)

// Event is the frame pushed to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Sink mirrors events to an external system.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// clientFrame is what clients may send. Only case_solved is acted on.
type clientFrame struct {
	Type   string `json:"type"`
	CaseID *int64 `json:"case_id"`
}

const caseSolvedFrame = "case_solved"

// DefaultWriteTimeout bounds a single frame write to one peer.
const DefaultWriteTimeout = 5 * time.Second

type peerConn interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

type peer struct {
	mu      sync.Mutex
	conn    peerConn
	encoder *json.Encoder
	timeout time.Duration
}

func newPeer(conn peerConn, timeout time.Duration) *peer {
	return &peer{conn: conn, encoder: json.NewEncoder(conn), timeout: timeout}
}

// write encodes ev under the write deadline. A peer that stops reading fails
// here once its buffers fill instead of blocking the sender.
func (p *peer) write(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return err
	}
	return p.encoder.Encode(ev)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSink adds an event mirror.
func WithSink(s Sink) Option {
	return func(h *Hub) {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout. Non-positive values are ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithRegisterer exports the connected client gauge on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.reg = reg }
}

// Hub tracks connected peers and fans events out to them.
type Hub struct {
	mu           sync.Mutex
	peers        map[*peer]struct{}
	onConnect    func()
	onDisconnect func()

	sinks        []Sink
	logger       *slog.Logger
	reg          prometheus.Registerer
	gauge        prometheus.Gauge
	writeTimeout time.Duration
}

// NewHub constructs an empty hub.
func NewHub(opts ...Option) (*Hub, error) {
	h := &Hub{
		peers:  make(map[*peer]struct{}),
		logger: slog.Default(),
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "optimus",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.reg != nil {
		if err := h.reg.Register(h.gauge); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// OnConnect sets the callback run after a client joins.
func (h *Hub) OnConnect(fn func()) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// OnDisconnect sets the callback run after a client leaves.
func (h *Hub) OnDisconnect(fn func()) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

// Handler serves the WebSocket endpoint.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(conn *websocket.Conn) {
	// The server's read/write timeouts survive the hijack. Reads wait
	// indefinitely; each write sets its own deadline.
	_ = conn.SetDeadline(time.Time{})
	p := newPeer(conn, h.writeTimeout)
	h.add(p)
	defer h.remove(p)

	decoder := json.NewDecoder(conn)
	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if frame.Type != caseSolvedFrame || frame.CaseID == nil {
			continue
		}
		h.Broadcast(context.Background(), Event{
			Name: caseSolvedFrame,
			Data: map[string]int64{"case_id": *frame.CaseID},
		})
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	cb := h.onConnect
	h.mu.Unlock()
	h.gauge.Inc()
	h.logger.Info("client connected", "clients", n)
	if cb != nil {
		cb()
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, present := h.peers[p]
	delete(h.peers, p)
	n := len(h.peers)
	cb := h.onDisconnect
	h.mu.Unlock()
	_ = p.conn.Close()
	if !present {
		return
	}
	h.gauge.Dec()
	h.logger.Info("client disconnected", "clients", n)
	if cb != nil {
		cb()
	}
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Send writes ev to every connected peer and returns how many received it.
// Peers whose write fails or exceeds the write timeout are closed and pruned.
func (h *Hub) Send(ev Event) int {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	delivered := 0
	for _, p := range peers {
		if err := p.write(ev); err != nil {
			h.logger.Warn("dropping websocket client", "event", ev.Name, "error", err)
			h.remove(p)
			continue
		}
		delivered++
	}
	return delivered
}

// Mirror publishes ev to every sink. Sink failures are logged.
func (h *Hub) Mirror(ctx context.Context, ev Event) {
	for _, s := range h.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			h.logger.WarnContext(ctx, "event mirror failed", "event", ev.Name, "error", err)
		}
	}
}

// Broadcast sends ev to peers and sinks.
func (h *Hub) Broadcast(ctx context.Context, ev Event) int {
	h.Mirror(ctx, ev)
	return h.Send(ev)
}

// Close disconnects every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		h.remove(p)
	}
}
