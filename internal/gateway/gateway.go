// Package gateway is the local WebSocket endpoint the web client talks to.
// It verifies signed events against the current session key, runs them
// against the filesystem, forwards desktop events and broadcasts
// key/companion state to every connected browser.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/deskbridge/internal/desktop"
	"github.com/ehrlich-b/deskbridge/internal/fsops"
	"github.com/ehrlich-b/deskbridge/internal/keys"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingField = errors.New("missing required field")
)

const (
	maxMessageSize = 16 << 20
	writeTimeout   = 10 * time.Second
)

// FileSystem runs the filesystem events. Implemented by *fsops.Local.
type FileSystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content, encoding string) (bool, error)
	Exists(path string) bool
	List(dir string, opts fsops.ListOptions) ([]fsops.Entry, error)
	Tree(root string) (*fsops.Node, error)
}

// Verifier checks a signature over a canonical payload. Implemented by
// *auth.Verifier.
type Verifier interface {
	Verify(payload []byte, signature string, key keys.KeyData) error
}

// Forwarder relays events to desktop companions. Implemented by
// *desktop.Emitter.
type Forwarder interface {
	Forward(event string, params json.RawMessage) error
}

// Options configures a Gateway.
type Options struct {
	Addr           string   // host:port to bind; port 0 picks one
	AllowedOrigins []string // empty accepts any origin
}

// Gateway owns the HTTP listener and every browser connection.
type Gateway struct {
	opts     Options
	keys     *keys.Manager
	fetcher  *keys.Fetcher
	verifier Verifier
	fs       FileSystem
	registry *desktop.Registry
	forward  Forwarder

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*client]struct{}
	ln      net.Listener
	srv     *http.Server
	started bool
	stopped bool
}

func New(opts Options, km *keys.Manager, fetcher *keys.Fetcher, verifier Verifier, fs FileSystem, registry *desktop.Registry, forward Forwarder) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		opts:     opts,
		keys:     km,
		fetcher:  fetcher,
		verifier: verifier,
		fs:       fs,
		registry: registry,
		forward:  forward,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*client]struct{}),
	}
}

// Start binds the listener, subscribes to key and companion changes and
// begins serving. A bind failure is returned to the caller.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("gateway already started")
	}

	ln, err := net.Listen("tcp", g.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.opts.Addr, err)
	}

	g.keys.OnKeySet(func(k keys.KeyData) { g.BroadcastKeyReady(k.UUID) })
	g.keys.OnExpired(func(k keys.KeyData) {
		slog.Info("session key expired", "uuid", k.UUID, "expiration", k.ExpirationTime)
	})
	g.registry.OnChange(g.BroadcastUnixConnectionCount)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", g.handleWebSocket)
	mux.HandleFunc("GET /health", g.handleHealth)

	g.ln = ln
	g.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.started = true

	go func() {
		if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway: serve", "err", err)
		}
	}()
	slog.Info("gateway: listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Stop clears fetch and key state without broadcasting, closes every
// browser connection and waits for each to finish, then closes the
// listener.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	clients := g.snapshotLocked()
	srv := g.srv
	g.mu.Unlock()

	g.fetcher.Cleanup()
	g.keys.Cleanup()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, "bridge shutting down")
		}()
	}
	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for clients: %w", ctx.Err())
	}

	g.cancel()
	if srv != nil {
		if cerr := srv.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	slog.Info("gateway: stopped")
	return err
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":                    true,
		"key_ready":             g.keys.HasValidKey(),
		"unix_connection_count": g.registry.Count(),
	})
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.opts.AllowedOrigins,
		InsecureSkipVerify: len(g.opts.AllowedOrigins) == 0,
	})
	if err != nil {
		slog.Warn("gateway: websocket accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c, ok := g.addClient(conn)
	if !ok {
		conn.Close(websocket.StatusGoingAway, "bridge shutting down")
		return
	}
	slog.Info("gateway: client connected", "client", c.id, "remote", r.RemoteAddr)

	if err := c.writeJSON(g.ctx, g.stateBroadcast()); err != nil {
		slog.Debug("gateway: send snapshot", "client", c.id, "err", err)
	}
	g.serve(c)
}

// addClient tracks conn; it returns false once Stop has begun.
func (g *Gateway) addClient(conn wsConn) (*client, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return nil, false
	}
	c := newClient(conn)
	g.clients[c] = struct{}{}
	return c, true
}

func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
}

func (g *Gateway) snapshotLocked() []*client {
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	return clients
}

// serve reads frames from c one at a time; each is fully handled before
// the next is read.
func (g *Gateway) serve(c *client) {
	defer func() {
		c.markClosed()
		g.removeClient(c)
		slog.Info("gateway: client disconnected", "client", c.id)
	}()

	for {
		typ, data, err := c.conn.Read(g.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 {
				slog.Debug("gateway: read", "client", c.id, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("gateway: dropping binary frame", "client", c.id)
			continue
		}
		g.handleFrame(c, data)
	}
}
