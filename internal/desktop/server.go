package desktop

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/deskbridge/internal/config"
	"github.com/ehrlich-b/deskbridge/internal/keys"
)

// ErrAlreadyRunning is returned by Listen when another bridge already owns
// the socket.
var ErrAlreadyRunning = errors.New("desktop socket already in use")

const maxLineSize = 1024 * 1024

// SessionSource reports the session a late-joining companion should hear
// about. Implemented by *keys.Manager.
type SessionSource interface {
	ValidKey() (keys.KeyData, bool)
}

// Server accepts desktop companions on a Unix socket and handles their
// inbound messages.
type Server struct {
	path     string
	registry *Registry
	emitter  *Emitter
	session  SessionSource

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(path string, registry *Registry, emitter *Emitter, session SessionSource) *Server {
	return &Server{
		path:     path,
		registry: registry,
		emitter:  emitter,
		session:  session,
		conns:    make(map[*Conn]struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket. A leftover socket file nobody answers on is
// removed first; a live one yields ErrAlreadyRunning.
func (s *Server) Listen() error {
	if err := config.EnsureDir(s.path); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		if _, statErr := os.Stat(s.path); statErr != nil {
			return fmt.Errorf("listen unix %s: %w", s.path, err)
		}
		if probe, dialErr := net.DialTimeout("unix", s.path, time.Second); dialErr == nil {
			probe.Close()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.path)
		}
		slog.Info("desktop: removing stale socket", "path", s.path)
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err = net.Listen("unix", s.path)
		if err != nil {
			return fmt.Errorf("listen unix %s: %w", s.path, err)
		}
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	slog.Info("desktop: listening", "path", s.path)
	return nil
}

// Serve accepts companions until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("desktop: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := checkPeer(nc); err != nil {
			slog.Warn("desktop: rejecting peer", "err", err)
			nc.Close()
			continue
		}

		c := newConn(uuid.NewString(), nc)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return nil
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(c)
	}
}

func (s *Server) handle(c *Conn) {
	defer s.wg.Done()
	defer func() {
		s.registry.Remove(c.ID)
		c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		slog.Info("desktop: companion disconnected", "conn", c.ID)
	}()

	slog.Info("desktop: companion connected", "conn", c.ID)
	s.registry.Add(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Inbound
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("desktop: bad message", "conn", c.ID, "err", err)
			continue
		}
		s.receive(c, msg)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("desktop: read ended", "conn", c.ID, "err", err)
	}
}

func (s *Server) receive(c *Conn, msg Inbound) {
	switch msg.Event {
	case EventClientUp:
		slog.Info("desktop: companion up", "conn", c.ID, "apis", msg.UtilizedAPIs)
		s.registry.SetAPIs(c.ID, msg.UtilizedAPIs)
		if s.session == nil {
			return
		}
		if key, ok := s.session.ValidKey(); ok {
			if err := s.emitter.SendRegistration(c, key.UUID, key.ExpirationTime); err != nil {
				slog.Warn("desktop: send registration", "conn", c.ID, "err", err)
			}
		}
	default:
		slog.Debug("desktop: ignoring event", "conn", c.ID, "event", msg.Event)
	}
}

// Close stops accepting, disconnects every companion, waits for their
// handlers and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		os.Remove(s.path)
	}
	s.wg.Wait()
	return err
}
