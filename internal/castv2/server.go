package castv2

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fauxcast/fauxcast/internal/metrics"
)

// ServerConfig holds the listener configuration. The certificate is the
// ephemeral self-signed pair issued at startup; senders do not validate it.
type ServerConfig struct {
	ListenAddr  string
	Certificate tls.Certificate
}

func (c *ServerConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8009"
	}
}

// Server accepts TLS connections from Cast senders and runs one Session per
// connection. Socket-level errors are swallowed: disconnects are expected.
type Server struct {
	cfg   ServerConfig
	hooks Hooks

	mu       sync.Mutex
	l        net.Listener
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

// NewServer creates a new, unstarted Server.
func NewServer(cfg ServerConfig, hooks Hooks) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:      cfg,
		hooks:    hooks,
		sessions: make(map[string]*Session),
	}
}

// Start binds the TLS listener and launches the accept loop. Bind failure
// is the one fatal error in this package; it propagates to startup.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.l != nil {
		s.mu.Unlock()
		return errors.New("castv2: server already started")
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{s.cfg.Certificate},
		ClientAuth:   tls.NoClientCert, // senders rarely present a client cert
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("castv2: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.l = ln
	s.mu.Unlock()

	log.Info("cast listener started", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address (nil if not started).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// SessionCount returns the number of live sender connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient failures such as fd exhaustion must not take the
			// listener down.
			log.Warn("accept error", "error", err)
			continue
		}

		hooks := s.hooks
		userDisconnect := hooks.OnDisconnect
		sess := newSession(conn, hooks)
		sess.hooks.OnDisconnect = func(sessionID string) {
			s.mu.Lock()
			delete(s.sessions, sessionID)
			s.mu.Unlock()
			metrics.SetCastConnections(s.SessionCount())
			if userDisconnect != nil {
				userDisconnect(sessionID)
			}
		}

		s.mu.Lock()
		s.sessions[sess.ID()] = sess
		s.mu.Unlock()
		metrics.SetCastConnections(s.SessionCount())

		log.Info("sender connected", "session", sess.ID(), "remote", conn.RemoteAddr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

// Stop closes the listener and every live connection, then waits for the
// handlers to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.l == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.l
	s.l = nil
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	_ = ln.Close()
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
	s.wg.Wait()
	log.Info("cast listener stopped")
	return nil
}
