// Package server implements the TCP chat relay.
//
// Concurrency overview
// --------------------
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Listener goroutine (Serve)                              │
//	│  Accepts TCP connections; runs one Client per socket.    │
//	└───────────────────┬─────────────────────────────────────┘
//	                    │  Register / Publish / Subscribe
//	                    ▼
//	┌───────────────────────────┐   ┌─────────────────────────┐
//	│  session.Registry (mutex) │   │  Hub (mutex, fan-out)   │
//	│  username → origin IP     │   │  one buffered channel   │
//	│                           │   │  per connection         │
//	└───────────────────────────┘   └─────────────────────────┘
//
// Every connection shares the same Registry and Hub. Failures are contained
// to the connection they happen on.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fatih/color"

	"chatrelay/internal/session"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

const maxAcceptDelay = time.Second

var (
	joinedColor   = color.New(color.FgGreen, color.Bold)
	rejoinedColor = color.New(color.FgCyan)
	rejectedColor = color.New(color.FgRed, color.Bold)
)

// Server ties together the Registry, the Hub and the listener.
type Server struct {
	hub      *Hub
	registry *session.Registry

	hubCapacity   int
	writeTimeout  time.Duration
	maxLineLength int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	clients   map[*Client]struct{}
}

// New creates a Server.
func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hubCapacity:   DefaultHubCapacity,
		writeTimeout:  DefaultWriteTimeout,
		maxLineLength: DefaultMaxLineLength,
		ctx:           ctx,
		cancel:        cancel,
		listeners:     make(map[net.Listener]struct{}),
		clients:       make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.registry == nil {
		s.registry = session.New()
	}
	s.hub = NewHub(s.hubCapacity)
	return s
}

// Registry returns the server's session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Hub returns the server's broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe binds addr and serves it. A bind failure is returned
// immediately.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. A failed accept is logged
// and retried with a short backoff.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)
	log.Printf("[server] listening on %s", ln.Addr())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: accept: %w", err)
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			log.Printf("[server] accept error: %v; retrying in %v", err, delay)
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		delay = 0
		go s.serveConn(conn)
	}
}

// Shutdown stops accepting, closes every live connection and waits for the
// handlers to return or ctx to expire. Registered usernames are kept.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	for ln := range s.listeners {
		ln.Close()
	}
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.hub.Close()
	log.Printf("[server] stopped")
	return err
}

// serveConn runs the connection handler for conn.
func (s *Server) serveConn(conn net.Conn) {
	c := newClient(conn, s)
	if !s.trackClient(c) {
		c.sub.Close()
		conn.Close()
		return
	}
	defer s.untrackClient(c)

	log.Printf("[conn %s] accepted %s", c.id, c.origin)
	c.serve(s.ctx)
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

// trackClient records c so Shutdown can close it. The WaitGroup is only
// grown under mu while the server is open.
func (s *Server) trackClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}
