package server

import (
	"time"

	"chatrelay/internal/session"
)

const (
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultMaxLineLength bounds one chat line read from a client.
	DefaultMaxLineLength = 4096

	minLineLength = 16 // bufio's smallest buffer
)

// Option configures a Server.
type Option func(s *Server)

// WithHubCapacity sets how many messages each connection may have pending
// before its oldest ones are dropped.
func WithHubCapacity(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.hubCapacity = n
		}
	}
}

// WithWriteTimeout bounds a single frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxLineLength bounds one chat line sent by a client, newline included.
func WithMaxLineLength(n int) Option {
	return func(s *Server) {
		if n < minLineLength {
			n = minLineLength
		}
		s.maxLineLength = n
	}
}

// WithRegistry makes the server use an existing registry.
func WithRegistry(r *session.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}
