// Package client implements the client side of the relay's wire contract.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"chatrelay/internal/protocol"
)

// Username length limits, in characters.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 16
)

const handshakeTimeout = 10 * time.Second

var (
	// ErrUsernameLength is returned for names outside the allowed length.
	ErrUsernameLength = fmt.Errorf("username must be %d to %d characters long", MinUsernameLength, MaxUsernameLength)

	// ErrVersionMismatch is returned when the server greeting is not understood.
	ErrVersionMismatch = errors.New("invalid server response (version mismatch?)")
)

// RejectedError carries the reason the server refused a join.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "join rejected: " + e.Reason
}

// ValidateUsername checks name locally before anything is sent.
func ValidateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return ErrUsernameLength
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return errors.New("username must not contain whitespace")
	}
	return nil
}

// Conn is a joined connection to a relay.
type Conn struct {
	conn     net.Conn
	r        *bufio.Reader
	username string
	welcome  string

	wmu sync.Mutex
}

// Dial connects to addr and joins as username.
func Dial(addr, username string) (*Conn, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	nc, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c, err := Handshake(nc, username)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Handshake performs the join exchange on an established connection.
func Handshake(nc net.Conn, username string) (*Conn, error) {
	nc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	r := bufio.NewReader(nc)

	var g protocol.Greeting
	if err := protocol.ReadJSON(r, &g); err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			return nil, ErrVersionMismatch
		}
		return nil, fmt.Errorf("server failed to respond: %w", err)
	}
	if g.Request != protocol.JoinRequestKind || g.Version != protocol.ProtocolVersion {
		return nil, ErrVersionMismatch
	}

	if err := protocol.WriteJSON(nc, protocol.JoinRequest{Username: username}); err != nil {
		return nil, fmt.Errorf("send join request: %w", err)
	}

	var resp protocol.JoinResponse
	if err := protocol.ReadJSON(r, &resp); err != nil {
		return nil, fmt.Errorf("server failed to respond: %w", err)
	}
	switch resp.Result {
	case protocol.ResultOK:
	case protocol.ResultNo:
		return nil, &RejectedError{Reason: resp.Reason}
	default:
		return nil, ErrVersionMismatch
	}

	return &Conn{conn: nc, r: r, username: username, welcome: resp.Reason}, nil
}

// Username returns the name this connection joined as.
func (c *Conn) Username() string { return c.username }

// Welcome returns the reason text of the accepted join response.
func (c *Conn) Welcome() string { return c.welcome }

// Send writes one chat line. Blank lines are not sent.
func (c *Conn) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// the server splits on newlines, so an embedded one would become two messages
	text = strings.ReplaceAll(text, "\n", " ")

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.conn, text+"\n")
	return err
}

// Receive blocks until the next chat message arrives.
func (c *Conn) Receive() (protocol.ChatMessage, error) {
	payload, err := protocol.ReadFrame(c.r)
	if err != nil {
		return protocol.ChatMessage{}, err
	}
	return protocol.DecodeMessage(payload)
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
