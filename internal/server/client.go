package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
)

var (
	errEmptyUsername = errors.New("empty username")
	errLineTooLong   = errors.New("line too long")
	errHubClosed     = errors.New("hub closed")
)

// Client is the server side of one TCP connection.
//
// A client first performs the join handshake, then relays in two goroutines:
//
//	readLoop  – reads newline-terminated chat lines and publishes them to the
//	            Hub.
//	writeLoop – drains the client's Hub subscription and writes each message
//	            as a frame, marking the client's own messages as StyleYourself.
//
// Whichever loop stops first cancels the other and the connection is closed.
// The username stays registered after the connection ends.
type Client struct {
	id     string
	server *Server
	conn   net.Conn
	origin net.Addr
	reader *bufio.Reader
	sub    *Subscription

	username string // set once by handshake, read-only afterwards
}

func newClient(conn net.Conn, srv *Server) *Client {
	return &Client{
		id:     uuid.New().String()[:8],
		server: srv,
		conn:   conn,
		origin: conn.RemoteAddr(),
		reader: bufio.NewReaderSize(conn, srv.maxLineLength),
		// Subscribe on accept so nothing published after this point is missed.
		sub: srv.hub.Subscribe(),
	}
}

func (c *Client) serve(ctx context.Context) {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	if err := c.handshake(); err != nil {
		switch {
		case errors.Is(err, session.ErrUsernameTaken):
			// already reported
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			log.Printf("[conn %s] %s left before joining", c.id, c.origin)
		default:
			log.Printf("[conn %s] handshake aborted: %v", c.id, err)
		}
		return
	}

	err := c.relay(ctx)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		log.Printf("[conn %s] %s disconnected", c.id, c.username)
	default:
		log.Printf("[conn %s] %s dropped: %v", c.id, c.username, err)
	}
	if n := c.sub.Dropped(); n > 0 {
		log.Printf("[conn %s] %s lagged, %d message(s) dropped", c.id, c.username, n)
	}
}

// handshake sends the greeting, reads the join request and registers the
// requested name.
func (c *Client) handshake() error {
	if err := c.writeJSON(protocol.NewGreeting()); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	var req protocol.JoinRequest
	if err := protocol.ReadJSON(c.reader, &req); err != nil {
		return fmt.Errorf("read join request: %w", err)
	}
	name := normalizeUsername(req.Username)
	if name == "" {
		return errEmptyUsername
	}

	outcome, err := session.Rejected, fmt.Errorf("%w: %q is reserved", session.ErrUsernameTaken, name)
	if !reservedUsername(name) {
		outcome, err = c.server.registry.Register(name, c.origin)
	}
	switch outcome {
	case session.Accepted:
		log.Printf("[conn %s] %s", c.id, joinedColor.Sprintf("%s joined as %q", c.origin, name))
		if err := c.writeJSON(protocol.JoinResponse{Result: protocol.ResultOK, Reason: protocol.ReasonWelcomeNew}); err != nil {
			return fmt.Errorf("send join response: %w", err)
		}
		c.server.hub.Publish(protocol.JoinedMessage(name, time.Now()), c.origin)

	case session.Rejoined:
		log.Printf("[conn %s] %s", c.id, rejoinedColor.Sprintf("%s rejoined as %q", c.origin, name))
		if err := c.writeJSON(protocol.JoinResponse{Result: protocol.ResultOK, Reason: protocol.ReasonWelcomeBack}); err != nil {
			return fmt.Errorf("send join response: %w", err)
		}

	default:
		log.Printf("[conn %s] %s", c.id, rejectedColor.Sprintf("%s tried to join as %q", c.origin, name))
		if werr := c.writeJSON(protocol.JoinResponse{Result: protocol.ResultNo, Reason: protocol.ReasonUsernameTaken}); werr != nil {
			log.Printf("[conn %s] send rejection: %v", c.id, werr)
		}
		return err
	}

	c.username = name
	return nil
}

// relay runs the read and write loops until either stops.
func (c *Client) relay(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error {
		// unblocks readLoop once the write side is gone
		<-ctx.Done()
		c.conn.Close()
		return nil
	})
	return g.Wait()
}

// readLoop publishes every non-empty line until the peer closes. It always
// returns a non-nil error.
func (c *Client) readLoop() error {
	for {
		line, err := readLine(c.reader)
		if errors.Is(err, errLineTooLong) {
			log.Printf("[conn %s] line from %s exceeds %d bytes, dropped", c.id, c.username, c.server.maxLineLength)
			continue
		}
		if text := strings.TrimSpace(line); text != "" {
			c.publish(text)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) publish(text string) {
	msg := protocol.NewUserMessage(c.username, text, time.Now())
	payload, err := protocol.EncodeMessage(msg)
	if err != nil {
		log.Printf("[conn %s] encode message: %v", c.id, err)
		return
	}
	if len(payload) > protocol.MaxPayloadSize {
		log.Printf("[conn %s] message from %s dropped: %v", c.id, c.username, protocol.ErrPayloadTooLarge)
		return
	}
	c.server.hub.Publish(msg, c.origin)
}

// writeLoop forwards hub traffic to the peer. It always returns a non-nil
// error.
func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case b, ok := <-c.sub.C():
			if !ok {
				return errHubClosed
			}
			msg := b.Message
			if msg.Sender == c.username {
				msg = msg.WithStyle(protocol.StyleYourself)
			}
			if err := c.sendMessage(msg); err != nil {
				if errors.Is(err, protocol.ErrPayloadTooLarge) {
					log.Printf("[conn %s] message to %s dropped: %v", c.id, c.username, err)
					continue
				}
				return err
			}
		}
	}
}

func (c *Client) sendMessage(msg protocol.ChatMessage) error {
	payload, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.setWriteDeadline()
	return protocol.WriteFrame(c.conn, payload)
}

func (c *Client) writeJSON(v any) error {
	c.setWriteDeadline()
	return protocol.WriteJSON(c.conn, v)
}

func (c *Client) setWriteDeadline() {
	if c.server.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
	}
}

// readLine returns the next line including its newline. A line that does not
// fit in the reader's buffer is consumed and reported as errLineTooLong. At
// end of stream any partial line is returned together with io.EOF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return string(line), err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", errLineTooLong
}

// normalizeUsername strips every whitespace character from name.
func normalizeUsername(name string) string {
	return strings.Join(strings.Fields(name), "")
}

// reservedUsername reports whether name would impersonate the relay's own
// notices.
func reservedUsername(name string) bool {
	return strings.EqualFold(name, protocol.ServerSender)
}
