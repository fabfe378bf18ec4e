package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ServerSender is the sender name used for messages the relay itself emits.
const ServerSender = "Server"

// Style is a rendering hint for a chat message. Its integer value is the wire
// encoding and must stay stable.
type Style uint8

const (
	StyleUser     Style = 0
	StyleYourself Style = 1
	StyleAdmin    Style = 2
	StyleServer   Style = 3
)

// Valid reports whether s is one of the known styles.
func (s Style) Valid() bool {
	return s <= StyleServer
}

func (s Style) String() string {
	switch s {
	case StyleUser:
		return "user"
	case StyleYourself:
		return "yourself"
	case StyleAdmin:
		return "admin"
	case StyleServer:
		return "server"
	}
	return fmt.Sprintf("style(%d)", uint8(s))
}

// ErrMalformedMessage is returned when a payload is not a valid ChatMessage.
// It wraps ErrProtocol.
var ErrMalformedMessage = fmt.Errorf("%w: malformed chat message", ErrProtocol)

// ChatMessage is one relayed chat line.
type ChatMessage struct {
	Timestamp int64  `json:"timestamp"` // seconds since epoch
	Sender    string `json:"sender"`
	Style     Style  `json:"style"`
	Text      string `json:"text"`
}

// NewUserMessage builds the message relayed for a line typed by sender.
func NewUserMessage(sender, text string, now time.Time) ChatMessage {
	return ChatMessage{
		Timestamp: now.Unix(),
		Sender:    sender,
		Style:     StyleUser,
		Text:      text,
	}
}

// NewServerMessage builds a notice emitted by the relay itself.
func NewServerMessage(text string, now time.Time) ChatMessage {
	return ChatMessage{
		Timestamp: now.Unix(),
		Sender:    ServerSender,
		Style:     StyleServer,
		Text:      text,
	}
}

// JoinedMessage announces that username has joined.
func JoinedMessage(username string, now time.Time) ChatMessage {
	return NewServerMessage(username+" joined chat", now)
}

// WithStyle returns a copy of m carrying style s.
func (m ChatMessage) WithStyle(s Style) ChatMessage {
	m.Style = s
	return m
}

// Time returns the message timestamp as a time.Time.
func (m ChatMessage) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// messageKeys are the only object keys a ChatMessage accepts, matched
// case-sensitively.
var messageKeys = map[string]bool{
	"timestamp": true,
	"sender":    true,
	"style":     true,
	"text":      true,
}

// checkKeys walks the top-level object in data and rejects keys outside
// messageKeys as well as repeated keys. encoding/json folds key case and lets
// the last duplicate win, so neither is caught by struct decoding alone.
func checkKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("%w: expected object", ErrMalformedMessage)
	}
	seen := make(map[string]bool, len(messageKeys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		key, _ := tok.(string)
		if !messageKeys[key] {
			return fmt.Errorf("%w: unknown key %q", ErrMalformedMessage, key)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate key %q", ErrMalformedMessage, key)
		}
		seen[key] = true
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// UnmarshalJSON requires every key to be present exactly once, spelled
// exactly, with the right type. Unknown keys and out-of-range styles are
// rejected.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	if err := checkKeys(data); err != nil {
		return err
	}
	var raw struct {
		Timestamp *int64  `json:"timestamp"`
		Sender    *string `json:"sender"`
		Style     *int    `json:"style"`
		Text      *string `json:"text"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case raw.Timestamp == nil:
		return fmt.Errorf("%w: missing timestamp", ErrMalformedMessage)
	case raw.Sender == nil:
		return fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	case raw.Style == nil:
		return fmt.Errorf("%w: missing style", ErrMalformedMessage)
	case raw.Text == nil:
		return fmt.Errorf("%w: missing text", ErrMalformedMessage)
	}
	if *raw.Style < 0 || *raw.Style > int(StyleServer) {
		return fmt.Errorf("%w: unknown style %d", ErrMalformedMessage, *raw.Style)
	}

	*m = ChatMessage{
		Timestamp: *raw.Timestamp,
		Sender:    *raw.Sender,
		Style:     Style(*raw.Style),
		Text:      *raw.Text,
	}
	return nil
}

// EncodeMessage returns the JSON payload for m.
func EncodeMessage(m ChatMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a JSON payload into a ChatMessage.
func DecodeMessage(data []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		if errors.Is(err, ErrProtocol) {
			return ChatMessage{}, err
		}
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
