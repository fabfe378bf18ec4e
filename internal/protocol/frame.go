// Package protocol defines the wire format shared by the relay server and its
// clients.
//
// Server → client traffic, and the client's join request, travel as frames:
// a 2-byte big-endian length followed by that many bytes of UTF-8 JSON.
// Chat lines from a joined client are bare newline-terminated text.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadSize is the largest payload a single frame can carry.
const MaxPayloadSize = 0xFFFF

const headerSize = 2

var (
	// ErrPayloadTooLarge is returned when a payload does not fit in one frame.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 65535 bytes")

	// ErrProtocol is returned when a frame ends before its declared length.
	ErrProtocol = errors.New("protocol: truncated frame")
)

// Encode prefixes payload with its length.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// WriteFrame writes payload as a single frame. Nothing is written when the
// payload is too large.
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := Encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame and returns its payload.
//
// A missing or short length header means the peer went away and is reported
// as io.EOF. A payload shorter than the header promised is ErrProtocol.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrProtocol, len(payload))
		}
		return nil, err
	}
	return payload, nil
}

// WriteJSON marshals v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadJSON reads one frame and unmarshals it into v.
func ReadJSON(r io.Reader, v any) error {
	data, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, ErrProtocol) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}
