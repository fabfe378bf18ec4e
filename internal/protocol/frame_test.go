package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 2, 255, 256, 4096, MaxPayloadSize}
	for _, n := range sizes {
		payload := bytes.Repeat([]byte{'x'}, n)
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, payload), "size %d", n)
		assert.Equal(t, headerSize+n, buf.Len())

		got, err := ReadFrame(&buf)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, payload, got, "size %d", n)
	}
}

func TestEncodeHeaderIsBigEndian(t *testing.T) {
	frame, err := Encode(bytes.Repeat([]byte{'a'}, 0x0102))
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), frame[0])
	assert.Equal(t, byte(0x02), frame[1])

	frame, err = Encode([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02, 'h', 'i'}, frame)
}

type countingWriter struct{ writes int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return len(p), nil
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	w := &countingWriter{}
	err := WriteFrame(w, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, w.writes)

	_, err = Encode(make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReadFrameEndOfStream(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	// one byte of header is still a closed connection, not a protocol error
	_, err = ReadFrame(bytes.NewReader([]byte{0x00}))
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, errors.Is(err, ErrProtocol))
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x05, 'a', 'b'}))
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = ReadFrame(bytes.NewReader([]byte{0x00, 0x05}))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for _, p := range []string{"one", "", "three"} {
		require.NoError(t, WriteFrame(&buf, []byte(p)))
	}
	for _, want := range []string{"one", "", "three"} {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, JoinRequest{Username: "alice"}))
	require.NoError(t, WriteFrame(&buf, []byte("{not json")))

	var req JoinRequest
	require.NoError(t, ReadJSON(&buf, &req))
	assert.Equal(t, "alice", req.Username)

	err := ReadJSON(&buf, &req)
	assert.ErrorIs(t, err, ErrProtocol)
}
