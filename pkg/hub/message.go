// Package hub fans camera frames and status updates out to websocket
// clients using a single goroutine that owns the client set.
package hub

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Message is one broadcast payload: either a JPEG frame from the camera
// feed or a JSON status document.
type Message struct {
	Frame bool
	Data  []byte

	// Seq is the frame's position in the feed, counting from 1. Zero for
	// status messages.
	Seq uint64
	// At is when the payload was produced.
	At time.Time
}

// FrameMessage wraps an encoded JPEG frame captured at position seq.
func FrameMessage(jpeg []byte, seq uint64) Message {
	return Message{Frame: true, Data: jpeg, Seq: seq, At: time.Now()}
}

// StatusMessage encodes v as a JSON status message.
func StatusMessage(v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data, At: time.Now()}, nil
}

// ContentType is the MIME type of Data.
func (m Message) ContentType() string {
	if m.Frame {
		return "image/jpeg"
	}
	return "application/json"
}

// Age is how long ago the payload was produced.
func (m Message) Age() time.Duration {
	if m.At.IsZero() {
		return 0
	}
	return time.Since(m.At)
}

// wsType maps the payload to a websocket frame type: frames travel as binary,
// status as text.
func (m Message) wsType() int {
	if m.Frame {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
