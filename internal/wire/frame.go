package wire

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a broker frame.
type FrameType string

const (
	// FrameConnect is sent by the client immediately after the websocket
	// handshake to bind the connection to a user session.
	FrameConnect FrameType = "CONNECT"
	// FrameConnected is the broker's reply to CONNECT.
	FrameConnected FrameType = "CONNECTED"
	// FrameSubscribe registers interest in a topic.
	FrameSubscribe FrameType = "SUBSCRIBE"
	// FrameUnsubscribe cancels a prior subscription by id.
	FrameUnsubscribe FrameType = "UNSUBSCRIBE"
	// FrameSend publishes an application payload to a destination.
	FrameSend FrameType = "SEND"
	// FrameMessage carries a broker push for a subscribed topic.
	FrameMessage FrameType = "MESSAGE"
	// FrameError reports a broker-side failure for this connection.
	FrameError FrameType = "ERROR"
)

// Frame is the JSON envelope exchanged with the broker over the websocket.
//
// Destination is the topic (for SUBSCRIBE/MESSAGE) or the application
// endpoint (for SEND). ID identifies a subscription so it can be cancelled
// later; the broker echoes it back on MESSAGE frames.
type Frame struct {
	Type        FrameType       `json:"type"`
	Destination string          `json:"destination,omitempty"`
	ID          string          `json:"id,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// NewFrame builds a frame with a JSON-encoded body.
func NewFrame(t FrameType, destination, id string, body any) (Frame, error) {
	f := Frame{Type: t, Destination: destination, ID: id}
	if body == nil {
		return f, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal frame body: %w", err)
	}
	f.Body = raw
	return f, nil
}

// DecodeBody unmarshals the frame body into v.
func (f Frame) DecodeBody(v any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("frame %s has no body", f.Type)
	}
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", f.Type, err)
	}
	return nil
}
