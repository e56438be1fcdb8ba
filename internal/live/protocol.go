package live

import (
	"encoding/json"

	"campuscart/chat-service/internal/models"
)

const (
	FrameJoin       = "join"
	FrameJoined     = "joined"
	FrameMessage    = "message"
	FrameNewMessage = "newMessage"
	FrameError      = "error"
)

// Frame is the JSON envelope exchanged on the websocket.
type Frame struct {
	Type    string            `json:"type"`
	UserID  string            `json:"userId,omitempty"`
	Message *models.LiveEvent `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func encodeFrame(f Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}

// fanOut pushes ev to the receiver's channel and to the sender's own channel
// so the sender's other open sessions see the outgoing message too.
func fanOut(registry *Registry, ev models.LiveEvent) int {
	payload := encodeFrame(Frame{Type: FrameNewMessage, Message: &ev})

	delivered := registry.Deliver(ev.Receiver, payload)
	if ev.Sender != ev.Receiver {
		delivered += registry.Deliver(ev.Sender, payload)
	}
	return delivered
}
