package ws

import (
	"encoding/json"
	"fmt"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/session"
)

// Every websocket frame is a JSON envelope: {"type": "...", "data": ...}.
// Data is opaque to the server except where noted; draw and cursor payloads
// are forwarded to peers verbatim.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client-to-server events.
const (
	EvtJoinRoom    = "join-room"
	EvtCursorMove  = "cursor-move"
	EvtDraw        = "draw"
	EvtClearCanvas = "clear-canvas"
)

// Server-to-client events.
const (
	EvtLoadDrawing  = "load-drawing"
	EvtUserJoined   = "user-joined"
	EvtUserLeft     = "user-left"
	EvtUserCount    = "user-count"
	EvtCursorUpdate = "cursor-update"
	EvtError        = "error"
)

type joinPayload struct {
	RoomID string `json:"roomId"`
}

func marshalEnvelope(typ string, data interface{}) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// strokeKind maps the "type" field of a draw payload to a buffered command
// kind. Unknown types are broadcast-only and not checkpointed.
func strokeKind(data json.RawMessage) string {
	var p struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	switch p.Type {
	case "start":
		return session.KindStrokeStart
	case "move", "point":
		return session.KindStrokePoint
	case "end":
		return session.KindStrokeEnd
	default:
		return ""
	}
}

// withSenderID re-encodes an opaque payload with the sender's connection id
// merged in, so peers can attribute cursor updates.
func withSenderID(data json.RawMessage, id string) ([]byte, error) {
	fields := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	fields["id"] = id
	return json.Marshal(fields)
}
