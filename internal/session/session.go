package session

import (
	"encoding/json"
	"time"
)

// Kinds of drawing commands buffered for checkpointing. Full stroke geometry
// is buffered (start, point, end), so a reloaded room replays complete
// strokes rather than only start markers.
const (
	KindStrokeStart = "stroke-start"
	KindStrokePoint = "stroke-point"
	KindStrokeEnd   = "stroke-end"
)

// A DrawCommand is one buffered drawing event. The payload is the raw wire
// data, forwarded to peers verbatim and persisted as-is.
type DrawCommand struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// NewDrawCommand stamps a command with the time it was buffered.
func NewDrawCommand(kind string, payload json.RawMessage) DrawCommand {
	return DrawCommand{
		Kind:       kind,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
}

// roomSession is the volatile state for one active room: who is connected
// and what has not been checkpointed yet. Owned exclusively by the Registry;
// all access goes through Registry methods.
type roomSession struct {
	clients map[string]bool
	pending []DrawCommand

	// hydrated is set under the registry lock once the persisted history
	// has been merged into pending, or once a clear has made the merge
	// moot. Every flush snapshot consults it so a checkpoint can never
	// overwrite stored history it has not seen.
	hydrated bool

	// ready is closed once hydration has finished. Replay and eviction
	// drains wait on it so history always precedes live commands.
	ready chan struct{}
}

func newRoomSession() *roomSession {
	return &roomSession{
		clients: make(map[string]bool),
		pending: make([]DrawCommand, 0),
		ready:   make(chan struct{}),
	}
}
