package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/session"
)

type eventKind int

const (
	evJoin eventKind = iota
	evUnregister
	evCursor
	evDraw
	evClear
)

type event struct {
	kind   eventKind
	client *Client
	data   []byte
}

// Hub routes room events between connected clients. All session mutations
// run in the single Run loop, so join, leave, buffer append and the flush
// trigger check are serialized; only store I/O (replay hydration, flushes)
// leaves the loop.
type Hub struct {
	events chan event
	done   chan struct{}

	// Connected clients by room. Guarded by mu so the stats endpoints can
	// read while the Run loop writes.
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	registry *session.Registry
	flusher  *session.Flusher
}

func NewHub(registry *session.Registry, flusher *session.Flusher) *Hub {
	return &Hub{
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		rooms:    make(map[string]map[*Client]bool),
		registry: registry,
		flusher:  flusher,
	}
}

func (h *Hub) Run() {
	for {
		var ev event
		select {
		case ev = <-h.events:
		case <-h.done:
			return
		}
		switch ev.kind {
		case evJoin:
			h.handleJoin(ev.client)
		case evUnregister:
			h.handleUnregister(ev.client)
		case evCursor:
			h.handleCursor(ev.client, ev.data)
		case evDraw:
			h.handleDraw(ev.client, ev.data)
		case evClear:
			h.handleClear(ev.client)
		}
	}
}

// Stop terminates the Run loop and closes every remaining connection, which
// unwinds their read pumps. Called during shutdown before the flusher stops,
// so nothing keeps emitting room events into a stopping process.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			if client.conn != nil {
				client.conn.Close()
			}
		}
	}
}

func (h *Hub) handleJoin(c *Client) {
	roomID := c.roomID

	count := h.registry.Join(c.connID, roomID)

	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()

	// Replay persisted drawing data to the joiner only, once hydration from
	// the store has finished.
	go h.sendReplay(c)

	h.broadcastOthers(roomID, EvtUserJoined, map[string]string{"id": c.connID}, c)
	h.broadcastAll(roomID, EvtUserCount, count)

	log.Info().Str("room", roomID).Str("conn", c.connID).Int("count", count).
		Msg("client joined room")
}

func (h *Hub) handleUnregister(c *Client) {
	c.closeSend()

	roomID := c.roomID
	if roomID == "" {
		return // connected but never joined a room
	}

	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	remaining, drained, evicted := h.registry.Leave(c.connID, roomID)

	h.broadcastOthers(roomID, EvtUserLeft, map[string]string{"id": c.connID}, c)
	h.broadcastAll(roomID, EvtUserCount, remaining)

	if evicted {
		// Final drain so an incomplete batch is not lost with the session.
		// The drain includes the hydrated history, so flushing it rewrites
		// the full drawing. An empty buffer has nothing to save.
		if len(drained) > 0 {
			h.flusher.Enqueue(roomID, drained)
		}
		log.Info().Str("room", roomID).Msg("room empty, session evicted")
	} else {
		log.Info().Str("room", roomID).Str("conn", c.connID).Int("remaining", remaining).
			Msg("client left room")
	}
}

func (h *Hub) handleCursor(c *Client, data []byte) {
	payload, err := withSenderID(data, c.connID)
	if err != nil {
		log.Debug().Err(err).Str("conn", c.connID).Msg("dropping malformed cursor payload")
		return
	}
	h.broadcastRaw(c.roomID, EvtCursorUpdate, payload, c)
}

func (h *Hub) handleDraw(c *Client, data []byte) {
	h.broadcastRaw(c.roomID, EvtDraw, data, c)

	kind := strokeKind(data)
	if kind == "" {
		return
	}
	cmd := session.NewDrawCommand(kind, data)
	if flush := h.registry.Record(c.roomID, cmd); flush != nil {
		h.flusher.Enqueue(c.roomID, flush)
	}
}

func (h *Hub) handleClear(c *Client) {
	h.broadcastAll(c.roomID, EvtClearCanvas, nil)

	h.registry.Clear(c.roomID)
	// Persist the cleared state so a reload does not resurrect old strokes.
	h.flusher.Enqueue(c.roomID, nil)
}

// sendReplay delivers the room's drawing history directly to one client.
func (h *Hub) sendReplay(c *Client) {
	cmds := h.registry.Replay(c.roomID)
	if len(cmds) == 0 {
		return
	}
	msg, err := marshalEnvelope(EvtLoadDrawing, cmds)
	if err != nil {
		log.Error().Err(err).Str("room", c.roomID).Msg("failed to marshal drawing replay")
		return
	}
	c.trySend(msg)
	log.Debug().Str("room", c.roomID).Str("conn", c.connID).Int("commands", len(cmds)).
		Msg("drawing replay sent")
}

// broadcastAll delivers an event to every client in a room, sender included.
func (h *Hub) broadcastAll(roomID, typ string, data interface{}) {
	msg, err := marshalEnvelope(typ, data)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal broadcast")
		return
	}
	h.deliver(roomID, msg, nil)
}

// broadcastOthers delivers an event to every client in a room except the
// sender.
func (h *Hub) broadcastOthers(roomID, typ string, data interface{}, sender *Client) {
	msg, err := marshalEnvelope(typ, data)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal broadcast")
		return
	}
	h.deliver(roomID, msg, sender)
}

// broadcastRaw forwards an already-encoded payload to everyone but the
// sender without re-marshaling it.
func (h *Hub) broadcastRaw(roomID, typ string, payload []byte, sender *Client) {
	msg, err := marshalEnvelope(typ, json.RawMessage(payload))
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal broadcast")
		return
	}
	h.deliver(roomID, msg, sender)
}

func (h *Hub) deliver(roomID string, msg []byte, exclude *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Receiver too slow or gone; skip it and keep going.
			log.Debug().Str("room", roomID).Str("conn", client.connID).
				Msg("send buffer full, message skipped")
		}
	}
}

// Stats accessors for the REST facade.

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.rooms {
		total += len(clients)
	}
	return total
}

func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for roomID, clients := range h.rooms {
		active[roomID] = len(clients)
	}
	return active
}
