package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/store"
)

// RecordLoader is the slice of the room record store the registry needs to
// hydrate a fresh session with previously checkpointed drawing data.
type RecordLoader interface {
	GetRoom(id string) (*store.Room, error)
}

// Registry tracks the volatile session state for every room with at least
// one connected client. A session exists exactly while its client set is
// non-empty; the last Leave evicts it and hands back the unflushed buffer.
//
// One mutex guards the room map and every session's fields. Membership
// changes and buffer appends complete under the lock, so concurrent joins
// and leaves can never observe a torn count or both trigger eviction. Store
// reads happen outside the lock.
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*roomSession
	loader    RecordLoader
	batchSize int
}

func NewRegistry(loader RecordLoader, batchSize int) *Registry {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Registry{
		rooms:     make(map[string]*roomSession),
		loader:    loader,
		batchSize: batchSize,
	}
}

// Join adds a connection to a room, creating the session if this is the
// first join. Returns the resulting client count. Hydration of persisted
// drawing data runs in the background exactly once per session; Replay
// blocks until it finishes.
func (r *Registry) Join(connID, roomID string) int {
	r.mu.Lock()
	sess, ok := r.rooms[roomID]
	if !ok {
		sess = newRoomSession()
		r.rooms[roomID] = sess
		if r.loader == nil {
			sess.hydrated = true
			close(sess.ready)
		} else {
			go r.hydrate(roomID, sess)
		}
	}
	sess.clients[connID] = true
	count := len(sess.clients)
	r.mu.Unlock()

	return count
}

// Leave removes a connection from a room and returns the remaining client
// count. When the room becomes empty the session is evicted under the same
// lock that observed emptiness, and the unflushed command buffer is returned
// so the caller can drain it to the store. The drain waits for hydration to
// finish, so it always contains the persisted history plus the new commands
// and flushing it can never lose stored strokes.
func (r *Registry) Leave(connID, roomID string) (remaining int, drained []DrawCommand, evicted bool) {
	r.mu.Lock()
	sess, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return 0, nil, false
	}
	delete(sess.clients, connID)
	remaining = len(sess.clients)
	if remaining > 0 {
		r.mu.Unlock()
		return remaining, nil, false
	}
	delete(r.rooms, roomID)
	r.mu.Unlock()

	// Hydration merges into the session even after eviction.
	<-sess.ready

	r.mu.Lock()
	defer r.mu.Unlock()
	drained = make([]DrawCommand, len(sess.pending))
	copy(drained, sess.pending)
	return 0, drained, true
}

// Record appends a command to the room's buffer. When the buffer length
// reaches a multiple of the batch size it returns a snapshot of the whole
// buffer for checkpointing; otherwise it returns nil. Snapshots are withheld
// until hydration has merged the persisted history, so a checkpoint taken at
// a batch boundary never overwrites stored strokes with only new ones; the
// flush then happens at the next boundary.
func (r *Registry) Record(roomID string, cmd DrawCommand) []DrawCommand {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	sess.pending = append(sess.pending, cmd)
	if !sess.hydrated || len(sess.pending)%r.batchSize != 0 {
		return nil
	}
	flush := make([]DrawCommand, len(sess.pending))
	copy(flush, sess.pending)
	return flush
}

// Clear discards the room's buffered commands. A clear also supersedes any
// in-flight hydration: history loaded after the clear would resurrect
// strokes the users just erased, so the merge is cancelled.
func (r *Registry) Clear(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.rooms[roomID]; ok {
		sess.pending = sess.pending[:0]
		sess.hydrated = true
	}
}

// Replay returns a snapshot of the room's buffered commands, waiting for
// hydration from the store to complete first so a joining client always
// receives persisted history before live strokes.
func (r *Registry) Replay(roomID string) []DrawCommand {
	r.mu.Lock()
	sess, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	<-sess.ready

	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]DrawCommand, len(sess.pending))
	copy(snapshot, sess.pending)
	return snapshot
}

// ClientCount returns the number of connections currently in a room, or 0
// if no session exists.
func (r *Registry) ClientCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.rooms[roomID]; ok {
		return len(sess.clients)
	}
	return 0
}

// RoomCount returns the number of active sessions.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// hydrate loads the checkpointed drawing data for a room into the session
// buffer, prepending it so commands recorded during the load keep their
// relative order after the history. Runs once per session. The merge happens
// even if the session was evicted while the store read was in flight, so the
// eviction drain still carries the full history; a clear marks the session
// hydrated first and cancels the merge.
func (r *Registry) hydrate(roomID string, sess *roomSession) {
	defer close(sess.ready)

	history := r.loadHistory(roomID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !sess.hydrated {
		if len(history) > 0 {
			sess.pending = append(history, sess.pending...)
		}
		sess.hydrated = true
		log.Debug().Str("room", roomID).Int("commands", len(history)).Msg("session hydrated")
	}
}

func (r *Registry) loadHistory(roomID string) []DrawCommand {
	if r.loader == nil {
		return nil
	}

	record, err := r.loader.GetRoom(roomID)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("failed to load drawing data, starting empty")
		return nil
	}
	if record == nil || len(record.DrawingData) == 0 {
		return nil
	}

	var history []DrawCommand
	if err := json.Unmarshal(record.DrawingData, &history); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("corrupt drawing data ignored")
		return nil
	}
	return history
}
