package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Saver is the slice of the room record store the flusher writes to.
type Saver interface {
	SaveDrawing(id string, drawingData []byte, lastActivity time.Time) error
}

type flushJob struct {
	roomID string
	cmds   []DrawCommand
	done   chan struct{} // non-nil only for Sync barriers
}

// Flusher writes checkpoint batches to the room record store. A single
// goroutine consumes the job queue, so flushes for the same room are never
// in flight concurrently and "last issued" always wins. Enqueue never blocks
// the caller: a full queue drops the job with a warning, which only delays
// durability until the next trigger.
type Flusher struct {
	saver Saver
	jobs  chan flushJob
	wg    sync.WaitGroup
	now   func() time.Time

	// mu orders Enqueue and Sync against Stop. Read pumps on hijacked
	// connections outlive the HTTP server's shutdown and may still enqueue
	// while the process is winding down.
	mu      sync.Mutex
	stopped bool
}

func NewFlusher(saver Saver) *Flusher {
	f := &Flusher{
		saver: saver,
		jobs:  make(chan flushJob, 64),
		now:   time.Now,
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Enqueue schedules a checkpoint write of the given buffer snapshot. A nil
// or empty snapshot persists a cleared canvas. Enqueue after Stop drops the
// job with a warning.
func (f *Flusher) Enqueue(roomID string, cmds []DrawCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		log.Warn().Str("room", roomID).Int("commands", len(cmds)).
			Msg("flusher stopped, dropping flush")
		return
	}
	select {
	case f.jobs <- flushJob{roomID: roomID, cmds: cmds}:
	default:
		log.Warn().Str("room", roomID).Int("commands", len(cmds)).
			Msg("checkpoint queue full, dropping flush")
	}
}

// Sync blocks until every job enqueued before the call has been written.
func (f *Flusher) Sync() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	done := make(chan struct{})
	f.jobs <- flushJob{done: done}
	f.mu.Unlock()
	<-done
}

// Stop drains the queue and shuts the flusher down.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()

	close(f.jobs)
	f.wg.Wait()
}

func (f *Flusher) run() {
	defer f.wg.Done()

	for job := range f.jobs {
		if job.done != nil {
			close(job.done)
			continue
		}
		f.flush(job.roomID, job.cmds)
	}
}

// flush marshals the snapshot and upserts it. Failures are logged and
// swallowed: in-memory state stays authoritative for connected clients, a
// store outage only degrades durability.
func (f *Flusher) flush(roomID string, cmds []DrawCommand) {
	if cmds == nil {
		cmds = []DrawCommand{}
	}
	data, err := json.Marshal(cmds)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("failed to marshal checkpoint")
		return
	}

	if err := f.saver.SaveDrawing(roomID, data, f.now()); err != nil {
		log.Error().Err(err).Str("room", roomID).Int("commands", len(cmds)).
			Msg("checkpoint flush failed")
		return
	}
	log.Debug().Str("room", roomID).Int("commands", len(cmds)).Msg("checkpoint flushed")
}
