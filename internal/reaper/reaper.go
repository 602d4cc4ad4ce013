// Package reaper deletes durable room records that have been inactive
// longer than the retention window. It operates purely on the store and can
// race with live sessions: a session whose record gets reaped simply
// recreates it on its next checkpoint flush.
package reaper

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/store"
)

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		Retention: 24 * time.Hour,
	}
}

type Service struct {
	store  *store.Store
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup

	// now is swappable so tests can drive the retention cutoff.
	now func() time.Time
}

func New(st *store.Store, config Config) *Service {
	return &Service{
		store:  st,
		config: config,
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Info().Dur("interval", s.config.Interval).Dur("retention", s.config.Retention).
		Msg("reaper started")
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Info().Msg("reaper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep deletes every room whose last activity is older than the retention
// window. Exported so tests and operators can trigger a pass directly.
func (s *Service) Sweep() {
	cutoff := s.now().Add(-s.config.Retention)

	deleted, err := s.store.DeleteInactiveBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("reaper sweep failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("reaped inactive rooms")
	}
}
