// Package memoryjournal provides an in-memory implementation of
// [journal.Store].
package memoryjournal

import (
	"context"
	"sync"

	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// Store is an implementation of [journal.Store] that stores entries in memory.
//
// The zero value is ready to use.
type Store struct {
	m        sync.Mutex
	journals map[logstore.LogID]*state
	registry map[logstore.LogID]journal.Config
}

// Define adds a log to the registry, or replaces the configuration of an
// existing log.
func (s *Store) Define(ctx context.Context, id logstore.LogID, cfg journal.Config) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.registry == nil {
		s.registry = map[logstore.LogID]journal.Config{}
	}
	s.registry[id] = cfg

	return ctx.Err()
}

// Lookup returns the configuration of a log.
func (s *Store) Lookup(ctx context.Context, id logstore.LogID) (journal.Config, bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	cfg, ok := s.registry[id]
	return cfg, ok, ctx.Err()
}

// Remove removes a log from the registry.
func (s *Store) Remove(ctx context.Context, id logstore.LogID) error {
	s.m.Lock()
	defer s.m.Unlock()

	delete(s.registry, id)

	return ctx.Err()
}

// Open returns the journal of the given log.
func (s *Store) Open(ctx context.Context, id logstore.LogID) (journal.Journal, error) {
	s.m.Lock()
	defer s.m.Unlock()

	st, ok := s.journals[id]
	if !ok {
		if s.journals == nil {
			s.journals = map[logstore.LogID]*state{}
		}

		st = &state{
			Begin: logstore.LSNOldest,
			End:   logstore.LSNOldest,
		}
		s.journals[id] = st
	}

	return &journ{
		id:    id,
		state: st,
	}, ctx.Err()
}

// Lose discards the entries in the closed interval [low, high] of a log's
// journal without changing its bounds, as though they had been lost by the
// underlying storage.
//
// Subsequent reads of those LSNs fail with a [journal.RecordNotFoundError].
func (s *Store) Lose(id logstore.LogID, low, high logstore.LSN) {
	s.m.Lock()
	st := s.journals[id]
	s.m.Unlock()

	if st == nil {
		return
	}

	st.Lock()
	defer st.Unlock()

	for n := max(low, st.Begin); n <= high && n < st.End; n++ {
		st.Entries[n-st.Begin].lost = true
	}
}
