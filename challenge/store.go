package challenge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// State is one pending challenge. The nonce is large enough that guessing
// or reusing one is not feasible within the TTL.
type State struct {
	ID              string
	AppName         string
	ClaimedKeyID    interfaces.KeyID
	DigestAlgorithm string
	Nonce           []byte
	ExpiresAt       time.Time
}

// Store holds pending challenges in memory. Challenges are short-lived and
// single-use, so losing them on restart only forces exporters to reopen.
// The mutex is held only for map access, never across I/O.
type Store struct {
	mu         sync.Mutex
	challenges map[string]*State

	now func() time.Time
	log *slog.Logger
}

// NewStore creates an empty challenge store.
func NewStore(log *slog.Logger) *Store {
	return &Store{
		challenges: make(map[string]*State),
		now:        time.Now,
		log:        log,
	}
}

// Insert registers a pending challenge.
func (s *Store) Insert(state *State) {
	s.mu.Lock()
	s.challenges[state.ID] = state
	s.mu.Unlock()
}

// Lookup returns a pending challenge if it exists and has not expired.
// Expired entries are removed on sight.
func (s *Store) Lookup(id string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.challenges[id]
	if !ok {
		return nil, false
	}
	if s.now().After(state.ExpiresAt) {
		delete(s.challenges, id)
		return nil, false
	}
	return state, true
}

// Remove deletes a challenge and reports whether it was still present. Under
// concurrent completion attempts exactly one caller observes true.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.challenges[id]
	if ok {
		delete(s.challenges, id)
	}
	return ok
}

// Sweep drops all expired challenges and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, state := range s.challenges {
		if now.After(state.ExpiresAt) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically sweeps expired challenges until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.log.Debug("swept expired challenges", "removed", removed)
			}
		}
	}
}
