// Package roster owns the live participant state between join and leave.
// It is the sole owner of EconomyState lifetime; other components receive
// value copies scoped to a single operation and hand mutated copies back
// through Commit.
package roster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mewhaven/catnip-server/internal/domain/economy"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/platform/metrics"
)

// ErrPersistenceUnavailable reports that the storage collaborator could not
// be reached. The participant's state is still usable in memory; persistence
// is retried at the next save point.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Store maps participant identity to live economy state and owns the
// load-on-join / save-on-leave lifecycle against the persistence
// collaborator.
//
// Gameplay mutation happens on the engine's single execution context; the
// mutex exists because asynchronous save completions and the retry sweep
// touch the dirty set from other goroutines.
type Store struct {
	mu     sync.Mutex
	tuning economy.Tuning
	repo   storage.ParticipantRepository
	bus    *events.Bus
	logger *logger.Logger

	live  map[string]economy.State
	dirty map[string]bool

	saves sync.WaitGroup
}

// NewStore creates an empty participant store.
func NewStore(tuning economy.Tuning, repo storage.ParticipantRepository, bus *events.Bus, log *logger.Logger) *Store {
	return &Store{
		tuning: tuning,
		repo:   repo,
		bus:    bus,
		logger: log,
		live:   make(map[string]economy.State),
		dirty:  make(map[string]bool),
	}
}

// OnJoin loads a participant's persisted state, or initializes defaults when
// the record is absent or carries a mismatched schema, and registers the
// state in the live roster. A fresh record is persisted immediately so a
// crash before any mutation still leaves a valid record on disk.
//
// Returns ErrPersistenceUnavailable when storage cannot be reached; the
// participant is still registered and playable in memory.
func (s *Store) OnJoin(ctx context.Context, participantID string) (economy.State, error) {
	s.mu.Lock()
	if existing, ok := s.live[participantID]; ok {
		s.mu.Unlock()
		s.logger.Warnf("join for already-active participant %s, reusing live state", participantID)
		return existing, nil
	}
	s.mu.Unlock()

	state := economy.NewState(s.tuning)
	fresh := true

	rec, err := s.repo.Load(ctx, participantID)
	if err != nil {
		s.logger.Warnf("load failed for %s, starting in-memory only: %v", participantID, err)
		s.register(participantID, state, true)
		metrics.Get().RecordJoin()
		s.publish(participantID, state, 0, 0, events.ReasonJoin)
		return state, ErrPersistenceUnavailable
	}

	if rec != nil {
		if rec.CurrentSchema() {
			state = economy.State{
				Catnip:         rec.Catnip,
				CatnipFields:   rec.CatnipFields,
				NextFieldPrice: rec.NextFieldPrice,
			}
			fresh = false
		} else {
			s.logger.Warnf("schema mismatch for %s (kind=%s version=%d), initializing defaults",
				participantID, rec.Kind, rec.Version)
		}
	}

	s.register(participantID, state, fresh)
	metrics.Get().RecordJoin()

	if fresh {
		// Synchronous initial save: the record must exist before the first
		// mutation can be lost.
		if err := s.saveNow(ctx, participantID, state); err != nil {
			s.logger.Warnf("initial save failed for %s (will retry at next save point): %v", participantID, err)
		}
	}

	s.logger.Event("PARTICIPANT_JOINED", participantID, "roster registration complete")
	s.publish(participantID, state, 0, 0, events.ReasonJoin)
	return state, nil
}

// OnLeave persists the live state and removes it from the roster. A leave
// for an unknown participant is a no-op logged as a warning, which makes the
// operation idempotent.
func (s *Store) OnLeave(ctx context.Context, participantID string) {
	s.mu.Lock()
	state, ok := s.live[participantID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warnf("leave for unknown participant %s, ignoring", participantID)
		return
	}
	delete(s.live, participantID)
	delete(s.dirty, participantID)
	s.mu.Unlock()

	metrics.Get().RecordLeave()

	if err := s.saveNow(ctx, participantID, state); err != nil {
		s.logger.Warnf("leave save failed for %s, last committed record stands: %v", participantID, err)
	}
	s.logger.Event("PARTICIPANT_LEFT", participantID, "state persisted and evicted")
}

// Get returns a copy of the participant's live state. Non-blocking lookup
// into the live roster only.
func (s *Store) Get(participantID string) (economy.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.live[participantID]
	return state, ok
}

// Commit replaces the live roster entry, broadcasts a change notification,
// and issues the persistence write without waiting for it. A failed write
// leaves the entry dirty; it is retried on the next commit or by the
// FlushPending sweep. The in-memory value is never rolled back.
func (s *Store) Commit(participantID string, state economy.State, tick, day int64, reason events.UpdateReason) {
	s.mu.Lock()
	if _, ok := s.live[participantID]; !ok {
		s.mu.Unlock()
		s.logger.Warnf("commit for unknown participant %s, dropping", participantID)
		return
	}
	s.live[participantID] = state
	s.dirty[participantID] = true
	s.mu.Unlock()

	s.publish(participantID, state, tick, day, reason)

	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		s.persistLatest(participantID)
	}()
}

// Announce broadcasts a participant's current state without committing or
// persisting anything. Used for notifications that carry no state change of
// their own, like day rollovers.
func (s *Store) Announce(participantID string, tick, day int64, reason events.UpdateReason) {
	s.mu.Lock()
	state, ok := s.live[participantID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.publish(participantID, state, tick, day, reason)
}

// ActiveIDs returns the identities currently in the live roster.
func (s *Store) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	return ids
}

// Size reports the number of active participants.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// FlushPending retries persistence for every entry whose last save failed.
// Returns the number of entries retried. Called from the scheduled sweep.
func (s *Store) FlushPending(ctx context.Context) int {
	s.mu.Lock()
	pending := make(map[string]economy.State, len(s.dirty))
	for id := range s.dirty {
		if state, ok := s.live[id]; ok {
			pending[id] = state
		}
	}
	s.mu.Unlock()

	retried := 0
	for id, state := range pending {
		metrics.Get().RecordSaveRetry()
		if err := s.saveNow(ctx, id, state); err != nil {
			s.logger.Warnf("retry save failed for %s: %v", id, err)
			continue
		}
		retried++
	}
	return retried
}

// DrainAll synchronously persists every live entry. Used at shutdown.
func (s *Store) DrainAll(ctx context.Context) {
	s.saves.Wait()

	for _, id := range s.ActiveIDs() {
		state, ok := s.Get(id)
		if !ok {
			continue
		}
		if err := s.saveNow(ctx, id, state); err != nil {
			s.logger.Errorf("drain save failed for %s: %v", id, err)
		}
	}
}

// Sync waits for all in-flight asynchronous saves to settle.
func (s *Store) Sync() {
	s.saves.Wait()
}

func (s *Store) register(participantID string, state economy.State, dirty bool) {
	s.mu.Lock()
	s.live[participantID] = state
	if dirty {
		s.dirty[participantID] = true
	}
	s.mu.Unlock()
}

func (s *Store) publish(participantID string, state economy.State, tick, day int64, reason events.UpdateReason) {
	s.bus.Publish(events.StateUpdate{
		ParticipantID:  participantID,
		Catnip:         state.Catnip,
		CatnipFields:   state.CatnipFields,
		NextFieldPrice: state.NextFieldPrice,
		Tick:           tick,
		Day:            day,
		Reason:         reason,
	})
}

// persistLatest saves the most recent live state for the participant. The
// snapshot is taken at write time so overlapping commits converge on the
// newest value.
func (s *Store) persistLatest(participantID string) {
	s.mu.Lock()
	state, ok := s.live[participantID]
	s.mu.Unlock()
	if !ok {
		// Participant left between commit and write; OnLeave saved already.
		return
	}

	if err := s.saveNow(context.Background(), participantID, state); err != nil {
		s.logger.Warnf("save failed for %s (will retry at next save point): %v", participantID, err)
	}
}

func (s *Store) saveNow(ctx context.Context, participantID string, state economy.State) error {
	start := time.Now()
	err := s.repo.Save(ctx, storage.ParticipantRecord{
		ParticipantID:  participantID,
		Kind:           storage.ParticipantRecordKind,
		Version:        storage.ParticipantRecordVersion,
		Catnip:         state.Catnip,
		CatnipFields:   state.CatnipFields,
		NextFieldPrice: state.NextFieldPrice,
	})
	metrics.Get().RecordSave(time.Since(start), err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.dirty, participantID)
	s.mu.Unlock()
	return nil
}
