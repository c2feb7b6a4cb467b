package roster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mewhaven/catnip-server/internal/domain/economy"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
)

// fakeRepo is an in-memory ParticipantRepository with switchable failure
// modes.
type fakeRepo struct {
	mu       sync.Mutex
	records  map[string]storage.ParticipantRecord
	failLoad bool
	failSave bool
	saves    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]storage.ParticipantRecord)}
}

func (r *fakeRepo) Load(ctx context.Context, participantID string) (*storage.ParticipantRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad {
		return nil, errors.New("simulated load failure")
	}
	rec, ok := r.records[participantID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *fakeRepo) Save(ctx context.Context, record storage.ParticipantRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errors.New("simulated save failure")
	}
	r.records[record.ParticipantID] = record
	r.saves++
	return nil
}

func (r *fakeRepo) setFailSave(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSave = fail
}

func (r *fakeRepo) get(participantID string) (storage.ParticipantRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[participantID]
	return rec, ok
}

func testTuning() economy.Tuning {
	return economy.Tuning{
		BaseRatePerSecond:     1.0,
		PerFieldRatePerSecond: 0.125,
		BaseFieldPrice:        10,
		PriceMultiplier:       1.15,
		StorageCap:            5000,
		Rounding:              economy.RoundNearest,
	}
}

func newTestStore(repo storage.ParticipantRepository) (*Store, *events.Bus) {
	bus := events.NewBus()
	return NewStore(testTuning(), repo, bus, logger.NewLogger()), bus
}

func TestJoinWithoutRecordStartsAtDefaultsAndPersists(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	state, err := store.OnJoin(context.Background(), "cat-1")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if state != economy.NewState(testTuning()) {
		t.Errorf("expected default state for fresh participant, got %+v", state)
	}

	rec, ok := repo.get("cat-1")
	if !ok {
		t.Fatal("expected fresh record persisted at join")
	}
	if rec.Kind != storage.ParticipantRecordKind || rec.Version != storage.ParticipantRecordVersion {
		t.Errorf("fresh record carries wrong schema: kind=%s version=%d", rec.Kind, rec.Version)
	}
	if rec.NextFieldPrice != 10 {
		t.Errorf("expected base price 10 in fresh record, got %v", rec.NextFieldPrice)
	}
}

func TestJoinLoadsExistingRecord(t *testing.T) {
	repo := newFakeRepo()
	repo.records["cat-2"] = storage.ParticipantRecord{
		ParticipantID:  "cat-2",
		Kind:           storage.ParticipantRecordKind,
		Version:        storage.ParticipantRecordVersion,
		Catnip:         42.5,
		CatnipFields:   3,
		NextFieldPrice: 16,
	}
	store, _ := newTestStore(repo)

	state, err := store.OnJoin(context.Background(), "cat-2")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if state.Catnip != 42.5 || state.CatnipFields != 3 || state.NextFieldPrice != 16 {
		t.Errorf("expected persisted state restored, got %+v", state)
	}
}

func TestJoinIgnoresMismatchedSchemaVersion(t *testing.T) {
	repo := newFakeRepo()
	repo.records["cat-3"] = storage.ParticipantRecord{
		ParticipantID:  "cat-3",
		Kind:           storage.ParticipantRecordKind,
		Version:        0, // written by an older build
		Catnip:         9999,
		CatnipFields:   50,
		NextFieldPrice: 1,
	}
	store, _ := newTestStore(repo)

	state, err := store.OnJoin(context.Background(), "cat-3")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if state != economy.NewState(testTuning()) {
		t.Errorf("expected defaults for mismatched schema, got %+v", state)
	}

	// The stale record is overwritten with a current-schema one.
	rec, _ := repo.get("cat-3")
	if rec.Version != storage.ParticipantRecordVersion {
		t.Errorf("expected stale record replaced, still at version %d", rec.Version)
	}
}

func TestJoinIgnoresMismatchedKind(t *testing.T) {
	repo := newFakeRepo()
	repo.records["cat-4"] = storage.ParticipantRecord{
		ParticipantID:  "cat-4",
		Kind:           "SomethingElse",
		Version:        storage.ParticipantRecordVersion,
		Catnip:         500,
		CatnipFields:   2,
		NextFieldPrice: 14,
	}
	store, _ := newTestStore(repo)

	state, err := store.OnJoin(context.Background(), "cat-4")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if state != economy.NewState(testTuning()) {
		t.Errorf("expected defaults for foreign record kind, got %+v", state)
	}
}

func TestJoinWithStorageDownIsPlayable(t *testing.T) {
	repo := newFakeRepo()
	repo.failLoad = true
	store, _ := newTestStore(repo)

	state, err := store.OnJoin(context.Background(), "cat-5")
	if !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable, got %v", err)
	}
	if state != economy.NewState(testTuning()) {
		t.Errorf("expected defaults when storage is down, got %+v", state)
	}

	// Still registered and mutable in memory.
	if _, ok := store.Get("cat-5"); !ok {
		t.Error("expected participant registered despite storage failure")
	}
}

func TestLeavePersistsAndEvicts(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	store.OnJoin(context.Background(), "cat-6")
	state, _ := store.Get("cat-6")
	state.Catnip = 77
	store.Commit("cat-6", state, 5, 0, events.ReasonTick)
	store.Sync()

	store.OnLeave(context.Background(), "cat-6")

	if _, ok := store.Get("cat-6"); ok {
		t.Error("expected participant evicted after leave")
	}
	rec, _ := repo.get("cat-6")
	if rec.Catnip != 77 {
		t.Errorf("expected final state persisted at leave, got catnip %v", rec.Catnip)
	}

	// A second leave is a no-op and writes nothing.
	savesAfterFirst := repo.saves
	store.OnLeave(context.Background(), "cat-6")
	if repo.saves != savesAfterFirst {
		t.Errorf("expected no additional save on repeated leave, got %d extra", repo.saves-savesAfterFirst)
	}
}

func TestLeaveForUnknownParticipantIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	// Must not panic or write anything.
	store.OnLeave(context.Background(), "ghost")
	store.OnLeave(context.Background(), "ghost")

	if _, ok := repo.get("ghost"); ok {
		t.Error("expected no record written for unknown participant")
	}
}

func TestCommitPublishesAndPersists(t *testing.T) {
	repo := newFakeRepo()
	store, bus := newTestStore(repo)
	updates, cancel := bus.Subscribe(16)
	defer cancel()

	store.OnJoin(context.Background(), "cat-7")
	<-updates // join notification

	state, _ := store.Get("cat-7")
	state.Catnip = 12.5
	store.Commit("cat-7", state, 3, 0, events.ReasonTick)

	update := <-updates
	if update.ParticipantID != "cat-7" || update.Catnip != 12.5 || update.Reason != events.ReasonTick {
		t.Errorf("unexpected update payload: %+v", update)
	}
	if update.Tick != 3 {
		t.Errorf("expected tick 3 in update, got %d", update.Tick)
	}

	store.Sync()
	rec, _ := repo.get("cat-7")
	if rec.Catnip != 12.5 {
		t.Errorf("expected committed state persisted, got catnip %v", rec.Catnip)
	}
}

func TestCommitForUnknownParticipantIsDropped(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	store.Commit("ghost", economy.NewState(testTuning()), 1, 0, events.ReasonTick)
	store.Sync()

	if _, ok := repo.get("ghost"); ok {
		t.Error("expected commit for unknown participant to be dropped")
	}
}

func TestFailedSaveIsRetriedByFlushPending(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	store.OnJoin(context.Background(), "cat-8")
	repo.setFailSave(true)

	state, _ := store.Get("cat-8")
	state.Catnip = 99
	store.Commit("cat-8", state, 1, 0, events.ReasonTick)
	store.Sync()

	// The write failed; the in-memory state is still authoritative.
	live, _ := store.Get("cat-8")
	if live.Catnip != 99 {
		t.Fatalf("expected in-memory state kept after failed save, got %v", live.Catnip)
	}

	repo.setFailSave(false)
	if retried := store.FlushPending(context.Background()); retried != 1 {
		t.Fatalf("expected 1 retried save, got %d", retried)
	}

	rec, _ := repo.get("cat-8")
	if rec.Catnip != 99 {
		t.Errorf("expected retried save to land, got catnip %v", rec.Catnip)
	}

	// Clean dirty set: nothing left to retry.
	if retried := store.FlushPending(context.Background()); retried != 0 {
		t.Errorf("expected no pending saves after successful flush, got %d", retried)
	}
}

func TestDrainAllPersistsEveryParticipant(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	for _, id := range []string{"a", "b", "c"} {
		store.OnJoin(context.Background(), id)
		state, _ := store.Get(id)
		state.Catnip = 5
		store.Commit(id, state, 1, 0, events.ReasonTick)
	}

	store.DrainAll(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		rec, ok := repo.get(id)
		if !ok || rec.Catnip != 5 {
			t.Errorf("participant %s not drained: %+v", id, rec)
		}
	}
}

func TestAnnounceBroadcastsWithoutPersisting(t *testing.T) {
	repo := newFakeRepo()
	store, bus := newTestStore(repo)
	updates, cancel := bus.Subscribe(16)
	defer cancel()

	store.OnJoin(context.Background(), "cat-9")
	<-updates
	savesBefore := repo.saves

	store.Announce("cat-9", 10, 1, events.ReasonDay)

	update := <-updates
	if update.Reason != events.ReasonDay || update.Day != 1 {
		t.Errorf("unexpected announce payload: %+v", update)
	}
	store.Sync()
	if repo.saves != savesBefore {
		t.Errorf("expected no persistence writes from announce, got %d extra", repo.saves-savesBefore)
	}
}

func TestSizeAndActiveIDs(t *testing.T) {
	repo := newFakeRepo()
	store, _ := newTestStore(repo)

	store.OnJoin(context.Background(), "x")
	store.OnJoin(context.Background(), "y")

	if store.Size() != 2 {
		t.Errorf("expected 2 active participants, got %d", store.Size())
	}
	ids := store.ActiveIDs()
	if len(ids) != 2 {
		t.Errorf("expected 2 active IDs, got %v", ids)
	}

	store.OnLeave(context.Background(), "x")
	if store.Size() != 1 {
		t.Errorf("expected 1 active participant after leave, got %d", store.Size())
	}
}
