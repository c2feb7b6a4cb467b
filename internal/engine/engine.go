package engine

import (
	"context"
	"errors"
	"time"

	"github.com/mewhaven/catnip-server/internal/config"
	"github.com/mewhaven/catnip-server/internal/domain/economy"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/roster"
)

// ErrEngineStopped reports a request issued after the engine loop exited.
var ErrEngineStopped = errors.New("engine stopped")

// Status is a point-in-time snapshot of the simulation.
type Status struct {
	Running            bool    `json:"running"`
	CurrentTick        int64   `json:"current_tick"`
	CurrentDay         int64   `json:"current_day"`
	AccumulatedSeconds float64 `json:"accumulated_seconds"`
	ActiveParticipants int     `json:"active_participants"`
}

// Engine is the simulation core. All gameplay mutation runs on a single
// goroutine fed by the frames and commands channels, which gives every
// operation mutual exclusion against ticks without per-participant locks.
type Engine struct {
	cfg       *config.Config
	tuning    economy.Tuning
	scheduler *Scheduler
	store     *roster.Store
	purchases *PurchaseCoordinator
	clockRepo storage.ClockRepository
	logger    *logger.Logger

	frames   chan float64
	commands chan func()
	done     chan struct{}
	drained  chan struct{}
}

// New assembles an engine from its collaborators. clockRepo may be nil when
// clock persistence is not wanted (tests, the load generator).
func New(cfg *config.Config, store *roster.Store, purchases *PurchaseCoordinator, clockRepo storage.ClockRepository, log *logger.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		tuning:    Tuning(cfg),
		store:     store,
		purchases: purchases,
		clockRepo: clockRepo,
		logger:    log,
		frames:    make(chan float64, 64),
		commands:  make(chan func(), 64),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}
	e.scheduler = NewScheduler(cfg.Clock.TickSeconds(), cfg.Clock.TicksPerDay, e)
	return e
}

// Tuning converts the economy section of the configuration into the domain
// tuning value.
func Tuning(cfg *config.Config) economy.Tuning {
	return economy.Tuning{
		BaseRatePerSecond:     cfg.Economy.BaseRatePerSecond,
		PerFieldRatePerSecond: cfg.Economy.PerFieldRatePerSecond,
		BaseFieldPrice:        cfg.Economy.BaseFieldPrice,
		PriceMultiplier:       cfg.Economy.PriceMultiplier,
		StorageCap:            cfg.Economy.StorageCap,
		Rounding:              economy.RoundingPolicy(cfg.Economy.PriceRounding),
	}
}

// Run executes the engine loop until ctx is cancelled, then checkpoints the
// clock and drains all participant state to storage.
func (e *Engine) Run(ctx context.Context) {
	e.scheduler.Start()
	e.logger.Info("engine loop started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case delta := <-e.frames:
			e.scheduler.OnTimeAdvance(delta)
		case cmd := <-e.commands:
			cmd()
		}
	}
}

func (e *Engine) shutdown() {
	close(e.done)
	e.scheduler.Stop()
	e.checkpointClock(context.Background())
	e.store.DrainAll(context.Background())
	e.logger.Info("engine loop stopped, state drained")
	close(e.drained)
}

// WaitStopped blocks until the engine loop has exited and all participant
// state has been drained to storage.
func (e *Engine) WaitStopped() {
	<-e.drained
}

// AdvanceTime feeds a real-time delta into the simulation. Non-blocking: if
// the frame buffer is full the delta is queued behind pending frames by the
// channel itself; after shutdown deltas are dropped.
func (e *Engine) AdvanceTime(deltaSeconds float64) {
	select {
	case e.frames <- deltaSeconds:
	case <-e.done:
	}
}

// do runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) do(fn func()) error {
	ready := make(chan struct{})
	wrapped := func() {
		fn()
		close(ready)
	}
	select {
	case e.commands <- wrapped:
	case <-e.done:
		return ErrEngineStopped
	}
	select {
	case <-ready:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// Join registers a participant, loading persisted state or defaults.
// A storage failure still admits the participant; the error reports that
// persistence is degraded.
func (e *Engine) Join(ctx context.Context, participantID string) (economy.State, error) {
	var state economy.State
	var joinErr error
	if err := e.do(func() {
		state, joinErr = e.store.OnJoin(ctx, participantID)
	}); err != nil {
		return economy.State{}, err
	}
	return state, joinErr
}

// Leave persists and evicts a participant. Idempotent.
func (e *Engine) Leave(ctx context.Context, participantID string) error {
	return e.do(func() {
		e.store.OnLeave(ctx, participantID)
	})
}

// RequestPurchase attempts a field purchase for the participant. contextID
// identifies the triggering interaction (button, trigger zone, load test)
// and flows into the purchase trace.
func (e *Engine) RequestPurchase(participantID, contextID string) (PurchaseResult, error) {
	var result PurchaseResult
	var reqErr error
	if err := e.do(func() {
		clock := e.scheduler.Clock()
		result, reqErr = e.purchases.RequestPurchase(participantID, contextID, clock.CurrentTick, clock.CurrentDay)
	}); err != nil {
		return PurchaseResult{}, err
	}
	return result, reqErr
}

// ResetProgress restores a participant's state to the configured defaults.
func (e *Engine) ResetProgress(participantID string) (economy.State, error) {
	var state economy.State
	var resetErr error
	if err := e.do(func() {
		if _, ok := e.store.Get(participantID); !ok {
			resetErr = ErrParticipantNotActive
			return
		}
		clock := e.scheduler.Clock()
		state = economy.Reset(e.tuning)
		e.store.Commit(participantID, state, clock.CurrentTick, clock.CurrentDay, events.ReasonReset)
		e.logger.Event("PROGRESS_RESET", participantID, "state restored to defaults")
	}); err != nil {
		return economy.State{}, err
	}
	return state, resetErr
}

// StateOf returns a participant's current state without mutating anything.
func (e *Engine) StateOf(participantID string) (economy.State, error) {
	var state economy.State
	var ok bool
	if err := e.do(func() {
		state, ok = e.store.Get(participantID)
	}); err != nil {
		return economy.State{}, err
	}
	if !ok {
		return economy.State{}, ErrParticipantNotActive
	}
	return state, nil
}

// Status reports the simulation's position and roster size.
func (e *Engine) Status() (Status, error) {
	var st Status
	if err := e.do(func() {
		clock := e.scheduler.Clock()
		st = Status{
			Running:            e.scheduler.Running(),
			CurrentTick:        clock.CurrentTick,
			CurrentDay:         clock.CurrentDay,
			AccumulatedSeconds: clock.AccumulatedSeconds,
			ActiveParticipants: e.store.Size(),
		}
	}); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Pause stops tick processing without losing accumulated time.
func (e *Engine) Pause() error {
	return e.do(func() {
		e.scheduler.Stop()
		e.logger.Info("simulation paused")
	})
}

// Resume restarts tick processing from the preserved clock position.
func (e *Engine) Resume() error {
	return e.do(func() {
		e.scheduler.Start()
		e.logger.Info("simulation resumed")
	})
}

// RestoreClock loads the persisted world clock into the scheduler. Called
// once at boot, before Run. A missing or mismatched record leaves the clock
// at zero.
func (e *Engine) RestoreClock(ctx context.Context) error {
	if e.clockRepo == nil {
		return nil
	}
	rec, err := e.clockRepo.Load(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if !rec.CurrentSchema() {
		e.logger.Warnf("clock schema mismatch (kind=%s version=%d), starting at zero", rec.Kind, rec.Version)
		return nil
	}
	e.scheduler.Restore(Clock{
		AccumulatedSeconds: rec.AccumulatedSeconds,
		CurrentTick:        rec.CurrentTick,
		CurrentDay:         rec.CurrentDay,
	})
	e.logger.Infof("world clock restored: tick=%d day=%d", rec.CurrentTick, rec.CurrentDay)
	return nil
}

// CheckpointClock persists the current clock position. Safe to call from
// scheduled jobs while the loop is running.
func (e *Engine) CheckpointClock(ctx context.Context) error {
	return e.do(func() {
		e.checkpointClock(ctx)
	})
}

func (e *Engine) checkpointClock(ctx context.Context) {
	if e.clockRepo == nil {
		return
	}
	clock := e.scheduler.Clock()
	err := e.clockRepo.Save(ctx, storage.ClockRecord{
		Kind:               storage.ClockRecordKind,
		Version:            storage.ClockRecordVersion,
		AccumulatedSeconds: clock.AccumulatedSeconds,
		CurrentTick:        clock.CurrentTick,
		CurrentDay:         clock.CurrentDay,
		LastUpdated:        time.Now(),
	})
	if err != nil {
		e.logger.Warnf("clock checkpoint failed: %v", err)
	}
}

// ProcessTick applies one tick of production to every active participant.
// Runs on the engine goroutine via the scheduler.
func (e *Engine) ProcessTick(tick, day int64) {
	elapsed := e.scheduler.TickSeconds()
	for _, id := range e.store.ActiveIDs() {
		state, ok := e.store.Get(id)
		if !ok {
			continue
		}
		next := economy.ApplyProduction(e.tuning, state, elapsed)
		e.store.Commit(id, next, tick, day, events.ReasonTick)
	}
}

// ProcessDay runs day-boundary rules: every participant gets a day-rollover
// notification, and with auto-buy enabled each one who can afford a field
// buys one.
func (e *Engine) ProcessDay(day int64) {
	e.logger.Infof("day %d begins, %d participants active", day, e.store.Size())

	clock := e.scheduler.Clock()
	for _, id := range e.store.ActiveIDs() {
		e.store.Announce(id, clock.CurrentTick, day, events.ReasonDay)
	}

	if !e.cfg.Clock.AutoBuyFields {
		return
	}

	for _, id := range e.store.ActiveIDs() {
		result, err := e.purchases.RequestPurchase(id, "day-boundary", clock.CurrentTick, day)
		if err != nil || !result.Accepted {
			continue
		}
		e.logger.Event("AUTO_BUY", id, "field purchased at day boundary")
	}
}
