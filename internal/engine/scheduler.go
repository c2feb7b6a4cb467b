package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/mewhaven/catnip-server/internal/platform/metrics"
)

// TickHandler receives simulation callbacks from the Scheduler. ProcessTick
// fires once per elapsed tick with the tick's position within the current
// day; ProcessDay fires after the tick that rolls the day counter over.
type TickHandler interface {
	ProcessTick(tick, day int64)
	ProcessDay(day int64)
}

// Clock is a snapshot of the scheduler's position in simulated time.
// CurrentTick counts within the current day and resets to zero at each
// rollover; CurrentDay only grows.
type Clock struct {
	AccumulatedSeconds float64
	CurrentTick        int64
	CurrentDay         int64
}

// Scheduler converts irregular real-time deltas into a fixed-step stream of
// tick and day callbacks. It is not safe for concurrent use; the engine
// drives it from its single command loop.
type Scheduler struct {
	tickSeconds float64
	ticksPerDay int64
	handler     TickHandler

	accumulated float64
	tick        int64
	day         int64
	running     bool
}

// NewScheduler creates a stopped scheduler at tick zero.
func NewScheduler(tickSeconds float64, ticksPerDay int, handler TickHandler) *Scheduler {
	if tickSeconds <= 0 {
		panic(fmt.Sprintf("scheduler: tick duration must be positive, got %v", tickSeconds))
	}
	if ticksPerDay <= 0 {
		panic(fmt.Sprintf("scheduler: ticks per day must be positive, got %d", ticksPerDay))
	}
	return &Scheduler{
		tickSeconds: tickSeconds,
		ticksPerDay: int64(ticksPerDay),
		handler:     handler,
	}
}

// Start enables tick processing. Accumulated time and counters are preserved
// across a stop/start cycle.
func (s *Scheduler) Start() {
	s.running = true
}

// Stop pauses tick processing. Deltas arriving while stopped are discarded;
// the accumulator and counters keep their values.
func (s *Scheduler) Stop() {
	s.running = false
}

// Running reports whether the scheduler is processing time.
func (s *Scheduler) Running() bool {
	return s.running
}

// Clock returns the scheduler's current simulated-time position.
func (s *Scheduler) Clock() Clock {
	return Clock{
		AccumulatedSeconds: s.accumulated,
		CurrentTick:        s.tick,
		CurrentDay:         s.day,
	}
}

// Restore rewinds the scheduler to a previously saved clock position. Used
// at boot so simulated days survive restarts.
func (s *Scheduler) Restore(c Clock) {
	s.accumulated = c.AccumulatedSeconds
	s.tick = c.CurrentTick
	s.day = c.CurrentDay
}

// OnTimeAdvance feeds deltaSeconds of real time into the accumulator and
// fires ProcessTick for every whole tick it covers, in order, plus
// ProcessDay after each tick that completes a day. Fractional remainders
// stay in the accumulator for the next call.
//
// A negative or non-finite delta is a programming error and panics. Deltas
// arriving while the scheduler is stopped are ignored.
func (s *Scheduler) OnTimeAdvance(deltaSeconds float64) {
	if deltaSeconds < 0 || math.IsNaN(deltaSeconds) || math.IsInf(deltaSeconds, 0) {
		panic(fmt.Sprintf("scheduler: invalid time delta %v", deltaSeconds))
	}
	if !s.running {
		return
	}

	s.accumulated += deltaSeconds

	for s.accumulated >= s.tickSeconds {
		s.accumulated -= s.tickSeconds
		s.tick++

		start := time.Now()
		s.handler.ProcessTick(s.tick, s.day)
		metrics.Get().RecordTick(time.Since(start))

		if s.tick == s.ticksPerDay {
			s.tick = 0
			s.day++
			s.handler.ProcessDay(s.day)
			metrics.Get().RecordDay()
		}
	}
}

// TickSeconds returns the configured tick length in seconds.
func (s *Scheduler) TickSeconds() float64 {
	return s.tickSeconds
}
