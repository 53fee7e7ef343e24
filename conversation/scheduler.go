package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Scheduler defaults.
const (
	DefaultTurnConcurrency = 3
	DefaultMinTurnDelay    = 320 * time.Millisecond
	DefaultMaxTurnDelay    = 760 * time.Millisecond

	minWakeDelay = 20 * time.Millisecond
)

// TurnJob asks for the next turn of a session.
type TurnJob struct {
	SessionID string
	AllowEnd  bool
	NotBefore time.Time
}

// Handler runs one dispatched job. It is called without scheduler locks
// held and may enqueue further jobs.
type Handler func(ctx context.Context, job TurnJob)

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Concurrency int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Clock       core.Clock
	Random      *core.Random
	Logger      logging.Logger
}

// DefaultSchedulerOptions returns the built-in pacing.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Concurrency: DefaultTurnConcurrency,
		MinDelay:    DefaultMinTurnDelay,
		MaxDelay:    DefaultMaxTurnDelay,
	}
}

// Scheduler queues turn jobs with a jittered start time and dispatches ready
// jobs while fewer than Concurrency are running. It never dispatches a job
// before its NotBefore time.
type Scheduler struct {
	handler Handler
	opts    SchedulerOptions
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	enabled  bool
	queue    []TurnJob
	inFlight int
	timer    core.Timer
	timerAt  time.Time

	wg conc.WaitGroup
}

// NewScheduler creates an enabled scheduler dispatching to handler.
func NewScheduler(handler Handler, optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := DefaultSchedulerOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Random == nil {
		opts.Random = core.NewTimeSeededRandom()
	}
	opts.Concurrency = max(1, opts.Concurrency)
	if opts.MaxDelay < opts.MinDelay {
		opts.MinDelay, opts.MaxDelay = opts.MaxDelay, opts.MinDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		handler: handler,
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
	}
}

// Enqueue schedules a turn for sessionID after a random delay.
func (s *Scheduler) Enqueue(sessionID string, allowEnd bool) {
	delay := s.opts.Random.DurationBetween(s.opts.MinDelay, s.opts.MaxDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, TurnJob{
		SessionID: sessionID,
		AllowEnd:  allowEnd,
		NotBefore: s.opts.Clock.Now().Add(delay),
	})
	s.drainLocked()
}

// Clear drops every queued job. Running jobs finish normally.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.stopTimerLocked()
}

// SetEnabled pauses or resumes dispatching. Queued jobs are kept.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.stopTimerLocked()
		return
	}
	s.drainLocked()
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight returns the number of running jobs.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Wait blocks until every dispatched job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop disables dispatching, drops the queue, cancels the context handed to
// running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.enabled = false
	s.queue = nil
	s.stopTimerLocked()
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) drainLocked() {
	if !s.enabled {
		return
	}
	now := s.opts.Clock.Now()
	for s.inFlight < s.opts.Concurrency && len(s.queue) > 0 {
		idx := -1
		soonest := s.queue[0].NotBefore
		for i, j := range s.queue {
			if !j.NotBefore.After(now) {
				idx = i
				break
			}
			if j.NotBefore.Before(soonest) {
				soonest = j.NotBefore
			}
		}
		if idx < 0 {
			s.armLocked(now, max(minWakeDelay, soonest.Sub(now)))
			return
		}

		job := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.inFlight++
		s.wg.Go(func() { s.run(job) })
	}
}

func (s *Scheduler) run(job TurnJob) {
	var pc panics.Catcher
	pc.Try(func() { s.handler(s.ctx, job) })
	if r := pc.Recovered(); r != nil {
		s.logger.Error("turn handler panicked", "session", job.SessionID, "error", r.AsError())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.drainLocked()
}

// armLocked keeps one wake timer, moving it earlier when needed.
func (s *Scheduler) armLocked(now time.Time, wait time.Duration) {
	at := now.Add(wait)
	if s.timer != nil {
		if !at.Before(s.timerAt) {
			return
		}
		s.timer.Stop()
	}
	s.timerAt = at
	var t core.Timer
	t = s.opts.Clock.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timer == t {
			s.timer = nil
		}
		s.drainLocked()
	})
	s.timer = t
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
