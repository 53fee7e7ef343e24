package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/model"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

const (
	// DefaultEstimatedTokens is charged when a caller supplies no estimate.
	DefaultEstimatedTokens = 1200

	concurrencyRecheck = 40 * time.Millisecond
	minRPSWait         = 20 * time.Millisecond
	minTPMWait         = 50 * time.Millisecond
	minTimerDelay      = 10 * time.Millisecond
)

// Limits are the admission constraints. A value <= 0 disables that constraint.
type Limits struct {
	RPS           int `json:"rps" mapstructure:"rps" toml:"rps"`
	TPM           int `json:"tpm" mapstructure:"tpm" toml:"tpm"`
	TPD           int `json:"tpd" mapstructure:"tpd" toml:"tpd"`
	MaxConcurrent int `json:"maxConcurrent" mapstructure:"max_concurrent" toml:"max_concurrent"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{RPS: 5, TPM: 1_000_000, TPD: 24_000_000, MaxConcurrent: 5}
}

// CallFunc performs the provider call once the job is admitted.
type CallFunc func(ctx context.Context) (model.Response, error)

// Result is returned by Submit after an admitted call completes successfully.
type Result struct {
	Response   model.Response
	Tokens     int           // tokens charged to the windows
	AdmittedAt time.Time     // when the job left the queue
	Waited     time.Duration // time spent queued
}

// Options configure a Controller.
type Options struct {
	Limits Limits
	Clock  core.Clock
	Logger logging.Logger
}

type job struct {
	ctx        context.Context
	call       CallFunc
	estimate   int
	enqueuedAt time.Time
	done       chan jobResult
}

type jobResult struct {
	res Result
	err error
}

// Controller is the single owned admission gate. It is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	limits   Limits
	clock    core.Clock
	logger   logging.Logger
	queue    []*job
	inFlight int
	reserved int // estimates of admitted calls that have not completed
	requests *window
	minute   *window
	day      *window
	timer    core.Timer

	dispatched int64
	observed   int64
	rejected   int64

	wg conc.WaitGroup
}

// NewController creates a controller with default limits unless overridden.
func NewController(optFns ...func(o *Options)) *Controller {
	opts := Options{Limits: DefaultLimits()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Controller{
		limits:   opts.Limits,
		clock:    opts.Clock,
		logger:   logging.OrNoOp(opts.Logger),
		requests: newWindow(time.Second),
		minute:   newWindow(time.Minute),
		day:      newWindow(24 * time.Hour),
	}
}

// Submit enqueues call and blocks until it is admitted and has completed, it
// is rejected by the daily budget, or ctx is done while still queued. An
// admitted call always runs to completion.
func (c *Controller) Submit(ctx context.Context, estimatedTokens int, call CallFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if estimatedTokens <= 0 {
		estimatedTokens = DefaultEstimatedTokens
	}
	j := &job{
		ctx:        ctx,
		call:       call,
		estimate:   estimatedTokens,
		enqueuedAt: c.clock.Now(),
		done:       make(chan jobResult, 1),
	}

	c.mu.Lock()
	c.queue = append(c.queue, j)
	c.pumpLocked()
	c.mu.Unlock()

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		c.mu.Lock()
		removed := c.removeLocked(j)
		if removed {
			c.pumpLocked()
		}
		c.mu.Unlock()
		if removed {
			return Result{}, ctx.Err()
		}
		// Already admitted or rejected.
		r := <-j.done
		return r.res, r.err
	}
}

func (c *Controller) removeLocked(j *job) bool {
	for i, q := range c.queue {
		if q == j {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// pumpLocked admits as many queue-head jobs as the limits allow.
func (c *Controller) pumpLocked() {
	for len(c.queue) > 0 {
		now := c.clock.Now()
		c.requests.prune(now)
		c.minute.prune(now)
		c.day.prune(now)

		head := c.queue[0]
		wait, admit := c.gateLocked(head, now)
		if wait > 0 {
			c.armLocked(wait)
			return
		}
		c.queue = c.queue[1:]
		if !admit {
			continue
		}
		c.dispatchLocked(head, now)
	}
}

// gateLocked evaluates the head job. It returns a positive wait when the job
// must stay queued, or admit=false when it was rejected.
func (c *Controller) gateLocked(j *job, now time.Time) (time.Duration, bool) {
	l := c.limits
	if l.MaxConcurrent > 0 && c.inFlight >= l.MaxConcurrent {
		return concurrencyRecheck, false
	}
	if l.RPS > 0 && c.requests.len() >= l.RPS {
		return max(minRPSWait, c.requests.untilOldestExpires(now)), false
	}
	if l.TPD > 0 && c.day.sum()+c.reserved+j.estimate > l.TPD {
		c.rejected++
		err := &core.QuotaError{
			Code:      core.QuotaCodeDailyTokens,
			Estimated: j.estimate,
			Remaining: max(0, l.TPD-c.day.sum()-c.reserved),
		}
		c.logger.Warn("admission rejected", "code", err.Code, "estimated", err.Estimated, "remaining", err.Remaining)
		j.done <- jobResult{err: err}
		return 0, false
	}
	if l.TPM > 0 && c.minute.sum()+c.reserved+j.estimate > l.TPM {
		return max(minTPMWait, c.minute.untilOldestExpires(now)), false
	}
	return 0, true
}

func (c *Controller) dispatchLocked(j *job, now time.Time) {
	c.inFlight++
	c.reserved += j.estimate
	c.dispatched++
	c.requests.add(now, 1)
	admitted := now
	c.wg.Go(func() { c.run(j, admitted) })
}

func (c *Controller) run(j *job, admittedAt time.Time) {
	var (
		resp model.Response
		err  error
		pc   panics.Catcher
	)
	pc.Try(func() { resp, err = j.call(j.ctx) })
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("admission: call panicked: %w", r.AsError())
	}

	now := c.clock.Now()
	c.mu.Lock()
	c.inFlight--
	c.reserved -= j.estimate
	var res Result
	if err == nil {
		tokens := ChargedTokens(resp.Usage, j.estimate)
		c.minute.add(now, tokens)
		c.day.add(now, tokens)
		c.observed += int64(tokens)
		res = Result{
			Response:   resp,
			Tokens:     tokens,
			AdmittedAt: admittedAt,
			Waited:     admittedAt.Sub(j.enqueuedAt),
		}
	}
	c.pumpLocked()
	c.mu.Unlock()

	j.done <- jobResult{res: res, err: err}
}

// armLocked schedules a single re-pump. An already armed timer is kept.
func (c *Controller) armLocked(wait time.Duration) {
	if c.timer != nil {
		return
	}
	c.timer = c.clock.AfterFunc(max(minTimerDelay, wait), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.timer = nil
		c.pumpLocked()
	})
}

// ChargedTokens returns the tokens charged for a completed call: the provider
// total, else prompt plus completion, else the estimate; never below 1.
func ChargedTokens(u model.Usage, estimate int) int {
	var n int
	switch {
	case u.TotalTokens > 0:
		n = u.TotalTokens
	case u.PromptTokens+u.CompletionTokens > 0:
		n = u.PromptTokens + u.CompletionTokens
	default:
		n = estimate
	}
	return max(1, n)
}

// SetLimits replaces the limits and re-evaluates the queue.
func (c *Controller) SetLimits(l Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = l
	c.pumpLocked()
}

// Limits returns the current limits.
func (c *Controller) Limits() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// Wait blocks until every dispatched call has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Usage is the window section of a Snapshot.
type Usage struct {
	RequestsLastSecond      int   `json:"requestsLastSecond"`
	TokensLastMinute        int   `json:"tokensLastMinute"`
	TokensLastDay           int   `json:"tokensLastDay"`
	MinuteRemaining         int   `json:"minuteRemaining"`
	DayRemaining            int   `json:"dayRemaining"`
	TotalRequestsDispatched int64 `json:"totalRequestsDispatched"`
	TotalTokensObserved     int64 `json:"totalTokensObserved"`
	TotalRequestsRejected   int64 `json:"totalRequestsRejected"`
}

// Queue is the queue section of a Snapshot.
type Queue struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inFlight"`
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Limits Limits `json:"limits"`
	Usage  Usage  `json:"usage"`
	Queue  Queue  `json:"queue"`
}

// Snapshot prunes the windows and reports limits, usage and queue depth.
// Remaining budgets are -1 when the constraint is disabled.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.requests.prune(now)
	c.minute.prune(now)
	c.day.prune(now)

	minute, day := c.minute.sum(), c.day.sum()
	return Snapshot{
		Limits: c.limits,
		Usage: Usage{
			RequestsLastSecond:      c.requests.len(),
			TokensLastMinute:        minute,
			TokensLastDay:           day,
			MinuteRemaining:         remaining(c.limits.TPM, minute),
			DayRemaining:            remaining(c.limits.TPD, day),
			TotalRequestsDispatched: c.dispatched,
			TotalTokensObserved:     c.observed,
			TotalRequestsRejected:   c.rejected,
		},
		Queue: Queue{Pending: len(c.queue), InFlight: c.inFlight},
	}
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	return max(0, limit-used)
}
