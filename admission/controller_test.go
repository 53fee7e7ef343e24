package admission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/testutil"
	"github.com/hupe1980/parley/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(clock *testutil.FakeClock, limits Limits) *Controller {
	return NewController(func(o *Options) {
		o.Clock = clock
		o.Limits = limits
	})
}

func reply(total int) CallFunc {
	return func(context.Context) (model.Response, error) {
		return model.Response{Text: "ok", Usage: model.Usage{TotalTokens: total}}, nil
	}
}

func TestDefaultLimits(t *testing.T) {
	assert.Equal(t, Limits{RPS: 5, TPM: 1_000_000, TPD: 24_000_000, MaxConcurrent: 5}, DefaultLimits())
}

func TestChargedTokens(t *testing.T) {
	tests := []struct {
		name     string
		usage    model.Usage
		estimate int
		want     int
	}{
		{"total wins", model.Usage{TotalTokens: 42, PromptTokens: 1, CompletionTokens: 1}, 500, 42},
		{"prompt plus completion", model.Usage{PromptTokens: 30, CompletionTokens: 12}, 500, 42},
		{"estimate", model.Usage{}, 500, 500},
		{"at least one", model.Usage{}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChargedTokens(tt.usage, tt.estimate))
		})
	}
}

func TestSubmitRecordsUsage(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, DefaultLimits())

	res, err := c.Submit(context.Background(), 100, reply(37))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Response.Text)
	assert.Equal(t, 37, res.Tokens)
	assert.Equal(t, testutil.Epoch, res.AdmittedAt)

	// No estimate: the default is charged when the provider reports nothing.
	res, err = c.Submit(context.Background(), 0, reply(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultEstimatedTokens, res.Tokens)

	snap := c.Snapshot()
	assert.Equal(t, 37+DefaultEstimatedTokens, snap.Usage.TokensLastMinute)
	assert.Equal(t, 37+DefaultEstimatedTokens, snap.Usage.TokensLastDay)
	assert.Equal(t, 2, snap.Usage.RequestsLastSecond)
	assert.EqualValues(t, 2, snap.Usage.TotalRequestsDispatched)
	assert.Equal(t, 1_000_000-snap.Usage.TokensLastMinute, snap.Usage.MinuteRemaining)
	assert.Equal(t, Queue{}, snap.Queue)
}

func TestFailedCallChargesNothing(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, DefaultLimits())
	boom := errors.New("boom")

	_, err := c.Submit(context.Background(), 100, func(context.Context) (model.Response, error) {
		return model.Response{}, boom
	})
	require.ErrorIs(t, err, boom)

	snap := c.Snapshot()
	assert.Zero(t, snap.Usage.TokensLastMinute)
	assert.Equal(t, 1, snap.Usage.RequestsLastSecond)
	assert.Zero(t, snap.Queue.InFlight)
}

func TestDailyBudgetHardReject(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPD: 1000})

	_, err := c.Submit(context.Background(), 600, reply(0))
	require.NoError(t, err)

	var called atomic.Bool
	_, err = c.Submit(context.Background(), 600, func(context.Context) (model.Response, error) {
		called.Store(true)
		return model.Response{}, nil
	})
	require.ErrorIs(t, err, core.ErrQuotaExceeded)

	var qe *core.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, core.QuotaCodeDailyTokens, qe.Code)
	assert.Equal(t, 400, qe.Remaining)
	assert.False(t, called.Load())

	snap := c.Snapshot()
	assert.EqualValues(t, 1, snap.Usage.TotalRequestsRejected)
	assert.EqualValues(t, 1, snap.Usage.TotalRequestsDispatched)
	assert.Equal(t, 600, snap.Usage.TokensLastDay)
	assert.LessOrEqual(t, snap.Usage.TokensLastDay, snap.Limits.TPD)

	// A smaller job still fits.
	_, err = c.Submit(context.Background(), 300, reply(0))
	require.NoError(t, err)
}

func TestInFlightEstimatesCountAgainstDailyBudget(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPD: 1000, MaxConcurrent: 5})

	release := make(chan struct{})
	blocking := func(context.Context) (model.Response, error) {
		<-release
		return model.Response{}, nil
	}

	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit(context.Background(), 600, blocking)
			errs <- err
		}()
	}

	// One call holds a 600 token reservation; the other two cannot fit.
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Queue.InFlight == 1 && s.Usage.TotalRequestsRejected == 2
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	close(errs)

	var rejected int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, core.ErrQuotaExceeded)
			rejected++
		}
	}
	assert.Equal(t, 2, rejected)

	snap := c.Snapshot()
	assert.Equal(t, 600, snap.Usage.TokensLastDay)
	assert.LessOrEqual(t, snap.Usage.TokensLastDay, snap.Limits.TPD)
	assert.Zero(t, snap.Queue.InFlight)
}

func TestInFlightEstimatesDelayMinuteBudget(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPM: 100, MaxConcurrent: 5})

	release := make(chan struct{})
	go func() {
		_, _ = c.Submit(context.Background(), 80, func(context.Context) (model.Response, error) {
			<-release
			return model.Response{Usage: model.Usage{TotalTokens: 80}}, nil
		})
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.InFlight == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), 50, reply(50))
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, c.Snapshot().Queue.InFlight)

	close(release)
	require.Eventually(t, func() bool { return c.Snapshot().Usage.TokensLastMinute == 80 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, c.Snapshot().Queue.Pending)

	clock.Advance(time.Minute + minTPMWait)
	require.NoError(t, <-done)
	c.Wait()
}

func TestRequestsPerSecondClustering(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{RPS: 5})

	const jobs = 20
	admitted := make(chan time.Time, jobs)
	var wg sync.WaitGroup
	for range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Submit(context.Background(), 10, reply(10))
			if err == nil {
				admitted <- res.AdmittedAt
			}
		}()
	}

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Queue.Pending == jobs-5 && s.Usage.TotalRequestsDispatched == 5
	}, time.Second, time.Millisecond)

	for i := 0; i < 500 && len(admitted) < jobs; i++ {
		clock.Advance(10 * time.Millisecond)
		// Let dispatched goroutines finish before moving on.
		require.Eventually(t, func() bool { return c.Snapshot().Queue.InFlight == 0 }, time.Second, time.Millisecond)
	}
	wg.Wait()
	close(admitted)

	var times []time.Time
	for at := range admitted {
		times = append(times, at)
	}
	require.Len(t, times, jobs)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	for i, start := range times {
		n := 0
		for _, at := range times[i:] {
			if at.Before(start.Add(time.Second)) {
				n++
			}
		}
		assert.LessOrEqual(t, n, 5, "window starting at %s", start.Sub(testutil.Epoch))
	}
	assert.GreaterOrEqual(t, times[jobs-1].Sub(times[0]), 3*time.Second)
}

func TestConcurrencyCap(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{MaxConcurrent: 2})

	release := make(chan struct{})
	var running, peak atomic.Int32
	blocking := func(context.Context) (model.Response, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return model.Response{}, nil
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit(context.Background(), 1, blocking)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Queue.InFlight == 2 && s.Queue.Pending == 1
	}, time.Second, time.Millisecond)

	release <- struct{}{}
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Queue.Pending == 0 && s.Queue.InFlight == 2
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	c.Wait()
	assert.EqualValues(t, 2, peak.Load())
}

func TestTokensPerMinuteWait(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPM: 100})

	_, err := c.Submit(context.Background(), 80, reply(80))
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() {
		res, err := c.Submit(context.Background(), 50, reply(50))
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 1 }, time.Second, time.Millisecond)

	clock.Advance(59 * time.Second)
	assert.Equal(t, 1, c.Snapshot().Queue.Pending)

	// The oldest entry leaves the window strictly after the full minute.
	clock.Advance(time.Second)
	assert.Equal(t, 1, c.Snapshot().Queue.Pending)

	clock.Advance(minTPMWait)
	res := <-done
	assert.Equal(t, testutil.Epoch.Add(time.Minute+minTPMWait), res.AdmittedAt)
	assert.Equal(t, time.Minute+minTPMWait, res.Waited)
}

func TestHeadOfLineBlocking(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPM: 100, MaxConcurrent: 1})

	_, err := c.Submit(context.Background(), 80, reply(80))
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	record := func(name string) CallFunc {
		return func(context.Context) (model.Response, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return model.Response{Usage: model.Usage{TotalTokens: 1}}, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = c.Submit(context.Background(), 50, record("big")) }()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 1 }, time.Second, time.Millisecond)
	go func() { defer wg.Done(); _, _ = c.Submit(context.Background(), 1, record("small")) }()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 2 }, time.Second, time.Millisecond)

	// The small job would fit the budget but must not overtake the head.
	clock.Advance(time.Second)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	clock.Advance(time.Minute)
	wg.Wait()
	assert.Equal(t, []string{"big", "small"}, order)
}

func TestCancelWhileQueued(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{MaxConcurrent: 1})

	release := make(chan struct{})
	go func() {
		_, _ = c.Submit(context.Background(), 1, func(context.Context) (model.Response, error) {
			<-release
			return model.Response{}, nil
		})
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.InFlight == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var called atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, 1, func(context.Context) (model.Response, error) {
			called.Store(true)
			return model.Response{}, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, c.Snapshot().Queue.Pending)

	close(release)
	c.Wait()
	assert.False(t, called.Load())
}

func TestSubmitWithDoneContext(t *testing.T) {
	c := newTestController(testutil.NewFakeClock(testutil.Epoch), DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Submit(ctx, 1, reply(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Snapshot().Usage.TotalRequestsDispatched)
}

func TestPanickingCallReleasesSlot(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{MaxConcurrent: 1})

	_, err := c.Submit(context.Background(), 1, func(context.Context) (model.Response, error) {
		panic("provider exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Zero(t, c.Snapshot().Queue.InFlight)

	_, err = c.Submit(context.Background(), 1, reply(1))
	require.NoError(t, err)
}

func TestSetLimitsReleasesQueue(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	c := newTestController(clock, Limits{TPM: 10})

	_, err := c.Submit(context.Background(), 10, reply(10))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), 10, reply(10))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Queue.Pending == 1 }, time.Second, time.Millisecond)

	c.SetLimits(Limits{})
	require.NoError(t, <-errCh)
	assert.Equal(t, Limits{}, c.Limits())

	snap := c.Snapshot()
	assert.Equal(t, -1, snap.Usage.MinuteRemaining)
	assert.Equal(t, -1, snap.Usage.DayRemaining)
}

func TestWindowPrune(t *testing.T) {
	w := newWindow(time.Second)
	t0 := testutil.Epoch
	w.add(t0, 3)
	w.add(t0.Add(500*time.Millisecond), 4)

	w.prune(t0.Add(time.Second))
	assert.Equal(t, 2, w.len(), "entry exactly at the boundary stays")

	w.prune(t0.Add(time.Second + time.Millisecond))
	assert.Equal(t, 1, w.len())
	assert.Equal(t, 4, w.sum())
	assert.Equal(t, 499*time.Millisecond, w.untilOldestExpires(t0.Add(time.Second+time.Millisecond)))
}

func TestWindowRunningTotal(t *testing.T) {
	w := newWindow(time.Minute)
	t0 := testutil.Epoch
	for i := range 10 {
		w.add(t0.Add(time.Duration(i)*time.Second), i+1)
	}
	assert.Equal(t, 55, w.sum())

	w.prune(t0.Add(time.Minute + 2500*time.Millisecond))
	assert.Equal(t, 7, w.len())
	assert.Equal(t, 55-1-2-3, w.sum())

	w.prune(t0.Add(2 * time.Minute))
	assert.Zero(t, w.len())
	assert.Zero(t, w.sum())

	w.add(t0.Add(2*time.Minute), 9)
	assert.Equal(t, 9, w.sum())
}
