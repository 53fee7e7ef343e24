package journal

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(clock *testutil.FakeClock, maxEntries int) *Journal {
	return New(func(o *Options) {
		o.Clock = clock
		o.MaxEntries = maxEntries
	})
}

func TestCreateAndUpdate(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	j := newTestJournal(clock, 0)

	id := j.Create("/api/conversation-turn", map[string]any{"turnIndex": 2})
	require.EqualValues(t, 1, id)

	clock.Advance(time.Second)
	j.Update(id, StatusCompleted, map[string]string{"line": `Rhea: "hi"`}, nil)

	entries := j.List(10)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, testutil.Epoch, e.At)
	assert.Equal(t, testutil.Epoch.Add(time.Second), e.UpdatedAt)
	assert.JSONEq(t, `{"turnIndex":2}`, string(e.Request))
	assert.JSONEq(t, `{"line":"Rhea: \"hi\""}`, string(e.Result))
	assert.Nil(t, e.Error)
}

func TestUpdateRecordsQuotaCode(t *testing.T) {
	j := New()
	id := j.Create("/api/interaction", nil)
	j.Update(id, StatusRejectedDailyLimit, nil, fmt.Errorf("invoke: %w", &core.QuotaError{Code: core.QuotaCodeDailyTokens}))

	e := j.List(1)[0]
	require.NotNil(t, e.Error)
	assert.Equal(t, core.QuotaCodeDailyTokens, e.Error.Code)

	j.Update(id, StatusErrorFallback, nil, errors.New("boom"))
	assert.Empty(t, j.List(1)[0].Error.Code)
}

func TestRetentionMinimumAndOrder(t *testing.T) {
	j := newTestJournal(testutil.NewFakeClock(testutil.Epoch), 5)
	for i := range 25 {
		j.Create("r", i)
	}
	assert.Equal(t, 20, j.Len())

	entries := j.List(3)
	require.Len(t, entries, 3)
	assert.EqualValues(t, 25, entries[0].ID)
	assert.EqualValues(t, 23, entries[2].ID)

	// Evicted ids are ignored.
	j.Update(1, StatusCompleted, nil, nil)
	assert.Len(t, j.List(0), 1, "limit clamps to at least one")
	assert.Len(t, j.List(1000), 20)
}

func TestDisabledJournal(t *testing.T) {
	j := New(func(o *Options) { o.Enabled = false })
	assert.False(t, j.Enabled())
	assert.Zero(t, j.Create("r", nil))
	j.Update(0, StatusCompleted, nil, nil)
	assert.Zero(t, j.Len())

	var nilJournal *Journal
	assert.Zero(t, nilJournal.Create("r", nil))
	assert.False(t, nilJournal.Enabled())
}

func TestClearKeepsIDsMonotonic(t *testing.T) {
	j := New()
	j.Create("r", nil)
	j.Clear()
	assert.Zero(t, j.Len())
	assert.EqualValues(t, 2, j.Create("r", nil))
}

func TestNonSerializable(t *testing.T) {
	j := New()
	j.Create("r", map[string]any{"ch": make(chan int)})
	assert.JSONEq(t, `{"error":"non_serializable_value"}`, string(j.List(1)[0].Request))
}
