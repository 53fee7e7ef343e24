package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(n int, aID, bID string) core.InteractionEvent {
	return core.InteractionEvent{
		ID:      fmt.Sprintf("ev-%d", n),
		AID:     aID,
		BID:     bID,
		AName:   "Name " + aID,
		BName:   "Name " + bID,
		ALine:   fmt.Sprintf("%s line %d", aID, n),
		BLine:   fmt.Sprintf("%s line %d", bID, n),
		Summary: fmt.Sprintf("summary %d", n),
		At:      testutil.Epoch,
	}
}

func TestInteractionPerspectives(t *testing.T) {
	f := NewInMemoryFeed()
	f.Interaction(event(1, "a", "b"))

	logA := f.Log("a")
	require.Len(t, logA, 1)
	assert.Equal(t, "a line 1", logA[0].MyLine)
	assert.Equal(t, "b line 1", logA[0].TheirLine)
	assert.Equal(t, "Name b", logA[0].WithName)

	logB := f.Log("b")
	require.Len(t, logB, 1)
	assert.Equal(t, "b line 1", logB[0].MyLine)
	assert.Equal(t, "a line 1", logB[0].TheirLine)
	assert.Equal(t, "a", logB[0].WithID)

	assert.Equal(t, 1, f.InteractionCount("a"))
	assert.Equal(t, 1, f.InteractionCount("b"))
	assert.Zero(t, f.InteractionCount("c"))
}

func TestFeedNewestFirstAndCapped(t *testing.T) {
	f := NewInMemoryFeed(func(o *Options) { o.FeedCap = 3 })
	for i := 1; i <= 5; i++ {
		f.Interaction(event(i, "a", "b"))
	}
	feed := f.Feed(0)
	require.Len(t, feed, 3)
	assert.Equal(t, []string{"ev-5", "ev-4", "ev-3"}, []string{feed[0].ID, feed[1].ID, feed[2].ID})
	assert.Len(t, f.Feed(2), 2)
}

func TestLogCapped(t *testing.T) {
	f := NewInMemoryFeed(func(o *Options) { o.LogCap = 2 })
	for i := 1; i <= 4; i++ {
		f.Interaction(event(i, "a", "b"))
	}
	logA := f.Log("a")
	require.Len(t, logA, 2)
	assert.Equal(t, "ev-4", logA[0].EventID)
	assert.Equal(t, 4, f.InteractionCount("a"))
}

func TestContactsDeduplicated(t *testing.T) {
	f := NewInMemoryFeed(func(o *Options) { o.ContactCap = 2 })
	f.Interaction(event(1, "a", "b"))
	f.Interaction(event(2, "a", "c"))
	f.Interaction(event(3, "a", "b"))

	contacts := f.Contacts("a")
	require.Len(t, contacts, 2)
	assert.Equal(t, "b", contacts[0].WithID)
	assert.Equal(t, "summary 3", contacts[0].LastSummary)
	assert.Equal(t, "c", contacts[1].WithID)

	f.Interaction(event(4, "a", "d"))
	contacts = f.Contacts("a")
	require.Len(t, contacts, 2)
	assert.Equal(t, []string{"d", "b"}, []string{contacts[0].WithID, contacts[1].WithID})
}

func TestQuotaNotices(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	f := NewInMemoryFeed(func(o *Options) { o.Clock = clock })
	f.QuotaExceeded("s1", errors.New("daily_token_limit_exceeded"))
	f.QuotaExceeded("s2", nil)

	notices := f.QuotaNotices()
	require.Len(t, notices, 2)
	assert.Equal(t, "s2", notices[0].SessionID)
	assert.Equal(t, "daily_token_limit_exceeded", notices[1].Message)
	assert.Equal(t, testutil.Epoch, notices[1].At)
}

func TestForgetAndReset(t *testing.T) {
	f := NewInMemoryFeed()
	f.Interaction(event(1, "a", "b"))

	f.Forget("a")
	assert.Empty(t, f.Log("a"))
	assert.Len(t, f.Log("b"), 1)
	assert.Len(t, f.Feed(0), 1)

	f.QuotaExceeded("s", nil)
	f.Reset()
	assert.Empty(t, f.Feed(0))
	assert.Empty(t, f.Log("b"))
	assert.Empty(t, f.QuotaNotices())
}

func TestReturnedSlicesAreCopies(t *testing.T) {
	f := NewInMemoryFeed()
	f.Interaction(event(1, "a", "b"))
	feed := f.Feed(0)
	feed[0].Summary = "changed"
	assert.Equal(t, "summary 1", f.Feed(0)[0].Summary)
}

func TestConcurrentInteractions(t *testing.T) {
	f := NewInMemoryFeed()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Interaction(event(i, "a", "b"))
		}()
	}
	wg.Wait()
	assert.Len(t, f.Feed(0), 50)
	assert.Equal(t, 50, f.InteractionCount("a"))
}
