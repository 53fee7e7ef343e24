package memory

import (
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
)

// Retention caps.
const (
	DefaultFeedCap    = 320
	DefaultLogCap     = 100
	DefaultContactCap = 100
)

// LogEntry is one interaction from a participant's point of view.
type LogEntry struct {
	EventID   string    `json:"eventId"`
	At        time.Time `json:"at"`
	WithID    string    `json:"withId"`
	WithName  string    `json:"withName"`
	Summary   string    `json:"summary"`
	MyLine    string    `json:"myLine"`
	TheirLine string    `json:"theirLine"`
}

// Contact is the latest interaction with one partner.
type Contact struct {
	EventID     string    `json:"eventId"`
	WithID      string    `json:"withId"`
	WithName    string    `json:"withName"`
	At          time.Time `json:"at"`
	LastSummary string    `json:"lastSummary"`
}

// QuotaNotice records a conversation ended by quota exhaustion.
type QuotaNotice struct {
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Options configure an InMemoryFeed.
type Options struct {
	FeedCap    int
	LogCap     int
	ContactCap int
	Clock      core.Clock
}

type participant struct {
	interactions int
	log          []LogEntry
	contacts     []Contact
}

// InMemoryFeed keeps every list newest first. It is safe for concurrent use.
type InMemoryFeed struct {
	mu           sync.RWMutex
	opts         Options
	feed         []core.InteractionEvent
	participants map[string]*participant
	quota        []QuotaNotice
}

// NewInMemoryFeed creates an empty feed with the default caps unless
// overridden.
func NewInMemoryFeed(optFns ...func(o *Options)) *InMemoryFeed {
	opts := Options{FeedCap: DefaultFeedCap, LogCap: DefaultLogCap, ContactCap: DefaultContactCap}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	opts.FeedCap = max(1, opts.FeedCap)
	opts.LogCap = max(1, opts.LogCap)
	opts.ContactCap = max(1, opts.ContactCap)
	return &InMemoryFeed{opts: opts, participants: make(map[string]*participant)}
}

// Interaction records a completed pair in the global feed and in both
// participants' memories.
func (f *InMemoryFeed) Interaction(ev core.InteractionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.feed = prepend(f.feed, ev, f.opts.FeedCap)
	f.remember(ev.AID, ev.BID, ev.BName, ev)
	f.remember(ev.BID, ev.AID, ev.AName, ev)
}

func (f *InMemoryFeed) remember(self, other, otherName string, ev core.InteractionEvent) {
	p := f.participant(self)
	p.interactions++
	p.log = prepend(p.log, LogEntry{
		EventID:   ev.ID,
		At:        ev.At,
		WithID:    other,
		WithName:  otherName,
		Summary:   ev.Summary,
		MyLine:    ev.LineFor(self),
		TheirLine: ev.LineFor(other),
	}, f.opts.LogCap)

	contacts := make([]Contact, 0, len(p.contacts)+1)
	contacts = append(contacts, Contact{
		EventID:     ev.ID,
		WithID:      other,
		WithName:    otherName,
		At:          ev.At,
		LastSummary: ev.Summary,
	})
	for _, c := range p.contacts {
		if c.WithID != other {
			contacts = append(contacts, c)
		}
	}
	p.contacts = contacts[:min(len(contacts), f.opts.ContactCap)]
}

// QuotaExceeded records that a conversation was ended by the daily quota.
func (f *InMemoryFeed) QuotaExceeded(sessionID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = prepend(f.quota, QuotaNotice{SessionID: sessionID, Message: msg, At: f.opts.Clock.Now()}, f.opts.FeedCap)
}

// Feed returns up to limit events, newest first. limit <= 0 returns all.
func (f *InMemoryFeed) Feed(limit int) []core.InteractionEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return head(f.feed, limit)
}

// Log returns a participant's interaction log, newest first.
func (f *InMemoryFeed) Log(participantID string) []LogEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.participants[participantID]; ok {
		return head(p.log, 0)
	}
	return nil
}

// Contacts returns a participant's recent contacts, newest first, one per
// partner.
func (f *InMemoryFeed) Contacts(participantID string) []Contact {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.participants[participantID]; ok {
		return head(p.contacts, 0)
	}
	return nil
}

// InteractionCount returns the number of pairs a participant took part in.
func (f *InMemoryFeed) InteractionCount(participantID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.participants[participantID]; ok {
		return p.interactions
	}
	return 0
}

// QuotaNotices returns the quota notifications, newest first.
func (f *InMemoryFeed) QuotaNotices() []QuotaNotice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return head(f.quota, 0)
}

// Forget drops a participant's memories. Feed events are kept.
func (f *InMemoryFeed) Forget(participantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants, participantID)
}

// Reset clears everything.
func (f *InMemoryFeed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feed = nil
	f.quota = nil
	f.participants = make(map[string]*participant)
}

func (f *InMemoryFeed) participant(id string) *participant {
	p, ok := f.participants[id]
	if !ok {
		p = &participant{}
		f.participants[id] = p
	}
	return p
}

func prepend[T any](s []T, v T, limit int) []T {
	out := make([]T, 0, min(len(s)+1, limit))
	out = append(out, v)
	return append(out, s[:min(len(s), limit-1)]...)
}

func head[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := make([]T, limit)
	copy(out, s[:limit])
	return out
}
