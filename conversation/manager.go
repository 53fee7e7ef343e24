package conversation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/dialogue"
	"github.com/hupe1980/parley/logging"
)

var (
	// ErrSamePair is returned when both participants are the same.
	ErrSamePair = errors.New("a participant cannot talk to itself")
	// ErrPairActive is returned when the pair already has an open session.
	ErrPairActive = errors.New("pair already in conversation")
	// ErrDisabled is returned by Start while the manager is disabled.
	ErrDisabled = errors.New("conversations are disabled")
)

// Pair cap defaults.
const (
	DefaultMinPairs = 2
	DefaultMaxPairs = 6

	historyWindow      = 10
	clientLineMaxChars = 180
	clientSummaryChars = 400
)

// Directory resolves participants that are currently present.
type Directory interface {
	Lookup(id string) (core.Persona, bool)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(id string) (core.Persona, bool)

// Lookup implements Directory.
func (f DirectoryFunc) Lookup(id string) (core.Persona, bool) { return f(id) }

// EventSink receives completed pairs and quota notifications.
type EventSink interface {
	Interaction(ev core.InteractionEvent)
	QuotaExceeded(sessionID string, err error)
}

// TurnSource produces one turn.
type TurnSource interface {
	Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error)
}

var _ TurnSource = (*dialogue.Generator)(nil)

// TurnSourceFunc adapts a function to the TurnSource interface.
type TurnSourceFunc func(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error)

// Turn implements TurnSource.
func (f TurnSourceFunc) Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error) {
	return f(ctx, req)
}

// Options configure a Manager.
type Options struct {
	MinPairs  int
	MaxPairs  int
	Sink      EventSink
	Scheduler SchedulerOptions
	Clock     core.Clock
	Random    *core.Random
	Logger    logging.Logger
}

// Manager owns all open sessions and the busy counters of their
// participants. It is safe for concurrent use.
type Manager struct {
	dir    Directory
	source TurnSource
	sink   EventSink
	clock  core.Clock
	random *core.Random
	logger logging.Logger
	sched  *Scheduler

	minPairs, maxPairs int

	mu              sync.Mutex
	enabled         bool
	sessions        map[string]*Session
	active          map[string]string // pair key -> session id
	busy            map[string]int
	lastInteraction map[string]time.Time
}

// NewManager creates an enabled manager.
func NewManager(dir Directory, source TurnSource, optFns ...func(o *Options)) *Manager {
	opts := Options{
		MinPairs:  DefaultMinPairs,
		MaxPairs:  DefaultMaxPairs,
		Scheduler: DefaultSchedulerOptions(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Random == nil {
		opts.Random = core.NewTimeSeededRandom()
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	opts.MinPairs = max(1, opts.MinPairs)
	opts.MaxPairs = max(opts.MinPairs, opts.MaxPairs)

	m := &Manager{
		dir:             dir,
		source:          source,
		sink:            opts.Sink,
		clock:           opts.Clock,
		random:          opts.Random,
		logger:          logging.OrNoOp(opts.Logger),
		minPairs:        opts.MinPairs,
		maxPairs:        opts.MaxPairs,
		enabled:         true,
		sessions:        make(map[string]*Session),
		active:          make(map[string]string),
		busy:            make(map[string]int),
		lastInteraction: make(map[string]time.Time),
	}
	schedOpts := opts.Scheduler
	schedOpts.Clock = opts.Clock
	schedOpts.Random = opts.Random
	if schedOpts.Logger == nil {
		schedOpts.Logger = opts.Logger
	}
	m.sched = NewScheduler(m.runTurn, func(o *SchedulerOptions) { *o = schedOpts })
	return m
}

// Scheduler exposes the turn scheduler for introspection.
func (m *Manager) Scheduler() *Scheduler { return m.sched }

// Start opens a session between a and b and schedules its first turn.
func (m *Manager) Start(a, b core.Persona) (string, error) {
	if a.ID == b.ID {
		return "", ErrSamePair
	}
	key := core.PairKey(a.ID, b.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return "", ErrDisabled
	}
	if _, ok := m.active[key]; ok {
		return "", ErrPairActive
	}

	s := &Session{
		ID:        core.NewID(),
		PairKey:   key,
		AID:       a.ID,
		BID:       b.ID,
		MaxPairs:  m.random.IntBetween(m.minPairs, m.maxPairs),
		OpenerID:  m.random.Pick(a.ID, b.ID),
		Summary:   a.Name + " and " + b.Name + " started a conversation.",
		StartedAt: m.clock.Now(),
		State:     StateOpening,
	}
	s.NextSpeakerID = s.OpenerID

	m.sessions[s.ID] = s
	m.active[key] = s.ID
	m.busy[a.ID]++
	m.busy[b.ID]++
	s.State = StateAwaitingFirstTurn

	m.logger.Debug("conversation started", "session", s.ID, "a", a.ID, "b", b.ID, "maxPairs", s.MaxPairs)
	m.sched.Enqueue(s.ID, false)
	return s.ID, nil
}

// RemoveParticipant ends every session involving id.
func (m *Manager) RemoveParticipant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Involves(id) {
			m.endLocked(s, "participant removed")
		}
	}
}

// Reset tears everything down: queued turns are dropped, sessions closed and
// busy counters cleared. Running turns finish but their results are
// discarded.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.sched.Clear()
	for _, s := range m.sessions {
		s.State = StateEnded
	}
	m.sessions = make(map[string]*Session)
	m.active = make(map[string]string)
	m.busy = make(map[string]int)
}

// SetEnabled turns conversation mode on or off. Turning it off tears down
// every session.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled == enabled {
		return
	}
	m.enabled = enabled
	if !enabled {
		m.resetLocked()
	}
	m.sched.SetEnabled(enabled)
}

// Enabled reports whether new sessions may start.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// IsBusy reports whether id takes part in an open session.
func (m *Manager) IsBusy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[id] > 0
}

// Active returns the open session for a pair key.
func (m *Manager) Active(pairKey string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[pairKey]
	if !ok {
		return Session{}, false
	}
	return m.sessions[id].clone(), true
}

// Session returns a snapshot of one open session.
func (m *Manager) Session(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Sessions returns snapshots of every open session, oldest first.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// LastInteraction returns when the pair last completed a pair of turns.
func (m *Manager) LastInteraction(pairKey string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastInteraction[pairKey]
	return t, ok
}

// Close stops the scheduler and waits for running turns.
func (m *Manager) Close() {
	m.Reset()
	m.sched.Stop()
}

func (m *Manager) runTurn(ctx context.Context, job TurnJob) {
	m.mu.Lock()
	s, ok := m.sessions[job.SessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	speaker, okSpeaker := m.dir.Lookup(s.NextSpeakerID)
	listener, okListener := m.dir.Lookup(s.Other(s.NextSpeakerID))
	if !okSpeaker || !okListener {
		m.endLocked(s, "participant missing")
		m.mu.Unlock()
		return
	}
	req := dialogue.TurnRequest{
		Speaker:   speaker,
		Listener:  listener,
		History:   historyFor(s.History),
		TurnIndex: len(s.History),
		MaxTurns:  s.MaxTurns(),
		AllowEnd:  job.AllowEnd,
	}
	m.mu.Unlock()

	reply, err := m.source.Turn(ctx, req)

	m.mu.Lock()
	if cur, ok := m.sessions[job.SessionID]; !ok || cur != s {
		m.mu.Unlock()
		return
	}
	var (
		ev       *core.InteractionEvent
		quotaErr error
	)
	switch {
	case errors.Is(err, core.ErrQuotaExceeded):
		m.endLocked(s, "quota exceeded")
		quotaErr = err
	case err != nil:
		m.logger.Warn("turn failed, using local line", "session", s.ID, "error", err)
		ev = m.applyLocked(s, speaker, listener, localTurn(s, speaker, listener))
	default:
		ev = m.applyLocked(s, speaker, listener, reply)
	}
	m.mu.Unlock()

	if quotaErr != nil {
		m.sink.QuotaExceeded(s.ID, quotaErr)
	}
	if ev != nil {
		m.sink.Interaction(*ev)
	}
}

// applyLocked consumes one turn and returns the event of a completed pair.
func (m *Manager) applyLocked(s *Session, speaker, listener core.Persona, reply dialogue.TurnReply) *core.InteractionEvent {
	line, ok := dialogue.NormalizeLine(reply.Line, speaker.Name, clientLineMaxChars, dialogue.DefaultMinBody)
	if !ok {
		m.endLocked(s, "invalid line")
		return nil
	}
	if summary, ok := dialogue.NormalizeSummary(reply.Summary, clientSummaryChars); ok {
		s.Summary = summary
	}

	turn := Turn{SpeakerID: speaker.ID, SpeakerName: speaker.Name, Line: line}
	s.History = append(s.History, turn)

	if s.Pending == nil {
		s.Pending = &turn
		s.NextSpeakerID = listener.ID
		s.State = StateAwaitingSecondTurn
		m.sched.Enqueue(s.ID, true)
		return nil
	}

	first := *s.Pending
	s.Pending = nil
	s.PairCount++

	a, okA := m.dir.Lookup(s.AID)
	b, okB := m.dir.Lookup(s.BID)
	if !okA || !okB {
		m.endLocked(s, "participant missing")
		return nil
	}

	now := m.clock.Now()
	ev := &core.InteractionEvent{
		ID:        core.NewID(),
		SessionID: s.ID,
		AID:       a.ID,
		BID:       b.ID,
		AName:     a.Name,
		BName:     b.Name,
		ALine:     lineOf(a.ID, first, turn),
		BLine:     lineOf(b.ID, first, turn),
		Summary:   s.Summary,
		PairIndex: s.PairCount,
		At:        now,
	}
	m.lastInteraction[s.PairKey] = now

	if reply.ShouldEnd || s.PairCount >= s.MaxPairs {
		m.endLocked(s, "finished")
		return ev
	}
	s.NextSpeakerID = first.SpeakerID
	s.State = StateAwaitingFirstTurn
	m.sched.Enqueue(s.ID, false)
	return ev
}

func (m *Manager) endLocked(s *Session, reason string) {
	if _, ok := m.sessions[s.ID]; !ok {
		return
	}
	s.State = StateEnded
	delete(m.sessions, s.ID)
	if m.active[s.PairKey] == s.ID {
		delete(m.active, s.PairKey)
	}
	m.release(s.AID)
	m.release(s.BID)
	m.logger.Debug("conversation ended", "session", s.ID, "reason", reason, "pairs", s.PairCount)
}

func (m *Manager) release(id string) {
	if m.busy[id] <= 1 {
		delete(m.busy, id)
		return
	}
	m.busy[id]--
}

func historyFor(turns []Turn) []dialogue.HistoryEntry {
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	out := make([]dialogue.HistoryEntry, len(turns))
	for i, t := range turns {
		out[i] = dialogue.HistoryEntry{SpeakerID: t.SpeakerID, SpeakerName: t.SpeakerName, Line: t.Line}
	}
	return out
}

func lineOf(id string, first, second Turn) string {
	if first.SpeakerID == id {
		return first.Line
	}
	return second.Line
}

type nopSink struct{}

func (nopSink) Interaction(core.InteractionEvent) {}
func (nopSink) QuotaExceeded(string, error)       {}
