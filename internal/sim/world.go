// Package sim is a headless stand-in for the proximity-driven world that
// decides when two participants start talking. It keeps a fixed roster and
// opens random encounters, honouring busy participants and a per-pair
// cooldown.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/parley/conversation"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/logging"
)

// DefaultCooldown is the minimum gap between two encounters of the same pair.
const DefaultCooldown = 2800 * time.Millisecond

// Conversations is the part of conversation.Manager the world drives.
type Conversations interface {
	Start(a, b core.Persona) (string, error)
	IsBusy(id string) bool
	Active(pairKey string) (conversation.Session, bool)
	LastInteraction(pairKey string) (time.Time, bool)
	RemoveParticipant(id string)
}

var _ Conversations = (*conversation.Manager)(nil)

// Options configure a World.
type Options struct {
	Cooldown time.Duration
	Clock    core.Clock
	Random   *core.Random
	Logger   logging.Logger
}

// World holds the roster and who is currently present.
type World struct {
	mu        sync.RWMutex
	roster    []core.Persona
	byID      map[string]core.Persona
	present   map[string]bool
	encounter map[string]time.Time

	cooldown time.Duration
	clock    core.Clock
	random   *core.Random
	logger   logging.Logger
}

// NewWorld creates a world in which every roster member is present.
func NewWorld(roster []core.Persona, optFns ...func(o *Options)) *World {
	opts := Options{Cooldown: DefaultCooldown}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Random == nil {
		opts.Random = core.NewTimeSeededRandom()
	}

	w := &World{
		byID:      make(map[string]core.Persona, len(roster)),
		present:   make(map[string]bool, len(roster)),
		encounter: map[string]time.Time{},
		cooldown:  opts.Cooldown,
		clock:     opts.Clock,
		random:    opts.Random,
		logger:    logging.OrNoOp(opts.Logger),
	}
	for _, p := range roster {
		if _, dup := w.byID[p.ID]; dup || p.ID == "" {
			continue
		}
		w.roster = append(w.roster, p)
		w.byID[p.ID] = p
		w.present[p.ID] = true
	}
	return w
}

// Lookup implements conversation.Directory: only present participants resolve.
func (w *World) Lookup(id string) (core.Persona, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.present[id] {
		return core.Persona{}, false
	}
	p, ok := w.byID[id]
	return p, ok
}

// Roster returns every known participant.
func (w *World) Roster() []core.Persona {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.Persona, len(w.roster))
	copy(out, w.roster)
	return out
}

// Leave marks id absent and ends its conversations.
func (w *World) Leave(conv Conversations, id string) {
	w.mu.Lock()
	w.present[id] = false
	w.mu.Unlock()
	conv.RemoveParticipant(id)
}

// Return marks id present again.
func (w *World) Return(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byID[id]; ok {
		w.present[id] = true
	}
}

// Tick tries to open one encounter between two idle present participants
// and returns the new session id.
func (w *World) Tick(conv Conversations) (string, bool) {
	candidates := w.idle(conv)
	if len(candidates) < 2 {
		return "", false
	}

	now := w.clock.Now()
	for range len(candidates) {
		i := w.random.IntBetween(0, len(candidates)-1)
		j := w.random.IntBetween(0, len(candidates)-2)
		if j >= i {
			j++
		}
		a, b := candidates[i], candidates[j]
		key := core.PairKey(a.ID, b.ID)

		if _, ok := conv.Active(key); ok || w.coolingDown(conv, key, now) {
			continue
		}

		id, err := conv.Start(a, b)
		if err != nil {
			if !errors.Is(err, conversation.ErrPairActive) {
				w.logger.Debug("encounter not started", "a", a.ID, "b", b.ID, "error", err)
			}
			continue
		}

		w.mu.Lock()
		w.encounter[key] = now
		w.mu.Unlock()
		w.logger.Info("encounter", "session", id, "a", a.Name, "b", b.Name)
		return id, true
	}
	return "", false
}

// Run ticks every interval until ctx is done.
func (w *World) Run(ctx context.Context, conv Conversations, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(conv)
		}
	}
}

func (w *World) idle(conv Conversations) []core.Persona {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.Persona, 0, len(w.roster))
	for _, p := range w.roster {
		if w.present[p.ID] && !conv.IsBusy(p.ID) {
			out = append(out, p)
		}
	}
	return out
}

func (w *World) coolingDown(conv Conversations, key string, now time.Time) bool {
	w.mu.RLock()
	last, ok := w.encounter[key]
	w.mu.RUnlock()

	if spoke, found := conv.LastInteraction(key); found && (!ok || spoke.After(last)) {
		last, ok = spoke, true
	}
	return ok && now.Sub(last) < w.cooldown
}
