package admission

import "time"

type entry struct {
	at     time.Time
	tokens int
}

// window is a time-bounded sliding record. Entries are appended in
// chronological order and only ever leave through prune.
type window struct {
	span    time.Duration
	entries []entry
	total   int
}

func newWindow(span time.Duration) *window {
	return &window{span: span}
}

func (w *window) add(at time.Time, tokens int) {
	w.entries = append(w.entries, entry{at: at, tokens: tokens})
	w.total += tokens
}

// prune drops entries strictly older than now-span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		w.total -= w.entries[i].tokens
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (w *window) len() int { return len(w.entries) }

func (w *window) sum() int { return w.total }

// untilOldestExpires returns how long until the oldest entry leaves the window.
func (w *window) untilOldestExpires(now time.Time) time.Duration {
	if len(w.entries) == 0 {
		return 0
	}
	return w.entries[0].at.Add(w.span).Sub(now)
}
