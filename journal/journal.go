// Package journal keeps a bounded, process-local record of every dialogue
// request: what was sent, how admission treated it and what was returned.
// Entries are snapshotted as JSON on write so later mutation of the source
// values cannot leak into the log.
package journal

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/parley/core"
)

// Status values recorded on entries.
const (
	StatusQueued              = "queued"
	StatusCompleted           = "completed"
	StatusFallbackParseFailed = "fallback_parse_failed"
	StatusFallbackInvalid     = "fallback_invalid_shape"
	StatusRejectedDailyLimit  = "rejected_daily_limit"
	StatusErrorFallback       = "error_fallback"
)

const (
	// DefaultMaxEntries is the retention used when none is configured.
	DefaultMaxEntries = 300
	minMaxEntries     = 20
	maxListLimit      = 500
)

// ErrorInfo is the serializable form of a failure.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Entry is one journal record.
type Entry struct {
	ID        int64           `json:"id"`
	At        time.Time       `json:"at"`
	UpdatedAt time.Time       `json:"updatedAt,omitzero"`
	Route     string          `json:"route"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// Options configure a Journal.
type Options struct {
	Enabled    bool
	MaxEntries int
	Clock      core.Clock
}

// Journal is an in-memory ring of entries, oldest first. It is safe for
// concurrent use.
type Journal struct {
	mu      sync.RWMutex
	enabled bool
	max     int
	clock   core.Clock
	nextID  int64
	entries []*Entry
}

// New creates an enabled journal keeping DefaultMaxEntries entries unless
// overridden. Retention never drops below 20.
func New(optFns ...func(o *Options)) *Journal {
	opts := Options{Enabled: true, MaxEntries: DefaultMaxEntries}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Journal{
		enabled: opts.Enabled,
		max:     max(minMaxEntries, opts.MaxEntries),
		clock:   opts.Clock,
		nextID:  1,
	}
}

// Enabled reports whether entries are recorded.
func (j *Journal) Enabled() bool {
	if j == nil {
		return false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.enabled
}

// Create records a queued entry and returns its id, or 0 when disabled.
func (j *Journal) Create(route string, request any) int64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.enabled {
		return 0
	}
	e := &Entry{
		ID:      j.nextID,
		At:      j.clock.Now(),
		Route:   route,
		Status:  StatusQueued,
		Request: snapshot(request),
	}
	j.nextID++
	j.entries = append(j.entries, e)
	if over := len(j.entries) - j.max; over > 0 {
		j.entries = append(j.entries[:0], j.entries[over:]...)
	}
	return e.ID
}

// Update sets the final status, result and error of an entry. Unknown ids
// (including 0 and evicted entries) are ignored.
func (j *Journal) Update(id int64, status string, result any, err error) {
	if j == nil || id == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.enabled {
		return
	}
	for _, e := range j.entries {
		if e.ID != id {
			continue
		}
		if status != "" {
			e.Status = status
		}
		if result != nil {
			e.Result = snapshot(result)
		}
		if err != nil {
			e.Error = errorInfo(err)
		}
		e.UpdatedAt = j.clock.Now()
		return
	}
}

// List returns up to limit entries, newest first. limit is clamped to [1,500].
func (j *Journal) List(limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	limit = max(1, min(maxListLimit, limit))
	n := min(limit, len(j.entries))
	out := make([]Entry, 0, n)
	for i := len(j.entries) - 1; i >= len(j.entries)-n; i-- {
		out = append(out, *j.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Clear drops every entry. Ids keep increasing.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"error":"non_serializable_value"}`)
	}
	return b
}

func errorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{Message: err.Error()}
	var qe *core.QuotaError
	if errors.As(err, &qe) {
		info.Code = qe.Code
	}
	return info
}
