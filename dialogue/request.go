package dialogue

import (
	"errors"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/model"
)

// ErrInvalidRequest marks a request missing its participants.
var ErrInvalidRequest = errors.New("invalid dialogue request")

// Reply sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// HistoryEntry is one spoken line of a conversation.
type HistoryEntry struct {
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName,omitempty"`
	Line        string `json:"line"`
}

// TurnRequest asks for the next line of a conversation.
type TurnRequest struct {
	Speaker   core.Persona   `json:"speaker"`
	Listener  core.Persona   `json:"listener"`
	History   []HistoryEntry `json:"history"`
	TurnIndex int            `json:"turnIndex"`
	MaxTurns  int            `json:"maxTurns"`
	AllowEnd  bool           `json:"allowEnd"`
}

// TurnReply is a normalized turn, from the provider or the fallback.
type TurnReply struct {
	Line      string      `json:"line"`
	ShouldEnd bool        `json:"shouldEnd"`
	Summary   string      `json:"summary"`
	Source    string      `json:"source"`
	Usage     model.Usage `json:"usage,omitzero"`
}

// InteractionRequest asks for one exchange between A and B.
type InteractionRequest struct {
	A core.Persona `json:"a"`
	B core.Persona `json:"b"`
}

// InteractionReply is a normalized exchange.
type InteractionReply struct {
	ALine   string      `json:"aLine"`
	BLine   string      `json:"bLine"`
	Summary string      `json:"summary"`
	Source  string      `json:"source"`
	Usage   model.Usage `json:"usage,omitzero"`
}

// LabParticipant is a lab-mode speaker described by free-form instructions.
type LabParticipant struct {
	Name              string `json:"name"`
	SystemInstruction string `json:"systemInstruction,omitempty"`
	Context           string `json:"context,omitempty"`
}

// LabHistoryEntry is one line of a lab conversation.
type LabHistoryEntry struct {
	SpeakerName string `json:"speakerName"`
	Line        string `json:"line"`
}

// LabTurnRequest asks for the next line of a lab conversation.
type LabTurnRequest struct {
	Speaker   LabParticipant    `json:"speaker"`
	Listener  LabParticipant    `json:"listener"`
	History   []LabHistoryEntry `json:"history"`
	TurnIndex int               `json:"turnIndex"`
	MaxTurns  int               `json:"maxTurns"`
	AllowEnd  bool              `json:"allowEnd"`
}

const (
	maxTurnHistory    = 20
	maxTurnLineChars  = 220
	maxTurnIndex      = 200
	maxTurnsCap       = 24
	maxLabTurnsCap    = 48
	maxLabHistory     = 24
	maxLabLineChars   = 260
	maxLabNameChars   = 90
	maxLabInstruction = 4000
	maxLabContext     = 1200
	promptHistory     = 10
	labPromptHistory  = 18
)

// Sanitize trims both personas, bounds the history and clamps the turn
// counters. It fails when either participant has no name.
func (r TurnRequest) Sanitize() (TurnRequest, error) {
	speaker, ok1 := r.Speaker.Sanitized()
	listener, ok2 := r.Listener.Sanitized()
	if !ok1 || !ok2 {
		return TurnRequest{}, errors.Join(ErrInvalidRequest, errors.New("speaker and listener need names"))
	}
	r.Speaker, r.Listener = speaker, listener

	history := lastN(r.History, maxTurnHistory)
	r.History = make([]HistoryEntry, 0, len(history))
	for _, h := range history {
		line := strings.TrimSpace(h.Line)
		if line == "" {
			continue
		}
		r.History = append(r.History, HistoryEntry{
			SpeakerID:   h.SpeakerID,
			SpeakerName: strings.TrimSpace(h.SpeakerName),
			Line:        truncate(line, maxTurnLineChars),
		})
	}
	r.TurnIndex = clamp(r.TurnIndex, 0, maxTurnIndex)
	r.MaxTurns = clamp(r.MaxTurns, 2, maxTurnsCap)
	return r, nil
}

// Sanitize trims both personas and fails when either has no name.
func (r InteractionRequest) Sanitize() (InteractionRequest, error) {
	a, ok1 := r.A.Sanitized()
	b, ok2 := r.B.Sanitized()
	if !ok1 || !ok2 {
		return InteractionRequest{}, errors.Join(ErrInvalidRequest, errors.New("agents a and b need names"))
	}
	return InteractionRequest{A: a, B: b}, nil
}

// Sanitize bounds names, instructions and history and clamps the counters.
func (r LabTurnRequest) Sanitize() (LabTurnRequest, error) {
	var ok1, ok2 bool
	r.Speaker, ok1 = r.Speaker.sanitized()
	r.Listener, ok2 = r.Listener.sanitized()
	if !ok1 || !ok2 {
		return LabTurnRequest{}, errors.Join(ErrInvalidRequest, errors.New("speaker and listener need names"))
	}

	history := lastN(r.History, maxLabHistory)
	r.History = make([]LabHistoryEntry, 0, len(history))
	for _, h := range history {
		line, name := strings.TrimSpace(h.Line), strings.TrimSpace(h.SpeakerName)
		if line == "" || name == "" {
			continue
		}
		r.History = append(r.History, LabHistoryEntry{
			SpeakerName: truncate(name, maxLabNameChars),
			Line:        truncate(line, maxLabLineChars),
		})
	}
	r.TurnIndex = clamp(r.TurnIndex, 0, maxTurnIndex)
	r.MaxTurns = clamp(r.MaxTurns, 2, maxLabTurnsCap)
	return r, nil
}

func (p LabParticipant) sanitized() (LabParticipant, bool) {
	out := LabParticipant{
		Name:              truncate(strings.TrimSpace(p.Name), maxLabNameChars),
		SystemInstruction: truncate(strings.TrimSpace(p.SystemInstruction), maxLabInstruction),
		Context:           truncate(strings.TrimSpace(p.Context), maxLabContext),
	}
	return out, out.Name != ""
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
