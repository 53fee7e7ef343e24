package conversation

import (
	"slices"
	"time"
)

// State is the phase of a session.
type State int

// Session states. A session loops between the two awaiting states until it
// ends.
const (
	StateOpening State = iota
	StateAwaitingFirstTurn
	StateAwaitingSecondTurn
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateAwaitingFirstTurn:
		return "awaiting_first_turn"
	case StateAwaitingSecondTurn:
		return "awaiting_second_turn"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Turn is one accepted line.
type Turn struct {
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	Line        string `json:"line"`
}

// Session is one conversation between participants A and B.
//
// While Pending is set, NextSpeakerID is the participant who did not speak
// the pending turn. PairCount never exceeds MaxPairs.
type Session struct {
	ID            string    `json:"id"`
	PairKey       string    `json:"pairKey"`
	AID           string    `json:"aId"`
	BID           string    `json:"bId"`
	MaxPairs      int       `json:"maxPairs"`
	PairCount     int       `json:"pairCount"`
	OpenerID      string    `json:"openerId"`
	NextSpeakerID string    `json:"nextSpeakerId"`
	Pending       *Turn     `json:"pending,omitempty"`
	History       []Turn    `json:"history"`
	Summary       string    `json:"summary"`
	StartedAt     time.Time `json:"startedAt"`
	State         State     `json:"state"`
}

// Other returns the participant that is not id.
func (s *Session) Other(id string) string {
	if id == s.AID {
		return s.BID
	}
	return s.AID
}

// Involves reports whether id takes part in the session.
func (s *Session) Involves(id string) bool {
	return id == s.AID || id == s.BID
}

// MaxTurns is the turn cap derived from the pair cap.
func (s *Session) MaxTurns() int {
	return s.MaxPairs * 2
}

func (s *Session) clone() Session {
	out := *s
	out.History = slices.Clone(s.History)
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	return out
}
