package core

import "time"

// InteractionEvent is emitted exactly once per completed pair of turns. Lines
// are attributed to participant A and B by original speaker identity,
// independent of who spoke first.
type InteractionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	AID       string    `json:"participantAId"`
	BID       string    `json:"participantBId"`
	AName     string    `json:"participantAName,omitempty"`
	BName     string    `json:"participantBName,omitempty"`
	ALine     string    `json:"lineA"`
	BLine     string    `json:"lineB"`
	Summary   string    `json:"summary"`
	PairIndex int       `json:"pairIndex"`
	At        time.Time `json:"at"`
}

// LineFor returns the line spoken by participantID within the event.
func (e InteractionEvent) LineFor(participantID string) string {
	if participantID == e.AID {
		return e.ALine
	}
	return e.BLine
}

// Counterpart returns the id of the other participant.
func (e InteractionEvent) Counterpart(participantID string) string {
	if participantID == e.AID {
		return e.BID
	}
	return e.AID
}
