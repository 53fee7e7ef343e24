package core

import "strings"

// Persona describes one simulation participant as seen by the dialogue layer.
// Only Name is required; the remaining traits enrich prompts and fallbacks.
type Persona struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Role               string `json:"role,omitempty"`
	Trait              string `json:"trait,omitempty"`
	SecondaryTrait     string `json:"secondaryTrait,omitempty"`
	Quirk              string `json:"quirk,omitempty"`
	Goal               string `json:"goal,omitempty"`
	CommunicationStyle string `json:"communicationStyle,omitempty"`
	Motivation         string `json:"motivation,omitempty"`
	StressBehavior     string `json:"stressBehavior,omitempty"`
	PersonalRule       string `json:"personalRule,omitempty"`
	PersonalitySummary string `json:"personalitySummary,omitempty"`
	LifeStory          string `json:"lifeStory,omitempty"`
}

// FirstName returns the first whitespace separated token of the persona name.
func (p Persona) FirstName() string {
	return FirstName(p.Name)
}

// Sanitized returns a copy with every text field trimmed. The second return
// value is false when the persona has no usable name.
func (p Persona) Sanitized() (Persona, bool) {
	out := Persona{
		ID:                 strings.TrimSpace(p.ID),
		Name:               strings.TrimSpace(p.Name),
		Role:               strings.TrimSpace(p.Role),
		Trait:              strings.TrimSpace(p.Trait),
		SecondaryTrait:     strings.TrimSpace(p.SecondaryTrait),
		Quirk:              strings.TrimSpace(p.Quirk),
		Goal:               strings.TrimSpace(p.Goal),
		CommunicationStyle: strings.TrimSpace(p.CommunicationStyle),
		Motivation:         strings.TrimSpace(p.Motivation),
		StressBehavior:     strings.TrimSpace(p.StressBehavior),
		PersonalRule:       strings.TrimSpace(p.PersonalRule),
		PersonalitySummary: strings.TrimSpace(p.PersonalitySummary),
		LifeStory:          strings.TrimSpace(p.LifeStory),
	}
	return out, out.Name != ""
}

// FirstName returns the first word of a full name, or "Agent" when empty.
func FirstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return "Agent"
	}
	return fields[0]
}

// pairKeySep joins the two ids of a PairKey. Participant ids never contain NUL.
const pairKeySep = "\x00"

// PairKey builds the unordered key identifying a pair of participants.
func PairKey(a, b string) string {
	if a < b {
		return a + pairKeySep + b
	}
	return b + pairKeySep + a
}
