package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/settings"
)

type interactionPrompt struct {
	Task        string                 `json:"task"`
	Constraints interactionConstraints `json:"constraints"`
	AgentA      core.Persona           `json:"agentA"`
	AgentB      core.Persona           `json:"agentB"`
}

type interactionConstraints struct {
	ALine   string `json:"aLine"`
	BLine   string `json:"bLine"`
	Summary string `json:"summary"`
}

type turnPrompt struct {
	Task          string           `json:"task"`
	OutputSchema  turnOutputSchema `json:"outputSchema"`
	Constraints   turnConstraints  `json:"constraints"`
	Speaker       core.Persona     `json:"speaker"`
	Listener      core.Persona     `json:"listener"`
	RecentHistory []HistoryEntry   `json:"recentHistory"`
}

type turnOutputSchema struct {
	Line      string `json:"line"`
	ShouldEnd string `json:"shouldEnd"`
	Summary   string `json:"summary"`
}

type turnConstraints struct {
	KeepLineUnderChars   int  `json:"keepLineUnderChars"`
	MinCharsAfterSpeaker int  `json:"minCharsAfterSpeaker"`
	NoMarkdown           bool `json:"noMarkdown"`
	NoStageDirections    bool `json:"noStageDirections"`
	AlternateTurns       bool `json:"alternateTurns"`
	TurnIndex            int  `json:"turnIndex"`
	MaxTurns             int  `json:"maxTurns"`
	AllowEnd             bool `json:"allowEnd"`
}

func buildInteractionPrompt(s settings.Settings, task string, r InteractionRequest) interactionPrompt {
	c := s.Constraints
	return interactionPrompt{
		Task: task,
		Constraints: interactionConstraints{
			ALine:   fmt.Sprintf("Start with A first name and a colon. Keep under %d characters, plain text.", c.InteractionLineMaxChars),
			BLine:   fmt.Sprintf("Start with B first name and a colon. Keep under %d characters, plain text.", c.InteractionLineMaxChars),
			Summary: fmt.Sprintf("One sentence under %d characters describing what they discussed.", c.InteractionSummaryMaxChars),
		},
		AgentA: r.A,
		AgentB: r.B,
	}
}

func buildTurnPrompt(s settings.Settings, task string, r TurnRequest) turnPrompt {
	c := s.Constraints
	history := lastN(r.History, promptHistory)
	if history == nil {
		history = []HistoryEntry{}
	}
	return turnPrompt{
		Task: task,
		OutputSchema: turnOutputSchema{
			Line:      "single dialogue line from the speaker, plain text, starts with speaker first name and colon",
			ShouldEnd: "boolean, true only if conversation should naturally conclude now",
			Summary:   "one short sentence summarizing current conversation state",
		},
		Constraints: turnConstraints{
			KeepLineUnderChars:   c.TurnLineMaxChars,
			MinCharsAfterSpeaker: c.TurnMinCharsAfterSpeaker,
			NoMarkdown:           c.TurnNoMarkdown,
			NoStageDirections:    c.TurnNoStageDirections,
			AlternateTurns:       c.TurnAlternateTurns,
			TurnIndex:            r.TurnIndex,
			MaxTurns:             r.MaxTurns,
			AllowEnd:             r.AllowEnd,
		},
		Speaker:       r.Speaker,
		Listener:      r.Listener,
		RecentHistory: history,
	}
}

func participantBlock(title string, p LabParticipant) string {
	return strings.Join([]string{
		title,
		"name: " + p.Name,
		"system_instruction: " + or(p.SystemInstruction, "(none)"),
		"context: " + or(p.Context, "(none)"),
	}, "\n")
}

func labTaskBlock(s settings.Settings, task string, r LabTurnRequest) string {
	c := s.Constraints
	var lines []string
	for _, h := range lastN(r.History, labPromptHistory) {
		lines = append(lines, h.SpeakerName+": "+h.Line)
	}
	history := strings.Join(lines, "\n")
	if history == "" {
		history = "(none)"
	}
	return strings.Join([]string{
		task,
		fmt.Sprintf("turn_index: %d", r.TurnIndex),
		fmt.Sprintf("max_turns: %d", r.MaxTurns),
		fmt.Sprintf("allow_end: %t", r.AllowEnd),
		fmt.Sprintf("line_max_chars: %d", c.TurnLineMaxChars),
		fmt.Sprintf("summary_max_chars: %d", c.TurnSummaryMaxChars),
		fmt.Sprintf("min_chars_after_speaker: %d", c.TurnMinCharsAfterSpeaker),
		fmt.Sprintf("no_markdown: %t", c.TurnNoMarkdown),
		fmt.Sprintf("no_stage_directions: %t", c.TurnNoStageDirections),
		fmt.Sprintf("alternate_turns: %t", c.TurnAlternateTurns),
		"Conversation so far:",
		history,
	}, "\n")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Prompt payloads are plain structs of strings, ints and bools.
		panic(fmt.Sprintf("dialogue: marshal prompt: %v", err))
	}
	return string(b)
}
