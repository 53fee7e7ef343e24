// Package settings holds the runtime-tunable dialogue parameters: the
// preferred model, sampling values, completion budgets, reasoning controls,
// prompt templates and output constraints. Values are read as a snapshot at
// invocation time and patched with clamping.
package settings

import (
	"math"
	"slices"
	"strings"
	"sync"
)

// Prompts are the operator-editable prompt templates.
type Prompts struct {
	InteractionSystem string `json:"interactionSystem" mapstructure:"interaction_system" toml:"interaction_system"`
	InteractionTask   string `json:"interactionTask" mapstructure:"interaction_task" toml:"interaction_task"`
	TurnSystem        string `json:"turnSystem" mapstructure:"turn_system" toml:"turn_system"`
	TurnTask          string `json:"turnTask" mapstructure:"turn_task" toml:"turn_task"`
	LabSystem         string `json:"labSystem" mapstructure:"lab_system" toml:"lab_system"`
	LabTask           string `json:"labTask" mapstructure:"lab_task" toml:"lab_task"`
}

// Constraints bound the shape of generated lines and summaries.
type Constraints struct {
	InteractionLineMaxChars    int  `json:"interactionLineMaxChars" mapstructure:"interaction_line_max_chars" toml:"interaction_line_max_chars"`
	InteractionSummaryMaxChars int  `json:"interactionSummaryMaxChars" mapstructure:"interaction_summary_max_chars" toml:"interaction_summary_max_chars"`
	TurnLineMaxChars           int  `json:"turnLineMaxChars" mapstructure:"turn_line_max_chars" toml:"turn_line_max_chars"`
	TurnSummaryMaxChars        int  `json:"turnSummaryMaxChars" mapstructure:"turn_summary_max_chars" toml:"turn_summary_max_chars"`
	TurnMinCharsAfterSpeaker   int  `json:"turnMinCharsAfterSpeaker" mapstructure:"turn_min_chars_after_speaker" toml:"turn_min_chars_after_speaker"`
	TurnNoMarkdown             bool `json:"turnNoMarkdown" mapstructure:"turn_no_markdown" toml:"turn_no_markdown"`
	TurnNoStageDirections      bool `json:"turnNoStageDirections" mapstructure:"turn_no_stage_directions" toml:"turn_no_stage_directions"`
	TurnAlternateTurns         bool `json:"turnAlternateTurns" mapstructure:"turn_alternate_turns" toml:"turn_alternate_turns"`
}

// Settings is one immutable snapshot of the runtime parameters.
type Settings struct {
	Model                          string      `json:"model" mapstructure:"model" toml:"model"`
	Temperature                    float64     `json:"temperature" mapstructure:"temperature" toml:"temperature"`
	TopP                           float64     `json:"topP" mapstructure:"top_p" toml:"top_p"`
	InteractionMaxCompletionTokens int         `json:"interactionMaxCompletionTokens" mapstructure:"interaction_max_completion_tokens" toml:"interaction_max_completion_tokens"`
	TurnMaxCompletionTokens        int         `json:"turnMaxCompletionTokens" mapstructure:"turn_max_completion_tokens" toml:"turn_max_completion_tokens"`
	DisableReasoning               bool        `json:"disableReasoning" mapstructure:"disable_reasoning" toml:"disable_reasoning"`
	ClearThinking                  bool        `json:"clearThinking" mapstructure:"clear_thinking" toml:"clear_thinking"`
	Prompts                        Prompts     `json:"prompts" mapstructure:"prompts" toml:"prompts"`
	Constraints                    Constraints `json:"constraints" mapstructure:"constraints" toml:"constraints"`
	ModelFallbacks                 []string    `json:"modelFallbacks" mapstructure:"model_fallbacks" toml:"model_fallbacks"`
}

// DefaultPrompts returns the built-in prompt templates.
func DefaultPrompts() Prompts {
	return Prompts{
		InteractionSystem: `Return only minified JSON: {"aLine":"...","bLine":"...","summary":"..."} with no extra text.`,
		InteractionTask:   "Generate one short interaction between agent A and agent B.",
		TurnSystem:        `Return only minified JSON: {"line":"...","shouldEnd":false,"summary":"..."}. "line" must include a complete sentence after the speaker name and colon.`,
		TurnTask:          "Generate the next single line in a turn-based conversation between two agents.",
		LabSystem:         `You simulate one turn in a 2-agent chat test. Stay consistent with each agent system instruction. Return only minified JSON: {"line":"...","shouldEnd":false,"summary":"..."}`,
		LabTask:           "Generate one conversational turn from the current speaker.",
	}
}

// DefaultConstraints returns the built-in output constraints.
func DefaultConstraints() Constraints {
	return Constraints{
		InteractionLineMaxChars:    180,
		InteractionSummaryMaxChars: 140,
		TurnLineMaxChars:           180,
		TurnSummaryMaxChars:        220,
		TurnMinCharsAfterSpeaker:   18,
		TurnNoMarkdown:             true,
		TurnNoStageDirections:      true,
		TurnAlternateTurns:         true,
	}
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Model:                          "zai-glm-4.7",
		Temperature:                    1,
		TopP:                           0.95,
		InteractionMaxCompletionTokens: 1200,
		TurnMaxCompletionTokens:        320,
		Prompts:                        DefaultPrompts(),
		Constraints:                    DefaultConstraints(),
		ModelFallbacks:                 []string{"llama3.1-8b", "gpt-oss-120b"},
	}
}

// Normalize clamps every field into its accepted range, filling blanks from
// the defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()
	s.Model = truncate(strings.TrimSpace(s.Model), maxModelChars)
	if s.Model == "" {
		s.Model = d.Model
	}
	s.Temperature = clampFloat(s.Temperature, 0, 2, d.Temperature)
	s.TopP = clampFloat(s.TopP, 0, 1, d.TopP)
	s.InteractionMaxCompletionTokens = clampInt(s.InteractionMaxCompletionTokens, 80, 4096)
	s.TurnMaxCompletionTokens = clampInt(s.TurnMaxCompletionTokens, 80, 2048)
	s.Prompts = s.Prompts.normalize(d.Prompts)
	s.Constraints = s.Constraints.Normalize()
	s.ModelFallbacks = uniqueModels(s.ModelFallbacks)
	return s
}

func (p Prompts) normalize(d Prompts) Prompts {
	pick := func(v, def string) string {
		if v = cleanPrompt(v); v == "" {
			return def
		}
		return v
	}
	return Prompts{
		InteractionSystem: pick(p.InteractionSystem, d.InteractionSystem),
		InteractionTask:   pick(p.InteractionTask, d.InteractionTask),
		TurnSystem:        pick(p.TurnSystem, d.TurnSystem),
		TurnTask:          pick(p.TurnTask, d.TurnTask),
		LabSystem:         pick(p.LabSystem, d.LabSystem),
		LabTask:           pick(p.LabTask, d.LabTask),
	}
}

// Normalize clamps character limits into [40,400] and the minimum body
// length into [1, TurnLineMaxChars-1].
func (c Constraints) Normalize() Constraints {
	c.InteractionLineMaxChars = clampInt(c.InteractionLineMaxChars, 40, 400)
	c.InteractionSummaryMaxChars = clampInt(c.InteractionSummaryMaxChars, 40, 400)
	c.TurnLineMaxChars = clampInt(c.TurnLineMaxChars, 40, 400)
	c.TurnSummaryMaxChars = clampInt(c.TurnSummaryMaxChars, 40, 400)
	c.TurnMinCharsAfterSpeaker = clampInt(c.TurnMinCharsAfterSpeaker, 1, c.TurnLineMaxChars-1)
	return c
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.ModelFallbacks = slices.Clone(s.ModelFallbacks)
	return s
}

// Store guards the current settings.
type Store struct {
	mu      sync.RWMutex
	current Settings
}

// NewStore creates a store seeded with initial (normalized).
func NewStore(initial Settings) *Store {
	return &Store{current: initial.Normalize()}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Apply merges patch into the current settings and returns the result.
func (s *Store) Apply(p Patch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p.applyTo(s.current).Normalize()
	return s.current.Clone()
}

// Replace swaps in a complete settings value, e.g. after a config reload.
func (s *Store) Replace(next Settings) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next.Normalize()
	return s.current.Clone()
}

// SetModel records the model that is currently answering.
func (s *Store) SetModel(model string) {
	model = truncate(strings.TrimSpace(model), maxModelChars)
	if model == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Model = model
}

const (
	maxModelChars  = 140
	maxPromptChars = 8000
)

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(hi, v))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func cleanPrompt(s string) string {
	return truncate(strings.TrimSpace(s), maxPromptChars)
}

func uniqueModels(models []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
