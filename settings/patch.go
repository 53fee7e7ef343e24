package settings

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidPatch is returned for bodies that are not a JSON object.
var ErrInvalidPatch = errors.New("settings patch must be a JSON object")

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Model                          *string
	Temperature                    *float64
	TopP                           *float64
	InteractionMaxCompletionTokens *int
	TurnMaxCompletionTokens        *int
	DisableReasoning               *bool
	ClearThinking                  *bool
	Prompts                        map[string]string // keys as in Prompts JSON tags
	Constraints                    *ConstraintsPatch
	ModelFallbacks                 []string
}

// ConstraintsPatch is a partial constraints update.
type ConstraintsPatch struct {
	InteractionLineMaxChars    *int
	InteractionSummaryMaxChars *int
	TurnLineMaxChars           *int
	TurnSummaryMaxChars        *int
	TurnMinCharsAfterSpeaker   *int
	TurnNoMarkdown             *bool
	TurnNoStageDirections      *bool
	TurnAlternateTurns         *bool
}

// ParsePatch reads a patch from a JSON body. Both camelCase and snake_case
// keys are accepted; values of the wrong type are coerced where sensible and
// ignored otherwise.
func ParsePatch(body []byte) (Patch, error) {
	if !gjson.ValidBytes(body) {
		return Patch{}, ErrInvalidPatch
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Patch{}, ErrInvalidPatch
	}

	var p Patch
	if v := root.Get("model"); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
		m := truncate(strings.TrimSpace(v.String()), maxModelChars)
		p.Model = &m
	}
	p.Temperature = numberField(root, "temperature")
	p.TopP = numberField(root, "topP", "top_p")
	p.InteractionMaxCompletionTokens = intField(root, "interactionMaxCompletionTokens", "interaction_max_completion_tokens")
	p.TurnMaxCompletionTokens = intField(root, "turnMaxCompletionTokens", "turn_max_completion_tokens")
	p.DisableReasoning = boolField(root, "disableReasoning", "disable_reasoning")
	p.ClearThinking = boolField(root, "clearThinking", "clear_thinking")

	if prompts := root.Get("prompts"); prompts.IsObject() {
		p.Prompts = map[string]string{}
		for _, key := range promptKeys {
			if v := prompts.Get(key); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				p.Prompts[key] = cleanPrompt(v.String())
			}
		}
	}

	if c := root.Get("constraints"); c.IsObject() {
		p.Constraints = &ConstraintsPatch{
			InteractionLineMaxChars:    intField(c, "interactionLineMaxChars", "interaction_line_max_chars"),
			InteractionSummaryMaxChars: intField(c, "interactionSummaryMaxChars", "interaction_summary_max_chars"),
			TurnLineMaxChars:           intField(c, "turnLineMaxChars", "turn_line_max_chars"),
			TurnSummaryMaxChars:        intField(c, "turnSummaryMaxChars", "turn_summary_max_chars"),
			TurnMinCharsAfterSpeaker:   intField(c, "turnMinCharsAfterSpeaker", "turn_min_chars_after_speaker"),
			TurnNoMarkdown:             boolField(c, "turnNoMarkdown", "turn_no_markdown"),
			TurnNoStageDirections:      boolField(c, "turnNoStageDirections", "turn_no_stage_directions"),
			TurnAlternateTurns:         boolField(c, "turnAlternateTurns", "turn_alternate_turns"),
		}
	}

	if fb := root.Get("modelFallbacks"); fb.IsArray() {
		for _, v := range fb.Array() {
			p.ModelFallbacks = append(p.ModelFallbacks, v.String())
		}
	}

	return p, nil
}

var promptKeys = []string{"interactionSystem", "interactionTask", "turnSystem", "turnTask", "labSystem", "labTask"}

func lookup(obj gjson.Result, keys ...string) (gjson.Result, bool) {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() && v.Type != gjson.Null {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func numberField(obj gjson.Result, keys ...string) *float64 {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil
	}
	var n float64
	switch v.Type {
	case gjson.Number:
		n = v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		if err != nil {
			return nil
		}
		n = f
	default:
		return nil
	}
	return &n
}

// intField floors numbers; non-numeric values become 0 and are clamped to
// the field minimum on apply.
func intField(obj gjson.Result, keys ...string) *int {
	if _, ok := lookup(obj, keys...); !ok {
		return nil
	}
	n := 0
	if f := numberField(obj, keys...); f != nil {
		n = int(math.Floor(math.Max(math.MinInt32, math.Min(math.MaxInt32, *f))))
	}
	return &n
}

func boolField(obj gjson.Result, keys ...string) *bool {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil
	}
	b := ToBool(v)
	return &b
}

// ToBool coerces a JSON value: booleans as is, numbers when > 0, strings in
// {1,true,yes,on} case-insensitively.
func ToBool(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Float() > 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(v.String())) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func (p Patch) applyTo(s Settings) Settings {
	s = s.Clone()
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Temperature != nil {
		s.Temperature = clampFloat(*p.Temperature, 0, 2, s.Temperature)
	}
	if p.TopP != nil {
		s.TopP = clampFloat(*p.TopP, 0, 1, s.TopP)
	}
	if p.InteractionMaxCompletionTokens != nil {
		s.InteractionMaxCompletionTokens = clampInt(*p.InteractionMaxCompletionTokens, 80, 4096)
	}
	if p.TurnMaxCompletionTokens != nil {
		s.TurnMaxCompletionTokens = clampInt(*p.TurnMaxCompletionTokens, 80, 2048)
	}
	if p.DisableReasoning != nil {
		s.DisableReasoning = *p.DisableReasoning
	}
	if p.ClearThinking != nil {
		s.ClearThinking = *p.ClearThinking
	}
	for k, v := range p.Prompts {
		switch k {
		case "interactionSystem":
			s.Prompts.InteractionSystem = v
		case "interactionTask":
			s.Prompts.InteractionTask = v
		case "turnSystem":
			s.Prompts.TurnSystem = v
		case "turnTask":
			s.Prompts.TurnTask = v
		case "labSystem":
			s.Prompts.LabSystem = v
		case "labTask":
			s.Prompts.LabTask = v
		}
	}
	if c := p.Constraints; c != nil {
		setInt(&s.Constraints.InteractionLineMaxChars, c.InteractionLineMaxChars, 40, 400)
		setInt(&s.Constraints.InteractionSummaryMaxChars, c.InteractionSummaryMaxChars, 40, 400)
		setInt(&s.Constraints.TurnLineMaxChars, c.TurnLineMaxChars, 40, 400)
		setInt(&s.Constraints.TurnSummaryMaxChars, c.TurnSummaryMaxChars, 40, 400)
		setInt(&s.Constraints.TurnMinCharsAfterSpeaker, c.TurnMinCharsAfterSpeaker, 1, 200)
		setBool(&s.Constraints.TurnNoMarkdown, c.TurnNoMarkdown)
		setBool(&s.Constraints.TurnNoStageDirections, c.TurnNoStageDirections)
		setBool(&s.Constraints.TurnAlternateTurns, c.TurnAlternateTurns)
		s.Constraints = s.Constraints.Normalize()
	}
	if p.ModelFallbacks != nil {
		s.ModelFallbacks = uniqueModels(p.ModelFallbacks)
	}
	return s
}

func setInt(dst *int, v *int, lo, hi int) {
	if v != nil {
		*dst = clampInt(*v, lo, hi)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
