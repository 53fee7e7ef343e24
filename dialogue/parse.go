package dialogue

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/util"
)

// InteractionShape is the payload expected for a one-shot interaction.
type InteractionShape struct {
	ALine   string `json:"aLine"`
	BLine   string `json:"bLine"`
	Summary string `json:"summary"`
}

// TurnShape is the payload expected for a single conversation turn.
// ShouldEnd keeps the raw decoded value (bool, float64 or string).
type TurnShape struct {
	Line      string `json:"line"`
	Summary   string `json:"summary"`
	ShouldEnd any    `json:"shouldEnd" types:"boolean,string,number"`
}

// labTurnShape is the lab variant of TurnShape: only the line is required.
type labTurnShape struct {
	Line      string `json:"line"`
	Summary   string `json:"summary,omitempty"`
	ShouldEnd any    `json:"shouldEnd,omitempty" types:"boolean,string,number"`
}

var (
	labTurnSchema     = util.MustCompileSchema(util.CreateSchema(labTurnShape{}))
	interactionSchema = util.MustCompileSchema(util.CreateSchema(InteractionShape{}))
	turnSchema        = util.MustCompileSchema(util.CreateSchema(TurnShape{}))

	fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
)

// ExtractJSONCandidates returns the distinct, syntactically valid JSON
// documents found in text, in search order: for the whole text and then for
// each fenced block, the block itself followed by its balanced-brace objects.
func ExtractJSONCandidates(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sources := []string{text}
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if block := strings.TrimSpace(m[1]); block != "" {
			sources = append(sources, block)
		}
	}

	var out []string
	seen := map[string]struct{}{}
	consider := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		if json.Valid([]byte(s)) {
			out = append(out, s)
		}
	}

	for _, src := range sources {
		consider(src)
		for _, chunk := range balancedObjects(src) {
			consider(chunk)
		}
	}
	return out
}

// balancedObjects returns every top-level {...} substring, ignoring braces
// inside string literals.
func balancedObjects(s string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// ParseTurn returns the first candidate in text matching the turn shape.
func ParseTurn(text string) (TurnShape, error) {
	var shape TurnShape
	if err := parseFirst(text, "turn", turnSchema, &shape); err != nil {
		return TurnShape{}, err
	}
	return shape, nil
}

// ParseLabTurn is ParseTurn with summary and shouldEnd optional.
func ParseLabTurn(text string) (TurnShape, error) {
	var shape labTurnShape
	if err := parseFirst(text, "lab turn", labTurnSchema, &shape); err != nil {
		return TurnShape{}, err
	}
	return TurnShape(shape), nil
}

// ParseInteraction returns the first candidate in text matching the
// interaction shape.
func ParseInteraction(text string) (InteractionShape, error) {
	var shape InteractionShape
	if err := parseFirst(text, "interaction", interactionSchema, &shape); err != nil {
		return InteractionShape{}, err
	}
	return shape, nil
}

func parseFirst(text, kind string, schema *util.Schema, dst any) error {
	candidates := ExtractJSONCandidates(text)
	if len(candidates) == 0 {
		return &core.ShapeError{Kind: kind, Reason: "no JSON object found"}
	}
	var lastErr error
	for _, c := range candidates {
		if err := schema.Validate([]byte(c)); err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(c), dst); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return &core.ShapeError{Kind: kind, Reason: lastErr.Error()}
}
