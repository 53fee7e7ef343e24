package dialogue

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/parley/core"
)

// DefaultMinBody is the minimum body length when none is configured.
const DefaultMinBody = 4

// NormalizeLine renders value as `<First>: "body"` for the speaker.
//
// Whitespace is collapsed. When value already starts with "<First>:"
// (case-insensitive) one surrounding quote pair is stripped from the body and
// bodies shorter than minBody runes are rejected. The body is truncated to
// maxChars runes; maxChars is clamped to [24,400] and minBody to
// [1,maxChars-1].
func NormalizeLine(value, speakerName string, maxChars, minBody int) (string, bool) {
	cleaned := collapse(value)
	if cleaned == "" {
		return "", false
	}

	safeMax := clamp(maxChars, 24, 400)
	safeMin := clamp(minBody, 1, max(1, safeMax-1))
	speaker := core.FirstName(speakerName)
	prefix := speaker + ":"

	if body, ok := cutPrefixFold(cleaned, prefix); ok {
		body = stripQuotes(strings.TrimSpace(body))
		if utf8.RuneCountInString(body) < safeMin {
			return "", false
		}
		return prefix + ` "` + truncate(body, safeMax) + `"`, true
	}
	return prefix + ` "` + truncate(cleaned, safeMax) + `"`, true
}

// NormalizeSummary collapses whitespace and truncates to maxChars runes
// (clamped to [24,400]). Empty summaries are rejected.
func NormalizeSummary(value string, maxChars int) (string, bool) {
	cleaned := collapse(value)
	if cleaned == "" {
		return "", false
	}
	return truncate(cleaned, clamp(maxChars, 24, 400)), true
}

// NormalizeShouldEnd decides whether a turn ends the conversation. Reaching
// the turn cap always ends it; otherwise the provider's value counts only
// when ending is allowed.
func NormalizeShouldEnd(value any, allowEnd bool, turnIndex, maxTurns int) bool {
	if turnIndex+1 >= maxTurns {
		return true
	}
	if !allowEnd {
		return false
	}
	return truthy(value)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return !math.IsNaN(v) && v > 0
	case int:
		return v > 0
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "1", "end", "done":
			return true
		}
	}
	return false
}

// EstimateTokens approximates the token count of text at four characters
// per token, never below 1.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return max(1, (n+3)/4)
}

// completionBudget bounds a configured completion limit to [120, ceiling].
func completionBudget(setting, ceiling int) int {
	return max(120, min(setting, ceiling))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// cutPrefixFold is strings.CutPrefix with Unicode case folding.
func cutPrefixFold(s, prefix string) (string, bool) {
	n := utf8.RuneCountInString(prefix)
	r := []rune(s)
	if len(r) < n {
		return "", false
	}
	if !strings.EqualFold(string(r[:n]), prefix) {
		return "", false
	}
	return string(r[n:]), true
}

// stripQuotes removes one leading and one trailing quote character.
func stripQuotes(s string) string {
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}
