package dialogue

import (
	"fmt"
	"strings"

	"github.com/hupe1980/parley/core"
)

// TurnFallback returns the local turn used when the provider path fails.
// Output depends only on the request; ShouldEnd is set exactly when the turn
// cap is reached.
func TurnFallback(r TurnRequest) TurnReply {
	speaker := r.Speaker.FirstName()
	listener := r.Listener.FirstName()

	var lines []string
	if len(r.History) > 0 {
		lines = []string{
			fmt.Sprintf(`%s: "That is useful, %s. I can narrow this to one concrete next step."`, speaker, listener),
			fmt.Sprintf(`%s: "Good point. I will adjust the plan and keep the scope realistic."`, speaker),
			fmt.Sprintf(`%s: "I hear you. Let me rewrite this so it is easier to execute."`, speaker),
			fmt.Sprintf(`%s: "That helps. I can tweak the sequence and report back after a quick test."`, speaker),
		}
	} else {
		lines = []string{
			fmt.Sprintf(`%s: "I keep thinking about %s."`, speaker, lowerOr(r.Speaker.Goal, "what works for people day-to-day")),
			fmt.Sprintf(`%s: "My %s usually helps me make sense of this."`, speaker, lowerOr(r.Speaker.Quirk, "routine")),
			fmt.Sprintf(`%s: "Could we test a small step by tomorrow?"`, speaker),
			fmt.Sprintf(`%s: "Your angle on this is useful, %s."`, speaker, listener),
		}
	}

	return TurnReply{
		Line:      lines[max(0, r.TurnIndex)%len(lines)],
		ShouldEnd: r.TurnIndex+1 >= r.MaxTurns,
		Summary:   fmt.Sprintf("%s and %s are discussing practical next steps.", r.Speaker.Name, r.Listener.Name),
		Source:    SourceFallback,
	}
}

// InteractionFallback returns the local exchange used when the provider path
// fails.
func InteractionFallback(r InteractionRequest) InteractionReply {
	return InteractionReply{
		ALine:   fmt.Sprintf(`%s: "I keep circling back to %s."`, r.A.FirstName(), or(r.A.Goal, "what works for people day-to-day")),
		BLine:   fmt.Sprintf(`%s: "Same here. %s helps when plans get noisy."`, r.B.FirstName(), or(r.B.Quirk, "My routine")),
		Summary: fmt.Sprintf("%s and %s compared ideas about neighborhood routines.", r.A.Name, r.B.Name),
		Source:  SourceFallback,
	}
}

// LabTurnFallback returns the local lab turn used when the provider path
// fails.
func LabTurnFallback(r LabTurnRequest) TurnReply {
	speaker := core.FirstName(r.Speaker.Name)
	listener := core.FirstName(r.Listener.Name)
	lines := []string{
		fmt.Sprintf(`%s: "I want to keep this simple and concrete so we can evaluate it quickly."`, speaker),
		fmt.Sprintf(`%s: "I heard your point, %s. I can adjust the next step and keep scope tight."`, speaker, listener),
		fmt.Sprintf(`%s: "Let us run one small test and compare results after that."`, speaker),
		fmt.Sprintf(`%s: "I can summarize the plan in one sentence and remove ambiguity."`, speaker),
	}
	return TurnReply{
		Line:      lines[max(0, r.TurnIndex)%len(lines)],
		ShouldEnd: r.TurnIndex+1 >= r.MaxTurns,
		Summary:   fmt.Sprintf("%s and %s are testing a simple conversation flow.", r.Speaker.Name, r.Listener.Name),
		Source:    SourceFallback,
	}
}

func or(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func lowerOr(s, def string) string {
	return strings.ToLower(or(s, def))
}
