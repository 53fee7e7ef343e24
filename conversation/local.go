package conversation

import (
	"fmt"
	"strings"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/dialogue"
)

// localTurn is the line used when the turn source fails with anything other
// than a quota error. It ends the conversation once the last pair starts.
func localTurn(s *Session, speaker, listener core.Persona) dialogue.TurnReply {
	sf, lf := speaker.FirstName(), listener.FirstName()
	lines := []string{
		fmt.Sprintf(`%s: "I keep thinking about %s and how to make it more practical."`,
			sf, strings.ToLower(orDefault(speaker.Goal, "what we talked about"))),
		fmt.Sprintf(`%s: "That connects with your point, %s. %s."`,
			sf, lf, strings.TrimRight(orDefault(speaker.CommunicationStyle, "I want to keep this clear and actionable"), ".")),
		fmt.Sprintf(`%s: "Maybe we can run a small test this week, then adjust from what we learn."`, sf),
		fmt.Sprintf(`%s: "Under pressure I usually %s, so this is what I suggest next."`,
			sf, orDefault(speaker.StressBehavior, "slow down and structure the next step")),
	}
	return dialogue.TurnReply{
		Line:      lines[len(s.History)%len(lines)],
		ShouldEnd: s.PairCount >= s.MaxPairs-1,
		Summary:   fmt.Sprintf("%s and %s are discussing workable next steps.", speaker.Name, listener.Name),
		Source:    dialogue.SourceFallback,
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
