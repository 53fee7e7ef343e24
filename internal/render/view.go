// Package render draws admission snapshots and the interaction feed for the
// terminal.
package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/memory"
)

const barWidth = 24

// Limits renders the admission controller state.
func Limits(snap admission.Snapshot) string {
	s := newStyles()
	l, u := snap.Limits, snap.Usage

	lines := []string{
		s.title.Render("Admission"),
		s.header.Render(fmt.Sprintf("queue: %d pending, %d in flight", snap.Queue.Pending, snap.Queue.InFlight)),
		windowLine("requests/s", u.RequestsLastSecond, l.RPS, s),
		windowLine("tokens/min", u.TokensLastMinute, l.TPM, s),
		windowLine("tokens/day", u.TokensLastDay, l.TPD, s),
		s.value.Render(fmt.Sprintf("dispatched %d, rejected %d, tokens observed %d",
			u.TotalRequestsDispatched, u.TotalRequestsRejected, u.TotalTokensObserved)),
	}
	if l.TPD > 0 && u.DayRemaining == 0 {
		lines = append(lines, s.warning.Render("daily token budget exhausted"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func windowLine(label string, used, limit int, s styles) string {
	key := s.key.Render(fmt.Sprintf("%-11s", label+":"))
	if limit <= 0 {
		return lipgloss.JoinHorizontal(lipgloss.Top, key, " ", s.empty.Render(fmt.Sprintf("%d (unlimited)", used)))
	}
	percent := 100 * float64(used) / float64(limit)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		key, " ",
		progressBar(percent, barWidth, s), " ",
		s.value.Render(fmt.Sprintf("%d/%d", used, limit)),
	)
}

func progressBar(usedPercent float64, width int, s styles) string {
	used := math.Max(0, math.Min(100, usedPercent))
	filled := max(0, min(width, int(math.Round(float64(width)*used/100))))
	return lipgloss.JoinHorizontal(lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

// Feed renders interactions, newest first, with times relative to now.
func Feed(events []core.InteractionEvent, now time.Time) string {
	s := newStyles()
	lines := []string{
		s.title.Render("Interactions"),
		s.header.Render(fmt.Sprintf("events: %d", len(events))),
	}
	if len(events) == 0 {
		lines = append(lines, s.empty.Render("Nobody has talked yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, ev := range events {
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left,
			s.speaker.Render(fmt.Sprintf("%s & %s", nameOr(ev.AName, ev.AID), nameOr(ev.BName, ev.BID)))+
				" "+s.header.Render(fmt.Sprintf("pair %d, %s", ev.PairIndex, ago(ev.At, now))),
			s.value.Render("  "+ev.ALine),
			s.value.Render("  "+ev.BLine),
			s.summary.Render("  "+ev.Summary),
		)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// QuotaNotices renders quota rejections reported to the feed.
func QuotaNotices(notices []memory.QuotaNotice) string {
	if len(notices) == 0 {
		return ""
	}
	s := newStyles()
	lines := []string{s.warning.Render(fmt.Sprintf("quota rejections: %d", len(notices)))}
	for _, n := range notices {
		lines = append(lines, s.value.Render(fmt.Sprintf("  %s %s", n.SessionID, n.Message)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func nameOr(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return id
}

func ago(at, now time.Time) string {
	if now.IsZero() || at.IsZero() {
		return "just now"
	}
	d := now.Sub(at)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
}
