package memory

import (
	"fmt"
	"strings"
)

// Guidance is everything memory contributes to planning and reflection.
type Guidance struct {
	TaskType        string          `json:"task_type"`
	SuccessPatterns []string        `json:"success_patterns,omitempty"`
	FailurePatterns []string        `json:"failure_patterns,omitempty"`
	Episodes        []ScoredEpisode `json:"episodes,omitempty"`
	Preferences     []string        `json:"preferences,omitempty"`
	Accuracy        Accuracy        `json:"accuracy"`
	// Clarifications are answers the user gave while the run was paused.
	Clarifications []string `json:"clarifications,omitempty"`
}

// Empty reports whether there is nothing to show the model.
func (g *Guidance) Empty() bool {
	return g == nil || (len(g.SuccessPatterns) == 0 && len(g.FailurePatterns) == 0 &&
		len(g.Episodes) == 0 && len(g.Preferences) == 0 && len(g.Clarifications) == 0)
}

// Text renders guidance as prompt sections. Empty sections are omitted.
func (g *Guidance) Text() string {
	if g.Empty() {
		return "No prior guidance for this task type."
	}
	var b strings.Builder
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(title)
		b.WriteString(":\n")
		for _, l := range lines {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	section("User clarifications", g.Clarifications)
	section("User preferences", g.Preferences)
	section("What worked before", g.SuccessPatterns)
	section("What failed before", g.FailurePatterns)

	eps := make([]string, 0, len(g.Episodes))
	for _, e := range g.Episodes {
		eps = append(eps, fmt.Sprintf("[%s, similarity %.2f] %s: %s", e.Outcome, e.Score, e.Goal, e.Summary))
	}
	section("Similar past sessions", eps)
	return strings.TrimRight(b.String(), "\n")
}
