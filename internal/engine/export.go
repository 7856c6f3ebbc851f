package engine

import (
	"fmt"
	"strings"
)

// ExportResult renders the single-score share payload:
// "{scoreA}:{scoreB} ({setsA}/{setsB}) {Tiempo|}". The trailing space when no
// timeout is in effect is part of the format.
func (e *Engine) ExportResult() string {
	s := e.state
	label := ""
	if s.TimeoutA || s.TimeoutB {
		label = "Tiempo"
	}
	return fmt.Sprintf("%d:%d (%d/%d) %s", s.TeamA.Score, s.TeamB.Score, s.TeamA.Sets, s.TeamB.Sets, label)
}

// ExportHistory renders the set-by-set share payload, e.g.
// "25:14 24:26 23:24 25:22 15:12 (3/2) [Final]". The in-progress set is
// included while the match is live and at least one point has been scored.
func (e *Engine) ExportHistory() string {
	s := e.state

	scores := make([]string, 0, len(s.SetHistory)+1)
	for _, set := range s.SetHistory {
		scores = append(scores, fmt.Sprintf("%d:%d", set.TeamAScore, set.TeamBScore))
	}
	if !s.Ended && (s.TeamA.Score > 0 || s.TeamB.Score > 0) {
		scores = append(scores, fmt.Sprintf("%d:%d", s.TeamA.Score, s.TeamB.Score))
	}

	status := fmt.Sprintf("Set %d", s.CurrentSet)
	if s.Ended {
		status = "Final"
	}
	return fmt.Sprintf("%s (%d/%d) [%s]", strings.Join(scores, " "), s.TeamA.Sets, s.TeamB.Sets, status)
}
