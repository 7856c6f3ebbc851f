package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExportResult_ExactFormat(t *testing.T) {
	e := New("", "", 5)
	e.state.TeamA.Score = 25
	e.state.TeamB.Score = 20
	e.state.TeamA.Sets = 1

	// Trailing space is part of the format when no timeout is in effect.
	assert.Equal(t, "25:20 (1/0) ", e.ExportResult())

	e.state.TimeoutB = true
	assert.Equal(t, "25:20 (1/0) Tiempo", e.ExportResult())
}

func TestExportHistory_LiveMatch(t *testing.T) {
	e := New("", "", 5)
	e.state.SetHistory = []SetResult{
		{SetNumber: 1, TeamAScore: 25, TeamBScore: 14, Winner: SideA},
		{SetNumber: 2, TeamAScore: 24, TeamBScore: 26, Winner: SideB},
	}
	e.state.TeamA.Sets = 1
	e.state.TeamB.Sets = 1
	e.state.CurrentSet = 3
	e.state.TeamA.Score = 7
	e.state.TeamB.Score = 5

	assert.Equal(t, "25:14 24:26 7:5 (1/1) [Set 3]", e.ExportHistory())
}

func TestExportHistory_SkipsScorelessCurrentSet(t *testing.T) {
	e := New("", "", 5)
	e.state.SetHistory = []SetResult{
		{SetNumber: 1, TeamAScore: 25, TeamBScore: 22, Winner: SideA},
	}
	e.state.TeamA.Sets = 1
	e.state.CurrentSet = 2

	assert.Equal(t, "25:22 (1/0) [Set 2]", e.ExportHistory())
}

func TestExportHistory_FinishedMatch(t *testing.T) {
	e := New("", "", 5)
	e.state.SetHistory = []SetResult{
		{SetNumber: 1, TeamAScore: 25, TeamBScore: 14, Winner: SideA},
		{SetNumber: 2, TeamAScore: 24, TeamBScore: 26, Winner: SideB},
		{SetNumber: 3, TeamAScore: 23, TeamBScore: 25, Winner: SideB},
		{SetNumber: 4, TeamAScore: 25, TeamBScore: 22, Winner: SideA},
		{SetNumber: 5, TeamAScore: 15, TeamBScore: 12, Winner: SideA},
	}
	e.state.TeamA.Sets = 3
	e.state.TeamB.Sets = 2
	e.state.CurrentSet = 5
	e.state.TeamA.Score = 15
	e.state.TeamB.Score = 12
	e.state.Ended = true

	assert.Equal(t, "25:14 24:26 23:25 25:22 15:12 (3/2) [Final]", e.ExportHistory())
}

func TestExportHistory_EmptyMatch(t *testing.T) {
	e := New("", "", 5)
	// No completed sets and no points: only the suffix remains.
	assert.Equal(t, " (0/0) [Set 1]", e.ExportHistory())
}
