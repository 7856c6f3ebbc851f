package types

import (
	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/session"
)

type ClientMessage struct {
	Type      string `json:"type"`
	Team      string `json:"team,omitempty"`
	Active    bool   `json:"active,omitempty"`
	Name      string `json:"name,omitempty"`
	TeamAName string `json:"team_a_name,omitempty"`
	TeamBName string `json:"team_b_name,omitempty"`
	Format    int    `json:"format,omitempty"`
	MatchID   string `json:"match_id,omitempty"`
	Password  string `json:"password,omitempty"`
}

type ServerMessage struct {
	Type    string              `json:"type"` // "StateSnapshot" | "Notice" | "SyncStatus" | "Export" | "Error"
	Version int                 `json:"version,omitempty"`
	State   *engine.State       `json:"state,omitempty"`
	Level   string              `json:"level,omitempty"`
	Message string              `json:"message,omitempty"`
	Export  string              `json:"export,omitempty"`
	Sync    *session.SyncStatus `json:"sync,omitempty"`
	Error   string              `json:"error,omitempty"`
}
