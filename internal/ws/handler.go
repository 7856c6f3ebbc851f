package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/hub"
	"github.com/r-alonso-igme/manvapp/internal/session"
	"github.com/r-alonso-igme/manvapp/internal/types"
)

func Handler(h *hub.Hub, joinDelay time.Duration, allowedOrigins []string, log *zap.Logger) http.HandlerFunc {
	origins := originPatterns(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("session")
		if code == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Same allow-list as the CORS layer; the frontend lives on
			// another origin.
			OriginPatterns: origins,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Update, 8)
		clientID := randID(6)

		sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}
		defer func() { sess.Inbox() <- session.Leave{ClientID: clientID} }()

		// Share links land here with ?match=&mode=spectator; joining waits
		// out the store connection startup, like the original page did.
		if matchID := r.URL.Query().Get("match"); matchID != "" && r.URL.Query().Get("mode") == "spectator" {
			timer := time.AfterFunc(joinDelay, func() {
				sess.Inbox() <- session.FromClient{Cmd: session.Command{
					Type:    session.CmdJoinSpectator,
					MatchID: matchID,
				}}
			})
			defer timer.Stop()
		}

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for u := range out {
				payload, err := json.Marshal(toServerMessage(u))
				if err != nil {
					log.Error("marshal update", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (session.Leave in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"Error","error":"bad json"}`))
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"Error","error":"unknown type"}`))
				continue
			}

			sess.Inbox() <- session.FromClient{Cmd: cmd}
		}
	}
}

func toServerMessage(u session.Update) types.ServerMessage {
	return types.ServerMessage{
		Type:    u.Type,
		Version: u.Version,
		State:   u.State,
		Level:   u.Level,
		Message: u.Message,
		Export:  u.Export,
		Sync:    u.Sync,
	}
}

func toCommand(m types.ClientMessage) (session.Command, bool) {
	switch m.Type {
	case "AddPoint", "RemovePoint", "AddTimeout", "RemoveTimeout":
		side, err := engine.ParseSide(m.Team)
		if err != nil {
			return session.Command{}, false
		}
		return session.Command{Type: session.CommandType(m.Type), Side: side}, true

	case "SetTimeoutFlag":
		side, err := engine.ParseSide(m.Team)
		if err != nil {
			return session.Command{}, false
		}
		return session.Command{Type: session.CmdSetTimeoutFlag, Side: side, Active: m.Active}, true

	case "SetTeamName":
		side, err := engine.ParseSide(m.Team)
		if err != nil {
			return session.Command{}, false
		}
		return session.Command{Type: session.CmdSetTeamName, Side: side, Name: m.Name}, true

	case "SetFormat":
		return session.Command{Type: session.CmdSetFormat, Format: m.Format}, true

	case "NewMatch":
		return session.Command{Type: session.CmdNewMatch, NameA: m.TeamAName, NameB: m.TeamBName, Format: m.Format}, true

	case "ResetSet", "Undo", "ExportResult", "ExportHistory", "StopStreaming", "ShareMatch":
		return session.Command{Type: session.CommandType(m.Type)}, true

	case "StartReferee":
		return session.Command{Type: session.CmdStartReferee, Password: m.Password}, true

	case "JoinSpectator":
		return session.Command{Type: session.CmdJoinSpectator, MatchID: m.MatchID}, true

	default:
		return session.Command{}, false
	}
}

// originPatterns converts the CORS-style allow-list to websocket origin
// patterns, which are matched against the Origin host only.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
