// Package session runs one scoreboard tab as an actor: a single goroutine
// owns the engine and the sync coordinator, and everything else talks to it
// through the inbox.
package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/stream"
)

type CommandType string

const (
	CmdAddPoint       CommandType = "AddPoint"
	CmdRemovePoint    CommandType = "RemovePoint"
	CmdAddTimeout     CommandType = "AddTimeout"
	CmdRemoveTimeout  CommandType = "RemoveTimeout"
	CmdSetTimeoutFlag CommandType = "SetTimeoutFlag"
	CmdSetTeamName    CommandType = "SetTeamName"
	CmdSetFormat      CommandType = "SetFormat"
	CmdResetSet       CommandType = "ResetSet"
	CmdNewMatch       CommandType = "NewMatch"
	CmdUndo           CommandType = "Undo"
	CmdExportResult   CommandType = "ExportResult"
	CmdExportHistory  CommandType = "ExportHistory"
	CmdStartReferee   CommandType = "StartReferee"
	CmdJoinSpectator  CommandType = "JoinSpectator"
	CmdStopStreaming  CommandType = "StopStreaming"
	CmdShareMatch     CommandType = "ShareMatch"
)

type Command struct {
	Type     CommandType
	Side     engine.Side
	Active   bool
	Name     string
	NameA    string
	NameB    string
	Format   int
	MatchID  string
	Password string
}

type Msg interface{ isSessionMsg() }

type FromClient struct{ Cmd Command }

func (FromClient) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Update
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type GetState struct{ Reply chan View }

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type SyncStatus struct {
	Role       stream.Role `json:"role"`
	MatchID    string      `json:"matchId,omitempty"`
	Connected  int         `json:"connected"`
	ElapsedSec int64       `json:"elapsedSec"`
	ShareURL   string      `json:"shareUrl,omitempty"`
	QRImageURL string      `json:"qrImageUrl,omitempty"`
}

// Update is what the session pushes to attached clients.
type Update struct {
	Type    string // "StateSnapshot" | "Notice" | "SyncStatus" | "Export"
	Version int
	State   *engine.State
	Level   string
	Message string
	Export  string
	Sync    *SyncStatus
}

// View reflects internal state without data races, test-only.
type View struct {
	Version    int
	NumClients int
	Role       stream.Role
	MatchID    string
	Connected  int
	State      engine.State
}

type Session struct {
	inbox     chan Msg
	eng       *engine.Engine
	coord     *stream.Coordinator
	log       *zap.Logger
	passwords []string
	localOnly bool
	onEmpty   func()

	version   int
	connected int
	clients   map[string]chan Update

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts the session actor. localOnly marks an instance whose configured
// external store was unreachable at startup, so streaming only reaches tabs
// on this same process. onEmpty (optional) is invoked once when the last
// client detaches and the session tears itself down.
func New(parent context.Context, eng *engine.Engine, coord *stream.Coordinator, passwords []string, localOnly bool, onEmpty func(), log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:     make(chan Msg, 64),
		eng:       eng,
		coord:     coord,
		log:       log,
		passwords: passwords,
		localOnly: localOnly,
		onEmpty:   onEmpty,
		clients:   make(map[string]chan Update),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Render callback: one versioned snapshot per mutation, synchronously.
	eng.AddListener(func(st engine.State) {
		s.version++
		s.broadcast(Update{Type: "StateSnapshot", Version: s.version, State: &st})
	})
	eng.SetNoticeFunc(func(level, message string) {
		s.broadcast(Update{Type: "Notice", Level: level, Message: message})
	})

	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case ev := <-s.coord.Events():
			s.handleStreamEvent(ev)

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				state := s.eng.State()
				msg.Outbox <- Update{Type: "StateSnapshot", Version: s.version, State: &state}
				sync := s.syncStatus()
				msg.Outbox <- Update{Type: "SyncStatus", Sync: &sync}

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}
				// The tab is gone. A session without clients has nobody to
				// render for, so it destroys itself and its remote footprint.
				if len(s.clients) == 0 {
					s.teardownEmpty()
					return
				}

			case FromClient:
				s.handleCommand(msg.Cmd)

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					Role:       s.coord.Role(),
					MatchID:    s.coord.MatchID(),
					Connected:  s.connected,
					State:      s.eng.State(),
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) handleStreamEvent(ev stream.Event) {
	switch ev := ev.(type) {
	case stream.RemoteState:
		// Spectator-only merge path; overwriting local state triggers the
		// render callback but never a re-publish, so no update cycle.
		if s.coord.Role() == stream.RoleSpectator {
			s.eng.Replace(ev.State)
		}

	case stream.StreamEnded:
		if s.coord.Role() == stream.RoleSpectator {
			s.notice("info", "Transmisión finalizada")
			s.coord.Close(s.ctx)
			s.broadcastSync()
		}

	case stream.PresenceChanged:
		s.connected = ev.Count
		s.broadcastSync()

	case stream.Tick:
		s.broadcastSync()
	}
}

var mutatingCommands = []CommandType{
	CmdAddPoint, CmdRemovePoint, CmdAddTimeout, CmdRemoveTimeout,
	CmdSetTimeoutFlag, CmdSetTeamName, CmdSetFormat, CmdResetSet,
	CmdNewMatch, CmdUndo, CmdStartReferee,
}

func (s *Session) handleCommand(cmd Command) {
	// Spectators are read-only. Interaction-layer gating, not a trust
	// boundary.
	if s.coord.Role() == stream.RoleSpectator && slices.Contains(mutatingCommands, cmd.Type) {
		s.notice("error", "Modo espectador: solo lectura")
		return
	}

	switch cmd.Type {
	case CmdAddPoint:
		s.eng.AddPoint(cmd.Side)
	case CmdRemovePoint:
		s.eng.RemovePoint(cmd.Side)
	case CmdAddTimeout:
		if err := s.eng.AddTimeout(cmd.Side); errors.Is(err, engine.ErrTimeoutLimit) {
			s.notice("error", "¡Máximo 2 tiempos por set alcanzado!")
		}
	case CmdRemoveTimeout:
		s.eng.RemoveTimeout(cmd.Side)
	case CmdSetTimeoutFlag:
		s.eng.SetTimeoutFlag(cmd.Side, cmd.Active)
	case CmdSetTeamName:
		s.eng.SetTeamName(cmd.Side, cmd.Name)
	case CmdSetFormat:
		s.eng.SetFormat(cmd.Format)
	case CmdResetSet:
		s.eng.ResetSet()
	case CmdNewMatch:
		s.eng.NewMatch(cmd.NameA, cmd.NameB, cmd.Format)
	case CmdUndo:
		if err := s.eng.Undo(); errors.Is(err, engine.ErrNothingToUndo) {
			s.notice("error", "¡No hay nada que deshacer!")
		}

	case CmdExportResult:
		s.broadcast(Update{Type: "Export", Export: s.eng.ExportResult()})
	case CmdExportHistory:
		s.broadcast(Update{Type: "Export", Export: s.eng.ExportHistory()})
	case CmdShareMatch:
		s.broadcastSync()

	case CmdStartReferee:
		if !slices.Contains(s.passwords, cmd.Password) {
			s.notice("error", "❌ Contraseña incorrecta. Solo administradores pueden iniciar como árbitro.")
			return
		}
		if err := s.coord.BecomeReferee(s.ctx); err != nil {
			s.log.Error("start referee", zap.Error(err))
			s.notice("error", "No se pudo iniciar el streaming")
			return
		}
		s.notice("success", "¡Streaming iniciado como Árbitro! 🔴")
		if s.localOnly {
			s.notice("info", "⚠️ Sincronización externa no disponible: el streaming solo llega a espectadores de esta instancia. Revisa NATS_URL.")
		}
		s.broadcastSync()

	case CmdJoinSpectator:
		err := s.coord.JoinAsSpectator(s.ctx, cmd.MatchID)
		switch {
		case errors.Is(err, stream.ErrMatchNotFound):
			s.notice("error", "Partido no encontrado")
		case err != nil:
			s.log.Error("join spectator", zap.String("match", cmd.MatchID), zap.Error(err))
			s.notice("error", "No se pudo conectar al partido")
		default:
			s.notice("success", "¡Conectado como Espectador! 👁️")
			s.broadcastSync()
		}

	case CmdStopStreaming:
		if err := s.coord.StopStreaming(s.ctx); err != nil {
			return
		}
		s.connected = 0
		s.notice("info", "Streaming detenido")
		s.broadcastSync()

	default:
		s.log.Warn("unsupported command", zap.String("type", string(cmd.Type)))
	}
}

func (s *Session) syncStatus() SyncStatus {
	return SyncStatus{
		Role:       s.coord.Role(),
		MatchID:    s.coord.MatchID(),
		Connected:  s.connected,
		ElapsedSec: int64(s.coord.Elapsed() / time.Second),
		ShareURL:   s.coord.ShareURL(),
		QRImageURL: s.coord.QRImageURL(),
	}
}

func (s *Session) broadcastSync() {
	sync := s.syncStatus()
	s.broadcast(Update{Type: "SyncStatus", Sync: &sync})
}

func (s *Session) notice(level, message string) {
	s.broadcast(Update{Type: "Notice", Level: level, Message: message})
}

func (s *Session) broadcast(u Update) {
	for id, ch := range s.clients {
		select {
		case ch <- u:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) shutdown() {
	s.coord.Close(context.Background())
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

// teardownEmpty is the disconnect path: the last tab closed. A referee ends
// the stream outright (spectators see the record disappear); a spectator
// only withdraws its presence record.
func (s *Session) teardownEmpty() {
	ctx := context.Background()
	if s.coord.Role() == stream.RoleReferee {
		if err := s.coord.StopStreaming(ctx); err != nil {
			s.log.Error("stop streaming on disconnect", zap.Error(err))
		}
	} else {
		s.coord.Close(ctx)
	}
	if s.onEmpty != nil {
		s.onEmpty()
	}
	s.cancel()
}
