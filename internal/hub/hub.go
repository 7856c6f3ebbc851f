package hub

import (
	"context"

	"github.com/r-alonso-igme/manvapp/internal/session"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Code  string
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct {
	Code string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Factory builds a fresh session (engine + coordinator) for one tab. onEmpty
// must be handed to the session so it can be dropped from the registry when
// its last client disconnects.
type Factory func(ctx context.Context, onEmpty func()) *session.Session

type Hub struct {
	inbox      chan HubMsg
	sessions   map[string]*session.Session
	newSession Factory
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewHub(parent context.Context, newSession Factory) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:      make(chan HubMsg, 64),
		sessions:   make(map[string]*session.Session),
		newSession: newSession,
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// spawn builds a session that unregisters itself once its last client leaves.
func (h *Hub) spawn(code string) *session.Session {
	return h.newSession(h.ctx, func() {
		h.inbox <- RemoveSession{Code: code}
	})
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				s := h.spawn(msg.Code)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // May be nil

			case EnsureSession:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				s := h.spawn(msg.Code)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case RemoveSession:
				if s := h.sessions[msg.Code]; s != nil {
					s.Inbox() <- session.Shutdown{}
				}
				delete(h.sessions, msg.Code)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}
