package hub

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/session"
	"github.com/r-alonso-igme/manvapp/internal/store"
	"github.com/r-alonso-igme/manvapp/internal/stream"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock, zap.NewNop())
	factory := func(ctx context.Context, onEmpty func()) *session.Session {
		eng := engine.New("", "", engine.DefaultFormat)
		coord := stream.New(st, eng, clock, "http://localhost:8080", zap.NewNop())
		return session.New(ctx, eng, coord, []string{"admin123"}, false, onEmpty, zap.NewNop())
	}
	h := NewHub(context.Background(), factory)
	t.Cleanup(func() { h.Inbox() <- ShutdownHub{} })
	return h
}

func create(t *testing.T, h *Hub, code string) *session.Session {
	t.Helper()
	reply := make(chan *session.Session, 1)
	h.Inbox() <- CreateSession{Code: code, Reply: reply}
	return recvSession(t, reply)
}

func get(t *testing.T, h *Hub, code string) *session.Session {
	t.Helper()
	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{Code: code, Reply: reply}
	return recvSession(t, reply)
}

func recvSession(t *testing.T, reply chan *session.Session) *session.Session {
	t.Helper()
	select {
	case s := <-reply:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for hub reply")
		return nil // unreachable
	}
}

func TestCreateThenGet_SamePointer(t *testing.T) {
	h := newTestHub(t)

	created := create(t, h, "ABC123")
	if created == nil {
		t.Fatalf("create returned nil")
	}
	if got := get(t, h, "ABC123"); got != created {
		t.Fatalf("get returned a different session")
	}
}

func TestCreate_IsIdempotentPerCode(t *testing.T) {
	h := newTestHub(t)

	first := create(t, h, "ABC123")
	second := create(t, h, "ABC123")
	if first != second {
		t.Fatalf("same code produced two sessions")
	}
	if other := create(t, h, "XYZ789"); other == first {
		t.Fatalf("different codes share a session")
	}
}

func TestGet_UnknownCodeIsNil(t *testing.T) {
	h := newTestHub(t)
	if got := get(t, h, "NOPE42"); got != nil {
		t.Fatalf("unknown code returned %v", got)
	}
}

func TestEnsureSession_CreatesOnDemand(t *testing.T) {
	h := newTestHub(t)

	reply := make(chan *session.Session, 1)
	h.Inbox() <- EnsureSession{Code: "NEW001", Reply: reply}
	ensured := recvSession(t, reply)
	if ensured == nil {
		t.Fatalf("ensure returned nil")
	}
	if got := get(t, h, "NEW001"); got != ensured {
		t.Fatalf("ensure did not register the session")
	}
}

func TestSessionUnregisters_WhenLastClientLeaves(t *testing.T) {
	h := newTestHub(t)
	s := create(t, h, "ABC123")

	out := make(chan session.Update, 64)
	s.Inbox() <- session.Join{ClientID: "tab", Outbox: out}
	s.Inbox() <- session.Leave{ClientID: "tab"}

	// The session removes itself from the registry through the hub inbox.
	deadline := time.After(2 * time.Second)
	for get(t, h, "ABC123") != nil {
		select {
		case <-deadline:
			t.Fatalf("empty session still registered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRemoveSession_ForgetsCode(t *testing.T) {
	h := newTestHub(t)
	created := create(t, h, "ABC123")

	// The inbox is FIFO, so the removal lands before the lookup.
	h.Inbox() <- RemoveSession{Code: "ABC123"}
	if get(t, h, "ABC123") != nil {
		t.Fatalf("session still present after removal")
	}

	// A new tab with the same code gets a fresh session.
	if again := create(t, h, "ABC123"); again == created {
		t.Fatalf("removed session was resurrected")
	}
}
