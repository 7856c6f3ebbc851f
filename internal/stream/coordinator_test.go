package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/store"
)

type fixture struct {
	st    *store.Memory
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// Millisecond-aligned seed: start times are stored at UnixMilli
	// precision, so a sub-millisecond seed would skew Elapsed.
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Millisecond))
	return &fixture{st: store.NewMemory(clock, zap.NewNop()), clock: clock}
}

func (f *fixture) newCoordinator() (*Coordinator, *engine.Engine) {
	eng := engine.New("", "", engine.DefaultFormat)
	return New(f.st, eng, f.clock, "http://localhost:8080", zap.NewNop()), eng
}

// awaitEvent drains the coordinator's event channel until an event of the
// wanted type satisfies ok, or fails the test after two seconds.
func awaitEvent[E Event](t *testing.T, c *Coordinator, ok func(E) bool) E {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if e, isType := ev.(E); isType && ok(e) {
				return e
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T event", zero)
			return zero // unreachable
		}
	}
}

func anyEvent[E Event](E) bool { return true }

func readDocument(t *testing.T, st store.Store, matchID string) MatchDocument {
	t.Helper()
	raw, err := st.ReadOnce(context.Background(), store.MatchPath(matchID))
	require.NoError(t, err)
	doc, err := decodeDocument(raw)
	require.NoError(t, err)
	return doc
}

func TestBecomeReferee_PublishesInitialDocument(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()

	require.NoError(t, c.BecomeReferee(context.Background()))
	require.Equal(t, RoleReferee, c.Role())
	require.Len(t, c.MatchID(), 8)

	doc := readDocument(t, f.st, c.MatchID())
	require.True(t, doc.Referee)
	require.Equal(t, c.MatchID(), doc.MatchID)
	require.Equal(t, f.clock.Now().UnixMilli(), doc.StreamingStartTime)
	require.Equal(t, engine.DefaultNameA, doc.TeamA.Name)
	require.Equal(t, engine.DefaultNameB, doc.TeamB.Name)
	require.NotNil(t, doc.SetHistory)
}

func TestBecomeReferee_RepublishesOnEveryMutation(t *testing.T) {
	f := newFixture(t)
	c, eng := f.newCoordinator()
	require.NoError(t, c.BecomeReferee(context.Background()))

	// The engine listener publishes synchronously.
	eng.AddPoint(engine.SideA)
	eng.AddPoint(engine.SideA)
	eng.AddPoint(engine.SideB)

	doc := readDocument(t, f.st, c.MatchID())
	require.Equal(t, 2, doc.TeamA.Score)
	require.Equal(t, 1, doc.TeamB.Score)
}

func TestBecomeReferee_WhileStreaming(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()
	require.NoError(t, c.BecomeReferee(context.Background()))
	require.ErrorIs(t, c.BecomeReferee(context.Background()), ErrAlreadyStreaming)
}

func TestJoinAsSpectator_UnknownMatch(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()
	err := c.JoinAsSpectator(context.Background(), "NOSUCHID")
	require.ErrorIs(t, err, ErrMatchNotFound)
	require.Equal(t, RoleNone, c.Role())
}

func TestJoinAsSpectator_MergesAndFollows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, refEng := f.newCoordinator()
	require.NoError(t, ref.BecomeReferee(ctx))
	refEng.SetTeamName(engine.SideA, "Las Palmas")
	refEng.AddPoint(engine.SideA)
	refEng.AddPoint(engine.SideA)

	spec, specEng := f.newCoordinator()
	require.NoError(t, spec.JoinAsSpectator(ctx, ref.MatchID()))
	require.Equal(t, RoleSpectator, spec.Role())

	got := specEng.State()
	require.Equal(t, "Las Palmas", got.TeamA.Name)
	require.Equal(t, 2, got.TeamA.Score)

	refEng.AddPoint(engine.SideA)
	ev := awaitEvent(t, spec, func(e RemoteState) bool { return e.State.TeamA.Score == 3 })
	require.Equal(t, "Las Palmas", ev.State.TeamA.Name)
}

func TestPresence_CountsBothRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, _ := f.newCoordinator()
	require.NoError(t, ref.BecomeReferee(ctx))
	awaitEvent(t, ref, func(e PresenceChanged) bool { return e.Count == 1 })

	spec, _ := f.newCoordinator()
	require.NoError(t, spec.JoinAsSpectator(ctx, ref.MatchID()))
	awaitEvent(t, ref, func(e PresenceChanged) bool { return e.Count == 2 })

	require.NoError(t, spec.StopStreaming(ctx))
	awaitEvent(t, ref, func(e PresenceChanged) bool { return e.Count == 1 })
}

func TestStopStreaming_RefereeEndsBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, refEng := f.newCoordinator()
	require.NoError(t, ref.BecomeReferee(ctx))
	spec, _ := f.newCoordinator()
	require.NoError(t, spec.JoinAsSpectator(ctx, ref.MatchID()))

	matchID := ref.MatchID()
	require.NoError(t, ref.StopStreaming(ctx))
	require.Equal(t, RoleNone, ref.Role())

	awaitEvent(t, spec, anyEvent[StreamEnded])

	_, err := f.st.ReadOnce(ctx, store.MatchPath(matchID))
	require.ErrorIs(t, err, store.ErrNotFound)

	// The listener is detached: further mutations must not resurrect the
	// match record.
	refEng.AddPoint(engine.SideA)
	_, err = f.st.ReadOnce(ctx, store.MatchPath(matchID))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStopStreaming_NotStreaming(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()
	require.ErrorIs(t, c.StopStreaming(context.Background()), ErrNotStreaming)
}

func TestElapsed_DerivedFromStartTime(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()
	require.Equal(t, time.Duration(0), c.Elapsed())

	require.NoError(t, c.BecomeReferee(context.Background()))
	f.clock.Advance(90 * time.Second)
	require.Equal(t, 90*time.Second, c.Elapsed())

	// Spectators adopt the referee's start time and agree on the clock.
	spec, _ := f.newCoordinator()
	require.NoError(t, spec.JoinAsSpectator(context.Background(), c.MatchID()))
	require.Equal(t, 90*time.Second, spec.Elapsed())
}

func TestSpectator_ToleratesMalformedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, refEng := f.newCoordinator()
	require.NoError(t, ref.BecomeReferee(ctx))
	spec, _ := f.newCoordinator()
	require.NoError(t, spec.JoinAsSpectator(ctx, ref.MatchID()))

	require.NoError(t, f.st.Write(ctx, store.MatchPath(ref.MatchID()), []byte("{not json")))
	refEng.AddPoint(engine.SideA)

	awaitEvent(t, spec, func(e RemoteState) bool { return e.State.TeamA.Score == 1 })
}

func TestDecodeDocument_DefaultsMissingHistory(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"matchId": "ABCD1234", "streamingStartTime": 5})
	require.NoError(t, err)

	doc, err := decodeDocument(raw)
	require.NoError(t, err)
	require.NotNil(t, doc.SetHistory)
	require.Empty(t, doc.SetHistory)
}

func TestShareURL_AndQRImage(t *testing.T) {
	f := newFixture(t)
	c, _ := f.newCoordinator()
	require.Empty(t, c.ShareURL())
	require.Empty(t, c.QRImageURL())

	require.NoError(t, c.BecomeReferee(context.Background()))
	share := c.ShareURL()
	require.Equal(t, "http://localhost:8080?match="+c.MatchID()+"&mode=spectator", share)
	require.Contains(t, c.QRImageURL(), "size=200x200")
	require.Contains(t, c.QRImageURL(), "api.qrserver.com")
}
