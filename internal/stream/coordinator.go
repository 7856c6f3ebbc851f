// Package stream replicates a referee's match state to any number of
// read-only spectators through a shared store, and mirrors remote state back
// for spectator sessions.
package stream

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/r-alonso-igme/manvapp/internal/engine"
	"github.com/r-alonso-igme/manvapp/internal/store"
)

var ErrMatchNotFound = errors.New("match not found")
var ErrAlreadyStreaming = errors.New("already streaming")
var ErrNotStreaming = errors.New("not streaming")

type Role string

const (
	RoleNone      Role = "none"
	RoleReferee   Role = "referee"
	RoleSpectator Role = "spectator"
)

// Event is what the coordinator feeds back to its owning session. Events are
// pushed from store goroutines; the session serializes them.
type Event interface{ isStreamEvent() }

// RemoteState carries a full snapshot received from the store (spectators
// only; the sole writer never consumes its own echo).
type RemoteState struct{ State engine.State }

// StreamEnded signals that the remote match record disappeared, which
// spectators must treat as "match ended".
type StreamEnded struct{}

type PresenceChanged struct{ Count int }

type Tick struct{ Elapsed time.Duration }

func (RemoteState) isStreamEvent()     {}
func (StreamEnded) isStreamEvent()     {}
func (PresenceChanged) isStreamEvent() {}
func (Tick) isStreamEvent()            {}

// MatchDocument is the wire form stored at matches/{id}.
type MatchDocument struct {
	engine.State
	MatchID            string `json:"matchId"`
	Referee            bool   `json:"referee,omitempty"`
	CreatedAt          int64  `json:"createdAt,omitempty"`
	StreamingStartTime int64  `json:"streamingStartTime"`
	LastUpdate         int64  `json:"lastUpdate"`
}

type presenceRecord struct {
	Role     Role  `json:"role"`
	JoinedAt int64 `json:"joinedAt"`
}

// Coordinator is the role state machine of one session. Role transitions
// happen only through explicit calls, always on the session goroutine.
type Coordinator struct {
	st      store.Store
	eng     *engine.Engine
	clock   clockwork.Clock
	log     *zap.Logger
	baseURL string

	role       Role
	matchID    string
	createdAt  int64
	startMilli int64

	listenerID int
	presence   store.ChildRef
	cancels    []func()
	tickDone   chan struct{}
	events     chan Event
}

func New(st store.Store, eng *engine.Engine, clock clockwork.Clock, baseURL string, log *zap.Logger) *Coordinator {
	return &Coordinator{
		st:      st,
		eng:     eng,
		clock:   clock,
		log:     log,
		baseURL: baseURL,
		role:    RoleNone,
		events:  make(chan Event, 16),
	}
}

func (c *Coordinator) Events() <-chan Event { return c.events }
func (c *Coordinator) Role() Role           { return c.role }
func (c *Coordinator) MatchID() string      { return c.matchID }

// Elapsed is derived, never stored: every viewer computes now minus the
// referee's streamingStartTime and therefore agrees on the clock.
func (c *Coordinator) Elapsed() time.Duration {
	if c.startMilli == 0 {
		return 0
	}
	return c.clock.Now().Sub(time.UnixMilli(c.startMilli))
}

// BecomeReferee claims a fresh match id, publishes the initial snapshot,
// registers presence and hooks every subsequent engine mutation to a
// full-state re-publish. Last write wins; there is exactly one writer.
func (c *Coordinator) BecomeReferee(ctx context.Context) error {
	if c.role != RoleNone {
		return ErrAlreadyStreaming
	}
	id, err := newMatchID()
	if err != nil {
		return fmt.Errorf("generate match id: %w", err)
	}

	c.role = RoleReferee
	c.matchID = id
	c.createdAt = c.st.Now()
	c.startMilli = c.createdAt

	if err := c.publish(ctx, c.eng.State()); err != nil {
		c.reset()
		return fmt.Errorf("publish initial snapshot: %w", err)
	}
	if err := c.registerPresence(ctx); err != nil {
		c.reset()
		return err
	}
	c.watchPresence()

	c.listenerID = c.eng.AddListener(func(s engine.State) {
		// Fire and forget: local state is authoritative, spectators catch
		// up on the next successful publish.
		if err := c.publish(context.Background(), s); err != nil {
			c.log.Error("broadcast failed", zap.String("match", c.matchID), zap.Error(err))
		}
	})
	c.startTicker()
	return nil
}

// JoinAsSpectator mirrors an existing match: one-shot existence check,
// defaulting merge into the local engine, presence record, then continuous
// updates. Inbound updates are never re-published.
func (c *Coordinator) JoinAsSpectator(ctx context.Context, matchID string) error {
	if c.role != RoleNone {
		return ErrAlreadyStreaming
	}
	raw, err := c.st.ReadOnce(ctx, store.MatchPath(matchID))
	if errors.Is(err, store.ErrNotFound) {
		return ErrMatchNotFound
	}
	if err != nil {
		return fmt.Errorf("read match %s: %w", matchID, err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return fmt.Errorf("decode match %s: %w", matchID, err)
	}

	c.role = RoleSpectator
	c.matchID = matchID
	c.startMilli = doc.StreamingStartTime
	c.eng.Replace(doc.State)

	if err := c.registerPresence(ctx); err != nil {
		c.reset()
		return err
	}

	cancel := c.st.Subscribe(store.MatchPath(matchID), func(snap store.Snapshot) {
		if snap.Value == nil {
			c.push(StreamEnded{})
			return
		}
		doc, err := decodeDocument(snap.Value)
		if err != nil {
			// Malformed snapshots are tolerated, never fatal.
			c.log.Warn("malformed remote snapshot", zap.String("match", matchID), zap.Error(err))
			return
		}
		c.push(RemoteState{State: doc.State})
	})
	c.cancels = append(c.cancels, cancel)

	c.watchPresence()
	c.startTicker()
	return nil
}

// StopStreaming tears the session's streaming side down. A referee deletes
// the remote record entirely; spectators just leave.
func (c *Coordinator) StopStreaming(ctx context.Context) error {
	if c.role == RoleNone {
		return ErrNotStreaming
	}
	if c.listenerID != 0 {
		c.eng.RemoveListener(c.listenerID)
		c.listenerID = 0
	}
	if c.role == RoleReferee {
		if err := c.st.Delete(ctx, store.MatchPath(c.matchID)); err != nil {
			c.log.Error("delete match record", zap.String("match", c.matchID), zap.Error(err))
		}
	} else if c.presence.Path != "" {
		// Best-effort, same as the disconnect hook would do.
		if err := c.st.Delete(ctx, c.presence.Path); err != nil {
			c.log.Warn("remove presence record", zap.Error(err))
		}
	}
	c.reset()
	return nil
}

// Close releases subscriptions and presence on tab disconnect without
// deleting the match record.
func (c *Coordinator) Close(ctx context.Context) {
	if c.role == RoleNone {
		return
	}
	if c.listenerID != 0 {
		c.eng.RemoveListener(c.listenerID)
		c.listenerID = 0
	}
	if c.presence.Path != "" {
		if err := c.st.Delete(ctx, c.presence.Path); err != nil {
			c.log.Warn("remove presence record", zap.Error(err))
		}
	}
	c.reset()
}

func (c *Coordinator) registerPresence(ctx context.Context) error {
	rec, err := json.Marshal(presenceRecord{Role: c.role, JoinedAt: c.st.Now()})
	if err != nil {
		return err
	}
	ref, err := c.st.AppendChild(ctx, store.ConnectionsPath(c.matchID), rec)
	if err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	c.presence = ref
	return nil
}

func (c *Coordinator) watchPresence() {
	cancel := c.st.Subscribe(store.ConnectionsPath(c.matchID), func(snap store.Snapshot) {
		c.push(PresenceChanged{Count: len(snap.Children)})
	})
	c.cancels = append(c.cancels, cancel)
}

func (c *Coordinator) startTicker() {
	start := c.startMilli
	done := make(chan struct{})
	c.tickDone = done
	t := c.clock.NewTicker(time.Second)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.Chan():
				var elapsed time.Duration
				if start != 0 {
					elapsed = now.Sub(time.UnixMilli(start))
				}
				c.push(Tick{Elapsed: elapsed})
			}
		}
	}()
}

func (c *Coordinator) publish(ctx context.Context, s engine.State) error {
	doc := MatchDocument{
		State:              s,
		MatchID:            c.matchID,
		Referee:            true,
		CreatedAt:          c.createdAt,
		StreamingStartTime: c.startMilli,
		LastUpdate:         c.st.Now(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.st.Write(ctx, store.MatchPath(c.matchID), raw)
}

func (c *Coordinator) push(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("stream event dropped, session lagging")
	}
}

func (c *Coordinator) reset() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	if c.tickDone != nil {
		close(c.tickDone)
		c.tickDone = nil
	}
	c.role = RoleNone
	c.matchID = ""
	c.createdAt = 0
	c.startMilli = 0
	c.presence = store.ChildRef{}
}

func decodeDocument(raw []byte) (MatchDocument, error) {
	var doc MatchDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MatchDocument{}, err
	}
	// Partial or legacy snapshots may miss the history entirely.
	if doc.SetHistory == nil {
		doc.SetHistory = []engine.SetResult{}
	}
	return doc, nil
}

const matchIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const matchIDLength = 8

// newMatchID returns an 8-character base-36 token; collisions across
// concurrently live matches are negligible at this length.
func newMatchID() (string, error) {
	id := make([]byte, matchIDLength)
	for i := range id {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(matchIDCharset))))
		if err != nil {
			return "", err
		}
		id[i] = matchIDCharset[num.Int64()]
	}
	return string(id), nil
}
