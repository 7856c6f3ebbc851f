package engine

import "errors"

var ErrNothingToUndo = errors.New("nothing to undo")
var ErrTimeoutLimit = errors.New("timeout limit reached")
var ErrUnknownSide = errors.New("unknown side")

type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

const (
	DefaultNameA  = "Equipo A"
	DefaultNameB  = "Equipo B"
	DefaultFormat = 5

	MaxTimeoutsPerSet = 2

	setPoints         = 25
	decidingSetPoints = 15
)

type TeamState struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Sets     int    `json:"sets"`
	Timeouts int    `json:"timeouts"`
}

type SetResult struct {
	SetNumber  int  `json:"setNumber"`
	TeamAScore int  `json:"teamAScore"`
	TeamBScore int  `json:"teamBScore"`
	Winner     Side `json:"winner"`
}

type State struct {
	TeamA      TeamState   `json:"teamA"`
	TeamB      TeamState   `json:"teamB"`
	CurrentSet int         `json:"currentSet"`
	Format     int         `json:"matchType"`
	SetHistory []SetResult `json:"setHistory"`
	Ended      bool        `json:"gameEnded"`
	TimeoutA   bool        `json:"timeoutA"`
	TimeoutB   bool        `json:"timeoutB"`
}

// SetsNeeded is the majority of sets for the configured format.
func (s State) SetsNeeded() int { return (s.Format + 1) / 2 }

// The deciding set is the last possible set of the format, not the set where
// the match could be clinched. It is played to 15 instead of 25.
func (s State) decidingSet() bool { return s.CurrentSet == s.Format }

func (s State) clone() State {
	c := s
	c.SetHistory = make([]SetResult, len(s.SetHistory))
	copy(c.SetHistory, s.SetHistory)
	return c
}

func NewState(nameA, nameB string, format int) State {
	if nameA == "" {
		nameA = DefaultNameA
	}
	if nameB == "" {
		nameB = DefaultNameB
	}
	return State{
		TeamA:      TeamState{Name: nameA},
		TeamB:      TeamState{Name: nameB},
		CurrentSet: 1,
		Format:     normalizeFormat(format),
		SetHistory: []SetResult{},
	}
}

func normalizeFormat(format int) int {
	if format < 1 || format%2 == 0 {
		return DefaultFormat
	}
	return format
}

// Listener is invoked synchronously after every successful mutation with a
// copy of the post-mutation state. Exactly one call per mutating operation.
type Listener func(State)

// NoticeFunc receives user-visible notices ("info" | "success" | "error").
type NoticeFunc func(level, message string)

type listenerEntry struct {
	id int
	fn Listener
}

// Engine owns the canonical match state. It is not safe for concurrent use;
// the owning session actor serializes all calls.
type Engine struct {
	state     State
	undo      *State
	listeners []listenerEntry
	nextID    int
	notice    NoticeFunc
}

func New(nameA, nameB string, format int) *Engine {
	return &Engine{state: NewState(nameA, nameB, format)}
}

func (e *Engine) SetNoticeFunc(fn NoticeFunc) { e.notice = fn }

// AddListener registers a post-mutation listener and returns its id.
func (e *Engine) AddListener(fn Listener) int {
	e.nextID++
	e.listeners = append(e.listeners, listenerEntry{id: e.nextID, fn: fn})
	return e.nextID
}

func (e *Engine) RemoveListener(id int) {
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// State returns a deep copy of the current match state.
func (e *Engine) State() State { return e.state.clone() }

func (e *Engine) team(side Side) *TeamState {
	if side == SideB {
		return &e.state.TeamB
	}
	return &e.state.TeamA
}

func (e *Engine) emit() {
	snap := e.state.clone()
	for _, l := range e.listeners {
		l.fn(snap)
	}
}

func (e *Engine) say(level, message string) {
	if e.notice != nil {
		e.notice(level, message)
	}
}

func (e *Engine) snapshot() {
	prev := e.state.clone()
	e.undo = &prev
}

func (e *Engine) AddPoint(side Side) {
	if e.state.Ended {
		return
	}
	e.snapshot()
	e.team(side).Score++
	e.evaluateSetEnd()
	e.emit()
}

// RemovePoint never re-evaluates the set end: decrementing cannot end a set.
func (e *Engine) RemovePoint(side Side) {
	if e.state.Ended || e.team(side).Score == 0 {
		return
	}
	e.snapshot()
	e.team(side).Score--
	e.emit()
}

func (e *Engine) AddTimeout(side Side) error {
	t := e.team(side)
	if t.Timeouts >= MaxTimeoutsPerSet {
		return ErrTimeoutLimit
	}
	e.snapshot()
	t.Timeouts++
	e.say("info", "Tiempo solicitado por "+t.Name)
	e.emit()
	return nil
}

func (e *Engine) RemoveTimeout(side Side) {
	t := e.team(side)
	if t.Timeouts == 0 {
		return
	}
	e.snapshot()
	t.Timeouts--
	e.emit()
}

// SetTimeoutFlag toggles the "timeout currently in effect" indicator,
// distinct from the per-set timeout count.
func (e *Engine) SetTimeoutFlag(side Side, active bool) {
	if side == SideB {
		e.state.TimeoutB = active
	} else {
		e.state.TimeoutA = active
	}
	e.emit()
}

func (e *Engine) SetTeamName(side Side, name string) {
	if name == "" {
		name = DefaultNameA
		if side == SideB {
			name = DefaultNameB
		}
	}
	e.team(side).Name = name
	e.emit()
}

func (e *Engine) SetFormat(format int) {
	e.state.Format = normalizeFormat(format)
	e.checkMatchEnd()
	e.emit()
}

// ResetSet zeroes both scores only; sets and history are untouched.
func (e *Engine) ResetSet() {
	if e.state.Ended {
		return
	}
	e.snapshot()
	e.state.TeamA.Score = 0
	e.state.TeamB.Score = 0
	e.say("info", "¡Set reiniciado!")
	e.emit()
}

// NewMatch is an unconditional hard reset. The undo slot is cleared on
// purpose: there is nothing meaningful to restore across matches.
func (e *Engine) NewMatch(nameA, nameB string, format int) {
	e.state = NewState(nameA, nameB, format)
	e.undo = nil
	e.say("info", "¡Nuevo partido iniciado!")
	e.emit()
}

// Undo restores the single-slot snapshot taken by the previous mutating
// action. One level deep only: a second consecutive Undo fails.
func (e *Engine) Undo() error {
	if e.undo == nil {
		return ErrNothingToUndo
	}
	e.state = *e.undo
	e.undo = nil
	e.say("info", "¡Última acción deshecha!")
	e.emit()
	return nil
}

// Replace overwrites the whole state with a remote snapshot (the spectator
// merge path). No undo snapshot is taken and nothing is re-published here.
func (e *Engine) Replace(s State) {
	if s.SetHistory == nil {
		s.SetHistory = []SetResult{}
	}
	s.Format = normalizeFormat(s.Format)
	e.state = s.clone()
	e.emit()
}

func (e *Engine) evaluateSetEnd() {
	min := setPoints
	if e.state.decidingSet() {
		min = decidingSetPoints
	}
	a, b := e.state.TeamA.Score, e.state.TeamB.Score

	switch {
	case a >= min && a-b >= 2:
		e.endSet(SideA)
	case b >= min && b-a >= 2:
		e.endSet(SideB)
	}
}

func (e *Engine) endSet(winner Side) {
	e.state.SetHistory = append(e.state.SetHistory, SetResult{
		SetNumber:  e.state.CurrentSet,
		TeamAScore: e.state.TeamA.Score,
		TeamBScore: e.state.TeamB.Score,
		Winner:     winner,
	})
	w := e.team(winner)
	w.Sets++
	e.say("success", "¡"+w.Name+" gana el Set!")

	if e.checkMatchEnd() {
		return
	}

	e.state.CurrentSet++
	e.state.TeamA.Score = 0
	e.state.TeamB.Score = 0
	e.state.TeamA.Timeouts = 0
	e.state.TeamB.Timeouts = 0
	e.state.TimeoutA = false
	e.state.TimeoutB = false
}

func (e *Engine) checkMatchEnd() bool {
	if e.state.Ended {
		return true
	}
	needed := e.state.SetsNeeded()
	switch {
	case e.state.TeamA.Sets >= needed:
		e.endMatch(SideA)
	case e.state.TeamB.Sets >= needed:
		e.endMatch(SideB)
	default:
		return false
	}
	return true
}

func (e *Engine) endMatch(winner Side) {
	e.state.Ended = true
	e.say("success", "🏆 ¡"+e.team(winner).Name+" gana el partido!")
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "A", "a":
		return SideA, nil
	case "B", "b":
		return SideB, nil
	default:
		return "", ErrUnknownSide
	}
}
