package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

type subscriber struct {
	path string
	ch   chan Snapshot
	once sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.ch) }) }

// Memory is the in-process backend: a flat path->value map with a broker on
// top. It is the default store and the offline fallback when the external
// backend cannot be reached.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string][]byte
	subs  map[*subscriber]bool
	clock clockwork.Clock
	log   *zap.Logger
}

func NewMemory(clock clockwork.Clock, log *zap.Logger) *Memory {
	return &Memory{
		nodes: make(map[string][]byte),
		subs:  make(map[*subscriber]bool),
		clock: clock,
		log:   log,
	}
}

func (m *Memory) Write(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	m.nodes[path] = value
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ReadOnce(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.nodes[path]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.nodes, path)
	prefix := path + "/"
	for p := range m.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
		}
	}
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendChild(_ context.Context, path string, value []byte) (ChildRef, error) {
	child := path + "/" + uuid.NewString()
	m.mu.Lock()
	m.nodes[child] = value
	m.notifyLocked(child)
	m.mu.Unlock()
	return ChildRef{Path: child}, nil
}

func (m *Memory) Subscribe(path string, fn SubscribeFunc) (cancel func()) {
	sub := &subscriber{path: path, ch: make(chan Snapshot, subscriberBuffer)}

	m.mu.Lock()
	m.subs[sub] = true
	sub.ch <- m.snapshotLocked(path)
	m.mu.Unlock()

	go func() {
		for snap := range sub.ch {
			fn(snap)
		}
	}()

	return func() {
		m.mu.Lock()
		if m.subs[sub] {
			delete(m.subs, sub)
			sub.stop()
		}
		m.mu.Unlock()
	}
}

func (m *Memory) Now() int64 { return m.clock.Now().UnixMilli() }

func (m *Memory) Close() error {
	m.mu.Lock()
	for sub := range m.subs {
		delete(m.subs, sub)
		sub.stop()
	}
	m.mu.Unlock()
	return nil
}

// notifyLocked fans a fresh snapshot out to every subscription whose subtree
// intersects the changed path. Sends never block: a subscriber that cannot
// keep up loses intermediate snapshots, not the final one it will re-derive.
func (m *Memory) notifyLocked(changed string) {
	for sub := range m.subs {
		if !intersects(sub.path, changed) {
			continue
		}
		select {
		case sub.ch <- m.snapshotLocked(sub.path):
		default:
			m.log.Warn("store subscriber lagging, snapshot dropped",
				zap.String("path", sub.path))
		}
	}
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	snap := Snapshot{Path: path}
	if v, ok := m.nodes[path]; ok {
		snap.Value = v
	}
	prefix := path + "/"
	for p, v := range m.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		if snap.Children == nil {
			snap.Children = make(map[string][]byte)
		}
		snap.Children[rest] = v
	}
	return snap
}

func intersects(subPath, changed string) bool {
	return subPath == changed ||
		strings.HasPrefix(changed, subPath+"/") ||
		strings.HasPrefix(subPath, changed+"/")
}
