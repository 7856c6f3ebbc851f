package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS backs the store with a JetStream key-value bucket, giving real
// multi-process fan-out with last-write-wins semantics. Slash paths map to
// dotted KV keys.
type NATS struct {
	nc    *nats.Conn
	kv    nats.KeyValue
	clock clockwork.Clock
	log   *zap.Logger
}

func NewNATS(url, bucket string, clock clockwork.Clock, log *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("manvapp-scoreboard"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, History: 1})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	return &NATS{nc: nc, kv: kv, clock: clock, log: log}, nil
}

func kvKey(path string) string { return strings.ReplaceAll(path, "/", ".") }

func kvPath(key string) string { return strings.ReplaceAll(key, ".", "/") }

func (n *NATS) Write(_ context.Context, path string, value []byte) error {
	_, err := n.kv.Put(kvKey(path), value)
	return err
}

func (n *NATS) ReadOnce(_ context.Context, path string) ([]byte, error) {
	entry, err := n.kv.Get(kvKey(path))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (n *NATS) Delete(_ context.Context, path string) error {
	key := kvKey(path)
	keys, err := n.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key || strings.HasPrefix(k, key+".") {
			if err := n.kv.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *NATS) AppendChild(ctx context.Context, path string, value []byte) (ChildRef, error) {
	child := path + "/" + uuid.NewString()
	if err := n.Write(ctx, child, value); err != nil {
		return ChildRef{}, err
	}
	return ChildRef{Path: child}, nil
}

// Subscribe watches the key and its subtree, mirrors them into a local cache
// and fires fn with a rebuilt snapshot: once after the initial replay, then
// on every update.
func (n *NATS) Subscribe(path string, fn SubscribeFunc) (cancel func()) {
	key := kvKey(path)
	self, err := n.kv.Watch(key)
	if err != nil {
		n.log.Error("kv watch failed", zap.String("path", path), zap.Error(err))
		return func() {}
	}
	tree, err := n.kv.Watch(key + ".>")
	if err != nil {
		n.log.Error("kv watch failed", zap.String("path", path), zap.Error(err))
		_ = self.Stop()
		return func() {}
	}

	var once sync.Once
	done := make(chan struct{})

	go func() {
		cache := make(map[string][]byte)
		// Both watchers deliver a nil marker once the initial values are in.
		pending := 2
		for {
			var entry nats.KeyValueEntry
			var ok bool
			select {
			case <-done:
				return
			case entry, ok = <-self.Updates():
			case entry, ok = <-tree.Updates():
			}
			if !ok {
				return
			}
			if entry == nil {
				if pending--; pending == 0 {
					fn(buildSnapshot(path, cache))
				}
				continue
			}
			switch entry.Operation() {
			case nats.KeyValueDelete, nats.KeyValuePurge:
				delete(cache, kvPath(entry.Key()))
			default:
				cache[kvPath(entry.Key())] = entry.Value()
			}
			if pending == 0 {
				fn(buildSnapshot(path, cache))
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(done)
			_ = self.Stop()
			_ = tree.Stop()
		})
	}
}

func buildSnapshot(path string, cache map[string][]byte) Snapshot {
	snap := Snapshot{Path: path, Value: cache[path]}
	prefix := path + "/"
	for p, v := range cache {
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

// Now approximates the server timestamp with the local clock; close enough
// for the lastUpdate marker this store carries.
func (n *NATS) Now() int64 { return n.clock.Now().UnixMilli() }

func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}
