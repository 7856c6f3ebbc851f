// Package store abstracts the realtime backend the scoreboard replicates
// through: a key-value tree with last-write-wins overwrites, one-shot reads
// and change fan-out. Any backend with these primitives will do.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("no data at path")

// Snapshot is delivered to a subscription on every change under its path:
// the value at the path itself (nil once deleted) plus the direct children.
type Snapshot struct {
	Path     string
	Value    []byte
	Children map[string][]byte
}

type SubscribeFunc func(Snapshot)

// ChildRef points at an auto-keyed child created by AppendChild.
type ChildRef struct {
	Path string
}

type Store interface {
	// Write fully overwrites the value at path, last write wins.
	Write(ctx context.Context, path string, value []byte) error
	// ReadOnce returns the current value at path or ErrNotFound.
	ReadOnce(ctx context.Context, path string) ([]byte, error)
	// Delete removes path and its whole subtree.
	Delete(ctx context.Context, path string) error
	// Subscribe fires fn with the current snapshot immediately and then on
	// every change within the subtree, until the cancel func is called.
	Subscribe(path string, fn SubscribeFunc) (cancel func())
	// AppendChild creates a uniquely-keyed child under path.
	AppendChild(ctx context.Context, path string, value []byte) (ChildRef, error)
	// Now is the backend-assigned write-time marker, unix milliseconds.
	Now() int64
	Close() error
}

func MatchPath(matchID string) string { return "matches/" + matchID }

func ConnectionsPath(matchID string) string { return MatchPath(matchID) + "/connections" }
