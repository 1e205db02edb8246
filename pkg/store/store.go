package store

import (
	"context"

	"github.com/canopy-network/nodetracker/pkg/balance"
)

// Store persists balance entries as one append-only log per identifier.
type Store interface {
	// Append adds e to the log of e.PeerID, creating the log if needed.
	Append(ctx context.Context, e balance.Entry) error
	// Scan returns a snapshot of every log. An empty store is not an error.
	Scan(ctx context.Context) ([]balance.Log, error)
	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendFile       = "file"
	BackendClickHouse = "clickhouse"
)
