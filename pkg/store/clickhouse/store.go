package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/nodetracker/pkg/balance"
	"go.uber.org/zap"
)

// Store keeps balance entries as raw text rows in a MergeTree table, ordered
// per identifier by insertion time. Values are stored exactly as reported so
// the read path normalizes them the same way as the file backend.
type Store struct {
	Logger *zap.Logger
	Db     driver.Conn
	Name   string
	Table  string
}

// New connects, creates the database and table if missing, and returns the store.
func New(ctx context.Context, logger *zap.Logger, opts Options) (*Store, error) {
	conn, err := connect(ctx, logger, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		Logger: logger,
		Db:     conn,
		Name:   SanitizeName(opts.Database),
		Table:  SanitizeName(opts.Table),
	}
	if err := s.init(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.Db.Exec(ctx, fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS "%s"`, s.Name)); err != nil {
		return fmt.Errorf("create database %s: %w", s.Name, err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			peer_id String,
			date String,
			balance String,
			hostname String,
			inserted_at DateTime64(6) DEFAULT now64(6)
		) ENGINE = MergeTree
		ORDER BY (peer_id, inserted_at)
	`, s.Name, s.Table)
	if err := s.Db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s.%s: %w", s.Name, s.Table, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, e balance.Entry) error {
	stmt := fmt.Sprintf(`INSERT INTO "%s"."%s" (peer_id, date, balance, hostname) VALUES (?, ?, ?, ?)`, s.Name, s.Table)
	if err := s.Db.Exec(ctx, stmt, e.PeerID, e.Date, e.Balance, e.Hostname); err != nil {
		return fmt.Errorf("insert balance for %s: %w", e.PeerID, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context) ([]balance.Log, error) {
	query := fmt.Sprintf(`SELECT peer_id, date, balance, hostname FROM "%s"."%s" ORDER BY peer_id, inserted_at`, s.Name, s.Table)
	rows, err := s.Db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []balance.Entry
	for rows.Next() {
		var e balance.Entry
		if err := rows.Scan(&e.PeerID, &e.Date, &e.Balance, &e.Hostname); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return groupByPeer(entries), nil
}

// groupByPeer folds rows ordered by peer_id into one Log per identifier,
// keeping each identifier's insertion order.
func groupByPeer(entries []balance.Entry) []balance.Log {
	var logs []balance.Log
	for _, e := range entries {
		if n := len(logs); n == 0 || logs[n-1].PeerID != e.PeerID {
			logs = append(logs, balance.Log{PeerID: e.PeerID})
		}
		last := &logs[len(logs)-1]
		last.Entries = append(last.Entries, e)
	}
	return logs
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

func (s *Store) Close() error {
	return s.Db.Close()
}
