package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"meshnode/pkg/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS peers(endpoint TEXT PRIMARY KEY, added_at INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS audit(id INTEGER PRIMARY KEY AUTOINCREMENT, actor TEXT, action TEXT, target TEXT, detail TEXT, ts INTEGER NOT NULL);
`

const sqliteOpTimeout = 2 * time.Second

// SQLiteStore persists to a local SQLite file through the pure-Go driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SavePeer(p model.PeerRecord) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers(endpoint, added_at) VALUES(?,?) ON CONFLICT(endpoint) DO UPDATE SET added_at=excluded.added_at`,
		p.Endpoint, p.AddedAt.UnixNano())
	return err
}

func (s *SQLiteStore) DeletePeer(endpoint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE endpoint=?`, endpoint)
	return err
}

func (s *SQLiteStore) ListPeers() ([]model.PeerRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT endpoint, added_at FROM peers ORDER BY endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PeerRecord{}
	for rows.Next() {
		var (
			p  model.PeerRecord
			ts int64
		)
		if err := rows.Scan(&p.Endpoint, &ts); err != nil {
			return nil, err
		}
		p.AddedAt = time.Unix(0, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(actor, action, target, detail, ts) VALUES(?,?,?,?,?)`,
		entry.Actor, entry.Action, entry.Target, entry.Detail, entry.Timestamp.UnixNano())
	return err
}

func (s *SQLiteStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	q := `SELECT actor, action, target, detail, ts FROM audit ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e  model.AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.Actor, &e.Action, &e.Target, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers expect oldest first
	slices.Reverse(out)
	if out == nil {
		out = []model.AuditEntry{}
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
