// Package matchcache persists matcher results in a local SQLite file so
// repeated enrichment runs skip recomputation. Entries are keyed by the
// snapshot version and are never valid across a publish.
package matchcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/model"
)

// SQLite implements match.Cache using modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ match.Cache = (*SQLite)(nil)

// Open opens the cache at dsn and applies pragmas and schema. A zero ttl
// keeps entries until their snapshot version is pruned.
func Open(ctx context.Context, dsn string, ttl time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "matchcache: open")
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "matchcache: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "matchcache: migrate")
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS match_cache (
	name       TEXT NOT NULL,
	state      TEXT NOT NULL,
	office     TEXT NOT NULL,
	version    TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (name, state, office, version)
);

CREATE INDEX IF NOT EXISTS idx_match_cache_version ON match_cache(version);
`

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns the cached result for k, or nil when absent or expired.
func (s *SQLite) Get(ctx context.Context, k match.Key) (*model.MatchResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM match_cache
		 WHERE name = ? AND state = ? AND office = ? AND version = ?
		   AND (expires_at = 0 OR expires_at > ?)`,
		k.Name, k.State, k.Office, k.Version, s.now().Unix(),
	)
	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "matchcache: get")
	}
	var res model.MatchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, eris.Wrap(err, "matchcache: unmarshal result")
	}
	return &res, nil
}

// Put stores res under k, replacing any previous entry.
func (s *SQLite) Put(ctx context.Context, k match.Key, res model.MatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "matchcache: marshal result")
	}
	now := s.now()
	var expires int64
	if s.ttl > 0 {
		expires = now.Add(s.ttl).Unix()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO match_cache (name, state, office, version, result, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.Name, k.State, k.Office, k.Version, string(data), now.Unix(), expires,
	)
	return eris.Wrap(err, "matchcache: put")
}

// Prune deletes expired entries and every entry whose version differs
// from keep. It returns the number of rows removed.
func (s *SQLite) Prune(ctx context.Context, keep string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM match_cache WHERE version <> ? OR (expires_at <> 0 AND expires_at <= ?)`,
		keep, s.now().Unix(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "matchcache: prune")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "matchcache: prune rows affected")
}
