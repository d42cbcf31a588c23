package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "trendbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

// Store is the sqlite persistence layer. All mutating methods are safe for
// concurrent use: the pool is capped at one connection and multi-statement
// updates run in transactions.
type Store struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one pooled connection also makes the
	// read-modify-write transactions below serialize naturally.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log, pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

// Stats returns coarse row counts for runtime snapshots.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.ready(); err != nil {
		return st, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM candidates),
			(SELECT COUNT(*) FROM candidate_snapshots),
			(SELECT COUNT(*) FROM arms),
			(SELECT COUNT(*) FROM decisions),
			(SELECT COUNT(*) FROM decisions WHERE actual_reward IS NULL),
			(SELECT COUNT(*) FROM actions WHERE status = 'pending'),
			(SELECT COUNT(*) FROM actions WHERE status = 'deferred'),
			(SELECT COUNT(*) FROM actions WHERE status = 'succeeded'),
			(SELECT COUNT(*) FROM actions WHERE status = 'failed')`)
	err := row.Scan(&st.Candidates, &st.Snapshots, &st.Arms, &st.Decisions,
		&st.Unreconciled, &st.Pending, &st.Deferred, &st.Succeeded, &st.Failed)
	return st, err
}

// toMillis maps a possibly-zero time to a nullable column value.
func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// fromMillis maps a nullable millis column back to a time (zero when NULL).
func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func strOrEmpty(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
