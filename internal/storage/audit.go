package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AppendAudit records one engine event in the operator journal.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit(at, component, event, ref, detail, err, took_ms)
		VALUES(?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Component, e.Event,
		nullStr(e.Ref), nullStr(e.Detail), nullStr(e.Err), e.TookMS)
	return err
}

// PutDedup stores an alert dedup mark. Expired marks are pruned
// opportunistically every few hundred writes.
func (s *Store) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup(key, until) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli())
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpiredDedup(pctx)
		cancel()
	}
	return err
}

// GetDedup returns the stored dedup mark for key, if any.
func (s *Store) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, false, err
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Store) pruneExpiredDedup(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}
