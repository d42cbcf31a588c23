package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertAction appends one action record.
func (s *Store) InsertAction(ctx context.Context, a Action) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions(id, decision_id, candidate_id, status, decided_at, attempts,
		                    next_attempt_at, executed_at, content_id, last_error, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.DecisionID, a.CandidateID, string(a.Status), a.DecidedAt.UnixMilli(), a.Attempts,
		toMillis(a.NextAttemptAt), toMillis(a.ExecutedAt), nullStr(a.ContentID),
		nullStr(a.LastError), a.UpdatedAt.UnixMilli())
	return err
}

// UpdateAction rewrites the mutable columns of an action row by id. Status
// transitions are monotone: succeeded and failed rows reject further writes
// with ErrConstraintViolation, as does a missing id.
func (s *Store) UpdateAction(ctx context.Context, a Action) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions
		SET status = ?, attempts = ?, next_attempt_at = ?, executed_at = ?,
		    content_id = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'deferred')`,
		string(a.Status), a.Attempts, toMillis(a.NextAttemptAt), toMillis(a.ExecutedAt),
		nullStr(a.ContentID), nullStr(a.LastError), a.UpdatedAt.UnixMilli(), a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("action %s not updatable: %w", a.ID, ErrConstraintViolation)
	}
	return nil
}

// GetAction returns one action row. The bool reports whether it exists.
func (s *Store) GetAction(ctx context.Context, id string) (Action, bool, error) {
	var a Action
	if err := s.ready(); err != nil {
		return a, false, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, decision_id, candidate_id, status, decided_at, attempts,
		       next_attempt_at, executed_at, content_id, last_error, updated_at
		FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(r rowScanner) (Action, error) {
	var a Action
	var status string
	var decidedAt, updatedAt int64
	var nextAt, execAt sql.NullInt64
	var contentID, lastErr sql.NullString
	err := r.Scan(&a.ID, &a.DecisionID, &a.CandidateID, &status, &decidedAt, &a.Attempts,
		&nextAt, &execAt, &contentID, &lastErr, &updatedAt)
	if err != nil {
		return a, err
	}
	a.Status = ActionStatus(status)
	a.DecidedAt = time.UnixMilli(decidedAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	a.NextAttemptAt = fromMillis(nextAt)
	a.ExecutedAt = fromMillis(execAt)
	a.ContentID = strOrEmpty(contentID)
	a.LastError = strOrEmpty(lastErr)
	return a, nil
}

// DueActions returns the non-terminal actions ready for another attempt, in
// decision order (oldest first):
//
//   - deferred rows whose re-check time has arrived
//   - pending rows in a retry wait whose backoff has elapsed
//   - pending rows with no scheduled attempt that have not been touched
//     since orphanBefore (an attempt was interrupted by a crash)
func (s *Store) DueActions(ctx context.Context, now, orphanBefore time.Time) ([]Action, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, candidate_id, status, decided_at, attempts,
		       next_attempt_at, executed_at, content_id, last_error, updated_at
		FROM actions
		WHERE (status = 'deferred' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)
		   OR (status = 'pending' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)
		   OR (status = 'pending' AND next_attempt_at IS NULL AND updated_at <= ?)
		ORDER BY decided_at ASC, id ASC`,
		now.UnixMilli(), now.UnixMilli(), orphanBefore.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SucceededWindow reports how many actions succeeded strictly after since,
// and the oldest success time inside that window (zero when none).
func (s *Store) SucceededWindow(ctx context.Context, since time.Time) (int, time.Time, error) {
	if err := s.ready(); err != nil {
		return 0, time.Time{}, err
	}
	var count int
	var oldest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(executed_at)
		FROM actions
		WHERE status = 'succeeded' AND executed_at > ?`,
		since.UnixMilli()).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, fromMillis(oldest), nil
}

// LastSuccessAt returns the most recent success time. The bool reports
// whether any action has ever succeeded.
func (s *Store) LastSuccessAt(ctx context.Context) (time.Time, bool, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, false, err
	}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(executed_at) FROM actions WHERE status = 'succeeded'`).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(last.Int64), true, nil
}
