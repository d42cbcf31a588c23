package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnsureArm creates the statistics row for a candidate if it does not exist.
// Existing statistics are left untouched.
func (s *Store) EnsureArm(ctx context.Context, candidateID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO arms(candidate_id) VALUES(?)`, candidateID)
	return err
}

// Arms returns all arm rows keyed by candidate id.
func (s *Store) Arms(ctx context.Context) (map[string]Arm, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, selection_count, cumulative_reward, average_reward, last_selected
		FROM arms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Arm)
	for rows.Next() {
		var a Arm
		var last sql.NullInt64
		if err := rows.Scan(&a.CandidateID, &a.SelectionCount, &a.CumulativeReward,
			&a.AverageReward, &last); err != nil {
			return nil, err
		}
		a.LastSelected = fromMillis(last)
		out[a.CandidateID] = a
	}
	return out, rows.Err()
}

// GetArm returns one arm row. The bool reports whether it exists.
func (s *Store) GetArm(ctx context.Context, candidateID string) (Arm, bool, error) {
	var a Arm
	if err := s.ready(); err != nil {
		return a, false, err
	}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT candidate_id, selection_count, cumulative_reward, average_reward, last_selected
		FROM arms WHERE candidate_id = ?`, candidateID).
		Scan(&a.CandidateID, &a.SelectionCount, &a.CumulativeReward, &a.AverageReward, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	a.LastSelected = fromMillis(last)
	return a, true, nil
}

// MarkSelected stamps the arm's last_selected time. Selection counts are NOT
// advanced here: they fold in together with the realized reward so the
// average stays consistent with the cumulative sum.
func (s *Store) MarkSelected(ctx context.Context, candidateID string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE arms SET last_selected = ? WHERE candidate_id = ?`,
		at.UnixMilli(), candidateID)
	return err
}

// FoldReward atomically records a realized reward: the decision's
// actual_reward is set (guarded by IS NULL so a second fold is a no-op) and
// the candidate's arm statistics advance by one observation. Returns false
// when the decision was already reconciled.
func (s *Store) FoldReward(ctx context.Context, decisionID string, reward float64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE decisions SET actual_reward = ?, reward_at = ? WHERE id = ? AND actual_reward IS NULL`,
		reward, time.Now().UnixMilli(), decisionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already folded (crash between fold and caller bookkeeping, or a
		// concurrent sweep). Nothing else to do.
		return false, nil
	}

	var candidateID string
	if err := tx.QueryRowContext(ctx,
		`SELECT candidate_id FROM decisions WHERE id = ?`, decisionID).Scan(&candidateID); err != nil {
		return false, err
	}

	var count int64
	var cum float64
	if err := tx.QueryRowContext(ctx,
		`SELECT selection_count, cumulative_reward FROM arms WHERE candidate_id = ?`,
		candidateID).Scan(&count, &cum); err != nil {
		return false, err
	}
	count++
	cum += reward
	if _, err := tx.ExecContext(ctx, `
		UPDATE arms
		SET selection_count = ?, cumulative_reward = ?, average_reward = ?
		WHERE candidate_id = ?`,
		count, cum, cum/float64(count), candidateID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
