package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertDecision appends one selection record.
func (s *Store) InsertDecision(ctx context.Context, d Decision) error {
	if err := s.ready(); err != nil {
		return err
	}
	var reward any
	if d.ActualReward != nil {
		reward = *d.ActualReward
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions(id, candidate_id, decided_at, mode, score, estimate, epsilon, actual_reward)
		VALUES(?,?,?,?,?,?,?,?)`,
		d.ID, d.CandidateID, d.DecidedAt.UnixMilli(), d.Mode, d.Score, d.Estimate, d.Epsilon, reward)
	return err
}

// RecordSelection makes one selection durable: the decision row is inserted
// and the candidate's arm is registered (if new) and stamped last_selected,
// all in one transaction. Counts are NOT advanced here; they fold together
// with the realized reward.
func (s *Store) RecordSelection(ctx context.Context, d Decision) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decisions(id, candidate_id, decided_at, mode, score, estimate, epsilon, actual_reward)
		VALUES(?,?,?,?,?,?,?,NULL)`,
		d.ID, d.CandidateID, d.DecidedAt.UnixMilli(), d.Mode, d.Score, d.Estimate, d.Epsilon); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO arms(candidate_id) VALUES(?)`, d.CandidateID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE arms SET last_selected = ? WHERE candidate_id = ?`,
		d.DecidedAt.UnixMilli(), d.CandidateID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetDecision returns one decision row. The bool reports whether it exists.
func (s *Store) GetDecision(ctx context.Context, id string) (Decision, bool, error) {
	var d Decision
	if err := s.ready(); err != nil {
		return d, false, err
	}
	var decidedAt int64
	var reward sql.NullFloat64
	var rewardAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, candidate_id, decided_at, mode, score, estimate, epsilon, actual_reward, reward_at
		FROM decisions WHERE id = ?`, id).
		Scan(&d.ID, &d.CandidateID, &decidedAt, &d.Mode, &d.Score, &d.Estimate, &d.Epsilon, &reward, &rewardAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	d.DecidedAt = time.UnixMilli(decidedAt)
	if reward.Valid {
		v := reward.Float64
		d.ActualReward = &v
	}
	d.RewardAt = fromMillis(rewardAt)
	return d, true, nil
}

// ReconcileQueue returns succeeded actions whose decision has no realized
// reward yet and whose success is old enough for metrics to have settled.
// Ordered oldest success first.
func (s *Store) ReconcileQueue(ctx context.Context, executedBefore time.Time, limit int) ([]ReconcileItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.candidate_id, COALESCE(a.content_id, ''), a.executed_at
		FROM decisions d
		JOIN actions a ON a.decision_id = d.id AND a.status = 'succeeded'
		WHERE d.actual_reward IS NULL AND a.executed_at <= ?
		ORDER BY a.executed_at ASC
		LIMIT ?`,
		executedBefore.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconcileItem
	for rows.Next() {
		var it ReconcileItem
		var executedAt int64
		if err := rows.Scan(&it.DecisionID, &it.CandidateID, &it.ContentID, &executedAt); err != nil {
			return nil, err
		}
		it.ExecutedAt = time.UnixMilli(executedAt)
		out = append(out, it)
	}
	return out, rows.Err()
}
