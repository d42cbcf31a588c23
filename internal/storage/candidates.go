package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertCandidate inserts or refreshes a candidate. Topic and category are
// updated in place so renamed topics keep their identity and history.
func (s *Store) UpsertCandidate(ctx context.Context, c Candidate) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates(id, topic, category, first_seen, last_seen)
		VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			topic = excluded.topic,
			category = excluded.category,
			last_seen = excluded.last_seen`,
		c.ID, c.Topic, c.Category, c.FirstSeen.UnixMilli(), c.LastSeen.UnixMilli())
	return err
}

// AppendSnapshot records one metrics observation.
func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidate_snapshots(candidate_id, captured_at, volume, growth)
		VALUES(?,?,?,?)`,
		snap.CandidateID, snap.CapturedAt.UnixMilli(), snap.Volume, snap.Growth)
	return err
}

// CandidateStates returns every candidate joined with its newest snapshot,
// restricted to snapshots captured at or after freshSince. Candidates whose
// newest observation is older (or who have none at all) are omitted, which
// is what keeps stale topics out of a selection round.
func (s *Store) CandidateStates(ctx context.Context, freshSince time.Time) ([]CandidateState, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.topic, c.category, c.first_seen, c.last_seen,
		       c.last_score, c.last_scored_at,
		       s.captured_at, s.volume, s.growth,
		       (SELECT COUNT(*) FROM candidate_snapshots WHERE candidate_id = c.id)
		FROM candidates c
		JOIN candidate_snapshots s ON s.id = (
			SELECT id FROM candidate_snapshots
			WHERE candidate_id = c.id
			ORDER BY captured_at DESC, id DESC
			LIMIT 1
		)
		WHERE s.captured_at >= ?
		ORDER BY c.id`,
		freshSince.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateState
	for rows.Next() {
		var cs CandidateState
		var firstSeen, lastSeen, capturedAt int64
		var lastScore sql.NullFloat64
		var lastScoredAt sql.NullInt64
		if err := rows.Scan(&cs.ID, &cs.Topic, &cs.Category, &firstSeen, &lastSeen,
			&lastScore, &lastScoredAt,
			&capturedAt, &cs.Latest.Volume, &cs.Latest.Growth, &cs.Observations); err != nil {
			return nil, err
		}
		cs.FirstSeen = time.UnixMilli(firstSeen)
		cs.LastSeen = time.UnixMilli(lastSeen)
		cs.LastScore = lastScore.Float64
		cs.LastScoredAt = fromMillis(lastScoredAt)
		cs.Latest.CandidateID = cs.ID
		cs.Latest.CapturedAt = time.UnixMilli(capturedAt)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// GetCandidate returns one candidate row. The bool reports whether it exists.
func (s *Store) GetCandidate(ctx context.Context, id string) (Candidate, bool, error) {
	var c Candidate
	if err := s.ready(); err != nil {
		return c, false, err
	}
	var firstSeen, lastSeen int64
	var lastScore sql.NullFloat64
	var lastScoredAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, category, first_seen, last_seen, last_score, last_scored_at
		FROM candidates WHERE id = ?`, id).
		Scan(&c.ID, &c.Topic, &c.Category, &firstSeen, &lastSeen, &lastScore, &lastScoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.FirstSeen = time.UnixMilli(firstSeen)
	c.LastSeen = time.UnixMilli(lastSeen)
	c.LastScore = lastScore.Float64
	c.LastScoredAt = fromMillis(lastScoredAt)
	return c, true, nil
}

// RecordScores persists one cycle's composite scores onto the candidate rows
// in a single transaction.
func (s *Store) RecordScores(ctx context.Context, at time.Time, scores map[string]float64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE candidates SET last_score = ?, last_scored_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, score := range scores {
		if _, err := stmt.ExecContext(ctx, score, at.UnixMilli(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PruneSnapshots deletes observations captured before the cutoff and returns
// how many were removed. Candidates, decisions and actions are never pruned.
func (s *Store) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM candidate_snapshots WHERE captured_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
