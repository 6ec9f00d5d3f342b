package selfassess

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/peergrade/internal/peer"
)

// SQLStore shares the assessments tables with the peer engine; rows written
// here carry the SE/ST score types and never join to workflow items.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Create(ctx context.Context, a peer.Assessment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO assessments (id,scorer_id,submission_uuid,score_type,scored_at,feedback,rubric_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ScorerID, a.SubmissionUUID, a.ScoreType, a.ScoredAt.Unix(), a.Feedback, a.RubricHash); err != nil {
		return err
	}
	for i, p := range a.Parts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO assessment_parts (assessment_id,criterion_name,option_name,points,feedback,order_num)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, p.CriterionName, p.OptionName, p.Points, p.Feedback, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Latest(ctx context.Context, submissionUUID, scoreType string) (peer.Assessment, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,scorer_id,submission_uuid,score_type,scored_at,feedback,rubric_hash
		FROM assessments WHERE submission_uuid=$1 AND score_type=$2
		ORDER BY scored_at DESC, id DESC LIMIT 1`, submissionUUID, scoreType)
	var a peer.Assessment
	var scoredAt int64
	if err := row.Scan(&a.ID, &a.ScorerID, &a.SubmissionUUID, &a.ScoreType, &scoredAt, &a.Feedback, &a.RubricHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return peer.Assessment{}, false, nil
		}
		return peer.Assessment{}, false, err
	}
	a.ScoredAt = time.Unix(scoredAt, 0).UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT criterion_name,option_name,points,feedback
		FROM assessment_parts WHERE assessment_id=$1 ORDER BY order_num ASC`, a.ID)
	if err != nil {
		return peer.Assessment{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var p peer.Part
		if err := rows.Scan(&p.CriterionName, &p.OptionName, &p.Points, &p.Feedback); err != nil {
			return peer.Assessment{}, false, err
		}
		a.Parts = append(a.Parts, p)
	}
	return a, true, rows.Err()
}
