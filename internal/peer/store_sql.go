package peer

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore implements Store on the shared schema in internal/db. It works
// unchanged on sqlite and postgres; placeholders follow the $N form both
// drivers accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// querier is satisfied by *sql.DB and *sql.Tx so the scored-marking pass
// can run inside or outside the submit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) CreateWorkflow(ctx context.Context, w Workflow) (Workflow, error) {
	// Concurrent first-access races resolve here: the loser's insert is a
	// no-op and both handlers read back the same row.
	_, err := s.db.ExecContext(ctx, `INSERT INTO peer_workflows (submission_uuid,student_id,course_id,item_id,created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (submission_uuid) DO NOTHING`,
		w.SubmissionUUID, w.StudentID, w.CourseID, w.ItemID, w.CreatedAt.Unix())
	if err != nil {
		return Workflow{}, err
	}
	existing, ok, err := s.GetWorkflow(ctx, w.SubmissionUUID)
	if err != nil {
		return Workflow{}, err
	}
	if !ok {
		return Workflow{}, errors.New("workflow row missing after insert")
	}
	return existing, nil
}

func (s *SQLStore) GetWorkflow(ctx context.Context, submissionUUID string) (Workflow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT submission_uuid,student_id,course_id,item_id,created_at,completed_at,cancelled_at
		FROM peer_workflows WHERE submission_uuid=$1`, submissionUUID)
	var w Workflow
	var created int64
	var completed, cancelled sql.NullInt64
	if err := row.Scan(&w.SubmissionUUID, &w.StudentID, &w.CourseID, &w.ItemID, &created, &completed, &cancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workflow{}, false, nil
		}
		return Workflow{}, false, err
	}
	w.CreatedAt = time.Unix(created, 0).UTC()
	w.CompletedAt = nullTime(completed)
	w.CancelledAt = nullTime(cancelled)
	return w, true, nil
}

func (s *SQLStore) OpenItem(ctx context.Context, reviewerSubmissionUUID string) (WorkflowItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,reviewer_submission_uuid,submission_uuid,started_at,assessment_id,scored
		FROM peer_workflow_items WHERE reviewer_submission_uuid=$1 AND assessment_id IS NULL
		ORDER BY started_at DESC LIMIT 1`, reviewerSubmissionUUID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowItem{}, false, nil
	}
	if err != nil {
		return WorkflowItem{}, false, err
	}
	return it, true, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, reviewerSubmissionUUID, submissionUUID string, startedAt time.Time) (WorkflowItem, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO peer_workflow_items (reviewer_submission_uuid,submission_uuid,started_at,scored)
		VALUES ($1,$2,$3,0) RETURNING id`,
		reviewerSubmissionUUID, submissionUUID, startedAt.Unix()).Scan(&id)
	if err != nil {
		return WorkflowItem{}, err
	}
	return WorkflowItem{
		ID:                     id,
		ReviewerSubmissionUUID: reviewerSubmissionUUID,
		SubmissionUUID:         submissionUUID,
		StartedAt:              startedAt,
	}, nil
}

func (s *SQLStore) Candidates(ctx context.Context, reviewerSubmissionUUID string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.submission_uuid, w.created_at,
			(SELECT COUNT(*) FROM peer_workflow_items it
				JOIN peer_workflows rw ON rw.submission_uuid = it.reviewer_submission_uuid
				WHERE it.submission_uuid = w.submission_uuid AND it.assessment_id IS NOT NULL AND rw.cancelled_at IS NULL),
			(SELECT COUNT(*) FROM peer_workflow_items it
				WHERE it.submission_uuid = w.submission_uuid AND it.assessment_id IS NOT NULL),
			(SELECT COUNT(*) FROM peer_workflow_items it
				WHERE it.submission_uuid = w.submission_uuid AND it.reviewer_submission_uuid = $1)
		FROM peer_workflows w
		JOIN peer_workflows me ON me.submission_uuid = $1
		WHERE w.course_id = me.course_id AND w.item_id = me.item_id
			AND w.submission_uuid <> $1 AND w.cancelled_at IS NULL
		ORDER BY w.submission_uuid`, reviewerSubmissionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		var created int64
		var mine int
		if err := rows.Scan(&c.SubmissionUUID, &created, &c.QualifyingReviews, &c.TotalReviews, &mine); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		c.ReviewedByReviewer = mine > 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) CompletedReviewCount(ctx context.Context, reviewerSubmissionUUID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM peer_workflow_items
		WHERE reviewer_submission_uuid=$1 AND assessment_id IS NOT NULL`, reviewerSubmissionUUID).Scan(&n)
	return n, err
}

func (s *SQLStore) QualifyingReviewCount(ctx context.Context, submissionUUID string) (int, error) {
	return qualifyingCount(ctx, s.db, submissionUUID)
}

func qualifyingCount(ctx context.Context, q querier, submissionUUID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM peer_workflow_items it
		JOIN peer_workflows rw ON rw.submission_uuid = it.reviewer_submission_uuid
		WHERE it.submission_uuid=$1 AND it.assessment_id IS NOT NULL AND rw.cancelled_at IS NULL`, submissionUUID).Scan(&n)
	return n, err
}

func (s *SQLStore) SetCompleted(ctx context.Context, submissionUUID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE peer_workflows SET completed_at=$1
		WHERE submission_uuid=$2 AND completed_at IS NULL`, at.Unix(), submissionUUID)
	return err
}

func (s *SQLStore) SetCancelled(ctx context.Context, submissionUUID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE peer_workflows SET cancelled_at=$1
		WHERE submission_uuid=$2 AND cancelled_at IS NULL`, at.Unix(), submissionUUID)
	return err
}

// SubmitAssessment is the one place state mutates across entities in a
// single operation: assessment insert, lease close, scored-subset marking,
// and reviewer completion all commit or roll back together.
func (s *SQLStore) SubmitAssessment(ctx context.Context, p SubmitParams) (Assessment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Assessment{}, err
	}
	defer tx.Rollback()

	a := p.Assessment
	if _, err := tx.ExecContext(ctx, `INSERT INTO assessments (id,scorer_id,submission_uuid,score_type,scored_at,feedback,rubric_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ScorerID, a.SubmissionUUID, a.ScoreType, a.ScoredAt.Unix(), a.Feedback, a.RubricHash); err != nil {
		return Assessment{}, err
	}
	for i, part := range a.Parts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO assessment_parts (assessment_id,criterion_name,option_name,points,feedback,order_num)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, part.CriterionName, part.OptionName, part.Points, part.Feedback, i); err != nil {
			return Assessment{}, err
		}
	}

	// Guarded close: if another handler somehow closed this lease first,
	// the whole submit rolls back rather than double-counting.
	res, err := tx.ExecContext(ctx, `UPDATE peer_workflow_items SET assessment_id=$1
		WHERE id=$2 AND assessment_id IS NULL`, a.ID, p.ItemID)
	if err != nil {
		return Assessment{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Assessment{}, err
	} else if n == 0 {
		return Assessment{}, errLeaseGone
	}

	received, err := qualifyingCount(ctx, tx, a.SubmissionUUID)
	if err != nil {
		return Assessment{}, err
	}
	if received >= p.MustBeGradedBy {
		if err := ensureScored(ctx, tx, a.SubmissionUUID, p.MustBeGradedBy); err != nil {
			return Assessment{}, err
		}
	}

	var done int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM peer_workflow_items
		WHERE reviewer_submission_uuid=$1 AND assessment_id IS NOT NULL`, p.ReviewerSubmissionUUID).Scan(&done); err != nil {
		return Assessment{}, err
	}
	if done >= p.MustGrade {
		if _, err := tx.ExecContext(ctx, `UPDATE peer_workflows SET completed_at=$1
			WHERE submission_uuid=$2 AND completed_at IS NULL`, p.Now.Unix(), p.ReviewerSubmissionUUID); err != nil {
			return Assessment{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

func (s *SQLStore) EnsureScored(ctx context.Context, submissionUUID string, n int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := ensureScored(ctx, tx, submissionUUID, n); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureScored(ctx context.Context, q querier, submissionUUID string, n int) error {
	rows, err := q.QueryContext(ctx, `SELECT it.id, it.scored FROM peer_workflow_items it
		JOIN assessments a ON a.id = it.assessment_id
		JOIN peer_workflows rw ON rw.submission_uuid = it.reviewer_submission_uuid
		WHERE it.submission_uuid=$1 AND rw.cancelled_at IS NULL
		ORDER BY a.scored_at ASC, a.id ASC`, submissionUUID)
	if err != nil {
		return err
	}
	type row struct {
		id     int64
		scored int
	}
	var items []row
	scored := 0
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.scored); err != nil {
			rows.Close()
			return err
		}
		if r.scored != 0 {
			scored++
		}
		items = append(items, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range items {
		if scored >= n {
			break
		}
		if r.scored != 0 {
			continue
		}
		if _, err := q.ExecContext(ctx, `UPDATE peer_workflow_items SET scored=1 WHERE id=$1`, r.id); err != nil {
			return err
		}
		scored++
	}
	return nil
}

func (s *SQLStore) ScoredAssessments(ctx context.Context, submissionUUID string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.id,a.scorer_id,a.submission_uuid,a.score_type,a.scored_at,a.feedback,a.rubric_hash
		FROM peer_workflow_items it
		JOIN assessments a ON a.id = it.assessment_id
		JOIN peer_workflows rw ON rw.submission_uuid = it.reviewer_submission_uuid
		WHERE it.submission_uuid=$1 AND it.scored=1 AND rw.cancelled_at IS NULL
		ORDER BY a.scored_at ASC, a.id ASC`, submissionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assessment
	for rows.Next() {
		var a Assessment
		var scoredAt int64
		if err := rows.Scan(&a.ID, &a.ScorerID, &a.SubmissionUUID, &a.ScoreType, &scoredAt, &a.Feedback, &a.RubricHash); err != nil {
			return nil, err
		}
		a.ScoredAt = time.Unix(scoredAt, 0).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		parts, err := loadParts(ctx, s.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Parts = parts
	}
	return out, nil
}

func loadParts(ctx context.Context, q querier, assessmentID string) ([]Part, error) {
	rows, err := q.QueryContext(ctx, `SELECT criterion_name,option_name,points,feedback
		FROM assessment_parts WHERE assessment_id=$1 ORDER BY order_num ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.CriterionName, &p.OptionName, &p.Points, &p.Feedback); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context, submissionUUID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(CASE WHEN assessment_id IS NULL THEN 1 END),
		COUNT(CASE WHEN assessment_id IS NOT NULL THEN 1 END),
		COUNT(CASE WHEN scored=1 THEN 1 END)
		FROM peer_workflow_items WHERE submission_uuid=$1`, submissionUUID).
		Scan(&st.OpenLeases, &st.CompletedReviews, &st.ScoredReviews)
	return st, err
}

func scanItem(row *sql.Row) (WorkflowItem, error) {
	var it WorkflowItem
	var started int64
	var assessmentID sql.NullString
	var scored int
	if err := row.Scan(&it.ID, &it.ReviewerSubmissionUUID, &it.SubmissionUUID, &started, &assessmentID, &scored); err != nil {
		return WorkflowItem{}, err
	}
	it.StartedAt = time.Unix(started, 0).UTC()
	it.AssessmentID = assessmentID.String
	it.Scored = scored != 0
	return it, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
