package submission

import (
	"context"
	"database/sql"
	"errors"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Create(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions (uuid,author_id,course_id,item_id,answer,submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sub.UUID, sub.AuthorID, sub.CourseID, sub.ItemID, sub.Answer, sub.SubmittedAt.Unix())
	return err
}

func (s *SQLStore) Get(ctx context.Context, uuid string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT uuid,author_id,course_id,item_id,answer,submitted_at
		FROM submissions WHERE uuid=$1`, uuid)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

func (s *SQLStore) ListOther(ctx context.Context, courseID, itemID, excludeAuthorID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid,author_id,course_id,item_id,answer,submitted_at
		FROM submissions WHERE course_id=$1 AND item_id=$2 AND author_id<>$3
		ORDER BY submitted_at ASC, uuid ASC`, courseID, itemID, excludeAuthorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(r rowScanner) (Submission, error) {
	var sub Submission
	var submitted int64
	if err := r.Scan(&sub.UUID, &sub.AuthorID, &sub.CourseID, &sub.ItemID, &sub.Answer, &submitted); err != nil {
		return Submission{}, err
	}
	sub.SubmittedAt = unixTime(submitted)
	return sub, nil
}
