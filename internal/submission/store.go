// Package submission is the narrow facade over submission storage. The
// allocation engine only ever needs author identity, timestamps, and the
// opaque answer text; everything else about submissions lives with the
// host application.
package submission

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("submission not found")

type Submission struct {
	UUID        string    `json:"uuid"`
	AuthorID    string    `json:"author_id"`
	CourseID    string    `json:"course_id"`
	ItemID      string    `json:"item_id"`
	Answer      string    `json:"answer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Store interface {
	Create(ctx context.Context, s Submission) error
	// Get fails with ErrNotFound if the UUID is unknown.
	Get(ctx context.Context, uuid string) (Submission, error)
	// ListOther returns every submission in the (course, item) scope not
	// authored by excludeAuthorID, ordered by submitted_at ascending.
	ListOther(ctx context.Context, courseID, itemID, excludeAuthorID string) ([]Submission, error)
}
