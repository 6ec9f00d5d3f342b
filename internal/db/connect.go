package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:peergrade.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/peergrade?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Timestamps are unix seconds throughout. The scored flag is an integer in
// both dialects so the store code scans it uniformly.

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS submissions (
  uuid TEXT PRIMARY KEY,
  author_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  answer TEXT NOT NULL,
  submitted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_workflows (
  submission_uuid TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  completed_at INTEGER,
  cancelled_at INTEGER
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  scorer_id TEXT NOT NULL,
  submission_uuid TEXT NOT NULL,
  score_type TEXT NOT NULL,              -- PE | SE | ST
  scored_at INTEGER NOT NULL,
  feedback TEXT NOT NULL DEFAULT '',
  rubric_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_parts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  criterion_name TEXT NOT NULL,
  option_name TEXT NOT NULL DEFAULT '',  -- empty for feedback-only criteria
  points INTEGER NOT NULL DEFAULT 0,
  feedback TEXT NOT NULL DEFAULT '',
  order_num INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_workflow_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reviewer_submission_uuid TEXT NOT NULL REFERENCES peer_workflows(submission_uuid),
  submission_uuid TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  assessment_id TEXT REFERENCES assessments(id),
  scored INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_items_reviewer ON peer_workflow_items(reviewer_submission_uuid);
CREATE INDEX IF NOT EXISTS idx_items_submission ON peer_workflow_items(submission_uuid);
CREATE INDEX IF NOT EXISTS idx_assessments_submission ON assessments(submission_uuid, score_type);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS submissions (
  uuid TEXT PRIMARY KEY,
  author_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  answer TEXT NOT NULL,
  submitted_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_workflows (
  submission_uuid TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  completed_at BIGINT,
  cancelled_at BIGINT
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  scorer_id TEXT NOT NULL,
  submission_uuid TEXT NOT NULL,
  score_type TEXT NOT NULL,
  scored_at BIGINT NOT NULL,
  feedback TEXT NOT NULL DEFAULT '',
  rubric_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assessment_parts (
  id BIGSERIAL PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  criterion_name TEXT NOT NULL,
  option_name TEXT NOT NULL DEFAULT '',
  points INTEGER NOT NULL DEFAULT 0,
  feedback TEXT NOT NULL DEFAULT '',
  order_num INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_workflow_items (
  id BIGSERIAL PRIMARY KEY,
  reviewer_submission_uuid TEXT NOT NULL REFERENCES peer_workflows(submission_uuid),
  submission_uuid TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  assessment_id TEXT REFERENCES assessments(id),
  scored INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_items_reviewer ON peer_workflow_items(reviewer_submission_uuid);
CREATE INDEX IF NOT EXISTS idx_items_submission ON peer_workflow_items(submission_uuid);
CREATE INDEX IF NOT EXISTS idx_assessments_submission ON assessments(submission_uuid, score_type);
`
