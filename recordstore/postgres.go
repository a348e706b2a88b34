package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS certificate_records (
    certificate_hash TEXT PRIMARY KEY,
    student_name TEXT NOT NULL,
    issue_date TEXT NOT NULL,
    issuer TEXT NOT NULL,
    transaction_hash TEXT NOT NULL,
    document_id TEXT NOT NULL,
    document_name TEXT NOT NULL,
    media_type TEXT NOT NULL,
    created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_certificate_records_issuer ON certificate_records (issuer);
`

// Postgres persists certificate records in PostgreSQL.
type Postgres struct {
	sqlStore
}

// NewPostgres wraps an open database handle. The schema must already exist.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{sqlStore{
		db:              db,
		insertQuery:     `INSERT INTO certificate_records (` + recordColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		selectQuery:     `SELECT ` + recordColumns + ` FROM certificate_records WHERE certificate_hash = $1`,
		uniqueViolation: isPostgresUniqueViolation,
	}}
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return NewPostgres(db), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
