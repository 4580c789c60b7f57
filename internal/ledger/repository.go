// Package ledger keeps an audit trail of successful writes.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one recorded write.
type Entry struct {
	ID          uuid.UUID
	Key         string
	ETag        string
	Size        int64
	ContentType string
	Overwrite   bool
	RequestID   string
	CreatedAt   time.Time
}

// Recorder persists ledger entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) (*Entry, error)
}

// Repository handles ledger rows in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Record inserts e and returns it with its ID and timestamp filled in.
func (r *Repository) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO uploads (id, object_key, etag, size_bytes, content_type, overwrite, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 RETURNING created_at`,
		e.ID, e.Key, e.ETag, e.Size, e.ContentType, e.Overwrite, e.RequestID,
	).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record upload %q: %w", e.Key, err)
	}
	return &e, nil
}

// Noop discards entries. It is used when no ledger database is configured.
type Noop struct{}

// Record returns e unchanged.
func (Noop) Record(_ context.Context, e Entry) (*Entry, error) {
	return &e, nil
}
