package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres persists received activity IDs in PostgreSQL. The primary key on
// ap_id is the uniqueness constraint; Inserted vs AlreadyExists is decided by
// the database in a single round trip.
type Postgres struct {
	pool  *pgxpool.Pool
	clock Clock
}

// PostgresOption configures a Postgres journal.
type PostgresOption func(*Postgres)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(p *Postgres) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed journal.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		pool:  pool,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// EnsureSchema creates the journal table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS received_activities (
			ap_id       TEXT PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// RecordIfNew inserts the activity ID if absent. ON CONFLICT DO NOTHING keeps
// the insert atomic under concurrent delivery; zero affected rows means the
// ID was already journaled.
func (p *Postgres) RecordIfNew(ctx context.Context, activityID string) (Outcome, error) {
	query := `
		INSERT INTO received_activities (ap_id, received_at)
		VALUES ($1, $2)
		ON CONFLICT (ap_id) DO NOTHING
	`
	tag, err := p.pool.Exec(ctx, query, activityID, p.clock())
	if err != nil {
		return 0, fmt.Errorf("record activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}
