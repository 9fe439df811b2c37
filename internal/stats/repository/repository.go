// Package repository persists per-instance daily counters.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DailyStat is one instance-day of counters.
type DailyStat struct {
	InstanceID         uuid.UUID
	Date               time.Time
	NewContacts        int
	MessagesScheduled  int
	MessagesSent       int
	MessagesFailed     int
	SequencesCompleted int
}

// Store provides operations for daily stats.
type Store interface {
	IncrementNewContacts(ctx context.Context, instanceID uuid.UUID, day time.Time) error
	IncrementMessagesScheduled(ctx context.Context, instanceID uuid.UUID, day time.Time) error
	IncrementMessagesSent(ctx context.Context, instanceID uuid.UUID, day time.Time) error
	IncrementMessagesFailed(ctx context.Context, instanceID uuid.UUID, day time.Time) error
	IncrementSequencesCompleted(ctx context.Context, instanceID uuid.UUID, day time.Time) error
	GetRange(ctx context.Context, instanceID uuid.UUID, from, to time.Time) ([]DailyStat, error)
}

// Repo implements Store backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repo)(nil)

// New creates a new stats repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) IncrementNewContacts(ctx context.Context, instanceID uuid.UUID, day time.Time) error {
	return r.increment(ctx, instanceID, day, "new_contacts")
}

func (r *Repo) IncrementMessagesScheduled(ctx context.Context, instanceID uuid.UUID, day time.Time) error {
	return r.increment(ctx, instanceID, day, "messages_scheduled")
}

func (r *Repo) IncrementMessagesSent(ctx context.Context, instanceID uuid.UUID, day time.Time) error {
	return r.increment(ctx, instanceID, day, "messages_sent")
}

func (r *Repo) IncrementMessagesFailed(ctx context.Context, instanceID uuid.UUID, day time.Time) error {
	return r.increment(ctx, instanceID, day, "messages_failed")
}

func (r *Repo) IncrementSequencesCompleted(ctx context.Context, instanceID uuid.UUID, day time.Time) error {
	return r.increment(ctx, instanceID, day, "sequences_completed")
}

// increment upserts the instance-day row and bumps one counter. The column
// name is always one of the fixed counters above, never caller input.
func (r *Repo) increment(ctx context.Context, instanceID uuid.UUID, day time.Time, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO daily_stats (instance_id, date, %s)
		VALUES ($1, $2, 1)
		ON CONFLICT (instance_id, date) DO UPDATE SET %s = daily_stats.%s + 1`,
		column, column, column)
	if _, err := r.pool.Exec(ctx, query, instanceID, day.UTC().Truncate(24*time.Hour)); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// GetRange retrieves the stats of an instance between two days inclusive.
func (r *Repo) GetRange(ctx context.Context, instanceID uuid.UUID, from, to time.Time) ([]DailyStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT instance_id, date, new_contacts, messages_scheduled, messages_sent, messages_failed, sequences_completed
		FROM daily_stats
		WHERE instance_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date`,
		instanceID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("get stats range: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.InstanceID, &s.Date, &s.NewContacts, &s.MessagesScheduled,
			&s.MessagesSent, &s.MessagesFailed, &s.SequencesCompleted); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
