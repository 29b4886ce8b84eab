package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storylineai/storyline/internal/database/models"
)

// usageRecordRepo implements UsageRecordRepository.
type usageRecordRepo struct {
	db *DB
}

// NewUsageRecordRepository creates a new UsageRecordRepository.
func NewUsageRecordRepository(db *DB) UsageRecordRepository {
	return &usageRecordRepo{db: db}
}

// Get returns the usage record for a (phone, month) pair, or nil.
func (r *usageRecordRepo) Get(ctx context.Context, phoneNumber, monthYear string) (*models.UsageRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT phone_number, month_year, stories_consumed, language, updated_at
		 FROM usage_records WHERE phone_number = ? AND month_year = ?`,
		phoneNumber, monthYear,
	))
}

// Increment adds one consumed story to the month bucket unless eventID was
// already recorded. Event dedup and the counter update happen in a single
// transaction so a retried webhook can never double-count.
func (r *usageRecordRepo) Increment(ctx context.Context, phoneNumber, monthYear, eventID, language string) (*models.UsageRecord, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning usage transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_events (event_id, phone_number, month_year, created_at)
		 VALUES (?, ?, ?, datetime('now'))`,
		eventID, phoneNumber, monthYear,
	)
	if err != nil {
		return nil, false, fmt.Errorf("recording usage event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}

	applied := inserted > 0
	if applied {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO usage_records (phone_number, month_year, stories_consumed, language, updated_at)
			 VALUES (?, ?, 1, ?, datetime('now'))
			 ON CONFLICT(phone_number, month_year) DO UPDATE SET
			   stories_consumed = stories_consumed + 1,
			   language = excluded.language,
			   updated_at = datetime('now')`,
			phoneNumber, monthYear, language,
		)
		if err != nil {
			return nil, false, fmt.Errorf("incrementing usage record: %w", err)
		}
	}

	rec, err := r.scanOne(tx.QueryRowContext(ctx,
		`SELECT phone_number, month_year, stories_consumed, language, updated_at
		 FROM usage_records WHERE phone_number = ? AND month_year = ?`,
		phoneNumber, monthYear,
	))
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		// Duplicate event for a month with no record: synthesize an empty one.
		rec = &models.UsageRecord{PhoneNumber: phoneNumber, MonthYear: monthYear, Language: language}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing usage transaction: %w", err)
	}
	return rec, applied, nil
}

// TotalConsumed returns the all-time consumed story count.
func (r *usageRecordRepo) TotalConsumed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(stories_consumed), 0) FROM usage_records`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing usage records: %w", err)
	}
	return n, nil
}

// TotalConsumedInMonth returns the consumed story count for one month key.
func (r *usageRecordRepo) TotalConsumedInMonth(ctx context.Context, monthYear string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(stories_consumed), 0) FROM usage_records WHERE month_year = ?`,
		monthYear).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing month usage: %w", err)
	}
	return n, nil
}

func (r *usageRecordRepo) scanOne(row *sql.Row) (*models.UsageRecord, error) {
	var u models.UsageRecord
	err := row.Scan(&u.PhoneNumber, &u.MonthYear, &u.StoriesConsumed, &u.Language, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning usage record: %w", err)
	}
	return &u, nil
}
