package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storylineai/storyline/internal/database/models"
)

// callerAccountRepo implements CallerAccountRepository.
type callerAccountRepo struct {
	db *DB
}

// NewCallerAccountRepository creates a new CallerAccountRepository.
func NewCallerAccountRepository(db *DB) CallerAccountRepository {
	return &callerAccountRepo{db: db}
}

// Upsert inserts a caller account or refreshes tier/language on conflict.
// The phone number is the natural key; the generated id is written back.
func (r *callerAccountRepo) Upsert(ctx context.Context, acct *models.CallerAccount) error {
	if acct.Tier == "" {
		acct.Tier = models.TierFree
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO caller_accounts (phone_number, tier, language, created_at, updated_at)
		 VALUES (?, ?, ?, datetime('now'), datetime('now'))
		 ON CONFLICT(phone_number) DO UPDATE SET
		   language = excluded.language,
		   updated_at = datetime('now')`,
		acct.PhoneNumber, acct.Tier, acct.Language,
	)
	if err != nil {
		return fmt.Errorf("upserting caller account: %w", err)
	}

	stored, err := r.GetByPhone(ctx, acct.PhoneNumber)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("caller account missing after upsert: %s", acct.PhoneNumber)
	}
	*acct = *stored
	return nil
}

// GetByPhone returns the account for a canonical phone number, or nil.
func (r *callerAccountRepo) GetByPhone(ctx context.Context, phoneNumber string) (*models.CallerAccount, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, phone_number, tier, language, created_at, updated_at
		 FROM caller_accounts WHERE phone_number = ?`, phoneNumber,
	))
}

// List returns all caller accounts ordered by creation time.
func (r *callerAccountRepo) List(ctx context.Context) ([]models.CallerAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, phone_number, tier, language, created_at, updated_at
		 FROM caller_accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying caller accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.CallerAccount
	for rows.Next() {
		var a models.CallerAccount
		if err := rows.Scan(&a.ID, &a.PhoneNumber, &a.Tier, &a.Language,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning caller account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetTier updates the subscription tier for a phone number.
func (r *callerAccountRepo) SetTier(ctx context.Context, phoneNumber, tier string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE caller_accounts SET tier = ?, updated_at = datetime('now')
		 WHERE phone_number = ?`, tier, phoneNumber)
	if err != nil {
		return fmt.Errorf("updating tier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no caller account for %s", phoneNumber)
	}
	return nil
}

// Count returns the number of caller accounts.
func (r *callerAccountRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caller_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting caller accounts: %w", err)
	}
	return n, nil
}

func (r *callerAccountRepo) scanOne(row *sql.Row) (*models.CallerAccount, error) {
	var a models.CallerAccount
	err := row.Scan(&a.ID, &a.PhoneNumber, &a.Tier, &a.Language, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning caller account: %w", err)
	}
	return &a, nil
}
