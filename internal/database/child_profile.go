package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/storylineai/storyline/internal/database/models"
)

// childProfileRepo implements ChildProfileRepository.
type childProfileRepo struct {
	db *DB
}

// NewChildProfileRepository creates a new ChildProfileRepository.
func NewChildProfileRepository(db *DB) ChildProfileRepository {
	return &childProfileRepo{db: db}
}

// Upsert inserts a child profile, or updates age/interests/language when a
// profile with the same (account, name) already exists. The stored id is
// written back so a replayed confirmation resolves to the original profile.
func (r *childProfileRepo) Upsert(ctx context.Context, child *models.ChildProfile) error {
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	interests, err := json.Marshal(child.Interests)
	if err != nil {
		return fmt.Errorf("encoding interests: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO child_profiles
		   (id, account_id, name, age, interests, language, phone_number, story_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, datetime('now'), datetime('now'))
		 ON CONFLICT(account_id, name) DO UPDATE SET
		   age = excluded.age,
		   interests = excluded.interests,
		   language = excluded.language,
		   updated_at = datetime('now')`,
		child.ID, child.AccountID, child.Name, child.Age, string(interests),
		child.Language, child.PhoneNumber,
	)
	if err != nil {
		return fmt.Errorf("upserting child profile: %w", err)
	}

	// Resolve the stored row: on conflict the original id wins.
	row := r.db.QueryRowContext(ctx,
		selectChildColumns+` FROM child_profiles WHERE account_id = ? AND name = ?`,
		child.AccountID, child.Name)
	stored, err := scanChild(row)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("child profile missing after upsert: %s", child.Name)
	}
	*child = *stored
	return nil
}

const selectChildColumns = `SELECT id, account_id, name, age, interests, language,
	 phone_number, story_count, last_story_at, created_at, updated_at`

// GetByID returns a child profile by id, or nil.
func (r *childProfileRepo) GetByID(ctx context.Context, id string) (*models.ChildProfile, error) {
	return scanChild(r.db.QueryRowContext(ctx,
		selectChildColumns+` FROM child_profiles WHERE id = ?`, id))
}

// ListByPhone returns all profiles owned by a phone number, newest first.
// The newest profile is the one the dialog greets by default.
func (r *childProfileRepo) ListByPhone(ctx context.Context, phoneNumber string) ([]models.ChildProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		selectChildColumns+` FROM child_profiles WHERE phone_number = ? ORDER BY created_at DESC`,
		phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("querying child profiles: %w", err)
	}
	defer rows.Close()

	var children []models.ChildProfile
	for rows.Next() {
		c, err := scanChildRow(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

// RecordStoryCompleted bumps the lifetime story count and the last-story
// timestamp. Called only when playback finished, never at story start.
func (r *childProfileRepo) RecordStoryCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE child_profiles
		 SET story_count = story_count + 1,
		     last_story_at = datetime('now'),
		     updated_at = datetime('now')
		 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("recording story completion: %w", err)
	}
	return nil
}

// Delete removes a child profile. Play history cascades.
func (r *childProfileRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM child_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting child profile: %w", err)
	}
	return nil
}

// Count returns the number of child profiles.
func (r *childProfileRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM child_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting child profiles: %w", err)
	}
	return n, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChild(row *sql.Row) (*models.ChildProfile, error) {
	c, err := scanChildRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanChildRow(s rowScanner) (*models.ChildProfile, error) {
	var c models.ChildProfile
	var interests string
	err := s.Scan(&c.ID, &c.AccountID, &c.Name, &c.Age, &interests, &c.Language,
		&c.PhoneNumber, &c.StoryCount, &c.LastStoryAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning child profile: %w", err)
	}
	if err := json.Unmarshal([]byte(interests), &c.Interests); err != nil {
		return nil, fmt.Errorf("decoding interests: %w", err)
	}
	return &c, nil
}
