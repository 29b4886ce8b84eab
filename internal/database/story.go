package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/storylineai/storyline/internal/database/models"
)

// storyRepo implements StoryRepository.
type storyRepo struct {
	db *DB
}

// NewStoryRepository creates a new StoryRepository.
func NewStoryRepository(db *DB) StoryRepository {
	return &storyRepo{db: db}
}

const storyColumns = "id, title, body, age_min, age_max, themes, language, duration_min, source, created_at, updated_at"

// Create inserts a new catalog story. A missing id is generated.
func (r *storyRepo) Create(ctx context.Context, story *models.Story) error {
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.Source == "" {
		story.Source = models.StorySourceCatalog
	}
	themes, err := json.Marshal(story.Themes)
	if err != nil {
		return fmt.Errorf("encoding themes: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO stories (id, title, body, age_min, age_max, themes, language, duration_min, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		story.ID, story.Title, story.Body, story.AgeMin, story.AgeMax,
		string(themes), story.Language, story.DurationMin, story.Source,
	)
	if err != nil {
		return fmt.Errorf("inserting story: %w", err)
	}
	return nil
}

// GetByID returns a story by id, or nil.
func (r *storyRepo) GetByID(ctx context.Context, id string) (*models.Story, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// Search returns catalog stories matching the filter, ordered by id for a
// stable, reproducible result. The query is built dynamically since any
// combination of filters may be present.
func (r *storyRepo) Search(ctx context.Context, filter StoryFilter) ([]models.Story, error) {
	q := squirrel.Select(storyColumns).From("stories").OrderBy("id")

	if filter.Age != nil {
		q = q.Where(squirrel.LtOrEq{"age_min": *filter.Age}).
			Where(squirrel.GtOrEq{"age_max": *filter.Age})
	}
	if filter.Language != "" {
		q = q.Where(squirrel.Eq{"language": filter.Language})
	}
	if filter.Theme != "" {
		// Themes are stored as a JSON array of strings.
		q = q.Where(`themes LIKE ?`, `%"`+filter.Theme+`"%`)
	}
	if filter.Source != "" {
		q = q.Where(squirrel.Eq{"source": filter.Source})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building story search query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stories: %w", err)
	}
	defer rows.Close()

	return collectStories(rows)
}

// ListByLanguage returns the full catalog for a language ordered by id.
func (r *storyRepo) ListByLanguage(ctx context.Context, language string) ([]models.Story, error) {
	return r.Search(ctx, StoryFilter{Language: language})
}

// Update modifies an existing catalog story.
func (r *storyRepo) Update(ctx context.Context, story *models.Story) error {
	themes, err := json.Marshal(story.Themes)
	if err != nil {
		return fmt.Errorf("encoding themes: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE stories SET title = ?, body = ?, age_min = ?, age_max = ?,
		 themes = ?, language = ?, duration_min = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		story.Title, story.Body, story.AgeMin, story.AgeMax,
		string(themes), story.Language, story.DurationMin, story.ID,
	)
	if err != nil {
		return fmt.Errorf("updating story: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no story with id %s", story.ID)
	}
	return nil
}

// Delete removes a catalog story by id.
func (r *storyRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting story: %w", err)
	}
	return nil
}

// Count returns the catalog size.
func (r *storyRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting stories: %w", err)
	}
	return n, nil
}

// RecordPlay appends a play-history row for a child.
func (r *storyRepo) RecordPlay(ctx context.Context, childID, storyID, title string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO story_plays (child_id, story_id, title, played_at)
		 VALUES (?, ?, ?, datetime('now'))`,
		childID, storyID, title,
	)
	if err != nil {
		return fmt.Errorf("recording story play: %w", err)
	}
	return nil
}

// RecentPlayIDs returns the ids of the child's most recent plays,
// newest first, for the selector's repeat-exclusion window.
func (r *storyRepo) RecentPlayIDs(ctx context.Context, childID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT story_id FROM story_plays
		 WHERE child_id = ? ORDER BY played_at DESC, id DESC LIMIT ?`,
		childID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent plays: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning play row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastPlayedByChild returns the most recent play time per story id for a
// child, used by the selector's least-recently-presented tie-break.
func (r *storyRepo) LastPlayedByChild(ctx context.Context, childID string) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT story_id, MAX(played_at) FROM story_plays
		 WHERE child_id = ? GROUP BY story_id`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying last played times: %w", err)
	}
	defer rows.Close()

	last := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scanning last played row: %w", err)
		}
		last[id] = at
	}
	return last, rows.Err()
}

func scanStory(row *sql.Row) (*models.Story, error) {
	var s models.Story
	var themes string
	err := row.Scan(&s.ID, &s.Title, &s.Body, &s.AgeMin, &s.AgeMax, &themes,
		&s.Language, &s.DurationMin, &s.Source, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(themes), &s.Themes); err != nil {
		return nil, fmt.Errorf("decoding themes: %w", err)
	}
	return &s, nil
}

func collectStories(rows *sql.Rows) ([]models.Story, error) {
	var stories []models.Story
	for rows.Next() {
		var s models.Story
		var themes string
		if err := rows.Scan(&s.ID, &s.Title, &s.Body, &s.AgeMin, &s.AgeMax, &themes,
			&s.Language, &s.DurationMin, &s.Source, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning story row: %w", err)
		}
		if err := json.Unmarshal([]byte(themes), &s.Themes); err != nil {
			return nil, fmt.Errorf("decoding themes: %w", err)
		}
		stories = append(stories, s)
	}
	return stories, rows.Err()
}
