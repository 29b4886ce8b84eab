package story

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
)

// Generator produces a per-call story for a child. Implemented by
// AIGenerator; nil when AI generation is disabled.
type Generator interface {
	Generate(ctx context.Context, child *models.ChildProfile) (*models.Story, error)
}

// Service picks the story to play for a child, preferring the curated
// catalog, then AI generation, then the built-in templates. The template
// path cannot fail, so PickForChild always returns a story.
type Service struct {
	stories   database.StoryRepository
	generator Generator
	selector  *Selector
	logger    *slog.Logger
}

// NewService creates a story Service. generator may be nil.
func NewService(stories database.StoryRepository, generator Generator, recentExclude int, logger *slog.Logger) *Service {
	return &Service{
		stories:   stories,
		generator: generator,
		selector:  &Selector{RecentExclude: recentExclude},
		logger:    logger.With("subsystem", "story"),
	}
}

// PickForChild selects the best story for the child. Catalog and play
// history failures degrade to the next source rather than failing the call.
func (s *Service) PickForChild(ctx context.Context, child *models.ChildProfile) *models.Story {
	if st := s.fromCatalog(ctx, child); st != nil {
		return st
	}

	if s.generator != nil {
		st, err := s.generator.Generate(ctx, child)
		if err == nil {
			s.logger.Info("generated story", "child_id", child.ID, "title", st.Title)
			return st
		}
		s.logger.Warn("story generation failed, falling back to template", "child_id", child.ID, "error", err)
	}

	return TemplateStory(child)
}

func (s *Service) fromCatalog(ctx context.Context, child *models.ChildProfile) *models.Story {
	catalog, err := s.stories.ListByLanguage(ctx, child.Language)
	if err != nil {
		s.logger.Warn("catalog lookup failed", "child_id", child.ID, "error", err)
		return nil
	}
	if len(catalog) == 0 {
		return nil
	}

	// History failures cost ranking quality, not the story.
	recentIDs, err := s.stories.RecentPlayIDs(ctx, child.ID, s.selector.RecentExclude)
	if err != nil {
		s.logger.Warn("play history lookup failed", "child_id", child.ID, "error", err)
	}
	var lastPlayed map[string]time.Time
	if lastPlayed, err = s.stories.LastPlayedByChild(ctx, child.ID); err != nil {
		s.logger.Warn("last played lookup failed", "child_id", child.ID, "error", err)
	}

	st, err := s.selector.Select(child, catalog, recentIDs, lastPlayed)
	if err != nil {
		if !errors.Is(err, ErrNoMatch) {
			s.logger.Warn("catalog selection failed", "child_id", child.ID, "error", err)
		}
		return nil
	}
	return st
}

// RecordPlayed appends the story to the child's play history. Failures are
// logged and swallowed; playback already started.
func (s *Service) RecordPlayed(ctx context.Context, childID string, st *models.Story) {
	if err := s.stories.RecordPlay(ctx, childID, st.ID, st.Title); err != nil {
		s.logger.Error("recording play failed", "child_id", childID, "story_id", st.ID, "error", err)
	}
}
