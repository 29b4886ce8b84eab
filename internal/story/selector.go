// Package story selects and generates bedtime stories matched to a child
// profile: a curated catalog ranked by interest overlap, AI generation, and
// personalized templates as the always-available fallback.
package story

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/storylineai/storyline/internal/database/models"
)

// ErrNoMatch indicates no story could be selected from the given catalog.
var ErrNoMatch = errors.New("no matching story")

// Selector ranks catalog stories for a child. RecentExclude is how many of
// the child's most recent plays are excluded from selection.
type Selector struct {
	RecentExclude int
}

// Select picks the best catalog story for the child. Candidates must match
// the child's age and language and not be among the recently played ids;
// when that yields nothing the constraints relax one at a time (drop
// language, drop age, finally allow repeats). Ranking is by interest-theme
// overlap, ties broken by least recently presented to this child, then by
// story id so selection is deterministic.
func (s *Selector) Select(child *models.ChildProfile, catalog []models.Story, recentIDs []string, lastPlayed map[string]time.Time) (*models.Story, error) {
	if len(catalog) == 0 {
		return nil, ErrNoMatch
	}

	excluded := make(map[string]bool, s.RecentExclude)
	for i, id := range recentIDs {
		if i >= s.RecentExclude {
			break
		}
		excluded[id] = true
	}

	passes := []func(st *models.Story) bool{
		func(st *models.Story) bool {
			return st.InAgeRange(child.Age) && st.Language == child.Language && !excluded[st.ID]
		},
		func(st *models.Story) bool {
			return st.InAgeRange(child.Age) && !excluded[st.ID]
		},
		func(st *models.Story) bool {
			return !excluded[st.ID]
		},
		func(st *models.Story) bool {
			return true
		},
	}

	for _, keep := range passes {
		var candidates []models.Story
		for _, st := range catalog {
			if keep(&st) {
				candidates = append(candidates, st)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		best := rank(child, candidates, lastPlayed)
		return &best, nil
	}
	return nil, ErrNoMatch
}

// rank orders candidates best-first and returns the winner.
func rank(child *models.ChildProfile, candidates []models.Story, lastPlayed map[string]time.Time) models.Story {
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := interestOverlap(child, &candidates[i]), interestOverlap(child, &candidates[j])
		if si != sj {
			return si > sj
		}
		// Never played sorts before longest-ago played.
		ti, iPlayed := lastPlayed[candidates[i].ID]
		tj, jPlayed := lastPlayed[candidates[j].ID]
		if iPlayed != jPlayed {
			return !iPlayed
		}
		if iPlayed && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}

// interestOverlap counts the child's interests that appear among the
// story's themes, case-insensitively.
func interestOverlap(child *models.ChildProfile, st *models.Story) int {
	overlap := 0
	for _, interest := range child.Interests {
		lower := strings.ToLower(interest)
		for _, theme := range st.Themes {
			if strings.ToLower(theme) == lower {
				overlap++
				break
			}
		}
	}
	return overlap
}
