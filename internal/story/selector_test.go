package story

import (
	"errors"
	"testing"
	"time"

	"github.com/storylineai/storyline/internal/database/models"
)

func testChild() *models.ChildProfile {
	return &models.ChildProfile{
		ID:        "c1",
		Name:      "Emma",
		Age:       6,
		Interests: []string{"unicorns", "magic"},
		Language:  "en",
	}
}

func testCatalog() []models.Story {
	return []models.Story{
		{ID: "forest", Title: "Forest", AgeMin: 2, AgeMax: 8, Themes: []string{"magic", "animals"}, Language: "en"},
		{ID: "space", Title: "Space", AgeMin: 5, AgeMax: 10, Themes: []string{"space"}, Language: "en"},
		{ID: "dragon", Title: "Dragon", AgeMin: 3, AgeMax: 8, Themes: []string{"magic", "dragons"}, Language: "en"},
		{ID: "toddler", Title: "Toddler", AgeMin: 2, AgeMax: 4, Themes: []string{"magic"}, Language: "en"},
		{ID: "spanish", Title: "Spanish", AgeMin: 2, AgeMax: 10, Themes: []string{"magic"}, Language: "es"},
	}
}

func TestSelectRanksByInterestOverlap(t *testing.T) {
	sel := &Selector{RecentExclude: 3}

	got, err := sel.Select(testChild(), testCatalog(), nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	// forest and dragon both overlap on "magic"; the id tie-break picks dragon.
	if got.ID != "dragon" {
		t.Errorf("Select() = %s, want dragon", got.ID)
	}
}

func TestSelectHonorsAgeAndLanguage(t *testing.T) {
	sel := &Selector{RecentExclude: 3}

	got, err := sel.Select(testChild(), testCatalog(), nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if !got.InAgeRange(6) {
		t.Errorf("selected story %s does not fit age 6", got.ID)
	}
	if got.Language != "en" {
		t.Errorf("selected story language = %s, want en", got.Language)
	}
}

func TestSelectExcludesRecentPlays(t *testing.T) {
	sel := &Selector{RecentExclude: 3}

	got, err := sel.Select(testChild(), testCatalog(), []string{"dragon"}, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.ID == "dragon" {
		t.Error("Select() should exclude recently played stories")
	}
	if got.ID != "forest" {
		t.Errorf("Select() = %s, want forest", got.ID)
	}
}

func TestSelectExclusionWindowIsBounded(t *testing.T) {
	sel := &Selector{RecentExclude: 1}

	// Only the single most recent play is excluded.
	got, err := sel.Select(testChild(), testCatalog(), []string{"dragon", "forest"}, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.ID != "forest" {
		t.Errorf("Select() = %s, want forest", got.ID)
	}
}

func TestSelectTieBreakLeastRecentlyPresented(t *testing.T) {
	sel := &Selector{RecentExclude: 0}
	now := time.Now()
	lastPlayed := map[string]time.Time{
		"dragon": now.Add(-1 * time.Hour),
		"forest": now.Add(-48 * time.Hour),
	}

	got, err := sel.Select(testChild(), testCatalog(), nil, lastPlayed)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.ID != "forest" {
		t.Errorf("Select() = %s, want forest (played longest ago)", got.ID)
	}

	// A never-played story beats any played one at equal overlap.
	delete(lastPlayed, "forest")
	got, err = sel.Select(testChild(), testCatalog(), nil, lastPlayed)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.ID != "forest" {
		t.Errorf("Select() = %s, want never-played forest", got.ID)
	}
}

func TestSelectFallbackChain(t *testing.T) {
	sel := &Selector{RecentExclude: 3}
	child := testChild()

	// No english story fits the age: falls back to age-only matching.
	child.Age = 3
	catalog := []models.Story{
		{ID: "spanish", AgeMin: 2, AgeMax: 10, Themes: []string{"magic"}, Language: "es"},
		{ID: "older", AgeMin: 7, AgeMax: 10, Themes: []string{"magic"}, Language: "en"},
	}
	got, err := sel.Select(child, catalog, nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got.ID != "spanish" {
		t.Errorf("age-only fallback = %s, want spanish", got.ID)
	}

	// Nothing fits the age at all: any story is better than none.
	child.Age = 12
	got, err = sel.Select(child, catalog, nil, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got == nil {
		t.Fatal("Select() should fall back to any story")
	}

	// Everything is recently played: repeats beat silence.
	got, err = sel.Select(child, catalog, []string{"spanish", "older"}, nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got == nil {
		t.Fatal("Select() should allow repeats as the last resort")
	}

	// Empty catalog is the only unrecoverable case.
	_, err = sel.Select(child, nil, nil, nil)
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("Select() on empty catalog error = %v, want ErrNoMatch", err)
	}
}
