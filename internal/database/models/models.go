package models

import "time"

// Subscription tiers. The tier gates the monthly story quota: free callers
// get a small fixed allowance, paid tiers are unlimited.
const (
	TierFree    = "free"
	TierBasic   = "basic"
	TierPremium = "premium"
	TierFamily  = "family"
)

// CallerAccount represents a family account keyed by the caller's phone
// number. A phone number maps to at most one account; accounts are created
// lazily when the first child profile is confirmed.
type CallerAccount struct {
	ID          int64
	PhoneNumber string // E.164, unique
	Tier        string
	Language    string // language tag, e.g. "en", "es"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChildProfile represents one child registered under a caller account.
type ChildProfile struct {
	ID          string // uuid
	AccountID   int64
	Name        string
	Age         int
	Interests   []string // ordered free-text tags
	Language    string
	PhoneNumber string // owning caller phone number (denormalized for lookups)
	StoryCount  int64  // lifetime stories completed
	LastStoryAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsageRecord tracks stories consumed by a phone number within one calendar
// month. Identity is the (phone number, YYYY-MM) pair; the counter only
// increases within a month and a fresh row starts each month.
type UsageRecord struct {
	PhoneNumber     string
	MonthYear       string // "2006-01"
	StoriesConsumed int
	Language        string
	UpdatedAt       time.Time
}

// Story sources.
const (
	StorySourceCatalog  = "catalog"
	StorySourceAI       = "ai"
	StorySourceTemplate = "template"
)

// Story is a playable story with targeting metadata. Catalog stories are
// read-only from the dialog engine's perspective; AI and template stories
// are generated per call and never persisted to the catalog.
type Story struct {
	ID          string // uuid
	Title       string
	Body        string
	AgeMin      int
	AgeMax      int
	Themes      []string // interest/theme tags
	Language    string
	DurationMin int // estimated minutes
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InAgeRange reports whether the story targets the given age.
func (s *Story) InAgeRange(age int) bool {
	return s.AgeMin <= age && age <= s.AgeMax
}

// StoryPlay records that a story was presented to a child, used by the
// selector to avoid immediate repeats and to break ranking ties.
type StoryPlay struct {
	ID       int64
	ChildID  string
	StoryID  string
	Title    string
	PlayedAt time.Time
}

// AdminUser represents an admin panel user for the catalog/management API.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
