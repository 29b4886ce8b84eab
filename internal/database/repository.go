package database

import (
	"context"
	"time"

	"github.com/storylineai/storyline/internal/database/models"
)

// CallerAccountRepository manages family accounts keyed by phone number.
// Upsert is idempotent per phone number so a retried webhook never creates
// a duplicate account.
type CallerAccountRepository interface {
	Upsert(ctx context.Context, acct *models.CallerAccount) error
	GetByPhone(ctx context.Context, phoneNumber string) (*models.CallerAccount, error)
	List(ctx context.Context) ([]models.CallerAccount, error)
	SetTier(ctx context.Context, phoneNumber, tier string) error
	Count(ctx context.Context) (int64, error)
}

// ChildProfileRepository manages child profiles. Upsert is keyed by
// (account, name) so replaying a confirmation event reuses the existing
// profile instead of creating a sibling duplicate.
type ChildProfileRepository interface {
	Upsert(ctx context.Context, child *models.ChildProfile) error
	GetByID(ctx context.Context, id string) (*models.ChildProfile, error)
	ListByPhone(ctx context.Context, phoneNumber string) ([]models.ChildProfile, error)
	RecordStoryCompleted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// UsageRecordRepository manages the per-month consumption ledger.
type UsageRecordRepository interface {
	Get(ctx context.Context, phoneNumber, monthYear string) (*models.UsageRecord, error)
	// Increment adds one consumed story to the (phoneNumber, monthYear)
	// bucket unless eventID was already recorded. It returns the resulting
	// record and whether the increment was applied.
	Increment(ctx context.Context, phoneNumber, monthYear, eventID, language string) (*models.UsageRecord, bool, error)
	TotalConsumed(ctx context.Context) (int64, error)
	TotalConsumedInMonth(ctx context.Context, monthYear string) (int64, error)
}

// StoryFilter narrows catalog searches. Zero values mean "no constraint".
type StoryFilter struct {
	Age      *int
	Language string
	Theme    string
	Source   string
	Limit    int
	Offset   int
}

// StoryRepository manages the story catalog and per-child play history.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id string) (*models.Story, error)
	Search(ctx context.Context, filter StoryFilter) ([]models.Story, error)
	ListByLanguage(ctx context.Context, language string) ([]models.Story, error)
	Update(ctx context.Context, story *models.Story) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)

	RecordPlay(ctx context.Context, childID, storyID, title string) error
	RecentPlayIDs(ctx context.Context, childID string, limit int) ([]string, error)
	LastPlayedByChild(ctx context.Context, childID string) (map[string]time.Time, error)
}

// AdminUserRepository manages admin panel users.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Count(ctx context.Context) (int64, error)
}
