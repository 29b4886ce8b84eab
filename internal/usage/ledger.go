// Package usage tracks monthly story consumption per phone number and
// answers quota questions by subscription tier.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
)

// Unlimited is returned by Remaining for tiers without a monthly cap.
const Unlimited = -1

// ErrUnavailable indicates the usage store could not be reached.
var ErrUnavailable = errors.New("usage store unavailable")

// Ledger answers quota questions and records story consumption.
type Ledger struct {
	records database.UsageRecordRepository
	quota   int // free-tier monthly allowance
	now     func() time.Time
	logger  *slog.Logger
}

// NewLedger creates a Ledger with the free-tier quota from config.
func NewLedger(records database.UsageRecordRepository, freeQuota int, logger *slog.Logger) *Ledger {
	return &Ledger{
		records: records,
		quota:   freeQuota,
		now:     time.Now,
		logger:  logger.With("subsystem", "usage"),
	}
}

// MonthKey returns the ledger bucket for a point in time, "YYYY-MM" in UTC.
// The month boundary is wall-clock at call time; callers mid-session at
// midnight on the 1st get the new month's allowance.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Remaining returns how many stories the phone number may still start this
// month. Paid tiers return Unlimited. A missing record means the full
// allowance is available.
func (l *Ledger) Remaining(ctx context.Context, phoneNumber, tier string) (int, error) {
	if tier != "" && tier != models.TierFree {
		return Unlimited, nil
	}

	rec, err := l.records.Get(ctx, phoneNumber, MonthKey(l.now()))
	if err != nil {
		l.logger.Error("usage lookup failed", "phone", phoneNumber, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	consumed := 0
	if rec != nil {
		consumed = rec.StoriesConsumed
	}
	remaining := l.quota - consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Record counts one story against the caller's current month. The eventID
// makes the operation idempotent: replaying the same event returns the
// current record without counting twice.
func (l *Ledger) Record(ctx context.Context, phoneNumber, eventID, language string) (*models.UsageRecord, error) {
	rec, applied, err := l.records.Increment(ctx, phoneNumber, MonthKey(l.now()), eventID, language)
	if err != nil {
		l.logger.Error("usage increment failed", "phone", phoneNumber, "event_id", eventID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !applied {
		l.logger.Info("duplicate usage event ignored", "phone", phoneNumber, "event_id", eventID)
	}
	return rec, nil
}
