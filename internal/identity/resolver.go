// Package identity resolves the calling phone number to a caller account
// and its registered child profiles.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
)

// ErrUnavailable indicates the identity store could not be reached. Callers
// treat this as a degraded-mode signal, not as an unknown caller.
var ErrUnavailable = errors.New("identity store unavailable")

// Resolution is the outcome of resolving a phone number. Known is false for
// a first-time caller; a storage failure never reaches a Resolution.
type Resolution struct {
	PhoneNumber string // canonical form
	Known       bool
	Account     *models.CallerAccount
	Children    []models.ChildProfile
}

// Resolver looks up caller accounts by canonical phone number.
type Resolver struct {
	accounts database.CallerAccountRepository
	children database.ChildProfileRepository
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(accounts database.CallerAccountRepository, children database.ChildProfileRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts: accounts,
		children: children,
		logger:   logger.With("subsystem", "identity"),
	}
}

// Resolve normalizes the raw phone number and looks up the owning account
// and child profiles. An unknown number resolves with Known=false and a nil
// error; only a storage failure produces an error, wrapping ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, rawPhone string) (Resolution, error) {
	phone := Normalize(rawPhone)
	res := Resolution{PhoneNumber: phone}

	acct, err := r.accounts.GetByPhone(ctx, phone)
	if err != nil {
		r.logger.Error("account lookup failed", "phone", phone, "error", err)
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if acct == nil {
		return res, nil
	}

	children, err := r.children.ListByPhone(ctx, phone)
	if err != nil {
		r.logger.Error("child profile lookup failed", "phone", phone, "error", err)
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res.Known = true
	res.Account = acct
	res.Children = children
	return res, nil
}

// Normalize canonicalizes a phone number so the same caller always maps to
// the same key. Formatting characters are stripped; bare 10-digit numbers
// get a +1 country code and 11-digit numbers starting with 1 get a plus.
// Anything else keeps its digits behind a plus so lookups stay consistent
// even for numbers we cannot fully canonicalize.
func Normalize(raw string) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}
