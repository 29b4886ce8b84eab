package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/storylineai/storyline/internal/database/models"
)

type fakeAccountRepo struct {
	accounts map[string]*models.CallerAccount
	err      error
}

func (f *fakeAccountRepo) Upsert(ctx context.Context, acct *models.CallerAccount) error {
	return nil
}

func (f *fakeAccountRepo) GetByPhone(ctx context.Context, phone string) (*models.CallerAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[phone], nil
}

func (f *fakeAccountRepo) List(ctx context.Context) ([]models.CallerAccount, error) { return nil, nil }
func (f *fakeAccountRepo) SetTier(ctx context.Context, phone, tier string) error    { return nil }
func (f *fakeAccountRepo) Count(ctx context.Context) (int64, error)                 { return 0, nil }

type fakeChildRepo struct {
	byPhone map[string][]models.ChildProfile
	err     error
}

func (f *fakeChildRepo) Upsert(ctx context.Context, child *models.ChildProfile) error { return nil }
func (f *fakeChildRepo) GetByID(ctx context.Context, id string) (*models.ChildProfile, error) {
	return nil, nil
}

func (f *fakeChildRepo) ListByPhone(ctx context.Context, phone string) ([]models.ChildProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byPhone[phone], nil
}

func (f *fakeChildRepo) RecordStoryCompleted(ctx context.Context, id string) error { return nil }
func (f *fakeChildRepo) Delete(ctx context.Context, id string) error               { return nil }
func (f *fakeChildRepo) Count(ctx context.Context) (int64, error)                  { return 0, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"5551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"555.123.4567", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
		{"ext", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveKnownCaller(t *testing.T) {
	acct := &models.CallerAccount{ID: 1, PhoneNumber: "+15551234567", Tier: models.TierFree}
	resolver := NewResolver(
		&fakeAccountRepo{accounts: map[string]*models.CallerAccount{"+15551234567": acct}},
		&fakeChildRepo{byPhone: map[string][]models.ChildProfile{
			"+15551234567": {{ID: "c1", Name: "emma", Age: 6}},
		}},
		testLogger(),
	)

	// Formatting variants of the same number must resolve identically.
	for _, raw := range []string{"+15551234567", "(555) 123-4567", "15551234567"} {
		res, err := resolver.Resolve(context.Background(), raw)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", raw, err)
		}
		if !res.Known {
			t.Errorf("Resolve(%q) Known = false, want true", raw)
		}
		if res.PhoneNumber != "+15551234567" {
			t.Errorf("Resolve(%q) PhoneNumber = %q", raw, res.PhoneNumber)
		}
		if len(res.Children) != 1 || res.Children[0].Name != "emma" {
			t.Errorf("Resolve(%q) Children = %v", raw, res.Children)
		}
	}
}

func TestResolveUnknownCaller(t *testing.T) {
	resolver := NewResolver(&fakeAccountRepo{}, &fakeChildRepo{}, testLogger())

	res, err := resolver.Resolve(context.Background(), "+15550000000")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Known {
		t.Error("unknown caller should resolve with Known=false")
	}
	if res.Account != nil || len(res.Children) != 0 {
		t.Error("unknown caller should have no account or children")
	}
}

func TestResolveStorageFailure(t *testing.T) {
	storeErr := errors.New("disk on fire")
	resolver := NewResolver(&fakeAccountRepo{err: storeErr}, &fakeChildRepo{}, testLogger())

	_, err := resolver.Resolve(context.Background(), "+15551234567")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrUnavailable", err)
	}
}

func TestResolveChildLookupFailure(t *testing.T) {
	acct := &models.CallerAccount{ID: 1, PhoneNumber: "+15551234567"}
	resolver := NewResolver(
		&fakeAccountRepo{accounts: map[string]*models.CallerAccount{"+15551234567": acct}},
		&fakeChildRepo{err: errors.New("timeout")},
		testLogger(),
	)

	_, err := resolver.Resolve(context.Background(), "+15551234567")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrUnavailable", err)
	}
}
