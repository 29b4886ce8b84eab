package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/storylineai/storyline/internal/database/models"
	"github.com/storylineai/storyline/internal/identity"
	"github.com/storylineai/storyline/internal/session"
)

type fakeResolver struct {
	resolutions map[string]identity.Resolution
	err         error
}

func (f *fakeResolver) Resolve(ctx context.Context, rawPhone string) (identity.Resolution, error) {
	if f.err != nil {
		return identity.Resolution{}, f.err
	}
	phone := identity.Normalize(rawPhone)
	if res, ok := f.resolutions[phone]; ok {
		return res, nil
	}
	return identity.Resolution{PhoneNumber: phone}, nil
}

type fakeLedger struct {
	remaining int
	unlimited bool
	events    map[string]bool
	recorded  int
	err       error
}

func newFakeLedger(remaining int) *fakeLedger {
	return &fakeLedger{remaining: remaining, events: make(map[string]bool)}
}

func (f *fakeLedger) Remaining(ctx context.Context, phone, tier string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.unlimited {
		return -1, nil
	}
	return f.remaining, nil
}

func (f *fakeLedger) Record(ctx context.Context, phone, eventID, language string) (*models.UsageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.events[eventID] {
		f.events[eventID] = true
		f.recorded++
		f.remaining--
	}
	return &models.UsageRecord{PhoneNumber: phone, StoriesConsumed: f.recorded}, nil
}

type fakeStories struct {
	story  *models.Story
	played []string
}

func (f *fakeStories) PickForChild(ctx context.Context, child *models.ChildProfile) *models.Story {
	return f.story
}

func (f *fakeStories) RecordPlayed(ctx context.Context, childID string, st *models.Story) {
	f.played = append(f.played, st.ID)
}

type fakeAccountRepo struct {
	upserts int
	byPhone map[string]*models.CallerAccount
}

func (f *fakeAccountRepo) Upsert(ctx context.Context, acct *models.CallerAccount) error {
	f.upserts++
	if f.byPhone == nil {
		f.byPhone = make(map[string]*models.CallerAccount)
	}
	if existing, ok := f.byPhone[acct.PhoneNumber]; ok {
		acct.ID = existing.ID
		return nil
	}
	acct.ID = int64(len(f.byPhone) + 1)
	if acct.Tier == "" {
		acct.Tier = models.TierFree
	}
	cp := *acct
	f.byPhone[acct.PhoneNumber] = &cp
	return nil
}

func (f *fakeAccountRepo) GetByPhone(ctx context.Context, phone string) (*models.CallerAccount, error) {
	return f.byPhone[phone], nil
}
func (f *fakeAccountRepo) List(ctx context.Context) ([]models.CallerAccount, error) { return nil, nil }
func (f *fakeAccountRepo) SetTier(ctx context.Context, phone, tier string) error    { return nil }
func (f *fakeAccountRepo) Count(ctx context.Context) (int64, error)                 { return 0, nil }

type fakeChildRepo struct {
	profiles  map[string]*models.ChildProfile // key: accountID|name
	completed map[string]int
	upsertErr error
}

func newFakeChildRepo() *fakeChildRepo {
	return &fakeChildRepo{
		profiles:  make(map[string]*models.ChildProfile),
		completed: make(map[string]int),
	}
}

func (f *fakeChildRepo) Upsert(ctx context.Context, child *models.ChildProfile) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	key := child.Name
	if existing, ok := f.profiles[key]; ok {
		child.ID = existing.ID
		existing.Age = child.Age
		existing.Interests = child.Interests
		return nil
	}
	child.ID = "child-" + child.Name
	cp := *child
	f.profiles[key] = &cp
	return nil
}

func (f *fakeChildRepo) GetByID(ctx context.Context, id string) (*models.ChildProfile, error) {
	return nil, nil
}

func (f *fakeChildRepo) ListByPhone(ctx context.Context, phone string) ([]models.ChildProfile, error) {
	return nil, nil
}

func (f *fakeChildRepo) RecordStoryCompleted(ctx context.Context, id string) error {
	f.completed[id]++
	return nil
}
func (f *fakeChildRepo) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeChildRepo) Count(ctx context.Context) (int64, error)    { return 0, nil }

type testEnv struct {
	engine   *Engine
	store    *session.MemoryStore
	resolver *fakeResolver
	ledger   *fakeLedger
	stories  *fakeStories
	accounts *fakeAccountRepo
	children *fakeChildRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    session.NewMemoryStore(5 * time.Minute),
		resolver: &fakeResolver{resolutions: make(map[string]identity.Resolution)},
		ledger:   newFakeLedger(3),
		stories: &fakeStories{story: &models.Story{
			ID: "forest", Title: "The Magic Forest", Body: "Once upon a time...",
			AgeMin: 2, AgeMax: 8, Language: "en",
		}},
		accounts: &fakeAccountRepo{},
		children: newFakeChildRepo(),
	}
	t.Cleanup(func() { env.store.Close() })

	env.engine = NewEngine(
		Config{
			MaxRetries:      2,
			FreeQuota:       3,
			MinAge:          2,
			MaxAge:          12,
			DefaultLanguage: "en",
			TurnTimeoutSec:  10,
		},
		env.store, env.resolver, env.ledger, env.stories,
		env.accounts, env.children,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return env
}

func (env *testEnv) addKnownCaller(phone, childName string, age int) {
	acct := &models.CallerAccount{ID: 1, PhoneNumber: phone, Tier: models.TierFree, Language: "en"}
	env.resolver.resolutions[phone] = identity.Resolution{
		PhoneNumber: phone,
		Known:       true,
		Account:     acct,
		Children: []models.ChildProfile{
			{ID: "child-1", AccountID: 1, Name: childName, Age: age, PhoneNumber: phone},
		},
	}
}

func callStart(phone string) InputEvent {
	return InputEvent{Type: EventCallStart, From: phone}
}

func digits(d string) InputEvent { return InputEvent{Type: EventDigits, Digits: d} }
func speech(s string) InputEvent { return InputEvent{Type: EventSpeech, Speech: s} }

// Scenario A: a new caller registers Emma, age "six", interest "unicorns",
// confirms, and is offered an age-appropriate story.
func TestNewCallerRegistrationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	callID := "CA-scenario-a"
	phone := "+15551234567"

	resp := env.engine.ReceiveTurn(ctx, callID, callStart(phone))
	if !strings.Contains(resp.PromptText, "press 1") {
		t.Fatalf("greeting should offer language selection, got %q", resp.PromptText)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, digits("1")) // English
	if resp.ExpectedInput.Mode != InputSpeech {
		t.Fatalf("name question should gather speech, got %q", resp.ExpectedInput.Mode)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, speech("Emma"))
	if !strings.Contains(resp.PromptText, "Emma") {
		t.Fatalf("age question should address Emma, got %q", resp.PromptText)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, speech("she is six years old"))
	if !strings.Contains(resp.PromptText, "love") {
		t.Fatalf("expected interests question, got %q", resp.PromptText)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, speech("unicorns"))
	if !strings.Contains(resp.PromptText, "unicorns") || !strings.Contains(resp.PromptText, "6") {
		t.Fatalf("confirmation should recap age and interests, got %q", resp.PromptText)
	}

	// Nothing is persisted before explicit confirmation.
	if env.accounts.upserts != 0 || len(env.children.profiles) != 0 {
		t.Fatal("no profile may be saved before confirmation")
	}

	resp = env.engine.ReceiveTurn(ctx, callID, digits("1")) // confirm
	if len(env.children.profiles) != 1 {
		t.Fatal("confirmed profile should be persisted")
	}
	saved := env.children.profiles["Emma"]
	if saved.Age != 6 {
		t.Errorf("saved age = %d, want 6", saved.Age)
	}
	if len(saved.Interests) != 1 || saved.Interests[0] != "unicorns" {
		t.Errorf("saved interests = %v, want [unicorns]", saved.Interests)
	}

	// Same turn traverses the quota check into the story offer.
	if !strings.Contains(resp.PromptText, "The Magic Forest") {
		t.Fatalf("expected a story offer, got %q", resp.PromptText)
	}
	if resp.ShouldEndCall {
		t.Error("story offer should keep the call open")
	}
}

// Scenario B: a returning caller with an exhausted quota is routed to the
// upgrade prompt and out, with zero additional usage recorded.
func TestQuotaExceededFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	env.ledger.remaining = 0
	ctx := context.Background()
	callID := "CA-scenario-b"

	resp := env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	if !strings.Contains(resp.PromptText, "Leo") {
		t.Fatalf("known caller should be welcomed back, got %q", resp.PromptText)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, digits("1")) // yes, it's Leo
	if !strings.Contains(resp.PromptText, "3 free stories") {
		t.Fatalf("expected upgrade prompt, got %q", resp.PromptText)
	}
	if resp.ShouldEndCall {
		t.Fatal("upgrade prompt should wait for input")
	}

	resp = env.engine.ReceiveTurn(ctx, callID, digits("2")) // wait for next month
	if !resp.ShouldEndCall {
		t.Error("upgrade prompt answer should end the call")
	}
	if env.ledger.recorded != 0 {
		t.Errorf("recorded usage = %d, want 0", env.ledger.recorded)
	}

	// The session is gone after End.
	sess, _ := env.store.Get(ctx, callID)
	if sess != nil {
		t.Error("session should be deleted after End")
	}
}

// Scenario C: a hangup mid-playing leaves the single start-time consumption
// in place, triggers no completed transition, and never updates the
// profile's story counters.
func TestHangupMidPlaying(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-scenario-c"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1")) // yes, it's Leo

	resp := env.engine.ReceiveTurn(ctx, callID, digits("1")) // start the story
	if resp.StoryBody == "" {
		t.Fatal("accepting the offer should start playback")
	}
	if env.ledger.recorded != 1 {
		t.Fatalf("usage at start = %d, want 1", env.ledger.recorded)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, InputEvent{Type: EventHangup})
	if !resp.ShouldEndCall {
		t.Error("hangup should end the call")
	}
	if env.ledger.recorded != 1 {
		t.Errorf("usage after hangup = %d, want 1 (unchanged)", env.ledger.recorded)
	}
	if env.children.completed["child-1"] != 0 {
		t.Error("hangup mid-playing must not record a completion")
	}

	sess, _ := env.store.Get(ctx, callID)
	if sess != nil {
		t.Error("session should be deleted on hangup")
	}
}

func TestCompletedFlowUpdatesProfile(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-complete"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))

	resp := env.engine.ReceiveTurn(ctx, callID, InputEvent{Type: EventPlaybackDone})
	if !resp.ShouldEndCall {
		t.Error("playback finished should end the call")
	}
	if !strings.Contains(resp.PromptText, "Sweet dreams") {
		t.Errorf("expected goodnight, got %q", resp.PromptText)
	}
	if env.children.completed["child-1"] != 1 {
		t.Errorf("completions = %d, want 1", env.children.completed["child-1"])
	}
	if len(env.stories.played) != 1 {
		t.Errorf("play history entries = %d, want 1", len(env.stories.played))
	}
}

// A stale no-input timeout delivered during playback is stray input: the
// story keeps playing, no completion is recorded, and the call stays open.
func TestTimeoutMidPlayingDoesNotComplete(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-stale-timeout"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1")) // yes, it's Leo
	env.engine.ReceiveTurn(ctx, callID, digits("1")) // start the story

	resp := env.engine.ReceiveTurn(ctx, callID, InputEvent{Type: EventTimeout})
	if resp.ShouldEndCall {
		t.Fatal("timeout during playback must not end the call")
	}
	if strings.Contains(resp.PromptText, "Sweet dreams") {
		t.Errorf("timeout must not trigger the goodnight, got %q", resp.PromptText)
	}
	if env.children.completed["child-1"] != 0 {
		t.Errorf("completions after timeout = %d, want 0", env.children.completed["child-1"])
	}
	sess, _ := env.store.Get(ctx, callID)
	if sess == nil {
		t.Fatal("session should survive a timeout during playback")
	}

	// The real playback-finished signal still completes normally.
	resp = env.engine.ReceiveTurn(ctx, callID, InputEvent{Type: EventPlaybackDone})
	if !resp.ShouldEndCall {
		t.Error("playback finished should end the call")
	}
	if env.children.completed["child-1"] != 1 {
		t.Errorf("completions = %d, want 1", env.children.completed["child-1"])
	}
}

// A fumbled answer at the story offer re-prompts with the same free-tier
// balance the first offer carried.
func TestOfferRetryKeepsQuotaWording(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-offer-retry"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	resp := env.engine.ReceiveTurn(ctx, callID, digits("1")) // yes, it's Leo
	if !strings.Contains(resp.PromptText, "3 free stories left") {
		t.Fatalf("offer should state the balance, got %q", resp.PromptText)
	}

	resp = env.engine.ReceiveTurn(ctx, callID, digits("9"))
	if resp.ShouldEndCall {
		t.Fatal("one bad answer at the offer should keep the call open")
	}
	if !strings.Contains(resp.PromptText, "3 free stories left") {
		t.Errorf("offer retry lost the balance wording, got %q", resp.PromptText)
	}
}

func TestDecliningOfferRecordsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-decline"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))

	resp := env.engine.ReceiveTurn(ctx, callID, digits("2")) // no story tonight
	if !resp.ShouldEndCall {
		t.Error("declining should end the call")
	}
	if env.ledger.recorded != 0 {
		t.Errorf("recorded usage = %d, want 0", env.ledger.recorded)
	}
}

func TestAgeRetryDegradesToDigits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	callID := "CA-degrade"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))
	env.engine.ReceiveTurn(ctx, callID, speech("Emma"))

	// Burn through the speech retries with garbage.
	env.engine.ReceiveTurn(ctx, callID, speech("mumble"))
	env.engine.ReceiveTurn(ctx, callID, speech("static"))
	resp := env.engine.ReceiveTurn(ctx, callID, speech("more static"))
	if resp.ExpectedInput.Mode != InputDigits {
		t.Fatalf("after retry exhaustion input mode = %q, want digits", resp.ExpectedInput.Mode)
	}
	if resp.ShouldEndCall {
		t.Fatal("degradation should keep the call alive")
	}

	// Keypad input now succeeds.
	resp = env.engine.ReceiveTurn(ctx, callID, digits("6"))
	if !strings.Contains(resp.PromptText, "love") {
		t.Fatalf("expected interests question after keypad age, got %q", resp.PromptText)
	}
}

func TestRetryExhaustionApologizes(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-retries"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))

	// Three invalid answers to the yes/no question exhaust two retries.
	env.engine.ReceiveTurn(ctx, callID, digits("9"))
	env.engine.ReceiveTurn(ctx, callID, InputEvent{Type: EventTimeout})
	resp := env.engine.ReceiveTurn(ctx, callID, digits("9"))
	if !resp.ShouldEndCall {
		t.Error("exhausted retries should end the call")
	}
	if !strings.Contains(resp.PromptText, "sorry") && !strings.Contains(resp.PromptText, "I'm sorry") {
		t.Errorf("expected apology, got %q", resp.PromptText)
	}
}

func TestUnknownCallIDStartsFreshGreeting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A mid-call event for a call id with no session must not crash; it
	// restarts from the greeting.
	resp := env.engine.ReceiveTurn(ctx, "CA-lost", digits("1"))
	if resp.ShouldEndCall {
		t.Error("unknown call id should restart, not end")
	}
	if resp.PromptText == "" {
		t.Error("restart must produce a prompt")
	}
}

func TestReplayedEventIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	ctx := context.Background()
	callID := "CA-replay"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))

	accept := InputEvent{Type: EventDigits, Digits: "1", ID: "evt-accept"}
	first := env.engine.ReceiveTurn(ctx, callID, accept)
	replay := env.engine.ReceiveTurn(ctx, callID, accept)

	if first.StoryBody != replay.StoryBody || first.PromptText != replay.PromptText {
		t.Error("replayed event should return the identical response")
	}
	if env.ledger.recorded != 1 {
		t.Errorf("usage after replay = %d, want 1", env.ledger.recorded)
	}
	if len(env.stories.played) != 1 {
		t.Errorf("play history after replay = %d entries, want 1", len(env.stories.played))
	}
}

func TestReplayedConfirmationCreatesNoDuplicateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	callID := "CA-replay-confirm"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	env.engine.ReceiveTurn(ctx, callID, digits("1"))
	env.engine.ReceiveTurn(ctx, callID, speech("Emma"))
	env.engine.ReceiveTurn(ctx, callID, speech("six"))
	env.engine.ReceiveTurn(ctx, callID, speech("unicorns"))

	confirm := InputEvent{Type: EventDigits, Digits: "1", ID: "evt-confirm"}
	env.engine.ReceiveTurn(ctx, callID, confirm)
	env.engine.ReceiveTurn(ctx, callID, confirm)

	if len(env.children.profiles) != 1 {
		t.Errorf("profiles = %d, want 1", len(env.children.profiles))
	}
}

func TestResolverUnavailableApologizes(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.err = identity.ErrUnavailable
	ctx := context.Background()

	resp := env.engine.ReceiveTurn(ctx, "CA-outage", callStart("+15551234567"))
	if !resp.ShouldEndCall {
		t.Error("storage outage should end the call")
	}
	if resp.PromptText == "" {
		t.Error("outage must still produce a spoken apology")
	}
}

func TestLedgerFailureApologizes(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	env.ledger.err = errors.New("ledger down")
	ctx := context.Background()
	callID := "CA-ledger-down"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	resp := env.engine.ReceiveTurn(ctx, callID, digits("1"))
	if !resp.ShouldEndCall || resp.PromptText == "" {
		t.Error("quota failure must end with a spoken apology")
	}
}

func TestUnlimitedTierSkipsQuotaWording(t *testing.T) {
	env := newTestEnv(t)
	env.addKnownCaller("+15551234567", "Leo", 5)
	env.ledger.unlimited = true
	ctx := context.Background()
	callID := "CA-premium"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	resp := env.engine.ReceiveTurn(ctx, callID, digits("1"))
	if strings.Contains(resp.PromptText, "left this month") {
		t.Errorf("unlimited tier should not hear a quota count, got %q", resp.PromptText)
	}
	if !strings.Contains(resp.PromptText, "The Magic Forest") {
		t.Errorf("expected story offer, got %q", resp.PromptText)
	}
}

func TestSpanishRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	callID := "CA-es"

	env.engine.ReceiveTurn(ctx, callID, callStart("+15551234567"))
	resp := env.engine.ReceiveTurn(ctx, callID, digits("2")) // Español
	if !strings.Contains(resp.PromptText, "nino") {
		t.Fatalf("expected Spanish name prompt, got %q", resp.PromptText)
	}

	env.engine.ReceiveTurn(ctx, callID, speech("Sofia"))
	resp = env.engine.ReceiveTurn(ctx, callID, speech("tiene cinco anos"))
	if !strings.Contains(resp.PromptText, "Sofia") {
		t.Fatalf("Spanish age word should parse, got %q", resp.PromptText)
	}
}
