package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
	"github.com/storylineai/storyline/internal/identity"
	"github.com/storylineai/storyline/internal/session"
)

// Identity resolves the calling phone number.
type Identity interface {
	Resolve(ctx context.Context, rawPhone string) (identity.Resolution, error)
}

// Ledger answers quota questions and records consumption. Remaining returns
// a negative value for unlimited tiers.
type Ledger interface {
	Remaining(ctx context.Context, phoneNumber, tier string) (int, error)
	Record(ctx context.Context, phoneNumber, eventID, language string) (*models.UsageRecord, error)
}

// Stories picks the story to play and tracks play history.
type Stories interface {
	PickForChild(ctx context.Context, child *models.ChildProfile) *models.Story
	RecordPlayed(ctx context.Context, childID string, st *models.Story)
}

// Config holds the engine's tunable behavior.
type Config struct {
	MaxRetries      int // re-prompts per question before degrading or apologizing
	FreeQuota       int // free-tier monthly allowance, for prompt wording
	MinAge          int
	MaxAge          int
	DefaultLanguage string
	TurnTimeoutSec  int
}

// Engine is the dialog state machine. ReceiveTurn is its single entry
// point; every webhook funnels through it.
type Engine struct {
	cfg      Config
	store    session.Store
	resolver Identity
	ledger   Ledger
	stories  Stories
	accounts database.CallerAccountRepository
	children database.ChildProfileRepository
	logger   *slog.Logger
}

// NewEngine creates a dialog engine.
func NewEngine(
	cfg Config,
	store session.Store,
	resolver Identity,
	ledger Ledger,
	stories Stories,
	accounts database.CallerAccountRepository,
	children database.ChildProfileRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		stories:  stories,
		accounts: accounts,
		children: children,
		logger:   logger.With("subsystem", "dialog"),
	}
}

// ReceiveTurn processes one input event for a call and returns the next
// prompt. It never fails: internal errors become a spoken apology with a
// clean hangup. Events for one call ID are serialized; an unknown call ID
// starts a fresh greeting. Replaying the last processed event returns the
// same response without re-running its transition.
func (e *Engine) ReceiveTurn(ctx context.Context, callID string, ev InputEvent) TurnResponse {
	unlock, err := e.store.Lock(ctx, callID)
	if err != nil {
		e.logger.Error("session lock failed", "call_id", callID, "error", err)
		return e.apologyResponse(e.cfg.DefaultLanguage)
	}
	defer unlock()

	sess, err := e.store.Get(ctx, callID)
	if err != nil {
		e.logger.Error("session load failed", "call_id", callID, "error", err)
		return e.apologyResponse(e.cfg.DefaultLanguage)
	}
	if sess == nil {
		sess = &session.Session{
			CallID:   callID,
			State:    StateGreeting,
			Language: e.cfg.DefaultLanguage,
		}
	}
	if ev.From != "" && sess.PhoneNumber == "" {
		sess.PhoneNumber = identity.Normalize(ev.From)
	}

	// A hangup is terminal from any state and idempotent if received twice.
	if ev.Type == EventHangup {
		if err := e.store.Delete(ctx, callID); err != nil {
			e.logger.Error("session delete failed", "call_id", callID, "error", err)
		}
		e.logger.Info("call ended by hangup", "call_id", callID, "state", sess.State)
		return TurnResponse{ShouldEndCall: true, ExpectedInput: InputSpec{Mode: InputNone}}
	}

	// Replay of the last processed event returns the cached response.
	key := ev.Key()
	if sess.LastEventKey == key && len(sess.LastResponse) > 0 {
		var cached TurnResponse
		if err := json.Unmarshal(sess.LastResponse, &cached); err == nil {
			e.logger.Info("replayed event", "call_id", callID, "event", key)
			return cached
		}
	}

	sess.Turns++
	resp := e.handle(ctx, sess, ev)

	sess.LastEventKey = key
	if data, err := json.Marshal(resp); err == nil {
		sess.LastResponse = data
	}

	if sess.State == StateEnd {
		if err := e.store.Delete(ctx, callID); err != nil {
			e.logger.Error("session delete failed", "call_id", callID, "error", err)
		}
	} else if err := e.store.Put(ctx, sess); err != nil {
		e.logger.Error("session save failed", "call_id", callID, "error", err)
		return e.apologyResponse(sess.Language)
	}
	return resp
}

func (e *Engine) handle(ctx context.Context, sess *session.Session, ev InputEvent) TurnResponse {
	switch sess.State {
	case StateGreeting:
		return e.handleGreeting(ctx, sess)
	case StateWelcomeBack:
		return e.handleWelcomeBack(ctx, sess, ev)
	case StateRegisterLanguage:
		return e.handleRegisterLanguage(sess, ev)
	case StateRegisterName:
		return e.handleRegisterName(sess, ev)
	case StateRegisterAge:
		return e.handleRegisterAge(sess, ev)
	case StateRegisterInterests:
		return e.handleRegisterInterests(sess, ev)
	case StateConfirmProfile:
		return e.handleConfirmProfile(ctx, sess, ev)
	case StateOfferStory:
		return e.handleOfferStory(ctx, sess, ev)
	case StatePlaying:
		return e.handlePlaying(ctx, sess, ev)
	case StateUpgradePrompt:
		return e.handleUpgradePrompt(sess, ev)
	default:
		e.logger.Error("unknown dialog state", "call_id", sess.CallID, "state", sess.State)
		return e.endWithApology(sess)
	}
}

// handleGreeting resolves the caller and routes to welcome-back or
// registration.
func (e *Engine) handleGreeting(ctx context.Context, sess *session.Session) TurnResponse {
	res, err := e.resolver.Resolve(ctx, sess.PhoneNumber)
	if err != nil {
		e.logger.Error("identity resolution failed", "call_id", sess.CallID, "error", err)
		return e.endWithApology(sess)
	}
	sess.PhoneNumber = res.PhoneNumber

	if res.Known && len(res.Children) > 0 {
		sess.Known = true
		sess.AccountID = res.Account.ID
		sess.Tier = res.Account.Tier
		sess.Language = res.Account.Language
		// Greet the most recently registered child by default.
		child := res.Children[0]
		sess.ChildID = child.ID
		sess.ChildName = child.Name
		sess.ChildAge = child.Age
		sess.Interests = child.Interests

		sess.State = StateWelcomeBack
		sess.Retries = 0
		return e.say(sess, prompt(sess.Language, promptWelcomeBack, child.Name), e.digitSpec(1))
	}

	sess.State = StateRegisterLanguage
	sess.Retries = 0
	return e.say(sess, prompt(sess.Language, promptLanguageSelect), e.digitSpec(1))
}

func (e *Engine) handleWelcomeBack(ctx context.Context, sess *session.Session, ev InputEvent) TurnResponse {
	switch digitsOf(ev) {
	case "1":
		sess.Retries = 0
		return e.quotaCheck(ctx, sess)
	case "2":
		return e.startRegistration(sess)
	default:
		return e.retry(sess, prompt(sess.Language, promptWelcomeBack, sess.ChildName), e.digitSpec(1))
	}
}

func (e *Engine) handleRegisterLanguage(sess *session.Session, ev InputEvent) TurnResponse {
	switch digitsOf(ev) {
	case "1":
		sess.Language = "en"
	case "2":
		sess.Language = "es"
	default:
		return e.retry(sess, prompt(sess.Language, promptLanguageSelect), e.digitSpec(1))
	}
	sess.State = StateRegisterName
	sess.Retries = 0
	return e.say(sess, prompt(sess.Language, promptAskName), e.speechSpec())
}

func (e *Engine) handleRegisterName(sess *session.Session, ev InputEvent) TurnResponse {
	name, ok := "", false
	if ev.Type == EventSpeech {
		name, ok = parseName(ev.Speech)
	}
	if !ok {
		return e.retry(sess, prompt(sess.Language, promptAskNameRetry), e.speechSpec())
	}

	sess.ChildName = name
	sess.State = StateRegisterAge
	sess.Retries = 0
	sess.Degraded = false
	return e.say(sess, prompt(sess.Language, promptAskAge, name, name), e.speechSpec())
}

// handleRegisterAge accepts spoken ages first and falls back to a
// digits-only prompt when speech keeps failing.
func (e *Engine) handleRegisterAge(sess *session.Session, ev InputEvent) TurnResponse {
	age, ok := 0, false
	if sess.Degraded {
		if ev.Type == EventDigits {
			age, ok = parseDigitAge(ev.Digits)
		}
	} else if ev.Type == EventSpeech {
		age, ok = parseAge(ev.Speech)
	}

	if ok && e.cfg.MinAge <= age && age <= e.cfg.MaxAge {
		sess.ChildAge = age
		sess.State = StateRegisterInterests
		sess.Retries = 0
		return e.say(sess, prompt(sess.Language, promptAskInterests, sess.ChildName), e.speechSpec())
	}

	if sess.Degraded {
		return e.retry(sess, prompt(sess.Language, promptAskAgeDigits), e.digitSpec(2))
	}

	sess.Retries++
	if sess.Retries > e.cfg.MaxRetries {
		// Speech keeps failing: degrade to the keypad.
		sess.Degraded = true
		sess.Retries = 0
		return e.say(sess, prompt(sess.Language, promptAskAgeDigits), e.digitSpec(2))
	}
	return e.say(sess, prompt(sess.Language, promptAskAgeRetry), e.speechSpec())
}

func (e *Engine) handleRegisterInterests(sess *session.Session, ev InputEvent) TurnResponse {
	if ev.Type != EventSpeech {
		return e.retry(sess, prompt(sess.Language, promptAskInterests, sess.ChildName), e.speechSpec())
	}

	sess.Interests = parseInterests(ev.Speech)
	sess.State = StateConfirmProfile
	sess.Retries = 0
	return e.say(sess, prompt(sess.Language, promptConfirmProfile,
		sess.ChildName, sess.ChildAge, strings.Join(sess.Interests, ", ")), e.digitSpec(1))
}

// handleConfirmProfile persists the account and profile on explicit
// confirmation. Nothing is durably saved before this point, so abandoned
// registrations leave no half-profiles behind.
func (e *Engine) handleConfirmProfile(ctx context.Context, sess *session.Session, ev InputEvent) TurnResponse {
	switch digitsOf(ev) {
	case "1":
		acct := &models.CallerAccount{
			PhoneNumber: sess.PhoneNumber,
			Tier:        sess.Tier,
			Language:    sess.Language,
		}
		if err := e.accounts.Upsert(ctx, acct); err != nil {
			e.logger.Error("account persist failed", "call_id", sess.CallID, "error", err)
			return e.endWithApology(sess)
		}

		child := &models.ChildProfile{
			AccountID:   acct.ID,
			Name:        sess.ChildName,
			Age:         sess.ChildAge,
			Interests:   sess.Interests,
			Language:    sess.Language,
			PhoneNumber: sess.PhoneNumber,
		}
		if err := e.children.Upsert(ctx, child); err != nil {
			e.logger.Error("profile persist failed", "call_id", sess.CallID, "error", err)
			return e.endWithApology(sess)
		}

		sess.Known = true
		sess.AccountID = acct.ID
		sess.Tier = acct.Tier
		sess.ChildID = child.ID
		sess.Retries = 0
		e.logger.Info("profile registered", "call_id", sess.CallID,
			"child_id", child.ID, "age", child.Age)
		return e.quotaCheck(ctx, sess)
	case "2":
		return e.startRegistration(sess)
	default:
		return e.retry(sess, prompt(sess.Language, promptConfirmProfile,
			sess.ChildName, sess.ChildAge, strings.Join(sess.Interests, ", ")), e.digitSpec(1))
	}
}

// quotaCheck is a transient state traversed without caller input: it routes
// to the story offer or the upgrade prompt within the same turn.
func (e *Engine) quotaCheck(ctx context.Context, sess *session.Session) TurnResponse {
	remaining, err := e.ledger.Remaining(ctx, sess.PhoneNumber, sess.Tier)
	if err != nil {
		e.logger.Error("quota check failed", "call_id", sess.CallID, "error", err)
		return e.endWithApology(sess)
	}

	if remaining == 0 {
		sess.State = StateUpgradePrompt
		sess.Retries = 0
		e.logger.Info("quota exceeded", "call_id", sess.CallID, "phone", sess.PhoneNumber)
		return e.say(sess, prompt(sess.Language, promptQuotaExceeded, e.cfg.FreeQuota), e.digitSpec(1))
	}

	st := e.stories.PickForChild(ctx, e.sessionChild(sess))
	if st == nil {
		e.logger.Error("no story available", "call_id", sess.CallID)
		return e.endWithApology(sess)
	}
	sess.StoryID = st.ID
	sess.StoryTitle = st.Title
	sess.StoryBody = st.Body
	sess.Remaining = remaining
	sess.State = StateOfferStory
	sess.Retries = 0
	return e.say(sess, e.offerPrompt(sess), e.digitSpec(1))
}

// handleOfferStory starts playback on acceptance. Consumption is recorded
// here, at confirmed start, keyed by (call, story) so a replayed accept
// never double-counts; a later mid-story hangup does not uncount it.
func (e *Engine) handleOfferStory(ctx context.Context, sess *session.Session, ev InputEvent) TurnResponse {
	switch digitsOf(ev) {
	case "1":
		eventID := fmt.Sprintf("%s:%s", sess.CallID, sess.StoryID)
		if _, err := e.ledger.Record(ctx, sess.PhoneNumber, eventID, sess.Language); err != nil {
			e.logger.Error("recording consumption failed", "call_id", sess.CallID, "error", err)
			return e.endWithApology(sess)
		}
		if sess.ChildID != "" {
			e.stories.RecordPlayed(ctx, sess.ChildID, &models.Story{ID: sess.StoryID, Title: sess.StoryTitle})
		}

		sess.State = StatePlaying
		sess.Retries = 0
		e.logger.Info("story started", "call_id", sess.CallID, "story_id", sess.StoryID)
		return TurnResponse{
			PromptText:    prompt(sess.Language, promptStoryIntro),
			StoryBody:     sess.StoryBody,
			Audio:         audioFor(sess.Language),
			ExpectedInput: InputSpec{Mode: InputNone},
		}
	case "2":
		return e.endCall(sess, prompt(sess.Language, promptDecline))
	default:
		return e.retry(sess, e.offerPrompt(sess), e.digitSpec(1))
	}
}

// offerPrompt renders the story offer, including the free-tier balance
// when one applies.
func (e *Engine) offerPrompt(sess *session.Session) string {
	if sess.Remaining < 0 {
		return prompt(sess.Language, promptOfferUnlimited, sess.ChildName, sess.StoryTitle)
	}
	return prompt(sess.Language, promptOfferStory, sess.ChildName, sess.StoryTitle, sess.Remaining)
}

// handlePlaying waits for the transport's playback-finished signal. The
// completed transition happens only on that signal; a dropped call never
// reaches it, and a stale no-input timeout delivered out of order must not
// fake a completion either.
func (e *Engine) handlePlaying(ctx context.Context, sess *session.Session, ev InputEvent) TurnResponse {
	switch ev.Type {
	case EventPlaybackDone:
		if sess.ChildID != "" {
			if err := e.children.RecordStoryCompleted(ctx, sess.ChildID); err != nil {
				// The story was already delivered; a failed counter update
				// should not spoil the goodnight.
				e.logger.Error("completion update failed", "call_id", sess.CallID,
					"child_id", sess.ChildID, "error", err)
			}
		}
		e.logger.Info("story completed", "call_id", sess.CallID, "story_id", sess.StoryID)
		return e.endCall(sess, prompt(sess.Language, promptGoodnight, sess.ChildName))
	default:
		// Stray input during playback: keep playing, say nothing.
		return TurnResponse{ExpectedInput: InputSpec{Mode: InputNone}, Audio: audioFor(sess.Language)}
	}
}

func (e *Engine) handleUpgradePrompt(sess *session.Session, ev InputEvent) TurnResponse {
	switch digitsOf(ev) {
	case "1":
		return e.endCall(sess, prompt(sess.Language, promptUpgradeInfo))
	case "2":
		return e.endCall(sess, prompt(sess.Language, promptNextMonth))
	default:
		sess.Retries++
		if sess.Retries > e.cfg.MaxRetries {
			return e.endCall(sess, prompt(sess.Language, promptNextMonth))
		}
		return e.say(sess, prompt(sess.Language, promptQuotaExceeded, e.cfg.FreeQuota), e.digitSpec(1))
	}
}

// startRegistration clears any pending or resolved child and asks for a
// name.
func (e *Engine) startRegistration(sess *session.Session) TurnResponse {
	sess.ChildID = ""
	sess.ChildName = ""
	sess.ChildAge = 0
	sess.Interests = nil
	sess.Degraded = false
	sess.State = StateRegisterName
	sess.Retries = 0
	return e.say(sess, prompt(sess.Language, promptAskName), e.speechSpec())
}

// retry re-prompts for the current state, apologizing and hanging up once
// the retry budget is spent.
func (e *Engine) retry(sess *session.Session, reprompt string, spec InputSpec) TurnResponse {
	sess.Retries++
	if sess.Retries > e.cfg.MaxRetries {
		return e.endWithApology(sess)
	}
	return e.say(sess, prompt(sess.Language, promptInvalidRetry, reprompt), spec)
}

func (e *Engine) endWithApology(sess *session.Session) TurnResponse {
	return e.endCall(sess, prompt(sess.Language, promptApology))
}

func (e *Engine) endCall(sess *session.Session, text string) TurnResponse {
	sess.State = StateEnd
	return TurnResponse{
		PromptText:    text,
		Audio:         audioFor(sess.Language),
		ExpectedInput: InputSpec{Mode: InputNone},
		ShouldEndCall: true,
	}
}

// apologyResponse is the last-resort response when the session itself is
// unreachable.
func (e *Engine) apologyResponse(lang string) TurnResponse {
	return TurnResponse{
		PromptText:    prompt(lang, promptApology),
		Audio:         audioFor(lang),
		ExpectedInput: InputSpec{Mode: InputNone},
		ShouldEndCall: true,
	}
}

func (e *Engine) say(sess *session.Session, text string, spec InputSpec) TurnResponse {
	return TurnResponse{
		PromptText:    text,
		Audio:         audioFor(sess.Language),
		ExpectedInput: spec,
	}
}

func (e *Engine) digitSpec(numDigits int) InputSpec {
	return InputSpec{Mode: InputDigits, NumDigits: numDigits, TimeoutSec: e.cfg.TurnTimeoutSec}
}

func (e *Engine) speechSpec() InputSpec {
	return InputSpec{Mode: InputSpeech, TimeoutSec: e.cfg.TurnTimeoutSec}
}

// sessionChild materializes the child profile the session is playing for.
func (e *Engine) sessionChild(sess *session.Session) *models.ChildProfile {
	return &models.ChildProfile{
		ID:          sess.ChildID,
		AccountID:   sess.AccountID,
		Name:        sess.ChildName,
		Age:         sess.ChildAge,
		Interests:   sess.Interests,
		Language:    sess.Language,
		PhoneNumber: sess.PhoneNumber,
	}
}

// digitsOf returns the event's digits, or "" for non-digit events so every
// switch falls through to its retry arm on timeouts and stray speech.
func digitsOf(ev InputEvent) string {
	if ev.Type != EventDigits {
		return ""
	}
	return strings.TrimSpace(ev.Digits)
}
