// Package dialog is the call state machine: it receives one input event per
// turn and answers with the prompt to speak and the input to gather next.
package dialog

import "fmt"

// Dialog states. Transient states (quota check, completed, quota exceeded)
// are traversed within a single turn without waiting for caller input.
const (
	StateGreeting          = "greeting"
	StateWelcomeBack       = "welcome_back"
	StateRegisterLanguage  = "register_language"
	StateRegisterName      = "register_name"
	StateRegisterAge       = "register_age"
	StateRegisterInterests = "register_interests"
	StateConfirmProfile    = "confirm_profile"
	StateQuotaCheck        = "quota_check"
	StateOfferStory        = "offer_story"
	StatePlaying           = "playing"
	StateCompleted         = "completed"
	StateQuotaExceeded     = "quota_exceeded"
	StateUpgradePrompt     = "upgrade_prompt"
	StateEnd               = "end"
)

// Input event types, one per turn.
const (
	EventCallStart    = "call_start"
	EventSpeech       = "speech"
	EventDigits       = "digits"
	EventTimeout      = "timeout"
	EventHangup       = "hangup"
	EventPlaybackDone = "playback_done"
)

// InputEvent is one caller input delivered by the transport layer.
type InputEvent struct {
	Type   string
	From   string // caller phone number as reported by the transport
	Speech string // recognized speech, for EventSpeech
	Digits string // keypad digits, for EventDigits
	ID     string // transport event id, used for replay detection
}

// Key identifies the event for replay detection. Transports that supply an
// event id get exact dedup; otherwise the payload stands in for it.
func (e InputEvent) Key() string {
	if e.ID != "" {
		return e.Type + ":" + e.ID
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, e.Digits, e.Speech)
}

// Input gather modes declared to the transport.
const (
	InputNone   = "none"   // no input expected (terminal or playback turn)
	InputDigits = "digits" // keypad only
	InputSpeech = "speech" // recorded speech only
	InputAny    = "any"    // either
)

// InputSpec tells the transport what input to collect after the prompt.
type InputSpec struct {
	Mode       string
	NumDigits  int
	TimeoutSec int
}

// AudioHints carry voice rendering preferences to the transport.
type AudioHints struct {
	Voice    string
	Rate     string
	Language string // BCP-47-ish tag for TTS, e.g. "en-US", "es-ES"
}

// TurnResponse is the engine's answer to one input event. StoryBody is set
// on the turn that starts playback; the transport reads it aloud and then
// reports playback-finished.
type TurnResponse struct {
	PromptText    string
	StoryBody     string
	Audio         AudioHints
	ExpectedInput InputSpec
	ShouldEndCall bool
}
