package api

import (
	"encoding/xml"
	"fmt"

	"github.com/storylineai/storyline/internal/dialog"
)

// TwiML verbs. The voice webhooks answer every request with a small TwiML
// document telling the provider what to say and what input to gather next.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Say       *twimlSay
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// renderTurn translates an engine TurnResponse into TwiML. turnURL receives
// gathered input and no-input timeouts; playbackURL is posted after the
// story has been read out.
func renderTurn(resp dialog.TurnResponse, turnURL, playbackURL string) ([]byte, error) {
	var doc twimlResponse
	say := func(text string) *twimlSay {
		return &twimlSay{Voice: resp.Audio.Voice, Language: resp.Audio.Language, Text: text}
	}

	switch {
	case resp.ShouldEndCall:
		if resp.PromptText != "" {
			doc.Verbs = append(doc.Verbs, say(resp.PromptText))
		}
		doc.Verbs = append(doc.Verbs, &twimlHangup{})

	case resp.StoryBody != "":
		if resp.PromptText != "" {
			doc.Verbs = append(doc.Verbs, say(resp.PromptText))
		}
		doc.Verbs = append(doc.Verbs,
			say(resp.StoryBody),
			&twimlRedirect{Method: "POST", URL: playbackURL},
		)

	case resp.ExpectedInput.Mode == dialog.InputDigits || resp.ExpectedInput.Mode == dialog.InputSpeech || resp.ExpectedInput.Mode == dialog.InputAny:
		gather := &twimlGather{
			Input:   gatherInput(resp.ExpectedInput.Mode),
			Action:  turnURL,
			Method:  "POST",
			Timeout: resp.ExpectedInput.TimeoutSec,
			Say:     say(resp.PromptText),
		}
		if resp.ExpectedInput.Mode != dialog.InputSpeech {
			gather.NumDigits = resp.ExpectedInput.NumDigits
		}
		doc.Verbs = append(doc.Verbs,
			gather,
			// No input within the timeout: report it as a timeout turn.
			&twimlRedirect{Method: "POST", URL: turnURL + "?timeout=1"},
		)

	default:
		if resp.PromptText != "" {
			doc.Verbs = append(doc.Verbs, say(resp.PromptText))
		}
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func gatherInput(mode string) string {
	switch mode {
	case dialog.InputDigits:
		return "dtmf"
	case dialog.InputSpeech:
		return "speech"
	default:
		return "dtmf speech"
	}
}
