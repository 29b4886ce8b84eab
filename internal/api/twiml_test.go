package api

import (
	"strings"
	"testing"

	"github.com/storylineai/storyline/internal/dialog"
)

func TestRenderTurnEndCall(t *testing.T) {
	out, err := renderTurn(dialog.TurnResponse{
		PromptText:    "Goodnight!",
		Audio:         dialog.AudioHints{Voice: "alice", Language: "en-US"},
		ShouldEndCall: true,
	}, "/webhook/turn", "/webhook/playback")
	if err != nil {
		t.Fatalf("renderTurn: %v", err)
	}

	xml := string(out)
	if !strings.HasPrefix(xml, "<?xml") {
		t.Errorf("missing xml header: %q", xml)
	}
	for _, want := range []string{
		`<Say voice="alice" language="en-US">Goodnight!</Say>`,
		"<Hangup>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("missing %q in %q", want, xml)
		}
	}
	if strings.Contains(xml, "<Gather") {
		t.Errorf("end-call response must not gather input: %q", xml)
	}
}

func TestRenderTurnGatherDigits(t *testing.T) {
	out, err := renderTurn(dialog.TurnResponse{
		PromptText: "Press one to hear a story.",
		Audio:      dialog.AudioHints{Voice: "alice", Language: "en-US"},
		ExpectedInput: dialog.InputSpec{
			Mode:       dialog.InputDigits,
			NumDigits:  1,
			TimeoutSec: 10,
		},
	}, "https://example.com/webhook/turn", "https://example.com/webhook/playback")
	if err != nil {
		t.Fatalf("renderTurn: %v", err)
	}

	xml := string(out)
	for _, want := range []string{
		`input="dtmf"`,
		`numDigits="1"`,
		`action="https://example.com/webhook/turn"`,
		`timeout="10"`,
		"Press one to hear a story.",
		`<Redirect method="POST">https://example.com/webhook/turn?timeout=1</Redirect>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("missing %q in %q", want, xml)
		}
	}
}

func TestRenderTurnGatherSpeechOmitsNumDigits(t *testing.T) {
	out, err := renderTurn(dialog.TurnResponse{
		PromptText:    "What is your child's name?",
		ExpectedInput: dialog.InputSpec{Mode: dialog.InputSpeech, TimeoutSec: 8},
	}, "/t", "/p")
	if err != nil {
		t.Fatalf("renderTurn: %v", err)
	}

	xml := string(out)
	if !strings.Contains(xml, `input="speech"`) {
		t.Errorf("missing speech input attr: %q", xml)
	}
	if strings.Contains(xml, "numDigits") {
		t.Errorf("speech gather must not set numDigits: %q", xml)
	}
}

func TestRenderTurnStoryPlayback(t *testing.T) {
	out, err := renderTurn(dialog.TurnResponse{
		PromptText: "Here is your story!",
		StoryBody:  "Once upon a time, a small fox found a lantern.",
		Audio:      dialog.AudioHints{Voice: "alice", Language: "en-US"},
	}, "/webhook/turn", "/webhook/playback")
	if err != nil {
		t.Fatalf("renderTurn: %v", err)
	}

	xml := string(out)
	for _, want := range []string{
		"Here is your story!",
		"Once upon a time, a small fox found a lantern.",
		`<Redirect method="POST">/webhook/playback</Redirect>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("missing %q in %q", want, xml)
		}
	}
	if strings.Contains(xml, "<Gather") || strings.Contains(xml, "<Hangup") {
		t.Errorf("playback turn must only say and redirect: %q", xml)
	}
}

func TestRenderTurnEscapesText(t *testing.T) {
	out, err := renderTurn(dialog.TurnResponse{
		PromptText:    "Tom & Jerry say <hi>",
		ShouldEndCall: true,
	}, "/t", "/p")
	if err != nil {
		t.Fatalf("renderTurn: %v", err)
	}

	xml := string(out)
	if !strings.Contains(xml, "Tom &amp; Jerry say &lt;hi&gt;") {
		t.Errorf("text not escaped: %q", xml)
	}
}
