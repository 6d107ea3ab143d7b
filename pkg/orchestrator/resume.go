package orchestrator

import "strings"

// skipPhrases are the exact (case-insensitive) phrases the resume-intent
// protocol recognizes as "skip the web search stage". Anything else - full
// sentences, other wording, empty input - defaults to "do not skip".
var skipPhrases = []string{
	"b",
	"b.",
	"no web search",
	"proceed directly",
	"skip web",
	"no, proceed",
}

// ParseSkipIntent reports whether a resume response at the stage-0->1
// boundary asks to skip web-search calibration. Only an exact match
// (after trimming and lowercasing) against the recognized phrase set
// counts - a longer message that merely contains one of these phrases
// does not skip, since the protocol is a small fixed menu, not a general
// intent classifier.
func ParseSkipIntent(response string) bool {
	normalized := strings.ToLower(strings.TrimSpace(response))
	for _, phrase := range skipPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

// BreakoutResolution is the outcome of resolving a pending breakout
// confirmation against the user's next message.
type BreakoutResolution int

const (
	// BreakoutDeny means the user explicitly declined the breakout;
	// the pipeline stays paused awaiting an ordinary resume.
	BreakoutDeny BreakoutResolution = iota
	// BreakoutConfirm means the breakout proceeds - either because the
	// user explicitly confirmed, explicitly re-selected breakout, or
	// said anything else (implicit confirm per spec, falling through to
	// ordinary chat with the original message preserved).
	BreakoutConfirm
)

// ResolveBreakoutConfirmation classifies the user's response to a pending
// breakout confirmation prompt. Per the breakout-intent protocol, only
// numeric shortcut "2"/"2." is an explicit deny; every other response -
// "1"/"1." (explicit confirm), "3"/"3." (explicit breakout), or anything
// else (implicit confirm) - resolves to breakout. Semantic (LLM-classified)
// breakout intent is intentionally not implemented: the surrounding chat
// layer, not this orchestrator, is responsible for ever raising a breakout
// signal in the first place.
func ResolveBreakoutConfirmation(response string) BreakoutResolution {
	normalized := strings.ToLower(strings.TrimSpace(response))
	if normalized == "2" || normalized == "2." {
		return BreakoutDeny
	}
	return BreakoutConfirm
}
