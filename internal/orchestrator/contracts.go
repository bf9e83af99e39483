package orchestrator

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/sidekick/internal/audit"
)

// Canned replacements the contract steps substitute for the model's text.
const (
	roleConfusionReply = "Let me handle that for you instead. Ask me the question and I'll work it out."
	abusiveReply       = "I'm here to help, but I won't continue a conversation in that tone. Happy to pick this up whenever you'd like."
	safetyReply        = "I don't want to respond that way. If you're going through something difficult, I'm here to listen, and talking to someone you trust can help too."
)

// contractStep is one output rewrite. It sees the original user message and
// the current assistant text and returns the transformed text plus an audit
// event when the step fired.
type contractStep func(userMsg, text string) (string, *audit.Event)

// contractChain is the enforcement order. It is load-bearing: leak trimming
// runs before the rewrites so a rewrite never reintroduces trimmed text,
// and marker stripping runs last so every earlier step sees raw markers.
var contractChain = []contractStep{
	trimPromptLeak,
	rewriteRoleConfusion,
	rewriteOffTopicCalc,
	enforceAbusiveBoundary,
	overrideUnsafeMirroring,
	stripUnsupportedOffers,
	stripInternalMarkers,
}

// enforceContracts folds the chain over the assistant text and returns the
// final text plus the events the fired steps produced.
func enforceContracts(userMsg, text string) (string, []*audit.Event) {
	var events []*audit.Event
	for _, step := range contractChain {
		next, event := step(userMsg, text)
		if event != nil {
			events = append(events, event)
		}
		text = next
	}
	return text, events
}

func contractEvent(action audit.Action, reason string) *audit.Event {
	return &audit.Event{
		Actor:   actorOrchestrator,
		Action:  action,
		Result:  audit.ResultOK,
		Details: map[string]any{"reason": reason},
	}
}

// promptLeakPattern flags self-referential instruction leakage: the model
// narrating its own prompt or prior turns instead of answering.
var promptLeakPattern = regexp.MustCompile(`(?i)(?:I said \d+ and now|no fluff|my real name is|my instructions (?:say|are)|the system prompt|as stated in my prompt|I was told to)`)

// trimPromptLeak drops any second-or-later paragraph that leaks
// instructions. The first paragraph is kept whole; an answer that opens
// with leakage is the safety steps' problem, not a trim.
func trimPromptLeak(_, text string) (string, *audit.Event) {
	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) < 2 {
		return text, nil
	}
	kept := paragraphs[:1]
	trimmed := false
	for _, p := range paragraphs[1:] {
		if promptLeakPattern.MatchString(p) {
			trimmed = true
			continue
		}
		kept = append(kept, p)
	}
	if !trimmed {
		return text, nil
	}
	return strings.TrimSpace(strings.Join(kept, "\n\n")), nil
}

// roleConfusionPattern catches the assistant delegating its own work back
// to the user.
var roleConfusionPattern = regexp.MustCompile(`(?i)(?:can|could|why don'?t|would) you (?:calculate|compute|do the (?:math|maths|arithmetic)|work (?:that|it) out|look (?:that|it) up|figure (?:that|it) out)`)

func rewriteRoleConfusion(_, text string) (string, *audit.Event) {
	if !roleConfusionPattern.MatchString(text) {
		return text, nil
	}
	return roleConfusionReply, contractEvent(audit.ActionRoleConfusionRewrite, "assistant asked the user to do its work")
}

// calcPattern matches a worked arithmetic line like "6 * 7 = 42".
var calcPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s*[-+*/x×]\s*\d+(?:\.\d+)?\s*=\s*\**\d`)

var anyDigit = regexp.MustCompile(`\d`)

// rewriteOffTopicCalc replaces answers that volunteer arithmetic the user
// never asked about. A message containing digits is assumed to have wanted
// the numbers.
func rewriteOffTopicCalc(userMsg, text string) (string, *audit.Event) {
	if !calcPattern.MatchString(text) || anyDigit.MatchString(userMsg) {
		return text, nil
	}
	return "Sorry, I went off track there. What would you like to know?",
		contractEvent(audit.ActionOffTopicCalcRewrite, "assistant computed arithmetic unrelated to the message")
}

// abusivePattern flags hostility aimed at the assistant.
var abusivePattern = regexp.MustCompile(`(?i)(?:you(?:'re| are)? (?:a |an |so |really )*(?:idiot|stupid|moron|useless|worthless|dumb|trash|garbage)|(?:fuck|screw) you|shut up,?\s*(?:you|bot)|stupid (?:bot|machine|assistant))`)

// enforceAbusiveBoundary overrides the whole reply when the user message
// itself was abusive, whatever the model produced.
func enforceAbusiveBoundary(userMsg, text string) (string, *audit.Event) {
	if !abusivePattern.MatchString(userMsg) {
		return text, nil
	}
	return abusiveReply, contractEvent(audit.ActionAbusiveUserBoundary, "abusive user message")
}

// unsafeMirrorPattern flags self-harm mirroring or profanity thrown back at
// the user.
var unsafeMirrorPattern = regexp.MustCompile(`(?i)(?:kill yourself|hurt yourself|you should (?:just )?(?:die|disappear)|you(?:'re| are) (?:an? )?(?:idiot|moron|worthless)|fuck you)`)

func overrideUnsafeMirroring(_, text string) (string, *audit.Event) {
	if !unsafeMirrorPattern.MatchString(text) {
		return text, nil
	}
	return safetyReply, contractEvent(audit.ActionSafetyOverride, "unsafe mirroring in assistant text")
}

// unsupportedOfferPattern matches sentences offering channels the assistant
// does not have: email, SMS, calls, calendar invites.
var unsupportedOfferPattern = regexp.MustCompile(`(?i)[^.!?\n]*\bI(?:'ll| will| can| could)\s+(?:e-?mail|text|call|phone|message|send)\s+(?:you|it to you|that to you|this to you)[^.!?\n]*[.!?]?`)

func stripUnsupportedOffers(_, text string) (string, *audit.Event) {
	cleaned := unsupportedOfferPattern.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(regexp.MustCompile(`[ \t]{2,}`).ReplaceAllString(cleaned, " "))
	return cleaned, nil
}

// internalMarkerPattern matches scaffolding markers that must never reach
// the user.
var internalMarkerPattern = regexp.MustCompile(`\[/?(?:TOOL_OUTPUT|MEMORY CONTEXT|MEMORY_CONTEXT|SYSTEM|INTERNAL|CONTEXT)\]`)

func stripInternalMarkers(_, text string) (string, *audit.Event) {
	cleaned := internalMarkerPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), nil
}
