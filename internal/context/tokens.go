package context

import "math"

// ContentClass selects which characters-per-token ratio applies when
// estimating token counts without a tokenizer. Grounded on the teacher's
// internal/context/window.go TokensPerChar constant, generalized from a
// single flat ratio into per-kind ratios per SPEC_FULL.md §4.1.
type ContentClass string

const (
	ClassProse ContentClass = "prose"
	ClassCode  ContentClass = "code"
	ClassMixed ContentClass = "mixed"
)

// charsPerToken gives the characters-per-token ratio for each content
// class. Code is denser in tokens per character than prose because of
// punctuation and identifiers, so it gets a lower ratio.
var charsPerToken = map[ContentClass]float64{
	ClassCode:  3.0,
	ClassProse: 4.0,
	ClassMixed: 3.5,
}

// DefaultContentClass is used whenever a caller does not specify one.
const DefaultContentClass = ClassMixed

// EstimateTokens estimates the token count of text of the given class using
// ceil(len(text) / charsPerToken[class]). This mirrors the teacher's
// EstimateTokens but parameterizes the ratio instead of hard-coding 0.25
// tokens/char (== 4 chars/token).
func EstimateTokens(text string, class ContentClass) int {
	if text == "" {
		return 0
	}
	ratio, ok := charsPerToken[class]
	if !ok {
		ratio = charsPerToken[DefaultContentClass]
	}
	return int(math.Ceil(float64(len(text)) / ratio))
}

// classifyPart picks a ContentClass for a single content part. Tool use
// input and tool results are treated as code (structured/JSON-like);
// input/output text is treated as mixed, since chat messages commonly
// interleave prose and code blocks.
func classifyPart(p ContentPart) ContentClass {
	switch p.Kind {
	case PartToolUse, PartToolResult:
		return ClassCode
	default:
		return ClassMixed
	}
}

// partText extracts the estimable text payload of a content part.
func partText(p ContentPart) string {
	switch p.Kind {
	case PartInputText, PartOutputText:
		return p.Text
	case PartToolUse:
		return p.ToolInput
	case PartToolResult:
		return p.ToolResultText
	case PartImageURL:
		// Fixed overhead approximation for an image reference; no pixel-level
		// accounting is attempted.
		return p.ImageURL
	default:
		return ""
	}
}

// EstimateMessageTokens sums the estimated token cost of every part in a
// message, plus a small fixed overhead per part for role/structure
// metadata that a real tokenizer would also charge for.
const perPartOverheadTokens = 3

func EstimateMessageTokens(m *Message) int {
	total := 0
	for _, p := range m.Parts {
		total += EstimateTokens(partText(p), classifyPart(p)) + perPartOverheadTokens
	}
	return total
}

// EstimateConversationTokens sums EstimateMessageTokens across every
// message in the conversation.
func EstimateConversationTokens(c *Conversation) int {
	total := 0
	for _, m := range c.Messages {
		total += EstimateMessageTokens(m)
	}
	return total
}
