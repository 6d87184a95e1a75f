package booking

import (
	"strings"
	"unicode/utf8"
)

// Action is the interpretation of a user reply at the confirmation stage.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionEdit    Action = "edit"
	ActionUnknown Action = "unknown"
)

// FieldTarget maps a spoken field token to its canonical scratchpad key.
type FieldTarget struct {
	Token   string
	Section string
	Field   string
}

// DefaultFieldTargets is the ordered canonical field map. Order matters:
// ParseEditTarget returns the first token found in the text.
var DefaultFieldTargets = []FieldTarget{
	{Token: "name", Section: SectionCustomer, Field: "first_name"},
	{Token: "phone", Section: SectionCustomer, Field: "phone"},
	{Token: "number", Section: SectionCustomer, Field: "phone"},
	{Token: "email", Section: SectionCustomer, Field: "email"},
	{Token: "brand", Section: SectionVehicle, Field: "brand"},
	{Token: "make", Section: SectionVehicle, Field: "brand"},
	{Token: "model", Section: SectionVehicle, Field: "model"},
	{Token: "year", Section: SectionVehicle, Field: "year"},
	{Token: "plate", Section: SectionVehicle, Field: "plate"},
	{Token: "date", Section: SectionAppointment, Field: "date"},
	{Token: "day", Section: SectionAppointment, Field: "date"},
	{Token: "time", Section: SectionAppointment, Field: "time"},
	{Token: "service", Section: SectionAppointment, Field: "service_type"},
}

var (
	editVerbs       = []string{"edit", "change", "fix", "update", "modify", "correct"}
	confirmKeywords = []string{"yes", "correct", "proceed", "ok", "okay", "go", "confirm", "sure", "yep", "yeah"}
	cancelKeywords  = []string{"cancel", "no", "nevermind", "abort", "nope", "stop", "forget"}
)

// rule pairs a predicate with the action it yields. Rules are evaluated
// top to bottom; the first match wins.
type rule struct {
	match  func(c *ConfirmationController, text string, tokens map[string]bool) bool
	action Action
}

// defaultRules orders EDIT before CANCEL and CONFIRM so field-specific
// intent beats generic affirmation ("ok, change the date" must edit,
// not commit).
var defaultRules = []rule{
	{
		action: ActionEdit,
		match: func(c *ConfirmationController, text string, tokens map[string]bool) bool {
			return containsTokenAny(tokens, editVerbs...) && c.hasFieldToken(tokens)
		},
	},
	{
		action: ActionCancel,
		match: func(_ *ConfirmationController, text string, tokens map[string]bool) bool {
			return containsTokenAny(tokens, cancelKeywords...)
		},
	},
	{
		action: ActionConfirm,
		match: func(_ *ConfirmationController, text string, tokens map[string]bool) bool {
			return containsTokenAny(tokens, confirmKeywords...)
		},
	},
}

// ConfirmationController interprets free-form user text at the
// confirmation stage and applies the corresponding scratchpad mutation.
type ConfirmationController struct {
	pad     *Scratchpad
	targets []FieldTarget
	rules   []rule
}

// NewConfirmationController creates a controller over the given
// scratchpad with the default rule table and field map.
func NewConfirmationController(pad *Scratchpad) *ConfirmationController {
	return &ConfirmationController{
		pad:     pad,
		targets: DefaultFieldTargets,
		rules:   defaultRules,
	}
}

// SetFieldTargets overrides the canonical field map (e.g. localization).
func (c *ConfirmationController) SetFieldTargets(targets []FieldTarget) {
	c.targets = targets
}

// DetectAction classifies user text as confirm, cancel, edit, or unknown.
// Matching is keyword-driven over case-insensitive, trimmed input.
func (c *ConfirmationController) DetectAction(userText string) Action {
	s := strings.ToLower(strings.TrimSpace(userText))
	if s == "" {
		return ActionUnknown
	}
	tokens := tokenize(s)
	for _, r := range c.rules {
		if r.match(c, s, tokens) {
			return r.action
		}
	}
	return ActionUnknown
}

// ParseEditTarget scans text for a field-indicating token and returns the
// first matching canonical target. The second result is false when no
// recognized token appears.
func (c *ConfirmationController) ParseEditTarget(text string) (FieldTarget, bool) {
	tokens := tokenize(strings.ToLower(text))
	for _, t := range c.targets {
		if tokens[t.Token] {
			return t, true
		}
	}
	return FieldTarget{}, false
}

// HandleEdit extracts the canonical field and the remainder of the
// instruction as the new value, then writes it into the scratchpad with
// source "user_edit". Returns the written field and true on success; an
// unrecognized field or missing value leaves the scratchpad untouched.
func (c *ConfirmationController) HandleEdit(text string, turn int) (Field, bool) {
	target, ok := c.ParseEditTarget(text)
	if !ok {
		return Field{}, false
	}

	value := c.extractEditValue(text, target.Token)
	if value == "" {
		return Field{}, false
	}

	if !c.pad.AddField(target.Section, target.Field, String(value), "user_edit", turn, nil, "") {
		return Field{}, false
	}
	f, _ := c.pad.GetField(target.Section, target.Field)
	return f, true
}

// HandleConfirm signals the caller to proceed to booking.
func (c *ConfirmationController) HandleConfirm() bool { return true }

// HandleCancel clears every scratchpad section and returns a
// human-readable cancellation message.
func (c *ConfirmationController) HandleCancel() string {
	c.pad.ClearAll()
	return "No problem, I've cancelled the request. Let me know if you'd like to start over."
}

// extractEditValue returns the trimmed remainder of the instruction after
// the field token, with filler words ("to", "is", ":") stripped.
func (c *ConfirmationController) extractEditValue(text, token string) string {
	lower := strings.ToLower(text)
	idx := indexWord(lower, token)
	if idx < 0 {
		return ""
	}
	// Lowercasing can change byte lengths for some runes, so the byte index
	// into lower cannot slice text directly. strings.ToLower maps rune to
	// rune, so the rune offset lines up and original casing survives.
	off := utf8.RuneCountInString(lower[:idx+len(token)])
	rest := strings.TrimSpace(string([]rune(text)[off:]))
	for _, filler := range []string{"to ", "is ", ": ", "= "} {
		if strings.HasPrefix(strings.ToLower(rest), filler) {
			rest = strings.TrimSpace(rest[len(filler):])
		}
	}
	return strings.Trim(rest, " .,!?")
}

func (c *ConfirmationController) hasFieldToken(tokens map[string]bool) bool {
	for _, t := range c.targets {
		if tokens[t.Token] {
			return true
		}
	}
	return false
}

// indexWord finds token in s at a word boundary, so "date" is not found
// inside "update". Returns -1 when absent.
func indexWord(s, token string) int {
	for start := 0; ; {
		idx := strings.Index(s[start:], token)
		if idx < 0 {
			return -1
		}
		idx += start
		end := idx + len(token)
		beforeOK := idx == 0 || !isWordChar(rune(s[idx-1]))
		afterOK := end == len(s) || !isWordChar(rune(s[end]))
		if beforeOK && afterOK {
			return idx
		}
		start = idx + 1
	}
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// tokenize splits lowercased text into a word set. Digits and hyphens stay
// inside tokens so dates and phone numbers survive.
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	for _, p := range parts {
		if p != "" {
			out[p] = true
		}
	}
	return out
}

func containsTokenAny(tokens map[string]bool, keywords ...string) bool {
	for _, kw := range keywords {
		if tokens[kw] {
			return true
		}
	}
	return false
}
