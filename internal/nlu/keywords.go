package nlu

import "strings"

// ClassifyKeyword infers intent from deterministic keyword rules. The
// second result is false when no rule fires, signalling the caller to
// fall back to a model classifier.
func ClassifyKeyword(message string) (IntentResult, bool) {
	s := strings.ToLower(strings.TrimSpace(message))
	if s == "" {
		return IntentResult{}, false
	}
	tokens := tokenize(s)

	if containsTokenAny(tokens, "cancel", "nevermind", "abort", "forget") {
		return IntentResult{Label: IntentCancel, Confidence: 0.9}, true
	}

	if containsTokenAny(tokens,
		"book", "booking", "appointment", "schedule", "reserve", "reservation",
		"service", "oil", "brake", "brakes", "tire", "tires", "repair", "maintenance", "inspection",
	) || containsAny(s, "check engine", "tune up", "tune-up") {
		return IntentResult{Label: IntentBooking, Confidence: 0.85}, true
	}

	if strings.Contains(s, "?") ||
		containsTokenAny(tokens, "how", "what", "when", "where", "why", "much", "price", "cost", "hours", "open") {
		return IntentResult{Label: IntentQuestion, Confidence: 0.7}, true
	}

	if containsTokenAny(tokens, "hi", "hello", "hey", "thanks", "thank", "morning", "afternoon", "evening") {
		return IntentResult{Label: IntentSmalltalk, Confidence: 0.7}, true
	}

	return IntentResult{}, false
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out[p] = true
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
