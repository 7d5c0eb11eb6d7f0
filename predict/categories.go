package predict

import "strings"

// predicateCategories maps each predicate label to its dark-pattern
// category. The external law table is the fallback for predicates added
// after this map was fixed.
var predicateCategories = map[string]string{
	// Urgency
	"Countdown Timers":      "Urgency",
	"Limited-time Messages": "Urgency",
	// Misdirection
	"Confirmshaming":    "Misdirection",
	"Trick Questions":   "Misdirection",
	"Pressured Selling": "Misdirection",
	// Social Proof
	"Activity Notifications":           "Social Proof",
	"Testimonials of Uncertain Origin": "Social Proof",
	// Scarcity
	"Low-stock Messages":   "Scarcity",
	"High-demand Messages": "Scarcity",
	// Not Dark Pattern
	"Not Dark Pattern": "Not Dark Pattern",
}

// PredicateCategory returns the category for a predicate, matching
// case-insensitively, or "" when the predicate is unknown.
func PredicateCategory(predicate string) string {
	if predicate == "" {
		return ""
	}
	if c, ok := predicateCategories[predicate]; ok {
		return c
	}
	lower := strings.ToLower(predicate)
	for k, v := range predicateCategories {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// notDarkKeywords mark predicates that mean "this is not a dark pattern".
var notDarkKeywords = []string{
	"not dark pattern",
	"not_dark_pattern",
	"not dark",
	"normal",
	"none",
}

// IsDarkPredicate reports whether a predicate denotes an actual dark
// pattern, i.e. none of the not-dark keywords appear in it.
func IsDarkPredicate(predicate string) bool {
	if predicate == "" {
		return false
	}
	lower := strings.ToLower(predicate)
	for _, kw := range notDarkKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

// containsHangul reports whether the text contains Hangul syllables. The
// classifier is trained on English text; Hangul reaching this point means
// upstream translation did not happen.
func containsHangul(s string) bool {
	for _, r := range s {
		if r >= 0xAC00 && r <= 0xD7A3 {
			return true
		}
	}
	return false
}
