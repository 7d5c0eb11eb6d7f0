package block

import "strings"

// Collectors encode block boundaries with '#' and, in the legacy format,
// word boundaries with '*'. Normalization strips both.
const (
	blockDelimiter      = "#"
	legacyWordDelimiter = "*"
)

// Normalize strips delimiter markers and collapses runs of whitespace.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, legacyWordDelimiter, " ")
	return strings.Join(strings.Fields(s), " ")
}

// SplitSegments splits a delimiter-encoded string into normalized non-empty
// segments. The block delimiter '#' takes precedence; strings from older
// collectors that only use '*' are split on that instead.
func SplitSegments(raw string) []string {
	if raw == "" {
		return nil
	}

	sep := blockDelimiter
	if !strings.Contains(raw, blockDelimiter) {
		sep = legacyWordDelimiter
	}

	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if cleaned := Normalize(p); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
