// Package block turns a raw capture payload into a deduplicated, ordered
// sequence of text blocks ready for classification. A capture carries either
// structured block descriptors (one per DOM text node, with provenance
// metadata) or two flat delimiter-encoded strings: the translated text used
// for modeling and the original-language text used for display.
package block

import (
	"log/slog"
	"strings"
)

// Capture is the raw payload collected by a browser client.
type Capture struct {
	TabURL           string             `json:"tabUrl"`
	TabTitle         string             `json:"tabTitle"`
	CollectedAt      string             `json:"collectedAt"`
	FramesCollected  int                `json:"framesCollected"`
	FullText         string             `json:"fullText"`     // translated, delimiter-encoded
	OriginalText     string             `json:"originalText"` // original language, delimiter-encoded
	StructuredBlocks []StructuredBlock  `json:"structuredBlocks,omitempty"`
	ClientID         string             `json:"clientId,omitempty"`
}

// StructuredBlock is one annotated text node from the collector.
type StructuredBlock struct {
	Index             int    `json:"index"`
	Selector          string `json:"selector,omitempty"`
	Tag               string `json:"tag,omitempty"`
	FrameURL          string `json:"frameUrl,omitempty"`
	FrameID           int    `json:"frameId,omitempty"`
	LinkHref          string `json:"linkHref,omitempty"`
	LinkSelector      string `json:"linkSelector,omitempty"`
	Text              string `json:"text"`
	PlainText         string `json:"plainText,omitempty"`
	OriginalText      string `json:"originalText,omitempty"`
	OriginalPlainText string `json:"originalPlainText,omitempty"`
	TranslatedPlain   string `json:"translatedPlainText,omitempty"`
	Translated        bool   `json:"translated,omitempty"`
}

// Meta carries the provenance of a block within its source page.
type Meta struct {
	Index        int    `json:"index"`
	Selector     string `json:"selector,omitempty"`
	Tag          string `json:"tag,omitempty"`
	FrameURL     string `json:"frame_url,omitempty"`
	FrameID      int    `json:"frame_id,omitempty"`
	LinkHref     string `json:"link_href,omitempty"`
	LinkSelector string `json:"link_selector,omitempty"`
}

// Block is one normalized text unit. TranslatedPlain is the model input;
// OriginalPlain is what gets shown to users. At least one of the two plain
// fields is always non-empty.
type Block struct {
	TranslatedText  string `json:"translated_text"`
	TranslatedPlain string `json:"translated_plain"`
	OriginalText    string `json:"original_text"`
	OriginalPlain   string `json:"original_plain"`
	Meta            Meta   `json:"meta"`
}

// Extract converts a capture into an ordered, deduplicated block sequence.
// Structured blocks take precedence; the flat delimiter-encoded strings are
// the fallback for older collector versions. Output is deterministic for a
// fixed input.
func Extract(c Capture) []Block {
	var blocks []Block
	if len(c.StructuredBlocks) > 0 {
		blocks = fromStructured(c.StructuredBlocks)
	} else {
		blocks = fromFlat(c.FullText, c.OriginalText)
	}
	return dedupe(blocks)
}

// fromStructured normalizes each structured descriptor, resolving field
// fallbacks: translated text prefers the explicit translated-plain field,
// original text falls back to the translated value when the collector did
// not record an original (a data-quality gap, warned about, not fatal).
func fromStructured(in []StructuredBlock) []Block {
	out := make([]Block, 0, len(in))
	for i, sb := range in {
		translated := sb.Text
		if translated == "" {
			translated = sb.PlainText
		}
		translatedPlain := sb.TranslatedPlain
		if translatedPlain == "" {
			translatedPlain = Normalize(translated)
		} else {
			translatedPlain = Normalize(translatedPlain)
		}

		original := sb.OriginalText
		originalPlain := Normalize(sb.OriginalPlainText)
		if originalPlain == "" {
			originalPlain = Normalize(original)
		}
		if originalPlain == "" {
			// No original recorded: reuse the translated text so the user
			// still sees something, even if it is not the source language.
			original = translated
			originalPlain = translatedPlain
			slog.Warn("block: original text missing, using translated text",
				"index", sb.Index, "selector", sb.Selector)
		}

		if translatedPlain == "" && originalPlain == "" {
			continue
		}
		if translatedPlain == "" {
			translatedPlain = originalPlain
		}

		idx := sb.Index
		if idx == 0 {
			idx = i
		}
		out = append(out, Block{
			TranslatedText:  translated,
			TranslatedPlain: translatedPlain,
			OriginalText:    original,
			OriginalPlain:   originalPlain,
			Meta: Meta{
				Index:        idx,
				Selector:     sb.Selector,
				Tag:          sb.Tag,
				FrameURL:     sb.FrameURL,
				FrameID:      sb.FrameID,
				LinkHref:     sb.LinkHref,
				LinkSelector: sb.LinkSelector,
			},
		})
	}
	return out
}

// fromFlat splits the two delimiter-encoded strings independently and pairs
// the segments positionally. When the collector produced different segment
// counts, pairing stops at the shorter length; trailing translated segments
// fall back to themselves as originals. Known limitation: inconsistent
// segmentation can misalign a pair, which is warned about but not rejected.
func fromFlat(fullText, originalText string) []Block {
	translated := SplitSegments(fullText)
	original := SplitSegments(originalText)

	if len(original) > 0 && len(original) != len(translated) {
		slog.Warn("block: segment count mismatch between original and translated text",
			"original", len(original), "translated", len(translated))
	}
	if len(original) == 0 && len(translated) > 0 {
		slog.Warn("block: original text missing, using translated segments")
	}

	out := make([]Block, 0, len(translated))
	for i, seg := range translated {
		orig := seg
		if i < len(original) {
			orig = original[i]
		}
		out = append(out, Block{
			TranslatedText:  seg,
			TranslatedPlain: seg,
			OriginalText:    orig,
			OriginalPlain:   orig,
			Meta:            Meta{Index: i},
		})
	}
	return out
}

// dedupe collapses blocks with the same normalized original text (falling
// back to translated text) to the first occurrence, preserving order.
func dedupe(in []Block) []Block {
	seen := make(map[string]bool, len(in))
	out := make([]Block, 0, len(in))
	for _, b := range in {
		key := b.OriginalPlain
		if key == "" {
			key = b.TranslatedPlain
		}
		key = strings.ToLower(strings.Join(strings.Fields(key), " "))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}
