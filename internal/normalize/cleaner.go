// Package normalize turns raw extracted text into clean, retrieval-ready
// chunks. Cleaning is an ordered pipeline of pure transforms; the order is
// significant (dehyphenation must run before whitespace collapsing).
package normalize

import (
	"regexp"
	"strings"
)

var (
	bulletGlyphRe    = regexp.MustCompile(`[•◦▪‣∙·●]`)
	hyphenBreakRe    = regexp.MustCompile(`(\p{L})-[ \t]*\n[ \t]*(\p{L})`)
	pageNumberLineRe = regexp.MustCompile(`(?m)^[ \t]*\d{1,4}[ \t]*$`)
	pageHeaderRe     = regexp.MustCompile(`(?mi)^[ \t]*(?:p[áa]g(?:ina)?\.?|page)[ \t]*\d+(?:[ \t]*(?:de|of)[ \t]*\d+)?[ \t]*$`)
	tocLineRe        = regexp.MustCompile(`(?m)^.*\.{4,}[ \t]*\d+[ \t]*$`)
	letterRunRe      = regexp.MustCompile(`\b(?:\p{L} ){3,}\p{L}\b`)
	lineSpaceRe      = regexp.MustCompile(`[ \t]+`)
	trailingSpaceRe  = regexp.MustCompile(`(?m)[ \t]+$`)
	blankLinesRe     = regexp.MustCompile(`\n{3,}`)
)

// cleanTransforms run in order over the whole document.
var cleanTransforms = []func(string) string{
	normalizeLineEndings,
	stripControlArtifacts,
	normalizeBullets,
	rejoinHyphenatedWords,
	stripPageNumberLines,
	stripPageHeaders,
	stripTOCLines,
	collapseLetterSpacing,
	collapseWhitespace,
}

// CleanRawText normalizes raw extracted text (PDF/OCR output and the like)
// into plain prose suitable for chunking.
func CleanRawText(raw string) string {
	text := raw
	for _, transform := range cleanTransforms {
		text = transform(text)
	}
	return text
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func stripControlArtifacts(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ReplaceAll(s, "�", "")
}

func normalizeBullets(s string) string {
	return bulletGlyphRe.ReplaceAllString(s, "-")
}

// rejoinHyphenatedWords merges words split by a trailing hyphen across a
// line break ("veloci-\ndad" -> "velocidad").
func rejoinHyphenatedWords(s string) string {
	return hyphenBreakRe.ReplaceAllString(s, "$1$2")
}

func stripPageNumberLines(s string) string {
	return pageNumberLineRe.ReplaceAllString(s, "")
}

func stripPageHeaders(s string) string {
	return pageHeaderRe.ReplaceAllString(s, "")
}

// stripTOCLines removes table-of-contents entries: text followed by a run
// of leader dots and a page number.
func stripTOCLines(s string) string {
	return tocLineRe.ReplaceAllString(s, "")
}

// collapseLetterSpacing joins artificially letter-spaced text
// ("h o l a" -> "hola"). Requires at least four spaced single letters so
// genuine short sequences survive.
func collapseLetterSpacing(s string) string {
	return letterRunRe.ReplaceAllStringFunc(s, func(run string) string {
		return strings.ReplaceAll(run, " ", "")
	})
}

func collapseWhitespace(s string) string {
	s = lineSpaceRe.ReplaceAllString(s, " ")
	s = trailingSpaceRe.ReplaceAllString(s, "")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FlattenChunk collapses paragraph breaks and newlines into single-line
// text with single spaces. Chunk identity and embedding both treat the
// chunk as flat text, so this is the canonical stored form.
func FlattenChunk(chunk string) string {
	return strings.Join(strings.Fields(chunk), " ")
}
