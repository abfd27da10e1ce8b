package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinChunkChars is the minimum chunk length worth embedding.
	MinChunkChars = 80
	// MinChunkWords is the minimum word count worth embedding.
	MinChunkWords = 8
	// MaxDigitRatio rejects tabular/numeric noise.
	MaxDigitRatio = 0.4
)

var headingOnlyRe = regexp.MustCompile(
	`(?i)^(?:cap[ií]tulo|secci[oó]n|tema|anexo|ap[eé]ndice|unidad|chapter|section|appendix|[ií]ndice|index|introducci[oó]n|introduction)\s*\d*\.?$`)

// IsValidChunk reports whether a chunk is worth storing and embedding.
// Near-empty or non-prose spans waste storage and degrade ranking quality,
// so they are filtered before ingestion.
func IsValidChunk(text string) bool {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return false
	}
	if headingOnlyRe.MatchString(clean) {
		return false
	}
	if utf8.RuneCountInString(clean) < MinChunkChars {
		return false
	}
	if len(strings.Fields(clean)) < MinChunkWords {
		return false
	}
	if digitRatio(clean) > MaxDigitRatio {
		return false
	}
	return true
}

func digitRatio(s string) float64 {
	total := 0
	digits := 0
	for _, r := range s {
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}
