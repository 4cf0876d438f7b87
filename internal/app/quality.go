package app

import (
	"regexp"
	"strings"

	"github.com/quizbankorg/quizbank/internal/domain"
)

// placeholderPattern matches synthesized stand-in text like "Question 5".
var placeholderPattern = regexp.MustCompile(`^Question \d+$`)

// QualityScore rates captured question text so that later observations can
// decide whether to supersede stored text. Higher always wins; ties keep the
// stored text. The base score comes from provenance, the rest from cheap
// signals that real question text tends to carry.
func QualityScore(text string, source domain.TextSource) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, domain.ErrEmptyText
	}

	score := 0
	switch source {
	case domain.SourcePage:
		score = 100
	case domain.SourceAPI:
		score = 50
	case domain.SourcePlaceholder:
		score = 10
	default:
		// Unknown provenance is trusted no more than a placeholder.
		score = 10
	}

	if n := len(text); n > 200 {
		score += 200
	} else {
		score += n
	}

	if placeholderPattern.MatchString(text) {
		score -= 50
	}
	if strings.Contains(text, "Question ID") {
		score -= 30
	}
	if strings.Contains(text, "?") {
		score += 20
	}
	if len(text) > 20 {
		score += 10
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}
