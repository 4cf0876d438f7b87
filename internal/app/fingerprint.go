package app

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/quizbankorg/quizbank/internal/domain"
)

// optionDelimiter joins sorted option strings inside the fingerprint key. It
// cannot survive normalization, so it never collides with question text.
const optionDelimiter = "|~|"

// Fingerprint derives the stable identity of a logical question from its
// normalized text, type, and (for choice questions) sorted option set. The
// same inputs always produce the same output across process restarts; the
// sort makes the result independent of answer-choice shuffling.
func Fingerprint(text string, qType domain.QuestionType, options []string) (string, error) {
	if qType == "" {
		return "", domain.ErrMissingType
	}
	normalized := NormalizeText(text)
	if normalized == "" {
		// Hashing empty text would funnel every blank capture into one
		// high-collision bucket, so reject it instead.
		return "", domain.ErrEmptyText
	}

	key := string(qType) + ":" + normalized

	cleaned := make([]string, 0, len(options))
	for _, opt := range options {
		if norm := normalizeOption(opt); norm != "" {
			cleaned = append(cleaned, norm)
		}
	}
	if len(cleaned) > 0 {
		sort.Strings(cleaned)
		key += ":" + strings.Join(cleaned, optionDelimiter)
	}

	return hashKey(key), nil
}

// BootstrapFingerprint builds a temporary identity for a question whose only
// available text is a synthesized placeholder. It is scoped to the native
// question id and attempt context so the record can be found again by the
// native-id fallback and upgraded through the merge path once real text
// becomes available.
func BootstrapFingerprint(nativeQuestionID, attemptContext string) (string, error) {
	if strings.TrimSpace(nativeQuestionID) == "" {
		return "", domain.ErrEmptyText
	}
	return hashKey("native:" + nativeQuestionID + ":" + attemptContext), nil
}

// NormalizeText lowercases the text, keeps only word characters, spaces, and
// the punctuation `? . !`, and collapses whitespace runs to single spaces.
func NormalizeText(text string) string {
	return normalize(text, func(r rune) bool {
		return r == '?' || r == '.' || r == '!'
	})
}

func normalizeOption(opt string) string {
	return normalize(opt, func(r rune) bool { return false })
}

func normalize(s string, keepPunct func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || keepPunct(r):
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// hashKey runs a 32-bit multiply-and-add accumulator over the key and encodes
// the absolute value in base 36. Not collision resistant; a known limitation
// since stored data is keyed by this format.
func hashKey(key string) string {
	var h int32
	for _, r := range key {
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
