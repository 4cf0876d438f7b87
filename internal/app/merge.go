package app

import (
	"github.com/quizbankorg/quizbank/internal/domain"
)

// PlanMerge compares a freshly captured question against the stored record
// for the same logical question and decides how to apply it:
//
//   - keep_existing: candidate quality did not beat the stored quality.
//   - update_in_place: quality improved but the fingerprint is unchanged, so
//     only text/quality/source metadata need rewriting.
//   - merge: quality improved and the fingerprint changed; submissions and
//     the best answer must be re-pointed from the old fingerprint to the new
//     one and the old record retired.
func PlanMerge(existing domain.Question, text string, qType domain.QuestionType, options []string, source domain.TextSource) (domain.MergeDecision, error) {
	candidateScore, err := QualityScore(text, source)
	if err != nil {
		return domain.MergeDecision{}, err
	}

	if candidateScore <= existing.QualityScore {
		return domain.MergeDecision{
			Action:         domain.MergeKeepExisting,
			OldFingerprint: existing.Fingerprint,
			NewFingerprint: existing.Fingerprint,
			QualityScore:   existing.QualityScore,
		}, nil
	}

	newFingerprint, err := Fingerprint(text, qType, options)
	if err != nil {
		return domain.MergeDecision{}, err
	}

	action := domain.MergeRepoint
	if newFingerprint == existing.Fingerprint {
		action = domain.MergeUpdateInPlace
	}
	return domain.MergeDecision{
		Action:         action,
		OldFingerprint: existing.Fingerprint,
		NewFingerprint: newFingerprint,
		QualityScore:   candidateScore,
	}, nil
}

// SelectCanonical picks the canonical record among duplicates that map to the
// same native question id, and returns the rest for merging into it. Highest
// quality wins; equal quality goes to whichever was encountered first. Both
// duplicates are equally valid on a tie, so the choice only needs to be
// deterministic, not "right".
func SelectCanonical(questions []domain.Question) (domain.Question, []domain.Question) {
	canonical := questions[0]
	idx := 0
	for i, q := range questions[1:] {
		if q.QualityScore > canonical.QualityScore {
			canonical = q
			idx = i + 1
		}
	}

	rest := make([]domain.Question, 0, len(questions)-1)
	for i, q := range questions {
		if i != idx {
			rest = append(rest, q)
		}
	}
	return canonical, rest
}
