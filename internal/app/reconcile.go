package app

import (
	"github.com/quizbankorg/quizbank/internal/domain"
)

// Confidence normalizes how correct a submission was into [0,1]. When the
// platform reported a points scale, the earned fraction is authoritative;
// otherwise the tri-state outcome collapses to 1.0 for correct and 0.0 for
// everything else.
func Confidence(sub domain.Submission) float64 {
	if sub.PointsPossible > 0 {
		c := sub.PointsEarned / sub.PointsPossible
		if c < 0 {
			return 0
		}
		if c > 1 {
			return 1
		}
		return c
	}
	if sub.Outcome == domain.OutcomeCorrect {
		return 1
	}
	return 0
}

// Reconcile decides whether a submission displaces the current best answer
// for its fingerprint. The comparison is strictly greater-than: an equal
// confidence never replaces the stored record, so an established best answer
// keeps its original provenance.
func Reconcile(existing *domain.BestAnswer, sub domain.Submission) (domain.BestAnswer, bool) {
	c := Confidence(sub)
	if existing != nil && c <= existing.ConfidenceScore {
		return domain.BestAnswer{}, false
	}
	return domain.BestAnswer{
		AnswerText:      sub.AnswerText,
		AnswerFields:    sub.AnswerFields,
		ConfidenceScore: c,
		SubmissionID:    sub.ID,
		ObservedAt:      sub.ObservedAt,
	}, true
}

// ReconcileBatch replays submissions in input order against a running best,
// starting from the stored record. Because each step applies the strict
// greater-than rule, the first submission of a tied maximum wins and later
// equals are no-ops. The returned flag reports whether the stored record
// should be overwritten.
func ReconcileBatch(existing *domain.BestAnswer, subs []domain.Submission) (domain.BestAnswer, bool) {
	best := existing
	updated := false
	for _, sub := range subs {
		if candidate, ok := Reconcile(best, sub); ok {
			b := candidate
			best = &b
			updated = true
		}
	}
	if !updated || best == nil {
		return domain.BestAnswer{}, false
	}
	return *best, true
}

// DedupeSubmissions collapses a batch to one submission per fingerprint,
// keeping the highest-confidence entry; ties keep the first occurrence in
// input order. The result preserves the order in which fingerprints first
// appeared, so replaying a batch twice converges to the same state.
func DedupeSubmissions(subs []domain.Submission) []domain.Submission {
	bestByKey := make(map[string]domain.Submission, len(subs))
	order := make([]string, 0, len(subs))
	for _, sub := range subs {
		key := sub.QuestionFingerprint
		current, ok := bestByKey[key]
		if !ok {
			bestByKey[key] = sub
			order = append(order, key)
			continue
		}
		if Confidence(sub) > Confidence(current) {
			bestByKey[key] = sub
		}
	}

	out := make([]domain.Submission, 0, len(order))
	for _, key := range order {
		out = append(out, bestByKey[key])
	}
	return out
}
