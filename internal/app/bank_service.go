package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/quizbankorg/quizbank/internal/domain"
)

// BankRepository abstracts the persistence backend (in-memory, Redis,
// Postgres). The service only computes values and decides when a merge or
// overwrite is warranted; the repository owns the data.
type BankRepository interface {
	FindQuestion(ctx context.Context, fingerprint string) (domain.Question, error)
	FindQuestionsByNativeID(ctx context.Context, nativeQuestionID, attemptContext string) ([]domain.Question, error)
	UpsertQuestion(ctx context.Context, q domain.Question) error
	AppendSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	SubmissionsFor(ctx context.Context, fingerprint string) ([]domain.Submission, error)
	FindBestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error)
	UpsertBestAnswer(ctx context.Context, fingerprint string, best domain.BestAnswer) error
	// MergeRecords re-points every submission and the best answer from the
	// old fingerprint to the new one, deletes the old question record, and
	// returns how many submissions moved. When the old record no longer
	// exists it returns domain.ErrAlreadyMerged.
	MergeRecords(ctx context.Context, oldFingerprint, newFingerprint string) (int, error)
}

// BankService contains the capture and replay use cases.
type BankService struct {
	repo   BankRepository
	logger *log.Logger
	now    func() time.Time
}

func NewBankService(repo BankRepository, logger *log.Logger) *BankService {
	if logger == nil {
		logger = log.Default()
	}
	return &BankService{repo: repo, logger: logger, now: time.Now}
}

// NewBankServiceWithClock is test-only for deterministic timestamps.
func NewBankServiceWithClock(repo BankRepository, logger *log.Logger, now func() time.Time) *BankService {
	s := NewBankService(repo, logger)
	s.now = now
	return s
}

// CaptureBatch processes one batch of observed question/answer pairs for a
// quiz attempt: it resolves or creates the question record for each
// observation, executes any merges the improved text warrants, appends the
// submissions, and reconciles best answers. Per-question failures are
// recorded in the report and never abort the rest of the batch; in
// particular, a failed merge or reconciliation must not prevent raw
// submission capture.
func (s *BankService) CaptureBatch(ctx context.Context, attemptContext string, observed []domain.ObservedQuestion) (domain.CaptureReport, error) {
	report := domain.CaptureReport{AttemptContext: attemptContext}
	pending := make(map[string][]domain.Submission)
	order := make([]string, 0, len(observed))

	// A merge executed mid-batch retires a fingerprint that earlier
	// submissions in this same batch may still be keyed by; re-key them so
	// reconciliation never writes a best answer under a deleted question.
	repointPending := func(old, current string) {
		subs, ok := pending[old]
		if !ok {
			return
		}
		delete(pending, old)
		for i := range subs {
			subs[i].QuestionFingerprint = current
		}
		if existing, ok := pending[current]; ok {
			pending[current] = append(subs, existing...)
			for j, key := range order {
				if key == old {
					order = append(order[:j], order[j+1:]...)
					break
				}
			}
		} else {
			pending[current] = subs
			for j, key := range order {
				if key == old {
					order[j] = current
					break
				}
			}
		}
	}

	for i, obs := range observed {
		fingerprint, retired, err := s.resolveQuestion(ctx, attemptContext, obs)
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("question %d: %v", i, err))
			continue
		}
		report.Merged += len(retired)
		for _, old := range retired {
			repointPending(old, fingerprint)
		}

		sub := domain.Submission{
			QuestionFingerprint: fingerprint,
			NativeQuestionID:    obs.NativeQuestionID,
			AttemptContext:      attemptContext,
			AnswerText:          obs.AnswerText,
			AnswerFields:        obs.AnswerFields,
			Outcome:             obs.Outcome,
			PointsEarned:        obs.PointsEarned,
			PointsPossible:      obs.PointsPossible,
			ObservedAt:          obs.ObservedAt,
		}
		if sub.ObservedAt.IsZero() {
			sub.ObservedAt = s.now()
		}

		stored, err := s.repo.AppendSubmission(ctx, sub)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("question %d: append submission: %v", i, err))
			continue
		}
		report.Captured++

		if _, ok := pending[fingerprint]; !ok {
			order = append(order, fingerprint)
		}
		pending[fingerprint] = append(pending[fingerprint], stored)
	}

	// Reconcile once per fingerprint after deduplicating the batch, so tied
	// confidences resolve to the first occurrence regardless of how many
	// duplicates the page produced.
	for _, fingerprint := range order {
		deduped := DedupeSubmissions(pending[fingerprint])
		if updated, err := s.reconcileStored(ctx, fingerprint, deduped); err != nil {
			// Replay lookups just see no enhanced answer; capture succeeded.
			s.logger.Printf("reconcile %s: %v", fingerprint, err)
			report.Errors = append(report.Errors, fmt.Sprintf("reconcile %s: %v", fingerprint, err))
		} else if updated {
			report.BestUpdated++
		}
	}

	return report, nil
}

// resolveQuestion finds or creates the question record an observation belongs
// to and returns the fingerprint submissions should attach to, plus the
// fingerprints of any records that merges retired along the way.
func (s *BankService) resolveQuestion(ctx context.Context, attemptContext string, obs domain.ObservedQuestion) (string, []string, error) {
	if obs.Type == "" {
		return "", nil, domain.ErrMissingType
	}
	text := obs.Text
	if strings.TrimSpace(text) == "" {
		if obs.TextSource != domain.SourcePlaceholder {
			return "", nil, domain.ErrEmptyText
		}
		// Placeholder captures may arrive with no text at all; synthesize
		// the platform's stand-in form so scoring still works.
		text = "Question " + obs.NativeQuestionID
	}

	var retired []string

	// Content fingerprint first. A placeholder with no resolvable content
	// identity gets a temporary one scoped to (native id, attempt context)
	// so it can be found again and upgraded later.
	contentFP, err := Fingerprint(text, obs.Type, obs.Options)
	if err != nil {
		return "", nil, err
	}
	if existing, err := s.repo.FindQuestion(ctx, contentFP); err == nil {
		return existing.Fingerprint, retired, s.applyCandidate(ctx, existing, text, obs)
	} else if !errors.Is(err, domain.ErrQuestionNotFound) {
		return "", nil, err
	}

	// Fallback: the native id may already map to a stored record whose text
	// differs from (or is worse than) what we just captured.
	found, err := s.repo.FindQuestionsByNativeID(ctx, obs.NativeQuestionID, attemptContext)
	if err != nil {
		return "", nil, err
	}
	if len(found) > 0 {
		canonical, stale := SelectCanonical(found)
		retired = append(retired, s.cleanupDuplicates(ctx, canonical, stale)...)

		decision, err := PlanMerge(canonical, text, obs.Type, obs.Options, obs.TextSource)
		if err != nil {
			return "", retired, err
		}
		switch decision.Action {
		case domain.MergeKeepExisting:
			return canonical.Fingerprint, retired, nil
		case domain.MergeUpdateInPlace:
			q := canonical
			q.Text = text
			q.Options = obs.Options
			q.QualityScore = decision.QualityScore
			q.TextSource = obs.TextSource
			q.UpdatedAt = s.now()
			return q.Fingerprint, retired, s.repo.UpsertQuestion(ctx, q)
		default: // domain.MergeRepoint
			upgraded := domain.Question{
				Fingerprint:      decision.NewFingerprint,
				Text:             text,
				Type:             obs.Type,
				Options:          obs.Options,
				QualityScore:     decision.QualityScore,
				TextSource:       obs.TextSource,
				NativeQuestionID: canonical.NativeQuestionID,
				// Identity changes; the originating quiz does not.
				FirstSeenContext: canonical.FirstSeenContext,
				UpdatedAt:        s.now(),
			}
			if err := s.repo.UpsertQuestion(ctx, upgraded); err != nil {
				return "", retired, err
			}
			if _, err := s.repo.MergeRecords(ctx, decision.OldFingerprint, decision.NewFingerprint); err != nil && !errors.Is(err, domain.ErrAlreadyMerged) {
				// Leave the old record in place; a later pass will find the
				// same duplicate again and retry the merge.
				s.logger.Printf("merge %s -> %s failed: %v", decision.OldFingerprint, decision.NewFingerprint, err)
				return canonical.Fingerprint, retired, nil
			}
			return decision.NewFingerprint, append(retired, decision.OldFingerprint), nil
		}
	}

	// Nothing stored anywhere for this question yet.
	fingerprint := contentFP
	if obs.TextSource == domain.SourcePlaceholder {
		fingerprint, err = BootstrapFingerprint(obs.NativeQuestionID, attemptContext)
		if err != nil {
			return "", retired, err
		}
	}
	score, err := QualityScore(text, obs.TextSource)
	if err != nil {
		return "", retired, err
	}
	q := domain.Question{
		Fingerprint:      fingerprint,
		Text:             text,
		Type:             obs.Type,
		Options:          obs.Options,
		QualityScore:     score,
		TextSource:       obs.TextSource,
		NativeQuestionID: obs.NativeQuestionID,
		FirstSeenContext: attemptContext,
		UpdatedAt:        s.now(),
	}
	if err := s.repo.UpsertQuestion(ctx, q); err != nil {
		return "", retired, err
	}
	return fingerprint, retired, nil
}

// applyCandidate handles the case where the content fingerprint already
// resolved: at most the stored metadata improves, identity cannot change.
func (s *BankService) applyCandidate(ctx context.Context, existing domain.Question, text string, obs domain.ObservedQuestion) error {
	decision, err := PlanMerge(existing, text, obs.Type, obs.Options, obs.TextSource)
	if err != nil {
		return err
	}
	if decision.Action != domain.MergeUpdateInPlace {
		return nil
	}
	q := existing
	q.Text = text
	q.Options = obs.Options
	q.QualityScore = decision.QualityScore
	q.TextSource = obs.TextSource
	q.UpdatedAt = s.now()
	return s.repo.UpsertQuestion(ctx, q)
}

// cleanupDuplicates merges stale duplicate records for one native id into the
// canonical one and returns the fingerprints it retired. Failures are logged
// and skipped: the duplicates stay behind and the next capture pass retries,
// which is safe because merges are idempotent.
func (s *BankService) cleanupDuplicates(ctx context.Context, canonical domain.Question, stale []domain.Question) []string {
	var merged []string
	for _, q := range stale {
		if q.Fingerprint == canonical.Fingerprint {
			continue
		}
		if _, err := s.repo.MergeRecords(ctx, q.Fingerprint, canonical.Fingerprint); err != nil {
			if errors.Is(err, domain.ErrAlreadyMerged) {
				continue
			}
			s.logger.Printf("duplicate cleanup %s -> %s failed: %v", q.Fingerprint, canonical.Fingerprint, err)
			continue
		}
		merged = append(merged, q.Fingerprint)
	}
	return merged
}

func (s *BankService) reconcileStored(ctx context.Context, fingerprint string, subs []domain.Submission) (bool, error) {
	var existing *domain.BestAnswer
	stored, err := s.repo.FindBestAnswer(ctx, fingerprint)
	if err == nil {
		existing = &stored
	} else if !errors.Is(err, domain.ErrBestAnswerNotFound) {
		return false, err
	}

	best, updated := ReconcileBatch(existing, subs)
	if !updated {
		return false, nil
	}
	if err := s.repo.UpsertBestAnswer(ctx, fingerprint, best); err != nil {
		return false, err
	}
	return true, nil
}

// BestAnswer returns the reconciled answer for a fingerprint.
func (s *BankService) BestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error) {
	return s.repo.FindBestAnswer(ctx, fingerprint)
}

// BestAnswerByNative resolves a question through the native-id fallback index
// and returns its best answer. When duplicates exist the highest-quality
// record wins, matching the canonical selection used during capture.
func (s *BankService) BestAnswerByNative(ctx context.Context, nativeQuestionID, attemptContext string) (domain.BestAnswer, error) {
	found, err := s.repo.FindQuestionsByNativeID(ctx, nativeQuestionID, attemptContext)
	if err != nil {
		return domain.BestAnswer{}, err
	}
	if len(found) == 0 {
		return domain.BestAnswer{}, domain.ErrQuestionNotFound
	}
	canonical, _ := SelectCanonical(found)
	return s.repo.FindBestAnswer(ctx, canonical.Fingerprint)
}

// Question returns the stored record for a fingerprint.
func (s *BankService) Question(ctx context.Context, fingerprint string) (domain.Question, error) {
	return s.repo.FindQuestion(ctx, fingerprint)
}

// RebuildBestAnswer recomputes a fingerprint's best answer from scratch by
// replaying every stored submission through the reconciler. Submissions are
// replayed in observation order so tied confidences resolve the same way the
// original capture passes did.
func (s *BankService) RebuildBestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error) {
	subs, err := s.repo.SubmissionsFor(ctx, fingerprint)
	if err != nil {
		return domain.BestAnswer{}, err
	}
	if len(subs) == 0 {
		return domain.BestAnswer{}, domain.ErrBestAnswerNotFound
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].ObservedAt.Before(subs[j].ObservedAt)
	})

	best, ok := ReconcileBatch(nil, subs)
	if !ok {
		return domain.BestAnswer{}, domain.ErrBestAnswerNotFound
	}
	if err := s.repo.UpsertBestAnswer(ctx, fingerprint, best); err != nil {
		return domain.BestAnswer{}, err
	}
	return best, nil
}
