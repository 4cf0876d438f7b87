package app_test

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/quizbankorg/quizbank/internal/app"
	"github.com/quizbankorg/quizbank/internal/domain"
	"github.com/quizbankorg/quizbank/internal/infra/memory"
)

func newTestService() (*app.BankService, *memory.BankRepository) {
	repo := memory.NewBankRepository()
	return app.NewBankService(repo, log.Default()), repo
}

func TestCaptureAndReplay(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	report, err := service.CaptureBatch(ctx, "quiz-1", []domain.ObservedQuestion{{
		Text:             "What is the capital of France?",
		Type:             domain.MultipleChoice,
		Options:          []string{"Paris", "London", "Berlin"},
		NativeQuestionID: "101",
		TextSource:       domain.SourcePage,
		AnswerText:       "Paris",
		Outcome:          domain.OutcomeCorrect,
		PointsEarned:     1,
		PointsPossible:   1,
	}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if report.Captured != 1 || report.BestUpdated != 1 || report.Skipped != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	fp, err := app.Fingerprint("What is the capital of France?", domain.MultipleChoice, []string{"Paris", "London", "Berlin"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	best, err := service.BestAnswer(ctx, fp)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	if best.AnswerText != "Paris" || best.ConfidenceScore != 1 {
		t.Fatalf("unexpected best answer %+v", best)
	}

	byNative, err := service.BestAnswerByNative(ctx, "101", "quiz-1")
	if err != nil {
		t.Fatalf("best answer by native: %v", err)
	}
	if byNative.AnswerText != "Paris" {
		t.Fatalf("native fallback returned %+v", byNative)
	}

	subs, err := repo.SubmissionsFor(ctx, fp)
	if err != nil || len(subs) != 1 {
		t.Fatalf("expected 1 stored submission, got %d (%v)", len(subs), err)
	}
}

func TestPlaceholderUpgradeMerge(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	// First pass: the page only exposed a synthesized placeholder.
	report, err := service.CaptureBatch(ctx, "quiz-1", []domain.ObservedQuestion{{
		Type:             domain.ShortAnswer,
		NativeQuestionID: "17",
		TextSource:       domain.SourcePlaceholder,
		AnswerText:       "four",
		Outcome:          domain.OutcomeIncorrect,
	}})
	if err != nil {
		t.Fatalf("placeholder capture: %v", err)
	}
	if report.Captured != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	bootstrapFP, err := app.BootstrapFingerprint("17", "quiz-1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := service.Question(ctx, bootstrapFP); err != nil {
		t.Fatalf("bootstrap record should exist: %v", err)
	}

	// Second pass: real text became available for the same native id.
	report, err = service.CaptureBatch(ctx, "quiz-1", []domain.ObservedQuestion{{
		Text:             "What is 2+2?",
		Type:             domain.ShortAnswer,
		NativeQuestionID: "17",
		TextSource:       domain.SourcePage,
		AnswerText:       "4",
		Outcome:          domain.OutcomeCorrect,
		PointsEarned:     1,
		PointsPossible:   1,
	}})
	if err != nil {
		t.Fatalf("upgrade capture: %v", err)
	}
	if report.Merged != 1 {
		t.Fatalf("expected 1 merge, got %+v", report)
	}

	newFP, _ := app.Fingerprint("What is 2+2?", domain.ShortAnswer, nil)
	upgraded, err := service.Question(ctx, newFP)
	if err != nil {
		t.Fatalf("upgraded record missing: %v", err)
	}
	if upgraded.FirstSeenContext != "quiz-1" {
		t.Fatalf("merge must preserve the originating quiz, got %q", upgraded.FirstSeenContext)
	}
	if _, err := service.Question(ctx, bootstrapFP); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("old fingerprint should be retired, got %v", err)
	}

	subs, err := repo.SubmissionsFor(ctx, newFP)
	if err != nil {
		t.Fatalf("submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected both submissions under the new fingerprint, got %d", len(subs))
	}

	best, err := service.BestAnswer(ctx, newFP)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	if best.AnswerText != "4" || best.ConfidenceScore != 1 {
		t.Fatalf("unexpected best answer %+v", best)
	}
}

func TestSameBatchUpgradeRekeysSubmissions(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	// Placeholder and real text for the same native id arrive in one batch:
	// the upgrade merge retires the bootstrap record while the placeholder's
	// submission is still waiting to reconcile.
	report, err := service.CaptureBatch(ctx, "quiz-1", []domain.ObservedQuestion{
		{
			Type:             domain.ShortAnswer,
			NativeQuestionID: "17",
			TextSource:       domain.SourcePlaceholder,
			AnswerText:       "four",
			Outcome:          domain.OutcomeIncorrect,
		},
		{
			Text:             "What is 2+2?",
			Type:             domain.ShortAnswer,
			NativeQuestionID: "17",
			TextSource:       domain.SourcePage,
			AnswerText:       "4",
			Outcome:          domain.OutcomeCorrect,
			PointsEarned:     1,
			PointsPossible:   1,
		},
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if report.Captured != 2 || report.Merged != 1 || report.BestUpdated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	bootstrapFP, err := app.BootstrapFingerprint("17", "quiz-1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := service.Question(ctx, bootstrapFP); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("bootstrap record should be retired, got %v", err)
	}
	if _, err := service.BestAnswer(ctx, bootstrapFP); !errors.Is(err, domain.ErrBestAnswerNotFound) {
		t.Fatalf("no best answer may survive under the retired fingerprint, got %v", err)
	}

	newFP, _ := app.Fingerprint("What is 2+2?", domain.ShortAnswer, nil)
	subs, err := repo.SubmissionsFor(ctx, newFP)
	if err != nil {
		t.Fatalf("submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected both submissions under the new fingerprint, got %d", len(subs))
	}
	best, err := service.BestAnswer(ctx, newFP)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	if best.AnswerText != "4" || best.ConfidenceScore != 1 {
		t.Fatalf("unexpected best answer %+v", best)
	}
}

func TestCaptureStampsObservationTime(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBankRepository()
	frozen := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	service := app.NewBankServiceWithClock(repo, log.Default(), func() time.Time { return frozen })

	if _, err := service.CaptureBatch(ctx, "quiz-8", []domain.ObservedQuestion{{
		Text:             "How many sides does a hexagon have?",
		Type:             domain.Numerical,
		NativeQuestionID: "21",
		TextSource:       domain.SourcePage,
		AnswerText:       "6",
		Outcome:          domain.OutcomeCorrect,
	}}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	fp, _ := app.Fingerprint("How many sides does a hexagon have?", domain.Numerical, nil)
	q, err := service.Question(ctx, fp)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if !q.UpdatedAt.Equal(frozen) {
		t.Fatalf("expected UpdatedAt %v, got %v", frozen, q.UpdatedAt)
	}

	subs, err := repo.SubmissionsFor(ctx, fp)
	if err != nil || len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d (%v)", len(subs), err)
	}
	if !subs[0].ObservedAt.Equal(frozen) {
		t.Fatalf("submissions without a timestamp take the capture time, got %v", subs[0].ObservedAt)
	}

	best, err := service.BestAnswer(ctx, fp)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	if !best.ObservedAt.Equal(frozen) {
		t.Fatalf("expected best answer observed at %v, got %v", frozen, best.ObservedAt)
	}
}

func TestRepeatedCaptureConverges(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	batch := []domain.ObservedQuestion{{
		Text:             "Which planet is largest?",
		Type:             domain.MultipleChoice,
		Options:          []string{"Jupiter", "Mars"},
		NativeQuestionID: "5",
		TextSource:       domain.SourcePage,
		AnswerText:       "Jupiter",
		Outcome:          domain.OutcomeCorrect,
		PointsEarned:     1,
		PointsPossible:   1,
	}}

	if _, err := service.CaptureBatch(ctx, "quiz-2", batch); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	report, err := service.CaptureBatch(ctx, "quiz-2", batch)
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if report.Merged != 0 || report.BestUpdated != 0 {
		t.Fatalf("replaying the batch must not merge or rewrite the best answer: %+v", report)
	}

	fp, _ := app.Fingerprint("Which planet is largest?", domain.MultipleChoice, []string{"Jupiter", "Mars"})
	best, err := service.BestAnswer(ctx, fp)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	// The first capture's submission stays authoritative on the tie.
	if best.SubmissionID != "1" {
		t.Fatalf("expected original submission to win the tie, got %+v", best)
	}

	subs, _ := repo.SubmissionsFor(ctx, fp)
	if len(subs) != 2 {
		t.Fatalf("raw capture must keep both submissions, got %d", len(subs))
	}
}

func TestBatchTieKeepsFirstSubmission(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	obs := func(answer string, earned, possible float64) domain.ObservedQuestion {
		return domain.ObservedQuestion{
			Text:             "Name the third planet from the sun.",
			Type:             domain.ShortAnswer,
			NativeQuestionID: "33",
			TextSource:       domain.SourcePage,
			AnswerText:       answer,
			Outcome:          domain.OutcomePartial,
			PointsEarned:     earned,
			PointsPossible:   possible,
		}
	}

	report, err := service.CaptureBatch(ctx, "quiz-3", []domain.ObservedQuestion{
		obs("venus", 2, 5),
		obs("earth", 4.5, 5),
		obs("terra", 9, 10),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if report.Captured != 3 || report.BestUpdated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	fp, _ := app.Fingerprint("Name the third planet from the sun.", domain.ShortAnswer, nil)
	best, err := service.BestAnswer(ctx, fp)
	if err != nil {
		t.Fatalf("best answer: %v", err)
	}
	if best.AnswerText != "earth" {
		t.Fatalf("expected the first of the tied maximum, got %+v", best)
	}
}

func TestDuplicateCleanupMergesStaleRecords(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	// Stale duplicates from earlier buggy runs, both mapped to native id 9.
	for _, q := range []domain.Question{
		{Fingerprint: "dup-a", Text: "Question 9", Type: domain.ShortAnswer, QualityScore: 0, NativeQuestionID: "9", FirstSeenContext: "quiz-4"},
		{Fingerprint: "dup-b", Text: "Q9 partial text", Type: domain.ShortAnswer, QualityScore: 60, NativeQuestionID: "9", FirstSeenContext: "quiz-4"},
	} {
		if err := repo.UpsertQuestion(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := repo.AppendSubmission(ctx, domain.Submission{QuestionFingerprint: "dup-a", AnswerText: "stale", Outcome: domain.OutcomeIncorrect}); err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	report, err := service.CaptureBatch(ctx, "quiz-4", []domain.ObservedQuestion{{
		Text:             "What year did the French revolution begin?",
		Type:             domain.ShortAnswer,
		NativeQuestionID: "9",
		TextSource:       domain.SourcePage,
		AnswerText:       "1789",
		Outcome:          domain.OutcomeCorrect,
	}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	// dup-a folds into dup-b, then dup-b upgrades to the content fingerprint.
	if report.Merged != 2 {
		t.Fatalf("expected 2 merges, got %+v", report)
	}

	newFP, _ := app.Fingerprint("What year did the French revolution begin?", domain.ShortAnswer, nil)
	for _, gone := range []string{"dup-a", "dup-b"} {
		if _, err := service.Question(ctx, gone); !errors.Is(err, domain.ErrQuestionNotFound) {
			t.Fatalf("expected %s retired, got %v", gone, err)
		}
	}
	subs, _ := repo.SubmissionsFor(ctx, newFP)
	if len(subs) != 2 {
		t.Fatalf("expected stale and new submissions under %s, got %d", newFP, len(subs))
	}
}

func TestCaptureValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	report, err := service.CaptureBatch(ctx, "quiz-5", []domain.ObservedQuestion{
		{Text: "No type on this one", NativeQuestionID: "1", TextSource: domain.SourcePage},
		{Type: domain.ShortAnswer, NativeQuestionID: "2", TextSource: domain.SourcePage}, // blank text, not a placeholder
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if report.Skipped != 2 || report.Captured != 0 {
		t.Fatalf("expected both observations rejected, got %+v", report)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected 2 recorded errors, got %v", report.Errors)
	}
}

func TestReconcileFailureDoesNotBlockCapture(t *testing.T) {
	ctx := context.Background()
	repo := &failingBestRepo{BankRepository: memory.NewBankRepository()}
	service := app.NewBankService(repo, log.Default())

	report, err := service.CaptureBatch(ctx, "quiz-6", []domain.ObservedQuestion{{
		Text:             "Is water wet?",
		Type:             domain.TrueFalse,
		Options:          []string{"True", "False"},
		NativeQuestionID: "8",
		TextSource:       domain.SourcePage,
		AnswerText:       "True",
		Outcome:          domain.OutcomeCorrect,
	}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if report.Captured != 1 {
		t.Fatalf("raw capture must survive reconcile failures, got %+v", report)
	}
	if report.BestUpdated != 0 || len(report.Errors) != 1 {
		t.Fatalf("expected recorded reconcile failure, got %+v", report)
	}
}

func TestRebuildBestAnswer(t *testing.T) {
	ctx := context.Background()
	service, repo := newTestService()

	if err := repo.UpsertQuestion(ctx, domain.Question{
		Fingerprint: "fp-rebuild", Text: "anything", Type: domain.ShortAnswer,
		NativeQuestionID: "12", FirstSeenContext: "quiz-7",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, sub := range []domain.Submission{
		{QuestionFingerprint: "fp-rebuild", AnswerText: "weak", PointsEarned: 1, PointsPossible: 4},
		{QuestionFingerprint: "fp-rebuild", AnswerText: "strong", PointsEarned: 4, PointsPossible: 4},
	} {
		if _, err := repo.AppendSubmission(ctx, sub); err != nil {
			t.Fatalf("seed submission: %v", err)
		}
	}

	best, err := service.RebuildBestAnswer(ctx, "fp-rebuild")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if best.AnswerText != "strong" || best.ConfidenceScore != 1 {
		t.Fatalf("unexpected rebuilt answer %+v", best)
	}

	stored, err := service.BestAnswer(ctx, "fp-rebuild")
	if err != nil || stored.AnswerText != "strong" {
		t.Fatalf("rebuilt answer not persisted: %+v (%v)", stored, err)
	}
}

// failingBestRepo makes best-answer writes fail so the error path is testable.
type failingBestRepo struct {
	*memory.BankRepository
}

func (r *failingBestRepo) UpsertBestAnswer(context.Context, string, domain.BestAnswer) error {
	return errors.New("backend unavailable")
}
