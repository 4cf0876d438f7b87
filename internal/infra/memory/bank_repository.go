package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/quizbankorg/quizbank/internal/domain"
)

// BankRepository is an in-memory implementation of app.BankRepository,
// useful for tests and for running the service without a backend.
type BankRepository struct {
	mu          sync.RWMutex
	questions   map[string]domain.Question
	submissions map[string][]domain.Submission
	best        map[string]domain.BestAnswer
	nativeIndex map[string]map[string]struct{}
	nextID      int
}

func NewBankRepository() *BankRepository {
	return &BankRepository{
		questions:   make(map[string]domain.Question),
		submissions: make(map[string][]domain.Submission),
		best:        make(map[string]domain.BestAnswer),
		nativeIndex: make(map[string]map[string]struct{}),
	}
}

func nativeKey(nativeQuestionID, attemptContext string) string {
	return nativeQuestionID + "\x00" + attemptContext
}

func (r *BankRepository) FindQuestion(_ context.Context, fingerprint string) (domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.questions[fingerprint]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (r *BankRepository) FindQuestionsByNativeID(_ context.Context, nativeQuestionID, attemptContext string) ([]domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fps, ok := r.nativeIndex[nativeKey(nativeQuestionID, attemptContext)]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Question, 0, len(fps))
	for fp := range fps {
		if q, ok := r.questions[fp]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *BankRepository) UpsertQuestion(_ context.Context, q domain.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions[q.Fingerprint] = q
	r.indexLocked(q)
	return nil
}

func (r *BankRepository) indexLocked(q domain.Question) {
	key := nativeKey(q.NativeQuestionID, q.FirstSeenContext)
	if _, ok := r.nativeIndex[key]; !ok {
		r.nativeIndex[key] = make(map[string]struct{})
	}
	r.nativeIndex[key][q.Fingerprint] = struct{}{}
}

func (r *BankRepository) unindexLocked(q domain.Question) {
	key := nativeKey(q.NativeQuestionID, q.FirstSeenContext)
	if fps, ok := r.nativeIndex[key]; ok {
		delete(fps, q.Fingerprint)
		if len(fps) == 0 {
			delete(r.nativeIndex, key)
		}
	}
}

func (r *BankRepository) AppendSubmission(_ context.Context, sub domain.Submission) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = strconv.Itoa(r.nextID)
	r.submissions[sub.QuestionFingerprint] = append(r.submissions[sub.QuestionFingerprint], sub)
	return sub, nil
}

func (r *BankRepository) SubmissionsFor(_ context.Context, fingerprint string) ([]domain.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.submissions[fingerprint]
	out := make([]domain.Submission, len(subs))
	copy(out, subs)
	return out, nil
}

func (r *BankRepository) FindBestAnswer(_ context.Context, fingerprint string) (domain.BestAnswer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if best, ok := r.best[fingerprint]; ok {
		return best, nil
	}
	return domain.BestAnswer{}, domain.ErrBestAnswerNotFound
}

func (r *BankRepository) UpsertBestAnswer(_ context.Context, fingerprint string, best domain.BestAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.best[fingerprint] = best
	return nil
}

// MergeRecords re-points submissions and the best answer from the old
// fingerprint to the new one and deletes the old question. Re-running the
// same merge is a no-op reported as domain.ErrAlreadyMerged because the old
// record is gone.
func (r *BankRepository) MergeRecords(_ context.Context, oldFingerprint, newFingerprint string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.questions[oldFingerprint]
	if !ok {
		return 0, domain.ErrAlreadyMerged
	}

	moved := 0
	for _, sub := range r.submissions[oldFingerprint] {
		sub.QuestionFingerprint = newFingerprint
		r.submissions[newFingerprint] = append(r.submissions[newFingerprint], sub)
		moved++
	}
	delete(r.submissions, oldFingerprint)

	if oldBest, ok := r.best[oldFingerprint]; ok {
		if current, exists := r.best[newFingerprint]; !exists || oldBest.ConfidenceScore > current.ConfidenceScore {
			r.best[newFingerprint] = oldBest
		}
		delete(r.best, oldFingerprint)
	}

	r.unindexLocked(old)
	delete(r.questions, oldFingerprint)
	return moved, nil
}
