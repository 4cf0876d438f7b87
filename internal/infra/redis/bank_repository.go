package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/quizbankorg/quizbank/internal/domain"
	"github.com/redis/go-redis/v9"
)

// BankRepository stores the question bank in Redis:
//
//	SET  qb:question:{fingerprint}      JSON question record
//	SADD qb:native:{nativeId}:{context} fingerprint (fallback lookup index)
//	RPUSH qb:submissions:{fingerprint}  JSON submission per element
//	SET  qb:best:{fingerprint}          JSON best answer
//	INCR qb:submission:seq              submission id sequence
type BankRepository struct {
	client *redis.Client
}

func NewBankRepository(client *redis.Client) *BankRepository {
	return &BankRepository{client: client}
}

func questionKey(fingerprint string) string   { return "qb:question:" + fingerprint }
func submissionKey(fingerprint string) string { return "qb:submissions:" + fingerprint }
func bestKey(fingerprint string) string       { return "qb:best:" + fingerprint }
func nativeKey(nativeQuestionID, attemptContext string) string {
	return "qb:native:" + nativeQuestionID + ":" + attemptContext
}

func (r *BankRepository) FindQuestion(ctx context.Context, fingerprint string) (domain.Question, error) {
	raw, err := r.client.Get(ctx, questionKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("find question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

func (r *BankRepository) FindQuestionsByNativeID(ctx context.Context, nativeQuestionID, attemptContext string) ([]domain.Question, error) {
	fps, err := r.client.SMembers(ctx, nativeKey(nativeQuestionID, attemptContext)).Result()
	if err != nil {
		return nil, fmt.Errorf("native index lookup: %w", err)
	}
	out := make([]domain.Question, 0, len(fps))
	for _, fp := range fps {
		q, err := r.FindQuestion(ctx, fp)
		if errors.Is(err, domain.ErrQuestionNotFound) {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *BankRepository) UpsertQuestion(ctx context.Context, q domain.Question) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, questionKey(q.Fingerprint), raw, 0)
	pipe.SAdd(ctx, nativeKey(q.NativeQuestionID, q.FirstSeenContext), q.Fingerprint)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}
	return nil
}

func (r *BankRepository) AppendSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	seq, err := r.client.Incr(ctx, "qb:submission:seq").Result()
	if err != nil {
		return domain.Submission{}, fmt.Errorf("submission id: %w", err)
	}
	sub.ID = strconv.FormatInt(seq, 10)

	raw, err := json.Marshal(sub)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("marshal submission: %w", err)
	}
	if err := r.client.RPush(ctx, submissionKey(sub.QuestionFingerprint), raw).Err(); err != nil {
		return domain.Submission{}, fmt.Errorf("append submission: %w", err)
	}
	return sub, nil
}

func (r *BankRepository) SubmissionsFor(ctx context.Context, fingerprint string) ([]domain.Submission, error) {
	raws, err := r.client.LRange(ctx, submissionKey(fingerprint), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.Submission, 0, len(raws))
	for _, raw := range raws {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *BankRepository) FindBestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error) {
	raw, err := r.client.Get(ctx, bestKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BestAnswer{}, domain.ErrBestAnswerNotFound
	}
	if err != nil {
		return domain.BestAnswer{}, fmt.Errorf("find best answer: %w", err)
	}
	var best domain.BestAnswer
	if err := json.Unmarshal(raw, &best); err != nil {
		return domain.BestAnswer{}, fmt.Errorf("unmarshal best answer: %w", err)
	}
	return best, nil
}

func (r *BankRepository) UpsertBestAnswer(ctx context.Context, fingerprint string, best domain.BestAnswer) error {
	raw, err := json.Marshal(best)
	if err != nil {
		return fmt.Errorf("marshal best answer: %w", err)
	}
	if err := r.client.Set(ctx, bestKey(fingerprint), raw, 0).Err(); err != nil {
		return fmt.Errorf("upsert best answer: %w", err)
	}
	return nil
}

// MergeRecords re-points submissions and the best answer to the new
// fingerprint and deletes the retired record. The sequence is not atomic;
// the capture pipeline tolerates that because a partially applied merge is
// retried on the next pass and converges.
func (r *BankRepository) MergeRecords(ctx context.Context, oldFingerprint, newFingerprint string) (int, error) {
	old, err := r.FindQuestion(ctx, oldFingerprint)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		return 0, domain.ErrAlreadyMerged
	}
	if err != nil {
		return 0, err
	}

	subs, err := r.SubmissionsFor(ctx, oldFingerprint)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, sub := range subs {
		sub.QuestionFingerprint = newFingerprint
		raw, err := json.Marshal(sub)
		if err != nil {
			return moved, fmt.Errorf("marshal submission: %w", err)
		}
		if err := r.client.RPush(ctx, submissionKey(newFingerprint), raw).Err(); err != nil {
			return moved, fmt.Errorf("repoint submission: %w", err)
		}
		moved++
	}

	oldBest, err := r.FindBestAnswer(ctx, oldFingerprint)
	if err == nil {
		current, err := r.FindBestAnswer(ctx, newFingerprint)
		if errors.Is(err, domain.ErrBestAnswerNotFound) || (err == nil && oldBest.ConfidenceScore > current.ConfidenceScore) {
			if err := r.UpsertBestAnswer(ctx, newFingerprint, oldBest); err != nil {
				return moved, err
			}
		} else if err != nil {
			return moved, err
		}
	} else if !errors.Is(err, domain.ErrBestAnswerNotFound) {
		return moved, err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, submissionKey(oldFingerprint))
	pipe.Del(ctx, bestKey(oldFingerprint))
	pipe.SRem(ctx, nativeKey(old.NativeQuestionID, old.FirstSeenContext), oldFingerprint)
	pipe.Del(ctx, questionKey(oldFingerprint))
	if _, err := pipe.Exec(ctx); err != nil {
		return moved, fmt.Errorf("retire merged record: %w", err)
	}
	return moved, nil
}
