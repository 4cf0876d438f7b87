package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/quizbankorg/quizbank/internal/domain"
)

// BankRepository persists the question bank in Postgres. Records are stored
// as JSONB blobs with the lookup keys promoted to indexed columns.
type BankRepository struct {
	pool *pgxpool.Pool
}

func NewBankRepository(pool *pgxpool.Pool) *BankRepository {
	return &BankRepository{pool: pool}
}

func (r *BankRepository) FindQuestion(ctx context.Context, fingerprint string) (domain.Question, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM questions WHERE fingerprint=$1`, fingerprint).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := r.pool.Query(ctx,
		`SELECT data FROM questions WHERE native_question_id=$1 AND first_seen_context=$2`,
		nativeQuestionID, attemptContext)
	if err != nil {
		return nil, fmt.Errorf("native lookup: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *BankRepository) UpsertQuestion(ctx context.Context, q domain.Question) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO questions (fingerprint, native_question_id, first_seen_context, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE
		SET native_question_id=EXCLUDED.native_question_id,
		    first_seen_context=EXCLUDED.first_seen_context,
		    data=EXCLUDED.data`,
		q.Fingerprint, q.NativeQuestionID, q.FirstSeenContext, raw)
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}
	return nil
}

func (r *BankRepository) AppendSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("marshal submission: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (fingerprint, data) VALUES ($1, $2) RETURNING id`,
		sub.QuestionFingerprint, raw).Scan(&id)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("append submission: %w", err)
	}
	sub.ID = strconv.FormatInt(id, 10)
	return sub, nil
}

func (r *BankRepository) SubmissionsFor(ctx context.Context, fingerprint string) ([]domain.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, fingerprint, data FROM submissions WHERE fingerprint=$1 ORDER BY id`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		var (
			id  int64
			fp  string
			raw []byte
		)
		if err := rows.Scan(&id, &fp, &raw); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		var sub domain.Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		// The columns are authoritative: id is assigned on insert and the
		// fingerprint column is rewritten by merges.
		sub.ID = strconv.FormatInt(id, 10)
		sub.QuestionFingerprint = fp
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *BankRepository) FindBestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM best_answers WHERE fingerprint=$1`, fingerprint).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err = r.pool.Exec(ctx, `
		INSERT INTO best_answers (fingerprint, data) VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO UPDATE SET data=EXCLUDED.data`,
		fingerprint, raw)
	if err != nil {
		return fmt.Errorf("upsert best answer: %w", err)
	}
	return nil
}

// MergeRecords runs the whole merge in one transaction: the merge is only
// considered applied once the commit succeeds, and a failed merge leaves the
// old record intact for retry.
func (r *BankRepository) MergeRecords(ctx context.Context, oldFingerprint, newFingerprint string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldRaw []byte
	err = tx.QueryRow(ctx, `SELECT data FROM questions WHERE fingerprint=$1 FOR UPDATE`, oldFingerprint).Scan(&oldRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAlreadyMerged
	}
	if err != nil {
		return 0, fmt.Errorf("lock merge source: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE submissions SET fingerprint=$1 WHERE fingerprint=$2`, newFingerprint, oldFingerprint)
	if err != nil {
		return 0, fmt.Errorf("repoint submissions: %w", err)
	}
	moved := int(tag.RowsAffected())

	// Carry the old best answer over only when it beats whatever the new
	// fingerprint already has.
	_, err = tx.Exec(ctx, `
		INSERT INTO best_answers (fingerprint, data)
		SELECT $1, data FROM best_answers WHERE fingerprint=$2
		ON CONFLICT (fingerprint) DO UPDATE SET data=EXCLUDED.data
		WHERE (EXCLUDED.data->>'confidenceScore')::float8 > (best_answers.data->>'confidenceScore')::float8`,
		newFingerprint, oldFingerprint)
	if err != nil {
		return 0, fmt.Errorf("repoint best answer: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM best_answers WHERE fingerprint=$1`, oldFingerprint); err != nil {
		return 0, fmt.Errorf("drop old best answer: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE fingerprint=$1`, oldFingerprint); err != nil {
		return 0, fmt.Errorf("retire merged question: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return moved, nil
}
