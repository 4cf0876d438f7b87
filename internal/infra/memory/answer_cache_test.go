package memory

import (
	"context"
	"testing"
	"time"

	"github.com/quizbankorg/quizbank/internal/domain"
)

func TestAnswerCacheServesFromCache(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{answers: map[string]domain.BestAnswer{
		"fp-1": {AnswerText: "Paris", ConfidenceScore: 1},
	}}
	cache := NewAnswerCache(source, time.Minute)

	best, err := cache.BestAnswer(ctx, "fp-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if best.AnswerText != "Paris" {
		t.Fatalf("unexpected answer %+v", best)
	}
	if source.calls != 1 {
		t.Fatalf("expected source called once, got %d", source.calls)
	}

	if _, err := cache.BestAnswer(ctx, "fp-1"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls=%d", source.calls)
	}
}

func TestAnswerCacheDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{answers: map[string]domain.BestAnswer{}}
	cache := NewAnswerCache(source, time.Minute)

	if _, err := cache.BestAnswer(ctx, "fp-unknown"); err == nil {
		t.Fatalf("expected miss to propagate")
	}

	// The answer shows up later; the miss must not stick.
	source.answers["fp-unknown"] = domain.BestAnswer{AnswerText: "42"}
	best, err := cache.BestAnswer(ctx, "fp-unknown")
	if err != nil || best.AnswerText != "42" {
		t.Fatalf("expected fresh lookup after miss, got %+v (%v)", best, err)
	}
}

func TestAnswerCacheExpiry(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{answers: map[string]domain.BestAnswer{
		"fp-1": {AnswerText: "old"},
	}}
	cache := NewAnswerCache(source, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	if _, err := cache.BestAnswer(ctx, "fp-1"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	source.answers["fp-1"] = domain.BestAnswer{AnswerText: "new"}

	// Jitter stretches the TTL by at most 10%, so two minutes is past expiry.
	now = now.Add(2 * time.Minute)
	best, err := cache.BestAnswer(ctx, "fp-1")
	if err != nil || best.AnswerText != "new" {
		t.Fatalf("expected refreshed answer after expiry, got %+v (%v)", best, err)
	}
	if source.calls != 2 {
		t.Fatalf("expected reload after expiry, calls=%d", source.calls)
	}
}

type countingSource struct {
	answers map[string]domain.BestAnswer
	calls   int
}

func (s *countingSource) BestAnswer(_ context.Context, fingerprint string) (domain.BestAnswer, error) {
	s.calls++
	if best, ok := s.answers[fingerprint]; ok {
		return best, nil
	}
	return domain.BestAnswer{}, domain.ErrBestAnswerNotFound
}
