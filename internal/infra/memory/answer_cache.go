package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/quizbankorg/quizbank/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AnswerSource resolves best answers from the backing store.
type AnswerSource interface {
	BestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error)
}

// AnswerCache is a read-through cache for replay lookups, so a quiz page
// re-rendering the same questions does not hammer the backend. Entries
// expire after a jittered TTL; misses and errors are not cached. A capture
// that improves a best answer becomes visible once the entry expires, so
// staleness is bounded by the TTL.
type AnswerCache struct {
	source AnswerSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedAnswer
}

type cachedAnswer struct {
	best      domain.BestAnswer
	expiresAt time.Time
}

func NewAnswerCache(source AnswerSource, ttl time.Duration) *AnswerCache {
	return &AnswerCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[string]cachedAnswer),
	}
}

func (c *AnswerCache) BestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[fingerprint]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.best, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(fingerprint, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[fingerprint]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.best, nil
		}
		c.mu.RUnlock()

		best, err := c.source.BestAnswer(ctx, fingerprint)
		if err != nil {
			return domain.BestAnswer{}, err
		}

		c.mu.Lock()
		c.cache[fingerprint] = cachedAnswer{
			best:      best,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return best, nil
	})
	if err != nil {
		return domain.BestAnswer{}, err
	}
	return result.(domain.BestAnswer), nil
}

func (c *AnswerCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations; the package-level source
	// is safe for concurrent singleflight callbacks
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
