package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"selfquiz/internal/domain"
	"selfquiz/internal/infra/memory"
)

// ContentRepository caches topic items in Redis and falls back to a loader on cache miss.
// Items are stored as: HSET quiz:topic:{topic}:items {position} {itemJSON}
type ContentRepository struct {
	client *redis.Client
	loader memory.ContentLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewContentRepository(client *redis.Client, loader memory.ContentLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ContentRepository) Items(ctx context.Context, topic string) ([]domain.Item, error) {
	key := r.itemsKey(topic)
	if items, ok := r.fromCache(ctx, key); ok {
		return items, nil
	}

	result, err, _ := r.sf.Do(topic, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if items, ok := r.fromCache(ctx, key); ok {
			return items, nil
		}

		items, err := r.loader.LoadItems(ctx, topic)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return items, nil
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		for i, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, key, strconv.Itoa(i), raw)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// best-effort cache fill
		_, _ = pipe.Exec(ctx)

		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Item), nil
}

// Invalidate drops the cached items of topic.
func (r *ContentRepository) Invalidate(ctx context.Context, topic string) error {
	return r.client.Del(ctx, r.itemsKey(topic)).Err()
}

func (r *ContentRepository) fromCache(ctx context.Context, key string) ([]domain.Item, bool) {
	cached, err := r.client.HGetAll(ctx, key).Result()
	if err != nil || len(cached) == 0 {
		return nil, false
	}
	items, err := buildItemsFromCache(cached)
	if err != nil {
		return nil, false
	}
	return items, true
}

func (r *ContentRepository) itemsKey(topic string) string {
	return "quiz:topic:" + topic + ":items"
}

func buildItemsFromCache(cached map[string]string) ([]domain.Item, error) {
	type positioned struct {
		pos  int
		item domain.Item
	}
	entries := make([]positioned, 0, len(cached))
	for field, raw := range cached {
		pos, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		var item domain.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, err
		}
		entries = append(entries, positioned{pos: pos, item: item})
	}
	slices.SortFunc(entries, func(a, b positioned) int { return a.pos - b.pos })

	items := make([]domain.Item, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}
	return items, nil
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
