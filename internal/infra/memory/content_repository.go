package memory

import (
	"context"
	"fmt"
	"maps"
	"math/rand"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"selfquiz/internal/domain"
)

// ContentLoader fetches topic items from a backing store (e.g., Postgres, a YAML file).
type ContentLoader interface {
	LoadItems(ctx context.Context, topic string) ([]domain.Item, error)
}

// ContentRepository caches topic items with TTL to avoid repeated loader hits.
type ContentRepository struct {
	loader ContentLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedItems
}

type cachedItems struct {
	items     []domain.Item
	expiresAt time.Time
}

func NewContentRepository(loader ContentLoader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedItems),
	}
}

func (r *ContentRepository) Items(ctx context.Context, topic string) ([]domain.Item, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[topic]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.items, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(topic, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[topic]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.items, nil
		}
		r.mu.RUnlock()

		items, err := r.loader.LoadItems(ctx, topic)
		if err != nil {
			return nil, err
		}

		expiresAt := now.Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[topic] = cachedItems{items: items, expiresAt: expiresAt}
		r.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Item), nil
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticContentLoader is a loader backed by an in-memory map keyed by topic.
// Unknown topics have no items.
type StaticContentLoader struct {
	topics map[string][]domain.Item
}

func NewStaticContentLoader(topics map[string][]domain.Item) *StaticContentLoader {
	return &StaticContentLoader{topics: topics}
}

func (l *StaticContentLoader) LoadItems(_ context.Context, topic string) ([]domain.Item, error) {
	return l.topics[topic], nil
}

// Topics lists the topics the loader knows about, sorted.
func (l *StaticContentLoader) Topics() []string {
	return slices.Sorted(maps.Keys(l.topics))
}

// contentFile is the YAML layout of a content file:
//
//	topics:
//	  History:
//	    - id: h1
//	      prompt: ...
//	      options: [{id: a, text: ..., correct: true}]
type contentFile struct {
	Topics map[string][]domain.Item `yaml:"topics"`
}

// LoadContentFile reads a YAML content file into a static loader.
func LoadContentFile(path string) (*StaticContentLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	var file contentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse content file: %w", err)
	}
	for topic, items := range file.Topics {
		for i := range items {
			if items[i].Topic == "" {
				items[i].Topic = topic
			}
		}
	}
	return NewStaticContentLoader(file.Topics), nil
}
