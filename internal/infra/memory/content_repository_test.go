package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"selfquiz/internal/domain"
)

func TestContentRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		ContentLoader: NewStaticContentLoader(map[string][]domain.Item{
			"History": sampleItems(),
		}),
	}
	repo := NewContentRepository(loader, time.Minute)

	items, err := repo.Items(context.Background(), "History")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.Items(context.Background(), "History"); err != nil {
		t.Fatalf("items 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestContentRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		ContentLoader: NewStaticContentLoader(map[string][]domain.Item{"History": sampleItems()}),
	}
	repo := NewContentRepository(loader, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.Items(context.Background(), "History")
	now = now.Add(2 * time.Minute)
	_, _ = repo.Items(context.Background(), "History")
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", loader.calls)
	}
}

func TestUnknownTopicHasNoItems(t *testing.T) {
	repo := NewContentRepository(NewStaticContentLoader(nil), time.Minute)
	items, err := repo.Items(context.Background(), "Nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestLoadContentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yaml")
	body := `topics:
  History:
    - id: h1
      prompt: Who crossed the Rubicon?
      options:
        - {id: a, text: Caesar, correct: true}
        - {id: b, text: Cicero}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, err := LoadContentFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	items, _ := loader.LoadItems(context.Background(), "History")
	if len(items) != 1 || items[0].Topic != "History" || !items[0].Options[0].Correct {
		t.Fatalf("unexpected items %+v", items)
	}
}

type countingLoader struct {
	ContentLoader
	calls int
}

func (l *countingLoader) LoadItems(ctx context.Context, topic string) ([]domain.Item, error) {
	l.calls++
	return l.ContentLoader.LoadItems(ctx, topic)
}

func sampleItems() []domain.Item {
	return []domain.Item{
		{
			ID:     "h1",
			Topic:  "History",
			Prompt: "In which year did the Berlin Wall fall?",
			Options: []domain.Option{
				{ID: "a", Text: "1987", Correct: false},
				{ID: "b", Text: "1989", Correct: true},
			},
		},
		{
			ID:     "h2",
			Topic:  "History",
			Prompt: "Who was the first Roman emperor?",
			Options: []domain.Option{
				{ID: "a", Text: "Augustus", Correct: true},
				{ID: "b", Text: "Nero", Correct: false},
			},
		},
	}
}

func TestStaticLoaderTopicsSorted(t *testing.T) {
	loader := NewStaticContentLoader(map[string][]domain.Item{
		"Physics": nil,
		"Biology": nil,
		"History": sampleItems(),
	})
	got := loader.Topics()
	if len(got) != 3 || got[0] != "Biology" || got[2] != "Physics" {
		t.Fatalf("unexpected topics %v", got)
	}
}
