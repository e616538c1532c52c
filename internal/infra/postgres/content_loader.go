package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"selfquiz/internal/domain"
)

// ContentLoader loads topic items stored as JSONB rows in Postgres.
type ContentLoader struct {
	pool *pgxpool.Pool
}

func NewContentLoader(pool *pgxpool.Pool) *ContentLoader {
	return &ContentLoader{pool: pool}
}

// LoadItems returns the items of topic ordered by position. An unknown topic has no items.
func (l *ContentLoader) LoadItems(ctx context.Context, topic string) ([]domain.Item, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM topic_items WHERE topic=$1 ORDER BY position`, topic)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		var item domain.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshal item: %w", err)
		}
		item.Topic = topic
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return items, nil
}

// Topics lists every topic that has at least one item.
func (l *ContentLoader) Topics(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT DISTINCT topic FROM topic_items ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// SaveItems replaces the items of topic, keeping their order.
func (l *ContentLoader) SaveItems(ctx context.Context, topic string, items []domain.Item) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM topic_items WHERE topic=$1`, topic); err != nil {
		return fmt.Errorf("clear topic: %w", err)
	}
	for i, item := range items {
		item.Topic = topic
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO topic_items (topic, position, data) VALUES ($1, $2, $3)`,
			topic, i, raw,
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}
	return tx.Commit(ctx)
}
