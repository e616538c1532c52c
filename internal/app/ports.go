package app

import (
	"context"

	"selfquiz/internal/domain"
)

// RemoteSync is the best-effort remote persistence service. Every call may
// fail; callers log failures and carry on.
type RemoteSync interface {
	// EnsureAccount returns the account for username, creating it if absent.
	EnsureAccount(ctx context.Context, username string) (accountID string, err error)
	RecordAttempt(ctx context.Context, accountID string, attempt domain.Attempt) error
	// GetMasteryLevel reports ok=false when no mastery row exists yet.
	GetMasteryLevel(ctx context.Context, accountID, topic string) (level int, ok bool, err error)
	SetMasteryLevel(ctx context.Context, accountID, topic string, level int) error
	DeleteAccountData(ctx context.Context, accountID string) error
	SaveCustomContent(ctx context.Context, accountID, content string) error
}

// ContentProvider loads the ordered quiz items of a topic (from cache/backing store).
type ContentProvider interface {
	Items(ctx context.Context, topic string) ([]domain.Item, error)
}
