package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"selfquiz/internal/domain"
)

// RemoteSync stores accounts, attempts, mastery and uploads in Postgres through bun.
type RemoteSync struct {
	db *bun.DB
}

// Open connects to dsn. The schema is managed by the migrations package.
func Open(dsn string) *RemoteSync {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewRemoteSync(bun.NewDB(sqldb, pgdialect.New()))
}

func NewRemoteSync(db *bun.DB) *RemoteSync {
	return &RemoteSync{db: db}
}

// DB exposes the handle for migrations.
func (r *RemoteSync) DB() *bun.DB {
	return r.db
}

func (r *RemoteSync) Close() error {
	return r.db.Close()
}

// EnsureAccount creates the account for username if absent. The id is
// derived from the name, so repeated calls land on the same row.
func (r *RemoteSync) EnsureAccount(ctx context.Context, username string) (string, error) {
	account := &accountModel{
		ID:       domain.AccountID(username),
		Handle:   domain.AccountHandle(username),
		Username: username,
	}
	if _, err := r.db.NewInsert().
		Model(account).
		On("CONFLICT DO NOTHING").
		Exec(ctx); err != nil {
		return "", fmt.Errorf("ensure account: %w", err)
	}
	return account.ID, nil
}

func (r *RemoteSync) RecordAttempt(ctx context.Context, accountID string, attempt domain.Attempt) error {
	row := &attemptModel{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Topic:          attempt.Topic,
		Score:          attempt.Score,
		QuestionCount:  attempt.QuestionCount,
		CognitiveLevel: string(attempt.CognitiveLevel),
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *RemoteSync) GetMasteryLevel(ctx context.Context, accountID, topic string) (int, bool, error) {
	var progress progressModel
	err := r.db.NewSelect().
		Model(&progress).
		Where("account_id = ?", accountID).
		Where("topic = ?", topic).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get mastery: %w", err)
	}
	return progress.MasteryLevel, true, nil
}

func (r *RemoteSync) SetMasteryLevel(ctx context.Context, accountID, topic string, level int) error {
	progress := &progressModel{
		AccountID:    accountID,
		Topic:        topic,
		MasteryLevel: level,
		UpdatedAt:    time.Now().UTC(),
	}
	if _, err := r.db.NewInsert().
		Model(progress).
		On("CONFLICT (account_id, topic) DO UPDATE").
		Set("mastery_level = EXCLUDED.mastery_level").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("set mastery: %w", err)
	}
	return nil
}

// DeleteAccountData removes the account and everything recorded for it.
func (r *RemoteSync) DeleteAccountData(ctx context.Context, accountID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*attemptModel)(nil)).Where("account_id = ?", accountID).Exec(ctx); err != nil {
			return fmt.Errorf("delete attempts: %w", err)
		}
		if _, err := tx.NewDelete().Model((*progressModel)(nil)).Where("account_id = ?", accountID).Exec(ctx); err != nil {
			return fmt.Errorf("delete progress: %w", err)
		}
		if _, err := tx.NewDelete().Model((*customContentModel)(nil)).Where("account_id = ?", accountID).Exec(ctx); err != nil {
			return fmt.Errorf("delete custom content: %w", err)
		}
		if _, err := tx.NewDelete().Model((*accountModel)(nil)).Where("id = ?", accountID).Exec(ctx); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return nil
	})
}

func (r *RemoteSync) SaveCustomContent(ctx context.Context, accountID, content string) error {
	row := &customContentModel{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Content:   content,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("save custom content: %w", err)
	}
	return nil
}

// Attempts lists the attempts recorded for accountID, oldest first.
func (r *RemoteSync) Attempts(ctx context.Context, accountID string) ([]domain.Attempt, error) {
	var rows []attemptModel
	if err := r.db.NewSelect().
		Model(&rows).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Attempt{
			Topic:          row.Topic,
			Score:          row.Score,
			QuestionCount:  row.QuestionCount,
			CognitiveLevel: domain.CognitiveLevel(row.CognitiveLevel),
		})
	}
	return out, nil
}
