package postgres

import (
	"time"

	"github.com/uptrace/bun"
)

type accountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID        string    `bun:"id,pk,type:uuid"`
	Handle    string    `bun:"handle,notnull,unique"`
	Username  string    `bun:"username,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type attemptModel struct {
	bun.BaseModel `bun:"table:quiz_attempts"`

	ID             string    `bun:"id,pk,type:uuid"`
	AccountID      string    `bun:"account_id,notnull,type:uuid"`
	Topic          string    `bun:"topic,notnull"`
	Score          int       `bun:"score,notnull"`
	QuestionCount  int       `bun:"question_count,notnull"`
	CognitiveLevel string    `bun:"cognitive_level,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type progressModel struct {
	bun.BaseModel `bun:"table:user_progress"`

	AccountID    string    `bun:"account_id,pk,type:uuid"`
	Topic        string    `bun:"topic,pk"`
	MasteryLevel int       `bun:"mastery_level,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

type customContentModel struct {
	bun.BaseModel `bun:"table:custom_content"`

	ID        string    `bun:"id,pk,type:uuid"`
	AccountID string    `bun:"account_id,notnull,type:uuid"`
	Content   string    `bun:"content,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
