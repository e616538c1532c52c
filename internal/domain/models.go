package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinNameLength = 3
	MaxNameLength = 25

	// PassingScore is the minimum score that advances mastery for a topic.
	PassingScore = 80

	// GeneralTopic is the mastery row seeded for every new remote account.
	GeneralTopic = "General"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s]+$`)

// accountNamespace scopes UUIDv5 account identifiers derived from display names.
var accountNamespace = uuid.MustParse("6f1c2f0e-4b8a-5d3e-9a71-2c4e8d0b7f55")

// ValidateName checks a submitted display name and returns it with surrounding
// whitespace removed. Checks run on the trimmed name, first failure wins.
func ValidateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrEmptyName
	}
	length := utf8.RuneCountInString(name)
	if length < MinNameLength {
		return "", ErrNameTooShort
	}
	if !namePattern.MatchString(name) {
		return "", ErrNameInvalidCharacters
	}
	if length > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// AccountHandle is the lower-cased, whitespace-stripped form of a display name.
func AccountHandle(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "")
}

// AccountID maps a display name to its stable remote account identifier.
func AccountID(name string) string {
	return uuid.NewSHA1(accountNamespace, []byte(AccountHandle(name))).String()
}

// CognitiveLevel is the Bloom level requested from the content layer.
type CognitiveLevel string

const (
	LevelRecall        CognitiveLevel = "recall"
	LevelComprehension CognitiveLevel = "comprehension"
	LevelApplication   CognitiveLevel = "application"
	LevelAnalysis      CognitiveLevel = "analysis"
	LevelSynthesis     CognitiveLevel = "synthesis"
	LevelEvaluation    CognitiveLevel = "evaluation"
)

func (l CognitiveLevel) Valid() bool {
	switch l {
	case LevelRecall, LevelComprehension, LevelApplication, LevelAnalysis, LevelSynthesis, LevelEvaluation:
		return true
	}
	return false
}

// QuizSettings tunes a single quiz run.
type QuizSettings struct {
	CognitiveLevel CognitiveLevel `json:"cognitiveLevel" yaml:"cognitive_level"`
	QuestionCount  int            `json:"questionCount" yaml:"question_count"`
	TimeLimit      int            `json:"timeLimit" yaml:"time_limit"` // minutes
}

// DefaultSettings returns comprehension/10 questions/10 minutes.
func DefaultSettings() QuizSettings {
	return QuizSettings{
		CognitiveLevel: LevelComprehension,
		QuestionCount:  10,
		TimeLimit:      10,
	}
}

func (s QuizSettings) Validate() error {
	if !s.CognitiveLevel.Valid() {
		return fmt.Errorf("%w: unknown cognitive level %q", ErrInvalidSettings, s.CognitiveLevel)
	}
	if s.QuestionCount < 5 || s.QuestionCount > 50 {
		return fmt.Errorf("%w: question count %d outside [5,50]", ErrInvalidSettings, s.QuestionCount)
	}
	if s.TimeLimit < 5 || s.TimeLimit > 60 {
		return fmt.Errorf("%w: time limit %d outside [5,60]", ErrInvalidSettings, s.TimeLimit)
	}
	return nil
}

// Phase discriminates the SessionState variants.
type Phase string

const (
	PhaseLoggedOut     Phase = "logged_out"
	PhaseAwaitingTopic Phase = "awaiting_topic"
	PhaseInQuiz        Phase = "in_quiz"
	PhaseExpired       Phase = "expired"
	PhaseCompleted     Phase = "completed"
)

// SessionState is the single live session. Fields beyond Phase are only
// meaningful for the phases that carry them.
type SessionState struct {
	Phase    Phase        `json:"phase"`
	User     string       `json:"user,omitempty"`
	Topic    string       `json:"topic,omitempty"`
	Settings QuizSettings `json:"settings"`
	Score    int          `json:"score,omitempty"`
}

func LoggedOut() SessionState {
	return SessionState{Phase: PhaseLoggedOut, Settings: DefaultSettings()}
}

// ResultRecord is the last score a user achieved on a topic.
type ResultRecord struct {
	Username string `json:"username"`
	Topic    string `json:"topic"`
	Score    int    `json:"score"`
}

// Attempt is a completed quiz as reported to the ledger and the remote store.
type Attempt struct {
	Username       string         `json:"username"`
	Topic          string         `json:"topic"`
	Score          int            `json:"score"`
	QuestionCount  int            `json:"questionCount"`
	CognitiveLevel CognitiveLevel `json:"cognitiveLevel"`
}

func (a Attempt) Passing() bool {
	return a.Score >= PassingScore
}

func ValidateScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %d", ErrScoreOutOfRange, score)
	}
	return nil
}

// Option represents a possible answer for an item.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Item is a single quiz question supplied by the content layer.
type Item struct {
	ID      string   `json:"id" yaml:"id"`
	Topic   string   `json:"topic" yaml:"topic"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []Option `json:"options" yaml:"options"`
}

// CountdownView is the observable countdown.
type CountdownView struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	Running          bool   `json:"running"`
	Display          string `json:"display"`
}

// SessionView is what subscribers receive on every change.
type SessionView struct {
	State      SessionState  `json:"state"`
	Countdown  CountdownView `json:"countdown"`
	ItemCount  int           `json:"itemCount"`
	Answered   int           `json:"answered"`
	KnownUsers []string      `json:"knownUsers"`
}
