package memory

import (
	"context"
	"slices"
	"sync"

	"selfquiz/internal/domain"
)

// RemoteSync keeps remote account data in process. It backs offline mode
// and lets tests observe what the ledger synchronized.
type RemoteSync struct {
	mu       sync.Mutex
	accounts map[string]string
	attempts map[string][]domain.Attempt
	mastery  map[string]map[string]int
	content  map[string][]string
	failErr  error
}

func NewRemoteSync() *RemoteSync {
	return &RemoteSync{
		accounts: make(map[string]string),
		attempts: make(map[string][]domain.Attempt),
		mastery:  make(map[string]map[string]int),
		content:  make(map[string][]string),
	}
}

// Fail makes every later call fail with err; nil restores normal behavior.
func (r *RemoteSync) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *RemoteSync) EnsureAccount(_ context.Context, username string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return "", r.failErr
	}
	id := domain.AccountID(username)
	if _, ok := r.accounts[id]; !ok {
		r.accounts[id] = domain.AccountHandle(username)
	}
	return id, nil
}

func (r *RemoteSync) RecordAttempt(_ context.Context, accountID string, attempt domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.attempts[accountID] = append(r.attempts[accountID], attempt)
	return nil
}

func (r *RemoteSync) GetMasteryLevel(_ context.Context, accountID, topic string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, false, r.failErr
	}
	level, ok := r.mastery[accountID][topic]
	return level, ok, nil
}

func (r *RemoteSync) SetMasteryLevel(_ context.Context, accountID, topic string, level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	if r.mastery[accountID] == nil {
		r.mastery[accountID] = make(map[string]int)
	}
	r.mastery[accountID][topic] = level
	return nil
}

func (r *RemoteSync) DeleteAccountData(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	delete(r.accounts, accountID)
	delete(r.attempts, accountID)
	delete(r.mastery, accountID)
	delete(r.content, accountID)
	return nil
}

func (r *RemoteSync) SaveCustomContent(_ context.Context, accountID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.content[accountID] = append(r.content[accountID], content)
	return nil
}

// HasAccount reports whether accountID exists.
func (r *RemoteSync) HasAccount(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[accountID]
	return ok
}

// Attempts returns the attempts recorded for accountID.
func (r *RemoteSync) Attempts(accountID string) []domain.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.attempts[accountID])
}

// Mastery returns the mastery level for (accountID, topic).
func (r *RemoteSync) Mastery(accountID, topic string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.mastery[accountID][topic]
	return level, ok
}

// CustomContent returns uploads stored for accountID.
func (r *RemoteSync) CustomContent(accountID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.content[accountID])
}
