package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"selfquiz/internal/domain"
	"selfquiz/internal/localstore"
)

const defaultRemoteTimeout = 10 * time.Second

// Ledger owns the known-user registry and the per-(user, topic) results.
// Local writes are synchronous and authoritative; remote writes are
// dispatched in the background and only ever logged.
type Ledger struct {
	store         localstore.Store
	remote        RemoteSync
	remoteTimeout time.Duration

	mu      sync.Mutex
	users   []string
	records []domain.ResultRecord

	inflight sync.WaitGroup
}

type LedgerOption func(*Ledger)

// WithRemoteTimeout bounds each background sync run.
func WithRemoteTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.remoteTimeout = d
		}
	}
}

// NewLedger loads users and results from the local store.
func NewLedger(ctx context.Context, store localstore.Store, remote RemoteSync, opts ...LedgerOption) (*Ledger, error) {
	snap, err := localstore.Load(ctx, store)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load snapshot", Err: err}
	}
	l := &Ledger{
		store:         store,
		remote:        remote,
		remoteTimeout: defaultRemoteTimeout,
		users:         snap.KnownUsers,
		records:       snap.ResultRecords,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// KnownUsers returns a copy of the registered names in registration order.
func (l *Ledger) KnownUsers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.users)
}

func (l *Ledger) IsKnown(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.users, name)
}

// Admit commits session writes for name, registering it first if unknown.
// Registration and the session writes land in one batch.
func (l *Ledger) Admit(ctx context.Context, name string, session localstore.Batch) (registered bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.refreshLocked(ctx); err != nil {
		return false, err
	}
	batch := localstore.Batch{}
	var users []string
	if !slices.Contains(l.users, name) {
		users = append(slices.Clone(l.users), name)
		if err := batch.Put(localstore.KeyKnownUsers, users); err != nil {
			return false, &domain.PersistenceError{Op: "register user", Err: err}
		}
	}
	batch.Merge(session)
	if !batch.Empty() {
		if err := l.store.Commit(ctx, batch); err != nil {
			return false, &domain.PersistenceError{Op: "login", Err: err}
		}
	}
	if users == nil {
		return false, nil
	}
	l.users = users
	log.Info().Str("user", name).Msg("registered user")
	l.dispatch("register account", name, func(ctx context.Context) error {
		return l.bootstrapAccount(ctx, name)
	})
	return true, nil
}

// RecordResult upserts the (user, topic) record, persists the whole
// collection together with any session writes, and then syncs remotely.
func (l *Ledger) RecordResult(ctx context.Context, attempt domain.Attempt, session localstore.Batch) (domain.ResultRecord, error) {
	if err := domain.ValidateScore(attempt.Score); err != nil {
		return domain.ResultRecord{}, err
	}
	record := domain.ResultRecord{Username: attempt.Username, Topic: attempt.Topic, Score: attempt.Score}

	l.mu.Lock()
	if err := l.refreshLocked(ctx); err != nil {
		l.mu.Unlock()
		return domain.ResultRecord{}, err
	}
	records := slices.Clone(l.records)
	idx := slices.IndexFunc(records, func(r domain.ResultRecord) bool {
		return r.Username == record.Username && r.Topic == record.Topic
	})
	if idx >= 0 {
		records[idx] = record
	} else {
		records = append(records, record)
	}

	batch := localstore.Batch{}
	if err := batch.Put(localstore.KeyResultRecords, records); err != nil {
		l.mu.Unlock()
		return domain.ResultRecord{}, &domain.PersistenceError{Op: "record result", Err: err}
	}
	batch.Merge(session)
	if err := l.store.Commit(ctx, batch); err != nil {
		l.mu.Unlock()
		return domain.ResultRecord{}, &domain.PersistenceError{Op: "record result", Err: err}
	}
	l.records = records
	l.mu.Unlock()

	if attempt.Passing() {
		resultsRecorded.WithLabelValues("passed").Inc()
	} else {
		resultsRecorded.WithLabelValues("failed").Inc()
	}
	log.Info().
		Str("user", record.Username).
		Str("topic", record.Topic).
		Int("score", record.Score).
		Msg("recorded result")

	l.dispatch("record attempt", attempt.Username, func(ctx context.Context) error {
		return l.syncAttempt(ctx, attempt)
	})
	return record, nil
}

// RemoveUser drops name and every one of its results locally, then deletes
// the remote account data in the background.
func (l *Ledger) RemoveUser(ctx context.Context, name string) error {
	l.mu.Lock()
	if err := l.refreshLocked(ctx); err != nil {
		l.mu.Unlock()
		return err
	}
	if !slices.Contains(l.users, name) {
		l.mu.Unlock()
		return domain.ErrUserNotFound
	}
	users := slices.DeleteFunc(slices.Clone(l.users), func(u string) bool { return u == name })
	records := slices.DeleteFunc(slices.Clone(l.records), func(r domain.ResultRecord) bool { return r.Username == name })

	batch := localstore.Batch{}
	if err := batch.Put(localstore.KeyKnownUsers, users); err != nil {
		l.mu.Unlock()
		return &domain.PersistenceError{Op: "remove user", Err: err}
	}
	if err := batch.Put(localstore.KeyResultRecords, records); err != nil {
		l.mu.Unlock()
		return &domain.PersistenceError{Op: "remove user", Err: err}
	}
	if err := l.store.Commit(ctx, batch); err != nil {
		l.mu.Unlock()
		return &domain.PersistenceError{Op: "remove user", Err: err}
	}
	l.users = users
	l.records = records
	l.mu.Unlock()

	log.Info().Str("user", name).Msg("removed user")
	l.dispatch("delete account data", name, func(ctx context.Context) error {
		return l.remote.DeleteAccountData(ctx, domain.AccountID(name))
	})
	return nil
}

// SaveCustomContent uploads extracted study material for username. It never fails locally.
func (l *Ledger) SaveCustomContent(username, content string) {
	l.dispatch("save custom content", username, func(ctx context.Context) error {
		accountID, err := l.remote.EnsureAccount(ctx, username)
		if err != nil {
			return err
		}
		return l.remote.SaveCustomContent(ctx, accountID, content)
	})
}

// Results returns username's records in insertion order.
func (l *Ledger) Results(username string) []domain.ResultRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ResultRecord, 0)
	for _, r := range l.records {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out
}

// Records returns every stored result.
func (l *Ledger) Records() []domain.ResultRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Wait blocks until background syncs finish or ctx is done.
func (l *Ledger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshLocked re-reads users and results so a write never resurrects data
// another process sharing the store has removed.
func (l *Ledger) refreshLocked(ctx context.Context) error {
	snap, err := localstore.Load(ctx, l.store)
	if err != nil {
		return &domain.PersistenceError{Op: "load snapshot", Err: err}
	}
	l.users = snap.KnownUsers
	l.records = snap.ResultRecords
	return nil
}

// dispatch runs fn without blocking the caller. Failures are logged, never returned.
func (l *Ledger) dispatch(op, username string, fn func(ctx context.Context) error) {
	if l.remote == nil {
		return
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.remoteTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			remoteSyncFailures.WithLabelValues(op).Inc()
			log.Warn().
				Err(&domain.RemoteSyncError{Op: op, Username: username, Err: err}).
				Str("user", username).
				Msg("remote sync failed")
		}
	}()
}

func (l *Ledger) syncAttempt(ctx context.Context, attempt domain.Attempt) error {
	accountID, err := l.remote.EnsureAccount(ctx, attempt.Username)
	if err != nil {
		return err
	}
	if err := l.remote.RecordAttempt(ctx, accountID, attempt); err != nil {
		return err
	}
	level, ok, err := l.remote.GetMasteryLevel(ctx, accountID, attempt.Topic)
	if err != nil {
		return err
	}
	switch {
	case !ok && attempt.Passing():
		return l.remote.SetMasteryLevel(ctx, accountID, attempt.Topic, 1)
	case !ok:
		return l.remote.SetMasteryLevel(ctx, accountID, attempt.Topic, 0)
	case attempt.Passing():
		return l.remote.SetMasteryLevel(ctx, accountID, attempt.Topic, level+1)
	}
	return nil
}

func (l *Ledger) bootstrapAccount(ctx context.Context, name string) error {
	accountID, err := l.remote.EnsureAccount(ctx, name)
	if err != nil {
		return err
	}
	if _, ok, err := l.remote.GetMasteryLevel(ctx, accountID, domain.GeneralTopic); err != nil || ok {
		return err
	}
	return l.remote.SetMasteryLevel(ctx, accountID, domain.GeneralTopic, 0)
}
