// Package localstore defines the device-local key/value contract and the
// snapshot persisted in it.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"selfquiz/internal/domain"
)

// Keys persisted on the device. Values are JSON.
const (
	KeyKnownUsers    = "knownUsers"
	KeyActiveUser    = "activeUser"
	KeyActiveTopic   = "activeTopic"
	KeyResultRecords = "resultRecords"
)

// Store is a durable key/value store. A missing key is reported with ok=false,
// never as an error. Commit applies every write in a batch or none of them.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Commit(ctx context.Context, batch Batch) error
}

// Batch groups writes that must land together.
type Batch struct {
	Sets    map[string][]byte
	Deletes []string
}

// Put JSON-encodes v under key.
func (b *Batch) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if b.Sets == nil {
		b.Sets = make(map[string][]byte)
	}
	b.Sets[key] = raw
	return nil
}

// Delete schedules removal of key.
func (b *Batch) Delete(key string) {
	b.Deletes = append(b.Deletes, key)
}

// Merge appends other's writes; other wins on conflicting sets.
func (b *Batch) Merge(other Batch) {
	for k, v := range other.Sets {
		if b.Sets == nil {
			b.Sets = make(map[string][]byte)
		}
		b.Sets[k] = v
	}
	b.Deletes = append(b.Deletes, other.Deletes...)
}

func (b Batch) Empty() bool {
	return len(b.Sets) == 0 && len(b.Deletes) == 0
}

// Snapshot is the durable projection read once at start.
type Snapshot struct {
	KnownUsers    []string
	ActiveUser    string
	ActiveTopic   string
	ResultRecords []domain.ResultRecord
}

// Load reads every snapshot key, treating absent keys as empty.
func Load(ctx context.Context, store Store) (Snapshot, error) {
	var snap Snapshot
	if err := getJSON(ctx, store, KeyKnownUsers, &snap.KnownUsers); err != nil {
		return Snapshot{}, err
	}
	if err := getJSON(ctx, store, KeyActiveUser, &snap.ActiveUser); err != nil {
		return Snapshot{}, err
	}
	if err := getJSON(ctx, store, KeyActiveTopic, &snap.ActiveTopic); err != nil {
		return Snapshot{}, err
	}
	if err := getJSON(ctx, store, KeyResultRecords, &snap.ResultRecords); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func getJSON(ctx context.Context, store Store, key string, dst any) error {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
