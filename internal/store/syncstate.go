package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
)

var syncStateKey = []byte("state")

// SyncStateRepository persists the singleton sync-state row: the delta
// cursor the delta processor resumes from, and the timestamps the D-Bus
// status surface reports.
type SyncStateRepository struct {
	db *bolt.DB
}

// Get returns the current sync state, or a zero-value SyncState if none has
// been persisted yet (first run, no delta cursor).
func (r *SyncStateRepository) Get() (*SyncState, error) {
	state := &SyncState{}
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSyncState).Get(syncStateKey)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, state)
	})
	if err != nil {
		return nil, ferrors.NewCorruptionError("decode sync state", err)
	}
	return state, nil
}

func (r *SyncStateRepository) put(state *SyncState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return ferrors.NewCorruptionError("encode sync state", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncState).Put(syncStateKey, payload)
	})
}

// SetDeltaCursor persists cursor as the resume point for the next delta
// poll, also stamping LastSyncAt.
func (r *SyncStateRepository) SetDeltaCursor(cursor string) error {
	state, err := r.Get()
	if err != nil {
		return err
	}
	state.DeltaCursor = cursor
	state.LastSyncAt = time.Now().UTC()
	return r.put(state)
}

// SetLastFullScan stamps the time the last full reconciliation scan completed.
func (r *SyncStateRepository) SetLastFullScan(t time.Time) error {
	state, err := r.Get()
	if err != nil {
		return err
	}
	state.LastFullScan = t.UTC()
	return r.put(state)
}
