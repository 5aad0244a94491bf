// Package store implements the daemon's embedded persistence layer (spec §3,
// component 1): the item table, the processing-item journal, and the
// sync-state table, each a bbolt bucket behind a typed repository.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/logging"
)

var (
	bucketItems     = []byte("items")
	bucketJournal   = []byte("processing_items")
	bucketSyncState = []byte("sync_state")
)

// Store owns the bbolt handle and the repositories layered on it.
type Store struct {
	db *bolt.DB

	Items     *ItemRepository
	Journal   *JournalRepository
	SyncState *SyncStateRepository
}

// Open opens (creating if absent) the bbolt database at path, retrying with
// exponential backoff if another mount currently holds its file lock.
func Open(path string) (*Store, error) {
	var db *bolt.DB
	var err error

	const maxAttempts = 10
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for attempt := 0; attempt < maxAttempts; attempt++ {
		db, err = bolt.Open(path, 0600, &bolt.Options{
			Timeout:        10 * time.Second,
			NoFreelistSync: true,
		})
		if err == nil {
			break
		}
		if attempt == maxAttempts-1 {
			return nil, ferrors.NewLocalIOError(fmt.Sprintf("could not open store at %s after %d attempts (already mounted elsewhere?)", path, maxAttempts), err)
		}
		logging.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("failed to open store, retrying")
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	s := &Store{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	s.Items = &ItemRepository{db: db}
	s.Journal = &JournalRepository{db: db}
	s.SyncState = &SyncStateRepository{db: db}
	return s, nil
}

func (s *Store) bootstrap() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketJournal, bucketSyncState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return ferrors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
}

// Close flushes and closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw bbolt handle for callers that need a cross-repository
// transaction (e.g. atomically reparenting an item and enqueuing its move).
func (s *Store) DB() *bolt.DB { return s.db }
