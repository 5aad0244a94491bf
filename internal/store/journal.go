package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
)

// JournalRepository persists the processing-item journal: the ordered queue
// of pending sync actions (local mutations awaiting upload and remote changes
// awaiting local application), keyed by an autoincrementing sequence so
// FIFO order survives a restart.
type JournalRepository struct {
	db *bolt.DB
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Enqueue appends item to the journal, assigning it the next sequence number.
func (r *JournalRepository) Enqueue(item *ProcessingItem) (uint64, error) {
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == 0 {
		item.Status = StatusNew
	}
	var seq uint64
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		item.Seq = seq
		payload, err := json.Marshal(item)
		if err != nil {
			return ferrors.NewCorruptionError("encode processing item", err)
		}
		return b.Put(seqKey(seq), payload)
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Get returns the journal row with the given sequence number.
func (r *JournalRepository) Get(seq uint64) (*ProcessingItem, error) {
	var item *ProcessingItem
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketJournal).Get(seqKey(seq))
		if raw == nil {
			return nil
		}
		item = &ProcessingItem{}
		return json.Unmarshal(raw, item)
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "decode processing item")
	}
	return item, nil
}

// Pending returns all journal rows in FIFO order whose status is not a
// terminal one (done, cancelled, or error) - the sync processor's
// drain-loop input.
func (r *JournalRepository) Pending() ([]*ProcessingItem, error) {
	var items []*ProcessingItem
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			item := &ProcessingItem{}
			if err := json.Unmarshal(v, item); err != nil {
				continue
			}
			if item.Status == StatusDone || item.Status == StatusCancelled || item.Status == StatusError {
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "list pending processing items")
	}
	return items, nil
}

// PendingForItem returns the non-terminal journal rows for a single item ID,
// FIFO ordered - used by validation to detect a same-item row racing in from
// the opposite source.
func (r *JournalRepository) PendingForItem(itemID string) ([]*ProcessingItem, error) {
	all, err := r.Pending()
	if err != nil {
		return nil, err
	}
	var items []*ProcessingItem
	for _, item := range all {
		if item.ItemID == itemID {
			items = append(items, item)
		}
	}
	return items, nil
}

// UpdateStatus transitions item seq to status, recording lastErr (if any)
// and bumping its attempt counter when moving into StatusRetry.
func (r *JournalRepository) UpdateStatus(seq uint64, status ProcessingStatus, lastErr error) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)
		raw := b.Get(seqKey(seq))
		if raw == nil {
			return ferrors.NewCorruptionError("update missing processing item", nil)
		}
		item := &ProcessingItem{}
		if err := json.Unmarshal(raw, item); err != nil {
			return ferrors.NewCorruptionError("decode processing item", err)
		}
		item.Status = status
		item.UpdatedAt = time.Now().UTC()
		if lastErr != nil {
			item.LastError = lastErr.Error()
		}
		if status == StatusRetry {
			item.Attempts++
		}
		payload, err := json.Marshal(item)
		if err != nil {
			return ferrors.NewCorruptionError("encode processing item", err)
		}
		return b.Put(seqKey(seq), payload)
	})
}

// Delete removes a journal row outright, used once its effect has been
// folded into a later row by the create/update squash (spec §4.4.4).
func (r *JournalRepository) Delete(seq uint64) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJournal).Delete(seqKey(seq))
	})
}
