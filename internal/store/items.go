package store

import (
	"encoding/json"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
)

// ItemRepository persists the item table: one JSON-encoded Item per key,
// keyed by item ID (remote ID once uploaded, "local_<uuid>" before that).
type ItemRepository struct {
	db *bolt.DB
}

// Get returns the item with id, or (nil, nil) if no such item exists.
func (r *ItemRepository) Get(id string) (*Item, error) {
	var item *Item
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get([]byte(id))
		if raw == nil {
			return nil
		}
		item = &Item{}
		return json.Unmarshal(raw, item)
	})
	if err != nil {
		return nil, ferrors.NewCorruptionError("decode item "+id, err)
	}
	return item, nil
}

// Upsert writes item, replacing any existing row with the same ID.
func (r *ItemRepository) Upsert(item *Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return ferrors.NewCorruptionError("encode item "+item.ID, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Put([]byte(item.ID), payload)
	})
}

// SoftDelete marks id as deleted (a tombstone) without removing its row -
// the journal and any still-open handles may still reference it.
func (r *ItemRepository) SoftDelete(id string) error {
	item, err := r.Get(id)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	item.Deleted = true
	return r.Upsert(item)
}

// Purge permanently removes id's row. Its inode number is not handed out
// again: AllocateInode never reuses a value.
func (r *ItemRepository) Purge(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Delete([]byte(id))
	})
}

// Children returns the non-deleted items whose ParentID is parentID.
func (r *ItemRepository) Children(parentID string) ([]*Item, error) {
	var children []*Item
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			item := &Item{}
			if err := json.Unmarshal(v, item); err != nil {
				return nil // skip corrupt rows rather than fail the whole listing
			}
			if item.ParentID == parentID && !item.Deleted {
				children = append(children, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "list children of "+parentID)
	}
	return children, nil
}

// All returns every non-deleted item in the table, for callers (the IPC
// media listing, queue/conflict reporting) that need a flat scan rather
// than a parent-keyed lookup.
func (r *ItemRepository) All() ([]*Item, error) {
	var items []*Item
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			item := &Item{}
			if err := json.Unmarshal(v, item); err != nil {
				return nil
			}
			if !item.Deleted {
				items = append(items, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "list all items")
	}
	return items, nil
}

// ByInode returns the item with the given inode number, or (nil, nil) if
// none is found.
func (r *ItemRepository) ByInode(inode uint64) (*Item, error) {
	var found *Item
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			item := &Item{}
			if err := json.Unmarshal(v, item); err != nil {
				return nil
			}
			if item.Inode == inode {
				found = item
			}
			return nil
		})
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "find item by inode")
	}
	return found, nil
}

// ResolvePath walks the item tree from root to find the item addressed by
// a slash-separated absolute path such as "/Documents/report.docx".
func (r *ItemRepository) ResolvePath(path string) (*Item, error) {
	root, err := r.Get("root")
	if err != nil || root == nil {
		return root, err
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return root, nil
	}
	current := root
	for _, part := range parts {
		children, err := r.Children(current.ID)
		if err != nil {
			return nil, err
		}
		var next *Item
		for _, child := range children {
			if child.Name == part {
				next = child
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// AllocateInode returns a fresh, mount-lifetime-unique inode number backed
// by the items bucket's autoincrement sequence - never reused once handed out.
func (r *ItemRepository) AllocateInode() (uint64, error) {
	var seq uint64
	err := r.db.Update(func(tx *bolt.Tx) error {
		var err error
		seq, err = tx.Bucket(bucketItems).NextSequence()
		return err
	})
	if err != nil {
		return 0, ferrors.Wrap(err, "allocate inode")
	}
	return seq, nil
}

// RenameID moves the row stored under oldID to newID, used when a
// local_<uuid> placeholder is replaced by its real remote ID after upload,
// and cascades the new parent ID onto oldID's children.
func (r *ItemRepository) RenameID(oldID, newID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		raw := b.Get([]byte(oldID))
		if raw == nil {
			return ferrors.NewCorruptionError("rename missing item "+oldID, nil)
		}
		item := &Item{}
		if err := json.Unmarshal(raw, item); err != nil {
			return ferrors.NewCorruptionError("decode item "+oldID, err)
		}
		item.ID = newID
		payload, err := json.Marshal(item)
		if err != nil {
			return ferrors.NewCorruptionError("encode item "+newID, err)
		}
		if err := b.Put([]byte(newID), payload); err != nil {
			return err
		}
		if err := b.Delete([]byte(oldID)); err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			child := &Item{}
			if err := json.Unmarshal(v, child); err != nil {
				return nil
			}
			if child.ParentID != oldID {
				return nil
			}
			child.ParentID = newID
			payload, err := json.Marshal(child)
			if err != nil {
				return err
			}
			return b.Put(k, payload)
		})
	})
}
