// Package vfs projects the synchronized item tree as a POSIX directory
// tree over FUSE's low-level API. It owns the virtual-inode numbering, the
// kernel's node-ID <-> item-ID translation table, the open-directory table,
// and the handle manager for locally cached content; actual synchronization
// with the remote happens in the sync engine, which this package only
// hands local mutations off to via the processing-item journal.
package vfs

import (
	"context"
	"math"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
)

// Enqueuer hands a local mutation off to the sync engine for eventual
// reconciliation with the remote. Implemented by internal/syncengine; kept
// as an interface here so the filesystem package has no import cycle on it.
type Enqueuer interface {
	Enqueue(item *store.ProcessingItem) (uint64, error)
}

// Filesystem implements fuse.RawFileSystem over a *store.Store. Operations
// not explicitly overridden fall back to go-fuse's no-op default
// implementation via the embedded interface.
type Filesystem struct {
	fuse.RawFileSystem

	store   *store.Store
	content *HandleManager
	sync    Enqueuer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	byNodeID map[uint64]*Inode
	byItemID map[string]*Inode

	opendirsM sync.RWMutex
	opendirs  map[uint64][]*Inode

	offlineM sync.RWMutex
	offline  bool

	handlesM   sync.Mutex
	handles    map[uint64]string // fh -> item ID, for fh >= firstRealHandle
	nextHandle uint64
}

// virtualHandle is the sentinel file handle returned by Open for a
// non-resident file: it never backs a real descriptor, so Read on it
// returns empty data and Release is a no-op until the download processor
// materializes real content and a fresh Open hands back a real handle.
const virtualHandle uint64 = 1

// firstRealHandle is the first handle number Open ever hands out for
// resident content; 0 is reserved for directories and 1 for virtualHandle.
const firstRealHandle uint64 = 2

// New builds a Filesystem over st, caching content under contentDir and
// handing local mutations to enqueuer for later sync.
func New(st *store.Store, contentDir string, enqueuer Enqueuer) (*Filesystem, error) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Filesystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		store:         st,
		content:       NewHandleManager(contentDir),
		sync:          enqueuer,
		ctx:           ctx,
		cancel:        cancel,
		byNodeID:      make(map[uint64]*Inode),
		byItemID:      make(map[string]*Inode),
		opendirs:      make(map[uint64][]*Inode),
		handles:       make(map[uint64]string),
		nextHandle:    firstRealHandle,
	}

	root, err := st.Items.Get("root")
	if err != nil {
		cancel()
		return nil, err
	}
	if root == nil {
		root = &store.Item{ID: "root", Name: "root", IsDir: true}
		if err := f.persistNew(root); err != nil {
			cancel()
			return nil, err
		}
	} else if root.Inode == 0 {
		if err := f.assignInode(root); err != nil {
			cancel()
			return nil, err
		}
	}
	f.cache(newInode(*root))
	return f, nil
}

// Stop cancels the filesystem's root context, signalling any background
// work (the local-watch goroutine) to exit.
func (f *Filesystem) Stop() {
	f.cancel()
}

// Content returns the handle manager backing this filesystem's locally
// cached content, so the sync engine and IPC server can share the exact
// same open-file table instead of racing a second one over the same
// directory.
func (f *Filesystem) Content() *HandleManager {
	return f.content
}

func (f *Filesystem) persistNew(item *store.Item) error {
	if err := f.assignInode(item); err != nil {
		return err
	}
	return f.store.Items.Upsert(item)
}

func (f *Filesystem) assignInode(item *store.Item) error {
	ino, err := f.store.Items.AllocateInode()
	if err != nil {
		return err
	}
	item.Inode = ino
	return nil
}

func (f *Filesystem) cache(inode *Inode) *Inode {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byNodeID[inode.NodeID()] = inode
	f.byItemID[inode.ID()] = inode
	return inode
}

func (f *Filesystem) uncache(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inode, ok := f.byItemID[id]; ok {
		delete(f.byNodeID, inode.NodeID())
		delete(f.byItemID, id)
	}
}

// GetID returns the cached Inode for id, loading and caching it from the
// store on a cold lookup. Returns nil if no such item exists.
func (f *Filesystem) GetID(id string) *Inode {
	f.mu.RLock()
	inode, ok := f.byItemID[id]
	f.mu.RUnlock()
	if ok {
		return inode
	}

	item, err := f.store.Items.Get(id)
	if err != nil || item == nil {
		return nil
	}
	if item.Inode == 0 {
		if err := f.assignInode(item); err != nil {
			logging.Error().Err(err).Str("id", id).Msg("failed to allocate inode number")
			return nil
		}
		if err := f.store.Items.Upsert(item); err != nil {
			logging.Error().Err(err).Str("id", id).Msg("failed to persist inode assignment")
			return nil
		}
	}
	return f.cache(newInode(*item))
}

// GetNodeID returns the cached Inode for a kernel node ID, or nil if unknown.
func (f *Filesystem) GetNodeID(nodeID uint64) *Inode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.byNodeID[nodeID]
}

// TranslateID returns the item ID backing a kernel node ID, or "" if unknown.
func (f *Filesystem) TranslateID(nodeID uint64) string {
	inode := f.GetNodeID(nodeID)
	if inode == nil {
		return ""
	}
	return inode.ID()
}

// GetChild looks up name inside the directory identified by parentID.
func (f *Filesystem) GetChild(parentID, name string) (*Inode, error) {
	children, err := f.store.Items.Children(parentID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Name == name {
			return f.GetID(child.ID), nil
		}
	}
	return nil, nil
}

// InsertChild persists a brand-new item under parentID and caches the
// resulting Inode, returning its assigned node ID.
func (f *Filesystem) InsertChild(parentID string, item *store.Item) (uint64, error) {
	item.ParentID = parentID
	if err := f.persistNew(item); err != nil {
		return 0, err
	}
	inode := f.cache(newInode(*item))
	return inode.NodeID(), nil
}

// DeleteID removes id from the cache and the store's item table.
func (f *Filesystem) DeleteID(id string) {
	f.uncache(id)
	if err := f.store.Items.SoftDelete(id); err != nil {
		logging.Error().Err(err).Str("id", id).Msg("failed to mark item deleted")
	}
}

// MoveID renames a local-only item's identifier once the remote assigns it
// a real ID, cascading the rename to the item table, the node-ID cache, and
// any cached content.
func (f *Filesystem) MoveID(oldID, newID string) error {
	if err := f.store.Items.RenameID(oldID, newID); err != nil {
		return err
	}
	if err := f.content.Rename(oldID, newID); err != nil {
		return err
	}
	f.mu.Lock()
	if inode, ok := f.byItemID[oldID]; ok {
		delete(f.byItemID, oldID)
		inode.mu.Lock()
		inode.item.ID = newID
		inode.mu.Unlock()
		f.byItemID[newID] = inode
	}
	f.mu.Unlock()
	return nil
}

// allocateHandle records a real content handle for id and returns its fh,
// sequentially assigned starting at firstRealHandle so it never collides
// with directory handle 0 or virtualHandle.
func (f *Filesystem) allocateHandle(id string) uint64 {
	f.handlesM.Lock()
	defer f.handlesM.Unlock()
	fh := f.nextHandle
	f.nextHandle++
	f.handles[fh] = id
	return fh
}

// releaseHandle forgets a real content handle once the kernel closes it.
func (f *Filesystem) releaseHandle(fh uint64) {
	if fh < firstRealHandle {
		return
	}
	f.handlesM.Lock()
	defer f.handlesM.Unlock()
	delete(f.handles, fh)
}

// IsOffline reports whether the filesystem is currently operating without a
// reachable remote (spec's offline-mode carve-out).
func (f *Filesystem) IsOffline() bool {
	f.offlineM.RLock()
	defer f.offlineM.RUnlock()
	return f.offline
}

// SetOffline toggles offline mode.
func (f *Filesystem) SetOffline(offline bool) {
	f.offlineM.Lock()
	defer f.offlineM.Unlock()
	f.offline = offline
}

// path resolves an inode's absolute path by walking its ancestry through
// the item table; used for logging only.
func (f *Filesystem) path(inode *Inode) string {
	return inode.Path(f.GetID)
}

// dummyParent fabricates the parent-of-mountpoint entry the kernel discards
// but still expects a "." / ".." pair around during readdir.
func dummyParent() *Inode {
	item := store.Item{Name: "..", IsDir: true, Mode: fuse.S_IFDIR | 0755, Inode: math.MaxUint64}
	return newInode(item)
}
