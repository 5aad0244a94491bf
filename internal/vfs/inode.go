package vfs

import (
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

// timeout is the kernel attribute/entry cache lifetime handed back on every
// successful FUSE reply. Short enough that remote changes show up promptly,
// long enough to keep "ls -l" from hammering GetAttr.
const timeout = 1.0

// Inode is the in-memory, concurrency-safe view of a store.Item the kernel
// holds a reference to via its FUSE node ID. Every field access not behind
// a method goes through the embedded mutex.
type Inode struct {
	mu sync.RWMutex

	item     store.Item
	parent   *Inode
	children []string
}

// newInode wraps item in an Inode. item is copied, not referenced, so
// callers are free to keep mutating their own copy afterward.
func newInode(item store.Item) *Inode {
	return &Inode{item: item}
}

// ID returns the item's identifier ("local_<uuid>" until uploaded).
func (i *Inode) ID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.ID
}

// ParentID returns the identifier of the containing directory.
func (i *Inode) ParentID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.ParentID
}

// Name returns the item's display name, not including any
// .onedrivedownload suffix (that is applied only at directory listing time).
func (i *Inode) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.Name
}

func (i *Inode) SetName(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.item.Name = name
}

// NodeID returns the FUSE node ID assigned to this inode, stable for the
// life of the mount.
func (i *Inode) NodeID() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.Inode
}

// IsDir reports whether the item is a directory.
func (i *Inode) IsDir() bool {
	if i == nil {
		return false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.IsDir
}

// Mode returns the effective file mode, defaulting to a sane permission set
// the first time an item arrives from the remote (where mode has no meaning).
func (i *Inode) Mode() uint32 {
	if i == nil {
		return 0
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.item.Mode != 0 {
		return i.item.Mode
	}
	if i.item.IsDir {
		return fuse.S_IFDIR | 0755
	}
	return fuse.S_IFREG | 0644
}

// Size pretends directories are a single block, matching the convention
// POSIX tools expect even though OneDrive folders carry no size of their own.
func (i *Inode) Size() uint64 {
	if i == nil {
		return 0
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.item.IsDir {
		return 4096
	}
	return i.item.Size
}

// ModTime returns the last-modified time as a Unix timestamp.
func (i *Inode) ModTime() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return uint64(i.item.ModTime.Unix())
}

// NLink reports 1 for plain files and, for directories, 2 plus the length of
// the inode's children list. That list is not filled from the item table, so
// directories report 2 and their subdirectories are not counted.
func (i *Inode) NLink() uint32 {
	if !i.IsDir() {
		return 1
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	var subdirs uint32
	for range i.children {
		subdirs++
	}
	return 2 + subdirs
}

// HasChanges reports whether the item carries a local mutation not yet
// reconciled with the remote.
func (i *Inode) HasChanges() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.item.HasChanges
}

func (i *Inode) setHasChanges(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.item.HasChanges = v
}

func (i *Inode) setSize(size uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.item.Size = size
}

// Path reconstructs the inode's absolute path by walking Name up
// through its ancestry; used only for logging, never for lookup (lookup is
// always by parent node ID + child name, per the FUSE contract).
func (i *Inode) Path(resolveParent func(id string) *Inode) string {
	name := i.Name()
	parentID := i.ParentID()
	if parentID == "" {
		if name == "root" || name == "" {
			return "/"
		}
		return "/" + name
	}
	parent := resolveParent(parentID)
	if parent == nil {
		return "/" + name
	}
	return path.Join(parent.Path(resolveParent), name)
}

// makeAttr builds the fuse.Attr the kernel expects for GetAttr/Lookup/ReadDirPlus.
func (i *Inode) makeAttr() fuse.Attr {
	mtime := i.ModTime()
	return fuse.Attr{
		Ino:   i.NodeID(),
		Size:  i.Size(),
		Nlink: i.NLink(),
		Ctime: mtime,
		Mtime: mtime,
		Atime: mtime,
		Mode:  i.Mode(),
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
	}
}

// isLocalID reports whether id is a not-yet-uploaded temporary identifier.
func isLocalID(id string) bool {
	return store.IsLocalID(id) || id == ""
}

// Octal renders a mode bitmask for logging, matching chmod's own notation.
func Octal(mode uint32) string {
	return strconv.FormatUint(uint64(mode), 8)
}

// isNameRestricted rejects names OneDrive itself refuses to store, so the
// kernel gets a clean EINVAL instead of a round trip that would fail anyway.
func isNameRestricted(name string) bool {
	if name == "" || name == "." || name == ".." {
		return true
	}
	const restricted = `"*:<>?/\|`
	return strings.ContainsAny(name, restricted)
}
