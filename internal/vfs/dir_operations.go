package vfs

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
)

// Mkdir creates a directory, locally first; the sync engine uploads it.
func (f *Filesystem) Mkdir(_ <-chan struct{}, in *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	if isNameRestricted(name) {
		return fuse.EINVAL
	}
	parent := f.GetNodeID(in.NodeId)
	if parent == nil {
		return fuse.ENOENT
	}
	parentID := parent.ID()
	if existing, _ := f.GetChild(parentID, name); existing != nil {
		return fuse.Status(syscall.EEXIST)
	}

	logging.Debug().Str("op", "Mkdir").Uint64("nodeID", in.NodeId).Str("name", name).Msg("")

	item := &store.Item{
		ID:         "local_" + newLocalSuffix(),
		Name:       name,
		IsDir:      true,
		Mode:       in.Mode | fuse.S_IFDIR,
		ModTime:    time.Now().UTC(),
		HasChanges: true,
	}
	nodeID, err := f.InsertChild(parentID, item)
	if err != nil {
		logging.Error().Err(err).Str("name", name).Msg("failed to create directory")
		return fuse.EIO
	}
	if _, err := f.sync.Enqueue(&store.ProcessingItem{
		ItemID:    item.ID,
		ChangeType: store.ChangeTypeDirectory,
		Operation: store.OpCreate,
	}); err != nil {
		logging.Error().Err(err).Str("id", item.ID).Msg("failed to enqueue directory creation")
	}

	inode := f.GetID(item.ID)
	out.NodeId = nodeID
	out.Attr = inode.makeAttr()
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Rmdir removes a directory if it's empty.
func (f *Filesystem) Rmdir(cancel <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	parent := f.GetNodeID(in.NodeId)
	if parent == nil {
		return fuse.ENOENT
	}
	child, _ := f.GetChild(parent.ID(), stripNonResidentSuffix(name))
	if child == nil {
		return fuse.ENOENT
	}
	children, err := f.store.Items.Children(child.ID())
	if err != nil {
		return fuse.EIO
	}
	if len(children) > 0 {
		return fuse.Status(syscall.ENOTEMPTY)
	}
	return f.Unlink(cancel, in, name)
}

// OpenDir snapshots a directory's children into the open-directory table
// for the subsequent ReadDir/ReadDirPlus calls to walk.
func (f *Filesystem) OpenDir(_ <-chan struct{}, in *fuse.OpenIn, _ *fuse.OpenOut) fuse.Status {
	dir := f.GetNodeID(in.NodeId)
	if dir == nil {
		return fuse.ENOENT
	}
	if !dir.IsDir() {
		return fuse.ENOTDIR
	}

	items, err := f.store.Items.Children(dir.ID())
	if err != nil {
		logging.Error().Err(err).Str("id", dir.ID()).Msg("could not list children")
		return fuse.EREMOTEIO
	}

	parent := f.GetID(dir.ParentID())
	if parent == nil {
		parent = dummyParent()
	}

	entries := make([]*Inode, 0, len(items)+2)
	entries = append(entries, dir, parent)
	for _, item := range items {
		if child := f.GetID(item.ID); child != nil {
			entries = append(entries, child)
		}
	}

	f.opendirsM.Lock()
	f.opendirs[in.NodeId] = entries
	f.opendirsM.Unlock()
	return fuse.OK
}

// ReleaseDir discards a directory's cached listing.
func (f *Filesystem) ReleaseDir(in *fuse.ReleaseIn) {
	f.opendirsM.Lock()
	delete(f.opendirs, in.NodeId)
	f.opendirsM.Unlock()
}

func (f *Filesystem) readDirCommon(cancel <-chan struct{}, in *fuse.ReadIn) ([]*Inode, fuse.Status) {
	f.opendirsM.RLock()
	entries, ok := f.opendirs[in.NodeId]
	f.opendirsM.RUnlock()
	if !ok {
		// readdir can arrive before its matching opendir under some kernels.
		if status := f.OpenDir(cancel, &fuse.OpenIn{InHeader: in.InHeader}, nil); status != fuse.OK {
			return nil, status
		}
		f.opendirsM.RLock()
		entries, ok = f.opendirs[in.NodeId]
		f.opendirsM.RUnlock()
		if !ok {
			return nil, fuse.EBADF
		}
	}
	if in.Offset >= uint64(len(entries)) {
		return nil, fuse.OK
	}
	return entries, fuse.OK
}

func (f *Filesystem) entryName(offset uint64, inode *Inode) string {
	switch offset {
	case 0:
		return "."
	case 1:
		return ".."
	default:
		resident := inode.IsDir() || f.content.HasContent(inode.ID())
		return displayName(inode.Name(), inode.IsDir(), resident)
	}
}

// ReadDirPlus serves one directory entry per call, including its attributes
// so the kernel can skip a follow-up Lookup.
func (f *Filesystem) ReadDirPlus(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, status := f.readDirCommon(cancel, in)
	if status != fuse.OK || entries == nil || in.Offset >= uint64(len(entries)) {
		return status
	}
	inode := entries[in.Offset]
	entry := fuse.DirEntry{Ino: inode.NodeID(), Mode: inode.Mode(), Name: f.entryName(in.Offset, inode)}
	entryOut := out.AddDirLookupEntry(entry)
	if entryOut == nil {
		return fuse.OK
	}
	entryOut.NodeId = entry.Ino
	entryOut.Attr = inode.makeAttr()
	entryOut.SetAttrTimeout(timeout)
	entryOut.SetEntryTimeout(timeout)
	return fuse.OK
}

// ReadDir is the plain variant of ReadDirPlus, used when the kernel doesn't
// request combined lookups.
func (f *Filesystem) ReadDir(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, status := f.readDirCommon(cancel, in)
	if status != fuse.OK || entries == nil || in.Offset >= uint64(len(entries)) {
		return status
	}
	inode := entries[in.Offset]
	out.AddDirEntry(fuse.DirEntry{Ino: inode.NodeID(), Mode: inode.Mode(), Name: f.entryName(in.Offset, inode)})
	return fuse.OK
}

// Lookup resolves name inside the directory identified by the kernel node ID.
func (f *Filesystem) Lookup(_ <-chan struct{}, in *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	parent := f.GetNodeID(in.NodeId)
	if parent == nil {
		return fuse.ENOENT
	}
	child, err := f.GetChild(parent.ID(), stripNonResidentSuffix(name))
	if err != nil || child == nil {
		return fuse.ENOENT
	}
	out.NodeId = child.NodeID()
	out.Attr = child.makeAttr()
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}
