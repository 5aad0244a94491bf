package vfs

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
)

// Mknod creates a regular file; the remote doesn't have one yet.
func (f *Filesystem) Mknod(_ <-chan struct{}, in *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
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

	item := &store.Item{
		ID:      "local_" + newLocalSuffix(),
		Name:    name,
		Mode:    in.Mode,
		ModTime: time.Now().UTC(),
	}
	nodeID, err := f.InsertChild(parentID, item)
	if err != nil {
		logging.Error().Err(err).Str("name", name).Msg("failed to create file")
		return fuse.EIO
	}
	inode := f.GetID(item.ID)
	out.NodeId = nodeID
	out.Attr = inode.makeAttr()
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Create creates a regular file and opens it, truncating if it already exists.
func (f *Filesystem) Create(cancel <-chan struct{}, in *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	result := f.Mknod(cancel, &fuse.MknodIn{InHeader: in.InHeader, Mode: in.Mode}, name, &out.EntryOut)
	if result != fuse.Status(syscall.EEXIST) {
		if result == fuse.OK {
			if _, err := f.content.Create(f.TranslateID(out.NodeId)); err != nil {
				logging.Error().Err(err).Uint64("nodeID", out.NodeId).Msg("failed to create content for new file")
				return fuse.EIO
			}
			out.Fh = f.allocateHandle(f.TranslateID(out.NodeId))
		}
		return result
	}

	parentID := f.TranslateID(in.NodeId)
	child, _ := f.GetChild(parentID, name)
	if child == nil {
		return fuse.ENOENT
	}
	if err := f.content.Delete(child.ID()); err != nil {
		logging.Error().Err(err).Str("id", child.ID()).Msg("failed to truncate existing content")
	}
	if _, err := f.content.Create(child.ID()); err != nil {
		logging.Error().Err(err).Str("id", child.ID()).Msg("failed to reopen content for truncated file")
		return fuse.EIO
	}
	child.setSize(0)
	child.setHasChanges(true)
	out.NodeId = child.NodeID()
	out.Attr = child.makeAttr()
	out.Fh = f.allocateHandle(child.ID())
	return fuse.OK
}

// Open makes sure id's content is resident locally, queuing a download via
// the sync engine's journal when it isn't and this isn't a directory. A
// non-resident file is never eagerly materialized here: it gets back the
// virtual sentinel handle instead of a real descriptor, so the file doesn't
// falsely appear locally present until the download processor actually
// writes its bytes into downloads/.
func (f *Filesystem) Open(_ <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	id := f.TranslateID(in.NodeId)
	inode := f.GetID(id)
	if inode == nil {
		return fuse.ENOENT
	}
	if isLocalID(id) || inode.IsDir() || f.content.HasContent(id) {
		if _, err := f.content.Open(id); err != nil {
			logging.Error().Err(err).Str("id", id).Msg("could not open cache file")
			return fuse.EIO
		}
		out.Fh = f.allocateHandle(id)
		return fuse.OK
	}

	// Content isn't resident - hand a download request to the sync engine
	// and hand the caller the virtual handle. A blocking wait for the
	// download's result is the download processor's concern (spec §4.5),
	// not this handler's; it simply records the intent.
	if _, err := f.sync.Enqueue(&store.ProcessingItem{
		ItemID:     id,
		ChangeType: store.ChangeTypeFile,
		Operation:  store.OpUpdate,
		Source:     store.SourceRemote,
	}); err != nil {
		logging.Error().Err(err).Str("id", id).Msg("failed to enqueue download")
		return fuse.EREMOTEIO
	}
	out.Fh = virtualHandle
	return fuse.OK
}

// Unlink removes a file, marking it deleted locally and enqueuing the
// deletion for the sync engine to reconcile with the remote.
func (f *Filesystem) Unlink(_ <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	parentID := f.TranslateID(in.NodeId)
	child, _ := f.GetChild(parentID, stripNonResidentSuffix(name))
	if child == nil {
		return fuse.ENOENT
	}
	id := child.ID()
	f.DeleteID(id)
	if err := f.content.Delete(id); err != nil {
		logging.Error().Err(err).Str("id", id).Msg("failed to delete cached content")
	}
	if !isLocalID(id) {
		changeType := store.ChangeTypeFile
		if child.IsDir() {
			changeType = store.ChangeTypeDirectory
		}
		if _, err := f.sync.Enqueue(&store.ProcessingItem{ItemID: id, ChangeType: changeType, Operation: store.OpDelete}); err != nil {
			logging.Error().Err(err).Str("id", id).Msg("failed to enqueue deletion")
		}
	}
	return fuse.OK
}

// Read serves file content straight out of the cached descriptor via fd
// passing, avoiding an extra buffer copy. The virtual handle returned by
// Open for a non-resident file has no backing descriptor at all, so a read
// against it comes back empty until a later Open (once the download
// processor has materialized content) hands back a real one.
func (f *Filesystem) Read(_ <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	if in.Fh == virtualHandle {
		return fuse.ReadResultData(nil), fuse.OK
	}
	inode := f.GetNodeID(in.NodeId)
	if inode == nil {
		return fuse.ReadResultData(nil), fuse.EBADF
	}
	fd, err := f.content.Open(inode.ID())
	if err != nil {
		logging.Error().Err(err).Str("id", inode.ID()).Msg("cache open failed on read")
		return fuse.ReadResultData(nil), fuse.EIO
	}
	return fuse.ReadResultFd(fd.Fd(), int64(in.Offset), int(in.Size)), fuse.OK
}

// Write stages the edit into uploads/ (copying a downloaded original in
// first if this is the file's first local edit) and marks the item dirty;
// the actual upload is deferred to Flush/Fsync.
func (f *Filesystem) Write(_ <-chan struct{}, in *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	id := f.TranslateID(in.NodeId)
	inode := f.GetID(id)
	if inode == nil {
		return 0, fuse.EBADF
	}
	fd, err := f.content.OpenForWrite(id)
	if err != nil {
		logging.Error().Err(err).Str("id", id).Msg("cache open failed on write")
		return 0, fuse.EIO
	}
	n, err := fd.WriteAt(data, int64(in.Offset))
	if err != nil {
		logging.Error().Err(err).Str("id", id).Msg("write to cache file failed")
		return uint32(n), fuse.EIO
	}
	if st, statErr := fd.Stat(); statErr == nil {
		inode.setSize(uint64(st.Size()))
	}
	inode.setHasChanges(true)
	return uint32(n), fuse.OK
}

// Fsync queues an upload of id's pending local changes via the sync engine.
func (f *Filesystem) Fsync(_ <-chan struct{}, in *fuse.FsyncIn) fuse.Status {
	id := f.TranslateID(in.NodeId)
	inode := f.GetID(id)
	if inode == nil {
		return fuse.EBADF
	}
	if !inode.HasChanges() {
		return fuse.OK
	}
	if fd, err := f.content.Open(id); err == nil {
		if err := fd.Sync(); err != nil {
			logging.Error().Err(err).Str("id", id).Msg("failed to sync content to disk")
		}
	}
	inode.setHasChanges(false)

	op := store.OpCreate
	if !isLocalID(id) {
		op = store.OpUpdate
	}
	if _, err := f.sync.Enqueue(&store.ProcessingItem{ItemID: id, ChangeType: store.ChangeTypeFile, Operation: op}); err != nil {
		logging.Error().Err(err).Str("id", id).Msg("failed to enqueue upload")
		return fuse.EREMOTEIO
	}
	return fuse.OK
}

// Flush is called when a file descriptor is closed; it delegates to Fsync
// so a pending upload is always queued no matter which syscall triggered
// the close.
func (f *Filesystem) Flush(cancel <-chan struct{}, in *fuse.FlushIn) fuse.Status {
	if in.Fh == virtualHandle {
		return fuse.OK
	}
	inode := f.GetNodeID(in.NodeId)
	if inode == nil {
		return fuse.EBADF
	}
	f.Fsync(cancel, &fuse.FsyncIn{InHeader: in.InHeader})
	if err := f.content.Close(inode.ID()); err != nil {
		logging.Error().Err(err).Str("id", inode.ID()).Msg("failed to close content file")
	}
	return fuse.OK
}

// Release forgets the real content handle fh backed, if any (the virtual
// handle and directory handle 0 need no bookkeeping here).
func (f *Filesystem) Release(in *fuse.ReleaseIn) {
	f.releaseHandle(in.Fh)
}
