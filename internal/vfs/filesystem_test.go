package vfs

import (
	"path/filepath"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

// fakeEnqueuer records every processing item handed to it, standing in for
// the sync engine in tests that only care about what the filesystem queues.
type fakeEnqueuer struct {
	items []*store.ProcessingItem
}

func (e *fakeEnqueuer) Enqueue(item *store.ProcessingItem) (uint64, error) {
	e.items = append(e.items, item)
	return uint64(len(e.items)), nil
}

func setupFS(t *testing.T) (*Filesystem, *fakeEnqueuer) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enq := &fakeEnqueuer{}
	fs, err := New(st, filepath.Join(t.TempDir(), "content"), enq)
	require.NoError(t, err)
	t.Cleanup(fs.Stop)
	return fs, enq
}

func rootNodeID(t *testing.T, fs *Filesystem) uint64 {
	t.Helper()
	root := fs.GetID("root")
	require.NotNil(t, root)
	return root.NodeID()
}

func TestFilesystem_MkdirThenLookup(t *testing.T) {
	fs, enq := setupFS(t)
	rootID := rootNodeID(t, fs)

	out := &fuse.EntryOut{}
	status := fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0755}, "Documents", out)
	require.Equal(t, fuse.OK, status)
	require.True(t, out.Attr.Mode&fuse.S_IFDIR != 0)
	require.Len(t, enq.items, 1)
	require.Equal(t, store.OpCreate, enq.items[0].Operation)

	lookupOut := &fuse.EntryOut{}
	status = fs.Lookup(nil, &fuse.InHeader{NodeId: rootID}, "Documents", lookupOut)
	require.Equal(t, fuse.OK, status)
	require.Equal(t, out.NodeId, lookupOut.NodeId)
}

func TestFilesystem_MkdirDuplicateFails(t *testing.T) {
	fs, _ := setupFS(t)
	rootID := rootNodeID(t, fs)

	out := &fuse.EntryOut{}
	require.Equal(t, fuse.OK, fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0755}, "dup", out))
	status := fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0755}, "dup", &fuse.EntryOut{})
	require.NotEqual(t, fuse.OK, status)
}

func TestFilesystem_CreateWriteFlushEnqueuesUpload(t *testing.T) {
	fs, enq := setupFS(t)
	rootID := rootNodeID(t, fs)

	createOut := &fuse.CreateOut{}
	status := fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0644}, "report.txt", createOut)
	require.Equal(t, fuse.OK, status)

	nodeID := createOut.NodeId
	n, status := fs.Write(nil, &fuse.WriteIn{InHeader: fuse.InHeader{NodeId: nodeID}, Offset: 0, Size: 5}, []byte("hello"))
	require.Equal(t, fuse.OK, status)
	require.Equal(t, uint32(5), n)

	status = fs.Flush(nil, &fuse.FlushIn{InHeader: fuse.InHeader{NodeId: nodeID}})
	require.Equal(t, fuse.OK, status)

	var uploadFound bool
	for _, item := range enq.items {
		if item.Operation == store.OpCreate {
			uploadFound = true
		}
	}
	require.True(t, uploadFound)
}

func TestFilesystem_ReadReturnsWrittenContent(t *testing.T) {
	fs, _ := setupFS(t)
	rootID := rootNodeID(t, fs)

	createOut := &fuse.CreateOut{}
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0644}, "a.txt", createOut))
	nodeID := createOut.NodeId

	_, status := fs.Write(nil, &fuse.WriteIn{InHeader: fuse.InHeader{NodeId: nodeID}}, []byte("payload"))
	require.Equal(t, fuse.OK, status)

	buf := make([]byte, 16)
	result, status := fs.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: nodeID}, Size: uint32(len(buf))}, buf)
	require.Equal(t, fuse.OK, status)
	read, readStatus := result.Bytes(buf)
	require.Equal(t, fuse.OK, readStatus)
	require.Equal(t, "payload", string(read))
}

func TestFilesystem_UnlinkRemovesEntry(t *testing.T) {
	fs, enq := setupFS(t)
	rootID := rootNodeID(t, fs)

	require.Equal(t, fuse.OK, fs.Mknod(nil, &fuse.MknodIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0644}, "gone.txt", &fuse.EntryOut{}))
	status := fs.Unlink(nil, &fuse.InHeader{NodeId: rootID}, "gone.txt")
	require.Equal(t, fuse.OK, status)

	status = fs.Lookup(nil, &fuse.InHeader{NodeId: rootID}, "gone.txt", &fuse.EntryOut{})
	require.Equal(t, fuse.ENOENT, status)
	// local-only files never need a remote delete queued
	for _, item := range enq.items {
		require.NotEqual(t, store.OpDelete, item.Operation)
	}
}

func TestFilesystem_RenameMovesAcrossDirectories(t *testing.T) {
	fs, _ := setupFS(t)
	rootID := rootNodeID(t, fs)

	dirOut := &fuse.EntryOut{}
	require.Equal(t, fuse.OK, fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0755}, "dest", dirOut))

	require.Equal(t, fuse.OK, fs.Mknod(nil, &fuse.MknodIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0644}, "file.txt", &fuse.EntryOut{}))

	status := fs.Rename(nil, &fuse.RenameIn{InHeader: fuse.InHeader{NodeId: rootID}, Newdir: dirOut.NodeId}, "file.txt", "file.txt")
	require.Equal(t, fuse.OK, status)

	status = fs.Lookup(nil, &fuse.InHeader{NodeId: rootID}, "file.txt", &fuse.EntryOut{})
	require.Equal(t, fuse.ENOENT, status)
	status = fs.Lookup(nil, &fuse.InHeader{NodeId: dirOut.NodeId}, "file.txt", &fuse.EntryOut{})
	require.Equal(t, fuse.OK, status)
}

func TestFilesystem_ReadDirPlusListsDotAndDotDot(t *testing.T) {
	fs, _ := setupFS(t)
	rootID := rootNodeID(t, fs)
	require.Equal(t, fuse.OK, fs.Mknod(nil, &fuse.MknodIn{InHeader: fuse.InHeader{NodeId: rootID}, Mode: 0644}, "only.txt", &fuse.EntryOut{}))

	status := fs.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: rootID}}, &fuse.OpenOut{})
	require.Equal(t, fuse.OK, status)

	list := fuse.NewDirEntryList(make([]byte, 4096), 0)
	for offset := uint64(0); offset < 3; offset++ {
		status = fs.ReadDirPlus(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: rootID}, Offset: offset}, list)
		require.Equal(t, fuse.OK, status)
	}
}
