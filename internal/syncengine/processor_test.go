package syncengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/graph/graphmock"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

func newProcessor(t *testing.T, st *store.Store, client graph.Client, content *vfs.HandleManager, resolver ConflictResolver) *Processor {
	t.Helper()
	uploader := NewUploader(client, st.Items, content)
	return NewProcessor(st.Items, st.Journal, content, uploader, resolver)
}

func TestProcessor_LocalFolderCreateRewritesIDAndCompletes(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))

	localID := "local_folder1"
	require.NoError(t, st.Items.Upsert(&store.Item{ID: localID, ParentID: "root", Name: "Photos", IsDir: true}))
	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: localID, ChangeType: store.ChangeTypeDirectory, Operation: store.OpCreate})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, row.Status)
	require.Equal(t, 1, client.CallCount("CreateFolder"))

	gone, err := st.Items.Get(localID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestProcessor_LocalFileCreateUploadsAndCompletes(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))

	localID := "local_file1"
	require.NoError(t, st.Items.Upsert(&store.Item{ID: localID, ParentID: "root", Name: "note.txt", Size: 4}))
	fd, err := content.Open(localID)
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte("abcd"), 0)
	require.NoError(t, err)

	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: localID, ChangeType: store.ChangeTypeFile, Operation: store.OpCreate})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, row.Status)
	require.Equal(t, 1, client.CallCount("UploadSmall"))
}

func TestProcessor_RemoteDeleteSoftDeletesAndClearsContent(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt"}))
	_, err := content.Open("f1")
	require.NoError(t, err)

	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpDelete, Source: store.SourceRemote})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, row.Status)

	item, err := st.Items.Get("f1")
	require.NoError(t, err)
	require.True(t, item.Deleted)
	require.False(t, content.HasContent("f1"))
}

func TestProcessor_LocalMoveCallsUploaderMove(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()
	client.AddItem(&graph.DriveItem{ID: "remote1", Name: "old.txt"})

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "newparent", ParentID: "root", Name: "Moved", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "remote1", ParentID: "newparent", Name: "new.txt"}))
	seq, err := st.Journal.Enqueue(&store.ProcessingItem{
		ItemID: "remote1", ChangeType: store.ChangeTypeFile, Operation: store.OpRename,
		OldParentID: "newparent", OldName: "old.txt",
	})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, row.Status)
	require.Equal(t, 1, client.CallCount("Rename"))
	require.Equal(t, 0, client.CallCount("Move"))
}

func TestProcessor_SkipsDownloadRequestRows(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt"}))
	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpCreate, Source: store.SourceRemote})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusNew, row.Status)
}

func TestProcessor_NameCollisionStaysConflicted(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "a", ParentID: "root", Name: "dup.txt"}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "b", ParentID: "root", Name: "dup.txt"}))

	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "b", ChangeType: store.ChangeTypeFile, Operation: store.OpCreate})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusConflicted, row.Status)
	require.Equal(t, 0, client.CallCount("UploadSmall"))
}

func TestProcessor_ContentConflictResolvedByAlwaysRemoteDropsLocalChange(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt", HasChanges: true}))

	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpUpdate, Source: store.SourceRemote})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, AlwaysRemote())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, row.Status)

	item, err := st.Items.Get("f1")
	require.NoError(t, err)
	require.False(t, item.HasChanges)
}

func TestProcessor_ManualResolverLeavesConflictOpen(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt", HasChanges: true}))

	seq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpUpdate, Source: store.SourceRemote})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Manual())
	require.NoError(t, p.Drain(context.Background()))

	row, err := st.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, store.StatusConflicted, row.Status)
}

func TestProcessor_PairedLocalEditAndRemoteChangeCancelsLocalRow(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt", HasChanges: true}))
	fd, err := content.OpenForWrite("f1")
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte("local edit"), 0)
	require.NoError(t, err)

	// The delta processor's remote row: excluded from Drain's work by
	// IsDownloadRequest, but still a pending sibling validate must see.
	_, err = st.Journal.Enqueue(&store.ProcessingItem{
		ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpUpdate, Source: store.SourceRemote,
	})
	require.NoError(t, err)

	localSeq, err := st.Journal.Enqueue(&store.ProcessingItem{
		ItemID: "f1", ChangeType: store.ChangeTypeFile, Operation: store.OpUpdate, Source: store.SourceLocal,
	})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	localRow, err := st.Journal.Get(localSeq)
	require.NoError(t, err)
	require.Equal(t, store.StatusCancelled, localRow.Status)

	require.Equal(t, 0, client.CallCount("UploadSmall"))
	require.Equal(t, 0, client.CallCount("UploadSession"))

	item, err := st.Items.Get("f1")
	require.NoError(t, err)
	require.False(t, item.HasChanges)
}

func TestProcessor_DrainsBothRemoteAndLocalGroupsInOnePass(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "remoteDel", ParentID: "root", Name: "x.txt"}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "local_new", ParentID: "root", Name: "y.txt", Size: 1}))
	fd, err := content.Open("local_new")
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte("y"), 0)
	require.NoError(t, err)

	localSeq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "local_new", ChangeType: store.ChangeTypeFile, Operation: store.OpCreate, Source: store.SourceLocal})
	require.NoError(t, err)
	remoteSeq, err := st.Journal.Enqueue(&store.ProcessingItem{ItemID: "remoteDel", ChangeType: store.ChangeTypeFile, Operation: store.OpDelete, Source: store.SourceRemote})
	require.NoError(t, err)

	p := newProcessor(t, st, client, content, Smart())
	require.NoError(t, p.Drain(context.Background()))

	localRow, err := st.Journal.Get(localSeq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, localRow.Status)

	remoteRow, err := st.Journal.Get(remoteSeq)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, remoteRow.Status)

	require.Equal(t, 1, client.CallCount("UploadSmall"))
}
