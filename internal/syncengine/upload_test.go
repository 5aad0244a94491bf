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

func TestUploader_CreateFolderRewritesID(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	localID := "local_abc"
	require.NoError(t, st.Items.Upsert(&store.Item{ID: localID, ParentID: "root", Name: "NewFolder", IsDir: true}))

	u := NewUploader(client, st.Items, content)
	item, err := st.Items.Get(localID)
	require.NoError(t, err)
	newID, err := u.CreateFolder(context.Background(), item, "/")
	require.NoError(t, err)
	require.NotEqual(t, localID, newID)

	gone, err := st.Items.Get(localID)
	require.NoError(t, err)
	require.Nil(t, gone)

	renamed, err := st.Items.Get(newID)
	require.NoError(t, err)
	require.Equal(t, "NewFolder", renamed.Name)
}

func TestUploader_CreateFileUploadsSmallAndRenames(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	localID := "local_xyz"
	require.NoError(t, st.Items.Upsert(&store.Item{ID: localID, ParentID: "root", Name: "a.txt", Size: 5}))
	fd, err := content.Open(localID)
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	u := NewUploader(client, st.Items, content)
	item, err := st.Items.Get(localID)
	require.NoError(t, err)
	newID, err := u.CreateFile(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, 1, client.CallCount("UploadSmall"))

	require.True(t, content.HasContent(newID))
	require.False(t, content.HasContent(localID))
}

func TestUploader_CreateFileUsesUploadSessionForLargeContent(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()

	localID := "local_big"
	size := uint64(uploadLargeSize + 1)
	require.NoError(t, st.Items.Upsert(&store.Item{ID: localID, ParentID: "root", Name: "big.bin", Size: size}))
	fd, err := content.Open(localID)
	require.NoError(t, err)
	require.NoError(t, fd.Truncate(int64(size)))

	u := NewUploader(client, st.Items, content)
	item, err := st.Items.Get(localID)
	require.NoError(t, err)
	_, err = u.CreateFile(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, 1, client.CallCount("UploadSession"))
	require.Equal(t, 0, client.CallCount("UploadSmall"))
}

func TestUploader_MoveCallsMoveAndRenameAsNeeded(t *testing.T) {
	st := openStoreT(t)
	content := vfs.NewHandleManager(filepath.Join(t.TempDir(), "content"))
	client := graphmock.New()
	client.AddItem(&graph.DriveItem{ID: "remote1", Name: "oldname.txt"})

	u := NewUploader(client, st.Items, content)
	item := &store.Item{ID: "remote1", ParentID: "newparent", Name: "newname.txt"}
	require.NoError(t, u.Move(context.Background(), item, "oldparent", "oldname.txt"))
	require.Equal(t, 1, client.CallCount("Move"))
	require.Equal(t, 1, client.CallCount("Rename"))
}

func TestPathOf_WalksToRoot(t *testing.T) {
	st := openStoreT(t)
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "root", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "d1", ParentID: "root", Name: "Documents", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "d1", Name: "a.txt"}))

	path, err := PathOf(st.Items, "f1")
	require.NoError(t, err)
	require.Equal(t, "/Documents/a.txt", path)
}
