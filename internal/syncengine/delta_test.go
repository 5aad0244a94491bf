package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/graph/graphmock"
	"github.com/onedrivefs/onedrivefs/internal/store"
)

func openStoreT(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDeltaProcessor_PullDeltaUpsertsNewItem(t *testing.T) {
	st := openStoreT(t)
	client := graphmock.New()
	now := time.Now()
	client.QueueDeltaPage(&graph.DeltaPage{
		Items: []*graph.DriveItem{
			{ID: "f1", Name: "report.docx", Size: 10, Parent: &graph.DriveItemParent{ID: "root"}, ModTime: &now, ETag: "e1"},
		},
		DeltaLink: "cursor-1",
	})

	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	require.NoError(t, p.PullDelta(context.Background()))

	item, err := st.Items.Get("f1")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "report.docx", item.Name)
	require.NotZero(t, item.Inode)

	pending, err := st.Journal.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.OpCreate, pending[0].Operation)
	require.Equal(t, store.SourceRemote, pending[0].Source)

	state, err := st.SyncState.Get()
	require.NoError(t, err)
	require.Equal(t, "cursor-1", state.DeltaCursor)
}

func TestDeltaProcessor_FollowsNextLinkAcrossPages(t *testing.T) {
	st := openStoreT(t)
	client := graphmock.New()
	client.QueueDeltaPage(&graph.DeltaPage{
		Items:    []*graph.DriveItem{{ID: "a", Name: "a.txt", Parent: &graph.DriveItemParent{ID: "root"}}},
		NextLink: "page-2",
	})
	client.QueueDeltaPage(&graph.DeltaPage{
		Items:     []*graph.DriveItem{{ID: "b", Name: "b.txt", Parent: &graph.DriveItemParent{ID: "root"}}},
		DeltaLink: "cursor-final",
	})

	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	require.NoError(t, p.PullDelta(context.Background()))

	require.Equal(t, 2, client.CallCount("Delta"))
	a, _ := st.Items.Get("a")
	b, _ := st.Items.Get("b")
	require.NotNil(t, a)
	require.NotNil(t, b)
}

func TestDeltaProcessor_NameChangeDerivesRename(t *testing.T) {
	st := openStoreT(t)
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt"}))

	client := graphmock.New()
	client.QueueDeltaPage(&graph.DeltaPage{
		Items:     []*graph.DriveItem{{ID: "f1", Name: "b.txt", Parent: &graph.DriveItemParent{ID: "root"}}},
		DeltaLink: "c1",
	})
	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	require.NoError(t, p.PullDelta(context.Background()))

	pending, err := st.Journal.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.OpRename, pending[0].Operation)
}

func TestDeltaProcessor_TombstoneMarksDeleted(t *testing.T) {
	st := openStoreT(t)
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "f1", ParentID: "root", Name: "a.txt"}))

	client := graphmock.New()
	client.QueueDeltaPage(&graph.DeltaPage{
		Items:     []*graph.DriveItem{{ID: "f1", Name: "a.txt", Deleted: &graph.Deleted{State: "deleted"}}},
		DeltaLink: "c1",
	})
	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	require.NoError(t, p.PullDelta(context.Background()))

	item, err := st.Items.Get("f1")
	require.NoError(t, err)
	require.True(t, item.Deleted)

	pending, err := st.Journal.Pending()
	require.NoError(t, err)
	require.Equal(t, store.OpDelete, pending[0].Operation)
}

func TestDeltaProcessor_FolderBecomingFileSoftDeletesChildren(t *testing.T) {
	st := openStoreT(t)
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "dir1", ParentID: "root", Name: "dir", IsDir: true}))
	require.NoError(t, st.Items.Upsert(&store.Item{ID: "child", ParentID: "dir1", Name: "child.txt"}))

	client := graphmock.New()
	client.QueueDeltaPage(&graph.DeltaPage{
		Items:     []*graph.DriveItem{{ID: "dir1", Name: "dir", Parent: &graph.DriveItemParent{ID: "root"}, File: &graph.File{}}},
		DeltaLink: "c1",
	})
	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	require.NoError(t, p.PullDelta(context.Background()))

	child, err := st.Items.Get("child")
	require.NoError(t, err)
	require.True(t, child.Deleted)
}

func TestDeltaProcessor_RunMarksOfflineOnError(t *testing.T) {
	st := openStoreT(t)
	client := graphmock.New()
	client.NetworkErr = errors.New("network down")

	p := NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	go p.Run(ctx, 5*time.Millisecond, 5*time.Millisecond)
	<-ctx.Done()
	p.Stop()

	require.True(t, p.IsOffline())
}
