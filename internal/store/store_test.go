package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "onedrivefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestItemRepository_UpsertGet(t *testing.T) {
	s := openTestStore(t)
	item := &Item{ID: "root", Name: "root", IsDir: true}
	require.NoError(t, s.Items.Upsert(item))

	got, err := s.Items.Get("root")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "root", got.Name)
}

func TestItemRepository_GetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Items.Get("nonexistent")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestItemRepository_ChildrenExcludesDeleted(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Items.Upsert(&Item{ID: "root", Name: "root", IsDir: true}))
	require.NoError(t, s.Items.Upsert(&Item{ID: "a", ParentID: "root", Name: "a.txt"}))
	require.NoError(t, s.Items.Upsert(&Item{ID: "b", ParentID: "root", Name: "b.txt"}))
	require.NoError(t, s.Items.SoftDelete("b"))

	children, err := s.Items.Children("root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "a.txt", children[0].Name)
}

func TestItemRepository_ResolvePath(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Items.Upsert(&Item{ID: "root", Name: "root", IsDir: true}))
	require.NoError(t, s.Items.Upsert(&Item{ID: "docs", ParentID: "root", Name: "Documents", IsDir: true}))
	require.NoError(t, s.Items.Upsert(&Item{ID: "report", ParentID: "docs", Name: "report.docx"}))

	found, err := s.Items.ResolvePath("/Documents/report.docx")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "report", found.ID)

	missing, err := s.Items.ResolvePath("/Documents/missing.docx")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestItemRepository_AllocateInodeNeverReused(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Items.AllocateInode()
	require.NoError(t, err)
	b, err := s.Items.AllocateInode()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Greater(t, b, a)
}

func TestItemRepository_RenameIDCascadesChildren(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Items.Upsert(&Item{ID: "local_abc", Name: "NewFolder", IsDir: true}))
	require.NoError(t, s.Items.Upsert(&Item{ID: "child1", ParentID: "local_abc", Name: "inner.txt"}))

	require.NoError(t, s.Items.RenameID("local_abc", "remote_123"))

	old, err := s.Items.Get("local_abc")
	require.NoError(t, err)
	require.Nil(t, old)

	renamed, err := s.Items.Get("remote_123")
	require.NoError(t, err)
	require.NotNil(t, renamed)

	child, err := s.Items.Get("child1")
	require.NoError(t, err)
	require.Equal(t, "remote_123", child.ParentID)
}

func TestJournalRepository_EnqueueFIFOOrder(t *testing.T) {
	s := openTestStore(t)
	seq1, err := s.Journal.Enqueue(&ProcessingItem{ItemID: "a", Operation: OpCreate})
	require.NoError(t, err)
	seq2, err := s.Journal.Enqueue(&ProcessingItem{ItemID: "b", Operation: OpUpdate})
	require.NoError(t, err)
	require.Less(t, seq1, seq2)

	pending, err := s.Journal.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "a", pending[0].ItemID)
	require.Equal(t, "b", pending[1].ItemID)
}

func TestJournalRepository_UpdateStatusTracksAttempts(t *testing.T) {
	s := openTestStore(t)
	seq, err := s.Journal.Enqueue(&ProcessingItem{ItemID: "a", Operation: OpCreate})
	require.NoError(t, err)

	require.NoError(t, s.Journal.UpdateStatus(seq, StatusRetry, nil))
	require.NoError(t, s.Journal.UpdateStatus(seq, StatusRetry, nil))

	item, err := s.Journal.Get(seq)
	require.NoError(t, err)
	require.Equal(t, 2, item.Attempts)
	require.Equal(t, StatusRetry, item.Status)
}

func TestJournalRepository_PendingExcludesDoneAndCancelled(t *testing.T) {
	s := openTestStore(t)
	seq1, _ := s.Journal.Enqueue(&ProcessingItem{ItemID: "a", Operation: OpCreate})
	seq2, _ := s.Journal.Enqueue(&ProcessingItem{ItemID: "b", Operation: OpCreate})
	require.NoError(t, s.Journal.UpdateStatus(seq1, StatusDone, nil))
	require.NoError(t, s.Journal.UpdateStatus(seq2, StatusCancelled, nil))

	pending, err := s.Journal.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSyncStateRepository_SetDeltaCursor(t *testing.T) {
	s := openTestStore(t)
	before := time.Now().UTC()
	require.NoError(t, s.SyncState.SetDeltaCursor("cursor-123"))

	state, err := s.SyncState.Get()
	require.NoError(t, err)
	require.Equal(t, "cursor-123", state.DeltaCursor)
	require.True(t, !state.LastSyncAt.Before(before))
}
