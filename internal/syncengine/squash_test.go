package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

func pi(seq uint64, op store.ChangeOperation) *store.ProcessingItem {
	return &store.ProcessingItem{Seq: seq, Operation: op}
}

func TestSquash_CreateThenUpdatesFoldToCreate(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{
		pi(1, store.OpCreate), pi(2, store.OpUpdate), pi(3, store.OpUpdate),
	})
	require.Len(t, survivors, 1)
	require.Equal(t, store.OpCreate, survivors[0].Operation)
	require.Equal(t, uint64(1), survivors[0].Seq)
	require.ElementsMatch(t, []uint64{2, 3}, discard)
}

func TestSquash_UpdatesFoldToLatestUpdate(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{
		pi(1, store.OpUpdate), pi(2, store.OpUpdate),
	})
	require.Len(t, survivors, 1)
	require.Equal(t, uint64(2), survivors[0].Seq)
	require.ElementsMatch(t, []uint64{1}, discard)
}

func TestSquash_CreateThenDeleteCancelsBoth(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{
		pi(1, store.OpCreate), pi(2, store.OpDelete),
	})
	require.Empty(t, survivors)
	require.ElementsMatch(t, []uint64{1, 2}, discard)
}

func TestSquash_UpdateThenDeleteFoldsToDelete(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{
		pi(1, store.OpUpdate), pi(2, store.OpDelete),
	})
	require.Len(t, survivors, 1)
	require.Equal(t, store.OpDelete, survivors[0].Operation)
	require.ElementsMatch(t, []uint64{1}, discard)
}

func TestSquash_MoveIsNeverFolded(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{
		pi(1, store.OpCreate), pi(2, store.OpMove),
	})
	require.Len(t, survivors, 2)
	require.Empty(t, discard)
}

func TestSquash_SingleRowPassesThrough(t *testing.T) {
	survivors, discard := Squash([]*store.ProcessingItem{pi(1, store.OpCreate)})
	require.Len(t, survivors, 1)
	require.Empty(t, discard)
}

func TestGroupByItem_PartitionsByItemID(t *testing.T) {
	groups := GroupByItem([]*store.ProcessingItem{
		{ItemID: "a", Seq: 1}, {ItemID: "b", Seq: 2}, {ItemID: "a", Seq: 3},
	})
	require.Len(t, groups, 2)
	require.Len(t, groups["a"], 2)
	require.Len(t, groups["b"], 1)
}
