package syncengine

import "github.com/onedrivefs/onedrivefs/internal/store"

// Squash coalesces adjacent local-journal records for the same item,
// arrival-ordered, per spec §4.4.4: create,update* -> create; update,update*
// -> update; create,delete -> (both removed); update,delete -> delete. This
// avoids uploading intermediate versions that were immediately superseded or
// undone before the processor ever drained them.
//
// Input must already be grouped by item ID and sorted by Seq ascending.
// Squash folds each foldable adjacent pair in turn and carries any
// non-foldable row (move, rename, or a create/update following a delete)
// forward unchanged, returning the surviving rows in order plus the
// sequence numbers of every row folded away.
func Squash(group []*store.ProcessingItem) (survivors []*store.ProcessingItem, discard []uint64) {
	for _, next := range group {
		if len(survivors) == 0 {
			survivors = append(survivors, next)
			continue
		}
		last := survivors[len(survivors)-1]
		switch {
		case last.Source != next.Source:
			// Squashing is defined over "adjacent local-journal records" (spec
			// §4.4.4) - a local and a remote row racing the same item are two
			// independent sides of a conflict, not a fold-away intermediate
			// version, so each keeps its own row for validation to see.
			survivors = append(survivors, next)
		case next.Source != store.SourceLocal:
			// Two adjacent remote rows are not folded either; each keeps its row.
			survivors = append(survivors, next)
		case last.Operation == store.OpCreate && next.Operation == store.OpUpdate:
			discard = append(discard, next.Seq)
		case last.Operation == store.OpUpdate && next.Operation == store.OpUpdate:
			discard = append(discard, last.Seq)
			survivors[len(survivors)-1] = next
		case last.Operation == store.OpCreate && next.Operation == store.OpDelete:
			discard = append(discard, last.Seq, next.Seq)
			survivors = survivors[:len(survivors)-1]
		case last.Operation == store.OpUpdate && next.Operation == store.OpDelete:
			discard = append(discard, last.Seq)
			survivors[len(survivors)-1] = next
		default:
			// Moves, renames, and any other combination aren't folded - each
			// keeps its own journal row and the processor drains both in order.
			survivors = append(survivors, next)
		}
	}
	return survivors, discard
}

// GroupByItem partitions a FIFO-ordered slice of pending processing items
// into per-item arrival-ordered groups, the shape Squash expects.
func GroupByItem(pending []*store.ProcessingItem) map[string][]*store.ProcessingItem {
	groups := make(map[string][]*store.ProcessingItem)
	for _, item := range pending {
		groups[item.ItemID] = append(groups[item.ItemID], item)
	}
	return groups
}
