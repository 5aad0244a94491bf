package syncengine

import (
	"time"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

// Resolution is the outcome a ConflictResolver picks for a conflicted
// processing item.
type Resolution int

const (
	ResolutionUseRemote Resolution = iota
	ResolutionUseLocal
	ResolutionUseNewest
	ResolutionUseOldest
	ResolutionUseLargest
	ResolutionUseSmallest
	ResolutionKeepBoth
	ResolutionManual
)

func (r Resolution) String() string {
	switch r {
	case ResolutionUseRemote:
		return "use-remote"
	case ResolutionUseLocal:
		return "use-local"
	case ResolutionUseNewest:
		return "use-newest"
	case ResolutionUseOldest:
		return "use-oldest"
	case ResolutionUseLargest:
		return "use-largest"
	case ResolutionUseSmallest:
		return "use-smallest"
	case ResolutionKeepBoth:
		return "keep-both"
	default:
		return "manual"
	}
}

// Conflict carries both sides of a disputed item for a resolver to judge.
type Conflict struct {
	ProcessingItem *store.ProcessingItem
	LocalItem      *store.Item
	RemoteModTime  time.Time
	RemoteSize     uint64
	LocalResident  bool
}

// ConflictResolver picks a Resolution for a Conflict. Built-ins below cover
// the dispatch table the daemon has always shipped; SmartResolver composes
// them by operation kind the way the original implementation did.
type ConflictResolver interface {
	Resolve(c *Conflict) Resolution
}

type alwaysRemoteResolver struct{}

func (alwaysRemoteResolver) Resolve(*Conflict) Resolution { return ResolutionUseRemote }

// AlwaysRemote always prefers the server's copy.
func AlwaysRemote() ConflictResolver { return alwaysRemoteResolver{} }

type alwaysLocalResolver struct{}

func (alwaysLocalResolver) Resolve(*Conflict) Resolution { return ResolutionUseLocal }

// AlwaysLocal always prefers the locally held copy.
func AlwaysLocal() ConflictResolver { return alwaysLocalResolver{} }

type manualResolver struct{}

func (manualResolver) Resolve(*Conflict) Resolution { return ResolutionManual }

// Manual always defers to the user, surfaced via the D-Bus conflict list.
func Manual() ConflictResolver { return manualResolver{} }

type timestampResolver struct{ useNewest bool }

func (r timestampResolver) Resolve(*Conflict) Resolution {
	if r.useNewest {
		return ResolutionUseNewest
	}
	return ResolutionUseOldest
}

// Timestamp resolves by comparing modification times.
func Timestamp(useNewest bool) ConflictResolver { return timestampResolver{useNewest} }

type sizeResolver struct{ useLargest bool }

func (r sizeResolver) Resolve(*Conflict) Resolution {
	if r.useLargest {
		return ResolutionUseLargest
	}
	return ResolutionUseSmallest
}

// Size resolves by comparing content size.
func Size(useLargest bool) ConflictResolver { return sizeResolver{useLargest} }

type keepBothResolver struct{}

func (keepBothResolver) Resolve(*Conflict) Resolution { return ResolutionKeepBoth }

// KeepBoth always preserves both copies under distinct names.
func KeepBoth() ConflictResolver { return keepBothResolver{} }

// smartResolver dispatches on the processing item's operation kind, matching
// the daemon's historical per-operation conflict policy (spec §4.4.2):
// deletes favor the local side, creates and content updates favor whichever
// copy is newest (falling back to remote when the local copy was never
// hydrated), moves require a human, renames keep both, and a no-op change
// simply accepts the remote state.
type smartResolver struct{}

// Smart is the default resolver: per-operation policy rather than a single
// fixed rule.
func Smart() ConflictResolver { return smartResolver{} }

func (smartResolver) Resolve(c *Conflict) Resolution {
	switch c.ProcessingItem.Operation {
	case store.OpDelete:
		return ResolutionUseLocal
	case store.OpCreate:
		return ResolutionUseNewest
	case store.OpUpdate:
		if c.LocalResident {
			return ResolutionUseNewest
		}
		return ResolutionUseRemote
	case store.OpMove:
		return ResolutionManual
	case store.OpRename:
		return ResolutionKeepBoth
	default:
		return ResolutionUseRemote
	}
}

// Apply picks the winning item's content/metadata per resolution, returning
// true if the local copy should be kept as-is (false means remote wins and
// the caller should proceed with a download).
func Apply(resolution Resolution, c *Conflict) bool {
	switch resolution {
	case ResolutionUseLocal:
		return true
	case ResolutionUseRemote:
		return false
	case ResolutionUseNewest:
		return c.LocalItem.ModTime.After(c.RemoteModTime)
	case ResolutionUseOldest:
		return c.LocalItem.ModTime.Before(c.RemoteModTime)
	case ResolutionUseLargest:
		return c.LocalItem.Size >= c.RemoteSize
	case ResolutionUseSmallest:
		return c.LocalItem.Size <= c.RemoteSize
	default:
		// KeepBoth and Manual are handled by the caller, which needs to take
		// an action beyond "pick a winner" (rename a copy, surface to the user).
		return true
	}
}
