package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
)

// DeltaProcessor advances the local view of the remote namespace by walking
// the Graph delta feed and translating each remote change into an
// item-table upsert plus a processing-item journal row (spec §4.1).
type DeltaProcessor struct {
	client    graph.Client
	items     *store.ItemRepository
	journal   *store.JournalRepository
	syncState *store.SyncStateRepository

	stop chan struct{}
	wg   sync.WaitGroup

	offlineM sync.RWMutex
	offline  bool
}

// NewDeltaProcessor constructs a processor ready to poll once Run is started.
func NewDeltaProcessor(client graph.Client, items *store.ItemRepository, journal *store.JournalRepository, syncState *store.SyncStateRepository) *DeltaProcessor {
	return &DeltaProcessor{
		client:    client,
		items:     items,
		journal:   journal,
		syncState: syncState,
		stop:      make(chan struct{}),
	}
}

// Run polls the delta feed on interval until ctx is cancelled or Stop is
// called, falling back to a shorter offline interval while the last poll
// failed - only a successful poll clears offline state, mirroring the
// daemon's historical rule that delta success is the sole signal that
// brings the filesystem back online.
func (p *DeltaProcessor) Run(ctx context.Context, interval, offlineInterval time.Duration) {
	p.wg.Add(1)
	defer p.wg.Done()

	currentInterval := interval
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(currentInterval):
		}

		if err := p.PullDelta(ctx); err != nil {
			logging.Error().Err(err).Msg("delta poll failed, marking filesystem offline")
			p.setOffline(true)
			currentInterval = offlineInterval
			continue
		}
		p.setOffline(false)
		currentInterval = interval
	}
}

// Stop signals Run to exit and waits for it to return.
func (p *DeltaProcessor) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *DeltaProcessor) setOffline(v bool) {
	p.offlineM.Lock()
	p.offline = v
	p.offlineM.Unlock()
}

// IsOffline reports whether the last delta poll failed.
func (p *DeltaProcessor) IsOffline() bool {
	p.offlineM.RLock()
	defer p.offlineM.RUnlock()
	return p.offline
}

// PullDelta performs one full page walk: it follows NextLink until the feed
// yields a terminal DeltaLink, applies every item seen (last occurrence per
// ID wins, per the Graph API's documented dedup rule), and then persists the
// new cursor. The cursor write is its own transaction, separate from the
// per-item upserts and enqueues; an item that fails to apply is logged and
// skipped, and the cursor still advances past it.
func (p *DeltaProcessor) PullDelta(ctx context.Context) error {
	state, err := p.syncState.Get()
	if err != nil {
		return err
	}
	cursor := state.DeltaCursor

	seen := make(map[string]*graph.DriveItem)
	order := make([]string, 0)
	for {
		page, err := p.client.Delta(ctx, cursor)
		if err != nil {
			return ferrors.Wrap(err, "delta poll")
		}
		for _, item := range page.Items {
			if _, exists := seen[item.ID]; !exists {
				order = append(order, item.ID)
			}
			seen[item.ID] = item
		}
		if page.NextLink != "" {
			cursor = page.NextLink
			continue
		}
		cursor = page.DeltaLink
		break
	}

	for _, id := range order {
		if err := p.applyDeltaItem(seen[id]); err != nil {
			logging.Warn().Err(err).Str("id", id).Msg("failed to apply delta item")
		}
	}

	return p.syncState.SetDeltaCursor(cursor)
}

func (p *DeltaProcessor) applyDeltaItem(remote *graph.DriveItem) error {
	existing, err := p.items.Get(remote.ID)
	if err != nil {
		return err
	}

	local := &store.Item{
		ID:       remote.ID,
		ParentID: remote.ParentID(),
		Name:     remote.Name,
		IsDir:    remote.IsDir(),
		Size:     remote.Size,
		ETag:     remote.ETag,
		CTag:     remote.CTag,
		Deleted:  remote.Deleted != nil,
	}
	if remote.ModTime != nil {
		local.ModTime = *remote.ModTime
	}

	if existing != nil {
		local.Inode = existing.Inode
		// A folder becoming a file or vice versa strands its old children;
		// they're soft-deleted transitively rather than left dangling.
		if existing.IsDir != local.IsDir {
			if err := p.softDeleteDescendants(existing.ID); err != nil {
				return err
			}
		}
	} else {
		inode, err := p.items.AllocateInode()
		if err != nil {
			return err
		}
		local.Inode = inode
	}

	if err := p.items.Upsert(local); err != nil {
		return err
	}

	op := deriveOperation(existing, local)
	changeType := store.ChangeTypeFile
	if local.IsDir {
		changeType = store.ChangeTypeDirectory
	}
	pi := &store.ProcessingItem{
		ItemID:     local.ID,
		ChangeType: changeType,
		Operation:  op,
		Source:     store.SourceRemote,
	}
	if existing != nil {
		if op == store.OpMove {
			pi.OldParentID = existing.ParentID
		}
		if op == store.OpRename {
			pi.OldName = existing.Name
		}
	}
	_, err = p.journal.Enqueue(pi)
	return err
}

func (p *DeltaProcessor) softDeleteDescendants(parentID string) error {
	children, err := p.items.Children(parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := p.items.SoftDelete(child.ID); err != nil {
			return err
		}
		if child.IsDir {
			if err := p.softDeleteDescendants(child.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// deriveOperation classifies a remote change against the previously known
// row: a never-seen item is a create, a tombstone is a delete, a changed
// parent is a move, a changed name (same parent) is a rename, and anything
// else is a content/metadata update.
func deriveOperation(existing, incoming *store.Item) store.ChangeOperation {
	if incoming.Deleted {
		return store.OpDelete
	}
	if existing == nil {
		return store.OpCreate
	}
	if existing.ParentID != incoming.ParentID {
		return store.OpMove
	}
	if existing.Name != incoming.Name {
		return store.OpRename
	}
	return store.OpUpdate
}
