package syncengine

import (
	"context"
	"sort"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

// Processor is the sync processor (spec §4.4): it drains the processing-item
// journal, validating, resolving, executing, and advancing each row's status
// in turn. Rows that IsDownloadRequest identifies are left untouched - those
// belong to the DownloadProcessor.
type Processor struct {
	items    *store.ItemRepository
	journal  *store.JournalRepository
	content  *vfs.HandleManager
	uploader *Uploader
	resolver ConflictResolver
}

// NewProcessor constructs a sync processor over shared storage, the local
// content store, the remote-execution side (Uploader), and the conflict
// policy to apply when validation surfaces a content conflict.
func NewProcessor(items *store.ItemRepository, journal *store.JournalRepository, content *vfs.HandleManager, uploader *Uploader, resolver ConflictResolver) *Processor {
	return &Processor{items: items, journal: journal, content: content, uploader: uploader, resolver: resolver}
}

// Drain runs one full pass over the journal: fetch every unprocessed row not
// reserved for the download processor, squash adjacent local edits per item,
// order remote ahead of local (then by priority descending, then identifier),
// and run each surviving row through validate -> resolve -> execute ->
// update-status.
func (p *Processor) Drain(ctx context.Context) error {
	pending, err := p.journal.Pending()
	if err != nil {
		return err
	}

	var work []*store.ProcessingItem
	for _, pi := range pending {
		if !IsDownloadRequest(pi) {
			work = append(work, pi)
		}
	}

	groups := GroupByItem(work)
	var survivors []*store.ProcessingItem
	for _, group := range groups {
		sg, discard := Squash(group)
		for _, seq := range discard {
			if err := p.journal.Delete(seq); err != nil {
				logging.Warn().Err(err).Uint64("seq", seq).Msg("failed to discard squashed journal row")
			}
		}
		survivors = append(survivors, sg...)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.Source != b.Source {
			return a.Source == store.SourceRemote
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ItemID < b.ItemID
	})

	for _, pi := range survivors {
		if err := p.processOne(ctx, pi); err != nil {
			logging.Warn().Err(err).Str("id", pi.ItemID).Str("op", pi.Operation.String()).Msg("sync processor failed on item")
		}
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, pi *store.ProcessingItem) error {
	if pi.Status == store.StatusNew {
		errs, err := Validate(p.items, p.journal, pi)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			if err := Advance(p.journal, pi.Seq, store.StatusConflicted, errs[0]); err != nil {
				return err
			}
			return p.tryResolve(ctx, pi)
		}
		if err := Advance(p.journal, pi.Seq, store.StatusValidated, nil); err != nil {
			return err
		}
	}

	current, err := p.journal.Get(pi.Seq)
	if err != nil {
		return err
	}
	if current.Status == store.StatusConflicted {
		return p.tryResolve(ctx, pi)
	}

	item, err := p.items.Get(pi.ItemID)
	if err != nil {
		return err
	}

	if err := Advance(p.journal, pi.Seq, store.StatusProcessing, nil); err != nil {
		return err
	}
	if err := p.execute(ctx, pi, item); err != nil {
		return p.fail(pi, err)
	}
	return Advance(p.journal, pi.Seq, store.StatusDone, nil)
}

// tryResolve re-validates a conflicted row; if the only outstanding defect
// is a content conflict, it asks the resolver for a verdict. A non-manual
// verdict clears the row back to validated and lets it proceed through
// execute in the same pass. Manual verdicts, and any row still carrying a
// tree-invalid or name-collision defect, are left conflicted for a later
// drain (or a user decision surfaced over IPC) to clear.
func (p *Processor) tryResolve(ctx context.Context, pi *store.ProcessingItem) error {
	errs, err := Validate(p.items, p.journal, pi)
	if err != nil {
		return err
	}
	hasContentConflict := false
	hasOtherDefect := false
	for _, e := range errs {
		if e.Kind == KindContentConflict {
			hasContentConflict = true
		} else {
			hasOtherDefect = true
		}
	}
	if !hasContentConflict || hasOtherDefect {
		return nil
	}

	item, err := p.items.Get(pi.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	c := &Conflict{
		ProcessingItem: pi,
		LocalItem:      item,
		RemoteModTime:  item.ModTime,
		RemoteSize:     item.Size,
		LocalResident:  p.content.HasContent(pi.ItemID),
	}
	resolution := p.resolver.Resolve(c)
	if resolution == ResolutionManual {
		return nil
	}
	keepLocal := Apply(resolution, c)
	if resolution == ResolutionKeepBoth {
		// Neither copy is discarded: the local edit proceeds under its own
		// name and the remote state the delta processor already wrote to the
		// item table stands as-is.
		keepLocal = true
	}
	if !keepLocal {
		item.HasChanges = false
		if err := p.items.Upsert(item); err != nil {
			return err
		}
		if pi.Source == store.SourceLocal {
			// This row is the losing side of a content conflict the remote
			// won: its content has already been superseded, so executing it
			// would re-upload stale bytes over the winning remote copy.
			// Cancel it instead of letting it proceed to execute.
			return Advance(p.journal, pi.Seq, store.StatusCancelled, nil)
		}
	}

	if err := Advance(p.journal, pi.Seq, store.StatusValidated, nil); err != nil {
		return err
	}
	if err := Advance(p.journal, pi.Seq, store.StatusProcessing, nil); err != nil {
		return err
	}
	refreshed, err := p.items.Get(pi.ItemID)
	if err != nil {
		return err
	}
	if err := p.execute(ctx, pi, refreshed); err != nil {
		return p.fail(pi, err)
	}
	return Advance(p.journal, pi.Seq, store.StatusDone, nil)
}

// execute runs the remote-side effect for pi, per spec §4.4.3's execution
// bindings table.
func (p *Processor) execute(ctx context.Context, pi *store.ProcessingItem, item *store.Item) error {
	if pi.Source == store.SourceRemote {
		switch pi.Operation {
		case store.OpDelete:
			if err := p.content.Delete(pi.ItemID); err != nil {
				return err
			}
			return p.items.SoftDelete(pi.ItemID)
		default:
			// Remote creates, updates (of directories; files are the download
			// processor's concern), moves, and renames were already reflected
			// into the item table by the delta processor that enqueued this
			// row - there's no further remote call to make.
			return nil
		}
	}

	if item == nil {
		return ferrors.NewTreeInvalidError("item missing for local "+pi.Operation.String()+": "+pi.ItemID, nil)
	}

	switch pi.Operation {
	case store.OpCreate:
		parentPath, err := PathOf(p.items, item.ParentID)
		if err != nil {
			return err
		}
		if item.IsDir {
			_, err := p.uploader.CreateFolder(ctx, item, parentPath)
			return err
		}
		_, err = p.uploader.CreateFile(ctx, item)
		return err
	case store.OpUpdate:
		return p.uploader.UpdateFile(ctx, item)
	case store.OpDelete:
		path, err := PathOf(p.items, pi.ItemID)
		if err != nil {
			return err
		}
		return p.uploader.Delete(ctx, path)
	case store.OpMove, store.OpRename:
		return p.uploader.Move(ctx, item, pi.OldParentID, pi.OldName)
	}
	return nil
}

func (p *Processor) fail(pi *store.ProcessingItem, cause error) error {
	if err := Advance(p.journal, pi.Seq, store.StatusRetry, cause); err != nil {
		return err
	}
	refreshed, err := p.journal.Get(pi.Seq)
	if err != nil {
		return err
	}
	next := NextOnRetry(refreshed)
	if next == store.StatusError {
		return Advance(p.journal, pi.Seq, store.StatusError, cause)
	}
	return Advance(p.journal, pi.Seq, store.StatusNew, nil)
}
