package syncengine

import (
	"context"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

// IsDownloadRequest reports whether a processing item represents a
// materialize-content request rather than an ordinary local/remote mutation
// (spec §4.4.3's "Remote create/update (file): enqueue a download-queue
// entry... the download processor materializes content asynchronously").
// Both the delta processor (on a remote file create/update) and the
// filesystem's Open handler (on first access to non-resident content)
// produce rows of exactly this shape, so they share one drain path rather
// than needing a fourth persisted table.
func IsDownloadRequest(item *store.ProcessingItem) bool {
	return item.ChangeType == store.ChangeTypeFile &&
		(item.Operation == store.OpCreate || item.Operation == store.OpUpdate) &&
		item.Source == store.SourceRemote
}

// DownloadProcessor drains download-queue entries from the processing-item
// journal, materializing remote file content into the handle manager's
// content store (spec §4.5).
type DownloadProcessor struct {
	client  graph.Client
	items   *store.ItemRepository
	journal *store.JournalRepository
	content *vfs.HandleManager
}

// NewDownloadProcessor constructs a download processor over shared storage.
func NewDownloadProcessor(client graph.Client, items *store.ItemRepository, journal *store.JournalRepository, content *vfs.HandleManager) *DownloadProcessor {
	return &DownloadProcessor{client: client, items: items, journal: journal, content: content}
}

// Drain pops every pending download request (FIFO, as Pending returns them)
// and materializes its content, advancing each row's status as it goes.
func (p *DownloadProcessor) Drain(ctx context.Context) error {
	pending, err := p.journal.Pending()
	if err != nil {
		return err
	}
	for _, pi := range pending {
		if !IsDownloadRequest(pi) {
			continue
		}
		if err := p.processOne(ctx, pi); err != nil {
			logging.Warn().Err(err).Str("id", pi.ItemID).Msg("download failed")
		}
	}
	return nil
}

func (p *DownloadProcessor) processOne(ctx context.Context, pi *store.ProcessingItem) error {
	if pi.Status == store.StatusNew {
		if err := Advance(p.journal, pi.Seq, store.StatusValidated, nil); err != nil {
			return err
		}
	}
	if err := Advance(p.journal, pi.Seq, store.StatusProcessing, nil); err != nil {
		return err
	}

	item, err := p.items.Get(pi.ItemID)
	if err != nil || item == nil {
		failErr := ferrors.NewPreconditionError("item vanished before download: "+pi.ItemID, err)
		return p.fail(pi, failErr)
	}

	// Download URLs are ephemeral; re-fetch metadata immediately before the
	// transfer so an expired URL from an earlier delta page doesn't bite us.
	remote, err := p.client.GetItemByID(ctx, item.ID)
	if err != nil {
		return p.fail(pi, err)
	}

	result, err := p.client.Download(ctx, remote.DownloadURL, item.ID, nil)
	if err != nil {
		if ferrors.IsPreconditionError(err) {
			// URL expiry or the item disappearing remotely: re-fetching
			// already happened above, so a second failure here is terminal
			// for this attempt rather than silently retried forever.
			return p.fail(pi, err)
		}
		return p.fail(pi, err)
	}

	if err := p.content.WriteAtomic(item.ID, result.Bytes); err != nil {
		return p.fail(pi, err)
	}

	item.Size = result.Size
	item.ETag = result.ETag
	if result.ModTime != nil {
		item.ModTime = *result.ModTime
	}
	item.HasChanges = false
	if err := p.items.Upsert(item); err != nil {
		return p.fail(pi, err)
	}

	return Advance(p.journal, pi.Seq, store.StatusDone, nil)
}

func (p *DownloadProcessor) fail(pi *store.ProcessingItem, cause error) error {
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
	// Rolling a download request back to "new" lets the next Drain retry it;
	// the journal's own Attempts counter (bumped on entry to Retry) bounds
	// how many times that happens before NextOnRetry gives up.
	return Advance(p.journal, pi.Seq, store.StatusNew, nil)
}
