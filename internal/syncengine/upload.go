package syncengine

import (
	"context"

	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

// PathOf walks the item table from id up to root and returns the resulting
// slash-separated absolute path, for remote calls (CreateFolder, Delete)
// that address items by path rather than identifier.
func PathOf(items *store.ItemRepository, id string) (string, error) {
	var segments []string
	for id != "" && id != "root" {
		item, err := items.Get(id)
		if err != nil {
			return "", err
		}
		if item == nil {
			break
		}
		segments = append([]string{item.Name}, segments...)
		id = item.ParentID
	}
	path := "/"
	for _, s := range segments {
		path += s + "/"
	}
	if len(path) > 1 {
		path = path[:len(path)-1]
	}
	return path, nil
}

// uploadLargeSize is the cutoff above which a file is uploaded via chunked
// upload-session rather than a single request - the Graph API's own simple
// upload ceiling.
const uploadLargeSize = 4 * 1024 * 1024

// uploadChunkSize is the chunk size used for upload-session transfers.
const uploadChunkSize = 10 * 1024 * 1024

// Uploader executes the remote-side effects of local create/update/move/
// rename/delete processing items (spec §4.4.3's "Local ..." rows). It
// depends on graph.Client for the remote calls, the item table to persist
// identifier rewrites and etags, and the handle manager to read local
// content and follow a temporary ID's backing file to its real one.
type Uploader struct {
	client  graph.Client
	items   *store.ItemRepository
	content *vfs.HandleManager
}

// NewUploader constructs an Uploader over shared storage and the remote boundary.
func NewUploader(client graph.Client, items *store.ItemRepository, content *vfs.HandleManager) *Uploader {
	return &Uploader{client: client, items: items, content: content}
}

// CreateFolder executes a local folder create: it calls the remote
// create-folder capability, then rewrites the temporary local_<uuid>
// identifier to the one the remote assigned via ItemRepository.RenameID,
// which also repoints the folder's children. Journal rows that still name
// the temporary identifier are not rewritten.
func (u *Uploader) CreateFolder(ctx context.Context, item *store.Item, parentPath string) (string, error) {
	remote, err := u.client.CreateFolder(ctx, parentPath, item.Name)
	if err != nil {
		return "", err
	}
	if err := u.items.RenameID(item.ID, remote.ID); err != nil {
		return "", err
	}
	renamed, err := u.items.Get(remote.ID)
	if err != nil {
		return "", err
	}
	renamed.ETag = remote.ETag
	renamed.CTag = remote.CTag
	return remote.ID, u.items.Upsert(renamed)
}

// CreateFile executes a local file create: uploads the cached content
// (small or chunked depending on size), rewrites the temporary identifier,
// and follows the backing content file to its new name.
func (u *Uploader) CreateFile(ctx context.Context, item *store.Item) (string, error) {
	fd, err := u.content.Open(item.ID)
	if err != nil {
		return "", err
	}
	data := make([]byte, item.Size)
	if _, err := fd.ReadAt(data, 0); err != nil && item.Size > 0 {
		return "", err
	}

	result, err := u.upload(ctx, data, item.Name, item.ParentID)
	if err != nil {
		return "", err
	}

	if err := u.items.RenameID(item.ID, result.ID); err != nil {
		return "", err
	}
	if err := u.content.PromoteUpload(item.ID, result.ID); err != nil {
		return "", err
	}
	renamed, err := u.items.Get(result.ID)
	if err != nil {
		return "", err
	}
	renamed.ETag = result.ETag
	renamed.Size = result.Size
	renamed.HasChanges = false
	return result.ID, u.items.Upsert(renamed)
}

// UpdateFile executes a local content update against an already-uploaded
// item: re-uploads the cached content under the existing identifier and
// records the new etag.
func (u *Uploader) UpdateFile(ctx context.Context, item *store.Item) error {
	fd, err := u.content.Open(item.ID)
	if err != nil {
		return err
	}
	data := make([]byte, item.Size)
	if _, err := fd.ReadAt(data, 0); err != nil && item.Size > 0 {
		return err
	}
	result, err := u.upload(ctx, data, item.Name, item.ParentID)
	if err != nil {
		return err
	}
	if err := u.content.PromoteUpload(item.ID, item.ID); err != nil {
		return err
	}
	item.ETag = result.ETag
	item.Size = result.Size
	item.HasChanges = false
	return u.items.Upsert(item)
}

func (u *Uploader) upload(ctx context.Context, data []byte, name, parentID string) (*graph.UploadResult, error) {
	if len(data) > uploadLargeSize {
		return u.client.UploadSession(ctx, data, name, parentID, uploadChunkSize)
	}
	return u.client.UploadSmall(ctx, data, name, parentID)
}

// Delete executes a local delete: calls the remote delete capability. The
// filesystem already marked the item row deleted and removed its cached
// content at unlink time, so there's nothing local left to reconcile.
func (u *Uploader) Delete(ctx context.Context, path string) error {
	return u.client.Delete(ctx, path)
}

// Move executes a local move and/or rename: the filesystem already updated
// the item table row, so this issues whichever remote calls are needed to
// match it, preferring a single Move+Rename pair over re-uploading content.
func (u *Uploader) Move(ctx context.Context, item *store.Item, oldParentID, oldName string) error {
	var remote *graph.DriveItem
	var err error
	if item.ParentID != oldParentID {
		remote, err = u.client.Move(ctx, item.ID, item.ParentID)
		if err != nil {
			return err
		}
	}
	if item.Name != oldName {
		remote, err = u.client.Rename(ctx, item.ID, item.Name)
		if err != nil {
			return err
		}
	}
	if remote != nil {
		item.ETag = remote.ETag
	}
	return u.items.Upsert(item)
}
