package graph

import "context"

// Client is the capability set spec §6.2 requires from the remote. The
// sync engine and download processor depend only on this interface; the
// concrete implementation (REST + delta + upload-session semantics over
// Microsoft Graph) is an external collaborator not implemented here.
type Client interface {
	// GetItemByID fetches current metadata for id ("root" for the root item).
	GetItemByID(ctx context.Context, id string) (*DriveItem, error)

	// Delta requests one page of the delta feed. cursor is empty on the
	// very first call, or the DeltaPage.NextLink/DeltaLink of the previous page.
	Delta(ctx context.Context, cursor string) (*DeltaPage, error)

	// Download fetches file content. rng, if non-nil, requests a byte range.
	Download(ctx context.Context, url, id string, rng *ByteRange) (*DownloadResult, error)

	// UploadSmall uploads content in a single request (small files).
	UploadSmall(ctx context.Context, bytes []byte, name, parentID string) (*UploadResult, error)

	// UploadSession uploads content in chunks of chunkSize bytes (large files).
	UploadSession(ctx context.Context, bytes []byte, name, parentID string, chunkSize int) (*UploadResult, error)

	// CreateFolder creates a folder named name under parentPath.
	CreateFolder(ctx context.Context, parentPath, name string) (*DriveItem, error)

	// Move reparents id to newParentID, returning the updated item.
	Move(ctx context.Context, id, newParentID string) (*DriveItem, error)

	// Rename changes id's name, returning the updated item.
	Rename(ctx context.Context, id, newName string) (*DriveItem, error)

	// Delete removes the item at path.
	Delete(ctx context.Context, path string) error

	// GetProfile fetches the signed-in user's profile.
	GetProfile(ctx context.Context) (*Profile, error)
}

// ByteRange requests a partial download, end inclusive.
type ByteRange struct {
	Start uint64
	End   uint64
}
