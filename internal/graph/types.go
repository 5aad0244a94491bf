// Package graph defines the remote-client boundary this daemon consumes:
// the Microsoft Graph wire types and the Client capability set from spec
// §6.2. It intentionally contains no HTTP implementation - the OAuth2/PKCE
// flow and the REST/delta/upload-session transport are external
// collaborators (spec §1).
package graph

import "time"

// DriveItemParent identifies an item's parent folder.
// https://docs.microsoft.com/en-us/onedrive/developer/rest-api/resources/itemreference
type DriveItemParent struct {
	Path      string `json:"path,omitempty"`
	ID        string `json:"id,omitempty"`
	DriveID   string `json:"driveId,omitempty"`
	DriveType string `json:"driveType,omitempty"`
}

// Folder marks a DriveItem as a directory.
type Folder struct {
	ChildCount uint32 `json:"childCount,omitempty"`
}

// Hashes are content-integrity hashes used to detect real content changes.
type Hashes struct {
	SHA1Hash     string `json:"sha1Hash,omitempty"`
	QuickXorHash string `json:"quickXorHash,omitempty"`
}

// File marks a DriveItem as a regular file and carries its hashes.
type File struct {
	Hashes Hashes `json:"hashes,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Deleted marks a DriveItem as a server-side tombstone.
type Deleted struct {
	State string `json:"state,omitempty"`
}

// DriveItem is the Graph API's representation of a file or folder.
// https://docs.microsoft.com/en-us/onedrive/developer/rest-api/resources/driveitem
type DriveItem struct {
	ID          string           `json:"id,omitempty"`
	Name        string           `json:"name,omitempty"`
	Size        uint64           `json:"size,omitempty"`
	ModTime     *time.Time       `json:"lastModifiedDateTime,omitempty"`
	CreatedTime *time.Time       `json:"createdDateTime,omitempty"`
	Parent      *DriveItemParent `json:"parentReference,omitempty"`
	Folder      *Folder          `json:"folder,omitempty"`
	File        *File            `json:"file,omitempty"`
	Deleted     *Deleted         `json:"deleted,omitempty"`
	ETag        string           `json:"eTag,omitempty"`
	CTag        string           `json:"cTag,omitempty"`
	DownloadURL string           `json:"@microsoft.graph.downloadUrl,omitempty"`
}

// IsDir reports whether the item is a folder.
func (d *DriveItem) IsDir() bool { return d != nil && d.Folder != nil }

// ModTimeUnix returns the modification time as Unix seconds, or 0 if unset.
func (d *DriveItem) ModTimeUnix() uint64 {
	if d == nil || d.ModTime == nil {
		return 0
	}
	return uint64(d.ModTime.Unix())
}

// ParentID returns the parent's identifier, or "" if the item has no parent.
func (d *DriveItem) ParentID() string {
	if d == nil || d.Parent == nil {
		return ""
	}
	return d.Parent.ID
}

// ETagMatches reports whether the item's etag equals other, treating two
// empty etags as non-matching (Graph items always carry an etag once synced).
func (d *DriveItem) ETagMatches(other string) bool {
	if d == nil || d.ETag == "" || other == "" {
		return false
	}
	return d.ETag == other
}

// Profile is the subset of a user profile the daemon reports over IPC.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	Mail        string `json:"mail,omitempty"`
}

// DownloadResult is the outcome of a Client.Download call.
type DownloadResult struct {
	Bytes   []byte
	ETag    string
	Mime    string
	Size    uint64
	ModTime *time.Time
}

// UploadResult is the outcome of a small or chunked upload.
type UploadResult struct {
	ID   string
	ETag string
	Size uint64
}

// DeltaPage is one page of the delta feed (spec §4.1).
type DeltaPage struct {
	Items []*DriveItem
	// NextLink is set when more pages remain in this polling cycle.
	NextLink string
	// DeltaLink is the cursor to persist once the walk reaches its terminal page.
	DeltaLink string
}
