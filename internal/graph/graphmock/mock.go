// Package graphmock provides an in-memory graph.Client for tests, modeled on
// the call-recording mock pattern: every method records its name and
// arguments before serving a canned or computed response, so tests can both
// drive scenarios and assert on what the code under test actually called.
package graphmock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/graph"
)

// Call records one invocation of a Client method.
type Call struct {
	Method string
	Args   []interface{}
}

// Client is an in-memory graph.Client. The zero value is ready to use.
type Client struct {
	mu sync.Mutex

	items map[string]*graph.DriveItem
	calls []Call

	// deltaPages is consumed one page per Delta call; once exhausted, Delta
	// returns an empty page with the last-seen DeltaLink as cursor.
	deltaPages []*graph.DeltaPage
	deltaIdx   int

	// NetworkErr, when set, is returned by every method instead of running
	// its normal logic - used to exercise retry and error-mapping paths.
	NetworkErr error

	Profile *graph.Profile
}

// New returns an empty mock client seeded with a synthetic root item.
func New() *Client {
	root := &graph.DriveItem{ID: "root", Name: "root", Folder: &graph.Folder{}}
	return &Client{
		items: map[string]*graph.DriveItem{"root": root},
	}
}

func (c *Client) record(method string, args ...interface{}) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Calls returns every call recorded so far, in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// AddItem seeds the mock's item set, as if it already existed remotely.
func (c *Client) AddItem(item *graph.DriveItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// QueueDeltaPage appends a page to be returned by successive Delta calls.
func (c *Client) QueueDeltaPage(page *graph.DeltaPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltaPages = append(c.deltaPages, page)
}

func (c *Client) GetItemByID(ctx context.Context, id string) (*graph.DriveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetItemByID", id)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, ferrors.NewPreconditionError("item not found: "+id, nil)
	}
	return item, nil
}

func (c *Client) Delta(ctx context.Context, cursor string) (*graph.DeltaPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Delta", cursor)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	if c.deltaIdx >= len(c.deltaPages) {
		return &graph.DeltaPage{DeltaLink: cursor}, nil
	}
	page := c.deltaPages[c.deltaIdx]
	c.deltaIdx++
	return page, nil
}

func (c *Client) Download(ctx context.Context, url, id string, rng *graph.ByteRange) (*graph.DownloadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Download", url, id, rng)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, ferrors.NewPreconditionError("item not found: "+id, nil)
	}
	return &graph.DownloadResult{Bytes: []byte{}, ETag: item.ETag, Size: item.Size, ModTime: item.ModTime}, nil
}

func (c *Client) UploadSmall(ctx context.Context, bytes []byte, name, parentID string) (*graph.UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("UploadSmall", name, parentID, len(bytes))
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	return c.createFile(name, parentID, uint64(len(bytes)))
}

func (c *Client) UploadSession(ctx context.Context, bytes []byte, name, parentID string, chunkSize int) (*graph.UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("UploadSession", name, parentID, len(bytes), chunkSize)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	return c.createFile(name, parentID, uint64(len(bytes)))
}

func (c *Client) createFile(name, parentID string, size uint64) (*graph.UploadResult, error) {
	id := "remote_" + uuid.NewString()
	etag := "etag_" + uuid.NewString()
	c.items[id] = &graph.DriveItem{
		ID:     id,
		Name:   name,
		Size:   size,
		Parent: &graph.DriveItemParent{ID: parentID},
		File:   &graph.File{},
		ETag:   etag,
	}
	return &graph.UploadResult{ID: id, ETag: etag, Size: size}, nil
}

func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) (*graph.DriveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("CreateFolder", parentPath, name)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	id := "remote_" + uuid.NewString()
	item := &graph.DriveItem{
		ID:     id,
		Name:   name,
		Parent: &graph.DriveItemParent{Path: parentPath},
		Folder: &graph.Folder{},
		ETag:   "etag_" + uuid.NewString(),
	}
	c.items[id] = item
	return item, nil
}

func (c *Client) Move(ctx context.Context, id, newParentID string) (*graph.DriveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Move", id, newParentID)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, ferrors.NewPreconditionError("item not found: "+id, nil)
	}
	item.Parent = &graph.DriveItemParent{ID: newParentID}
	item.ETag = "etag_" + uuid.NewString()
	return item, nil
}

func (c *Client) Rename(ctx context.Context, id, newName string) (*graph.DriveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Rename", id, newName)
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, ferrors.NewPreconditionError("item not found: "+id, nil)
	}
	item.Name = newName
	item.ETag = "etag_" + uuid.NewString()
	return item, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Delete", path)
	if c.NetworkErr != nil {
		return c.NetworkErr
	}
	return nil
}

func (c *Client) GetProfile(ctx context.Context) (*graph.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetProfile")
	if c.NetworkErr != nil {
		return nil, c.NetworkErr
	}
	if c.Profile != nil {
		return c.Profile, nil
	}
	return &graph.Profile{DisplayName: "Mock User", Mail: "mock@example.com"}, nil
}

var _ graph.Client = (*Client)(nil)
