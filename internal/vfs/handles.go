package vfs

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/onedrivefs/onedrivefs/internal/ferrors"
	"github.com/onedrivefs/onedrivefs/internal/logging"
)

// HandleManager is the filesystem's content store (component 5). It keeps
// at most one open *os.File per item ID, so concurrent Read/Write/Flush
// calls on the same item share a descriptor rather than racing independent
// ones, and it splits the cached bytes across two directories per the
// on-disk layout: downloads/<id> holds content materialized from the
// remote, uploads/<id> holds local creations and edits pending upload. A
// local write never touches downloads/ and the download processor never
// touches uploads/, so the two background workers can't contend for the
// same file.
type HandleManager struct {
	downloadsDir string
	uploadsDir   string

	fds sync.Map // item ID -> *os.File
	sf  singleflight.Group
}

// NewHandleManager creates the content store rooted at directory, creating
// its downloads/ and uploads/ subdirectories if necessary.
func NewHandleManager(directory string) *HandleManager {
	downloads := filepath.Join(directory, "downloads")
	uploads := filepath.Join(directory, "uploads")
	if err := os.MkdirAll(downloads, 0700); err != nil {
		logging.Error().Err(err).Str("directory", downloads).Msg("failed to create downloads directory")
	}
	if err := os.MkdirAll(uploads, 0700); err != nil {
		logging.Error().Err(err).Str("directory", uploads).Msg("failed to create uploads directory")
	}
	return &HandleManager{downloadsDir: downloads, uploadsDir: uploads}
}

func (h *HandleManager) downloadPath(id string) string { return filepath.Join(h.downloadsDir, id) }
func (h *HandleManager) uploadPath(id string) string    { return filepath.Join(h.uploadsDir, id) }

func (h *HandleManager) residentPath(id string) (string, bool) {
	if p := h.uploadPath(id); fileExists(p) {
		return p, true
	}
	if p := h.downloadPath(id); fileExists(p) {
		return p, true
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Path returns the on-disk path currently backing id's cached content,
// preferring an upload-pending copy over a downloaded one, or the path a
// brand-new file's content will be created under if neither exists yet.
// Callers that need a path to hand to another process (a thumbnailer)
// should check HasContent first.
func (h *HandleManager) Path(id string) string {
	if p, ok := h.residentPath(id); ok {
		return p
	}
	return h.uploadPath(id)
}

// IsOpen reports whether id currently has a live descriptor.
func (h *HandleManager) IsOpen(id string) bool {
	_, ok := h.fds.Load(id)
	return ok
}

// HasContent reports whether id has any bytes cached locally, in either
// directory, open or not.
func (h *HandleManager) HasContent(id string) bool {
	if h.IsOpen(id) {
		return true
	}
	_, ok := h.residentPath(id)
	return ok
}

// Open is the handle manager's get-or-create: it returns the shared
// descriptor for id, opening whichever of uploads/downloads already holds
// its content, or creating a brand-new empty file in uploads/ if neither
// does. A singleflight.Group keyed by id collapses concurrent callers onto
// a single os.OpenFile, so two Opens racing the same inode (the spec's
// "each filesystem call holds no cross-operation lock" allowance) can never
// both win the Load-miss and leak a duplicate descriptor.
func (h *HandleManager) Open(id string) (*os.File, error) {
	if fd, ok := h.fds.Load(id); ok {
		return fd.(*os.File), nil
	}
	v, err, _ := h.sf.Do(id, func() (interface{}, error) {
		if fd, ok := h.fds.Load(id); ok {
			return fd.(*os.File), nil
		}
		path, ok := h.residentPath(id)
		if !ok {
			path = h.uploadPath(id)
		}
		flags := os.O_RDWR
		if !ok {
			flags |= os.O_CREATE
		}
		fd, openErr := os.OpenFile(path, flags, 0600)
		if openErr != nil {
			return nil, ferrors.NewLocalIOError("open content file for "+id, openErr)
		}
		// Go's GC finalizer would otherwise close this fd out from under a
		// concurrent reader once the *os.File value itself becomes unreachable.
		runtime.SetFinalizer(fd, nil)
		h.fds.Store(id, fd)
		return fd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*os.File), nil
}

// Create opens id's content for writing as a brand-new, empty file in
// uploads/ - the directory local creations land in until they are uploaded.
// Any existing content under id (in either directory) should be removed via
// Delete first; Create does not itself clear a stale downloads/ copy.
func (h *HandleManager) Create(id string) (*os.File, error) {
	_ = h.Close(id)
	fd, err := os.OpenFile(h.uploadPath(id), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, ferrors.NewLocalIOError("create content file for "+id, err)
	}
	runtime.SetFinalizer(fd, nil)
	h.fds.Store(id, fd)
	return fd, nil
}

// OpenForWrite returns id's content open for writing, always against the
// uploads/ copy. If id is only resident as a downloaded copy, it is staged
// into uploads/ first (a local edit always supersedes the last-downloaded
// bytes); if id has no content at all yet, a new empty file is created in
// uploads/. This is the only path a local mutation (write, truncate) should
// use, so downloads/ is written exclusively by the download processor.
func (h *HandleManager) OpenForWrite(id string) (*os.File, error) {
	if fileExists(h.uploadPath(id)) {
		return h.Open(id)
	}
	if !fileExists(h.downloadPath(id)) {
		return h.Open(id)
	}
	_ = h.Close(id)
	data, err := os.ReadFile(h.downloadPath(id))
	if err != nil {
		return nil, ferrors.NewLocalIOError("stage downloaded content for write for "+id, err)
	}
	if err := os.WriteFile(h.uploadPath(id), data, 0600); err != nil {
		return nil, ferrors.NewLocalIOError("stage downloaded content for write for "+id, err)
	}
	return h.Open(id)
}

// Close syncs and closes id's descriptor, if one is open.
func (h *HandleManager) Close(id string) error {
	fd, ok := h.fds.Load(id)
	if !ok {
		return nil
	}
	file := fd.(*os.File)
	syncErr := file.Sync()
	closeErr := file.Close()
	h.fds.Delete(id)
	if syncErr != nil {
		return ferrors.NewLocalIOError("sync content file for "+id, syncErr)
	}
	if closeErr != nil {
		return ferrors.NewLocalIOError("close content file for "+id, closeErr)
	}
	return nil
}

// Delete removes id's cached content entirely, from both directories,
// closing any open descriptor first.
func (h *HandleManager) Delete(id string) error {
	_ = h.Close(id)
	var firstErr error
	for _, path := range []string{h.uploadPath(id), h.downloadPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = ferrors.NewLocalIOError("delete content file for "+id, err)
		}
	}
	return firstErr
}

// WriteAtomic replaces id's content in downloads/ with data via a temp file
// plus rename, so a concurrent reader never observes a partially written
// file. This is the download processor's write path exclusively; any live
// descriptor for id is closed first and must be reopened by the next caller.
func (h *HandleManager) WriteAtomic(id string, data []byte) error {
	_ = h.Close(id)
	tmp, err := os.CreateTemp(h.downloadsDir, id+".tmp-*")
	if err != nil {
		return ferrors.NewLocalIOError("create temp content file for "+id, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ferrors.NewLocalIOError("write temp content file for "+id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ferrors.NewLocalIOError("close temp content file for "+id, err)
	}
	if err := os.Rename(tmpPath, h.downloadPath(id)); err != nil {
		os.Remove(tmpPath)
		return ferrors.NewLocalIOError("rename temp content file for "+id, err)
	}
	return nil
}

// PromoteUpload moves id's content from uploads/ to downloads/ once the
// sync processor has confirmed the remote has it, following a temporary
// local_<uuid> identifier to its real remote ID in the same move (spec's
// upload round-trip: "moves uploads/<uuid> to downloads/R9"). Any stale
// downloaded copy under newID is discarded first. A no-op if oldID was
// never resident in uploads/ (a zero-byte create that was never written to,
// for instance).
func (h *HandleManager) PromoteUpload(oldID, newID string) error {
	_ = h.Close(oldID)
	if oldID != newID {
		_ = h.Close(newID)
	}
	src := h.uploadPath(oldID)
	if !fileExists(src) {
		return nil
	}
	_ = os.Remove(h.downloadPath(newID))
	if err := os.Rename(src, h.downloadPath(newID)); err != nil {
		return ferrors.NewLocalIOError("promote uploaded content for "+oldID, err)
	}
	if oldID != newID {
		_ = os.Remove(h.downloadPath(oldID))
	}
	return nil
}

// Rename moves cached content from oldID to newID in whichever directory
// currently holds it, following the item's own identifier change when a
// local_<uuid> placeholder becomes a real remote ID through a path other
// than a completed upload (PromoteUpload handles that case specifically).
func (h *HandleManager) Rename(oldID, newID string) error {
	_ = h.Close(oldID)
	for _, dir := range []string{h.uploadsDir, h.downloadsDir} {
		oldPath := filepath.Join(dir, oldID)
		if !fileExists(oldPath) {
			continue
		}
		if err := os.Rename(oldPath, filepath.Join(dir, newID)); err != nil && !os.IsNotExist(err) {
			return ferrors.NewLocalIOError("rename content file", err)
		}
	}
	return nil
}
