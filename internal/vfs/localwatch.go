package vfs

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/onedrivefs/onedrivefs/internal/logging"
)

// WatchContentDir watches the handle manager's downloads/ and uploads/
// directories for out-of-band writes - a local tool editing a cached file directly on disk
// rather than through a FUSE handle - and re-marks the affected item dirty
// so the sync engine picks it up on its next drain. Runs until the
// filesystem's root context is cancelled.
func (f *Filesystem) WatchContentDir() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range []string{f.content.downloadsDir, f.content.uploadsDir} {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return err
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-f.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				id := filepath.Base(event.Name)
				if inode := f.GetID(id); inode != nil {
					inode.setHasChanges(true)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("content directory watcher error")
			}
		}
	}()
	return nil
}
