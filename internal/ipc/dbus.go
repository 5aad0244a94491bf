// Package ipc exposes the daemon's message-bus surface (spec §4.7, §6.3):
// a single well-known D-Bus name and object path serving status, queue,
// and conflict-resolution methods, plus a broadcast signal on every status
// transition. Grounded on the teacher's FileStatusDBusServer, generalized
// from a single file-status method to the full method set.
package ipc

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/onedrivefs/onedrivefs/internal/config"
	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/scheduler"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/syncengine"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

const (
	// Interface is the D-Bus interface name the daemon exports.
	Interface = "org.onedrivefs.Daemon"
	// ObjectPath is the single object path the daemon exports.
	ObjectPath = "/org/onedrivefs/Daemon"
	// ServiceNameBase is the well-known name base; an instance suffix is
	// appended to avoid collisions across concurrent mounts, matching the
	// teacher's unique-name discipline.
	ServiceNameBase = "org.onedrivefs.Daemon"
)

// QueueEntry describes one pending download or upload-queue row, per §6.3.
type QueueEntry struct {
	ID   string
	Ino  uint64
	Name string
	Path string
}

// ConflictEntry describes one conflicted processing item awaiting a user decision.
type ConflictEntry struct {
	DBID         uint64
	OneDriveID   string
	Name         string
	Path         string
	ChangeType   string
	ErrorMessage string
}

// MediaEntry describes one media file for the gallery listing.
type MediaEntry struct {
	Ino   uint64
	Name  string
	MTime int64
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".heic": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

// Server implements the daemon's D-Bus object. All dependencies are the
// already-built sync-engine components; Server itself holds no sync state
// of its own beyond the paused flag and the bus connection.
type Server struct {
	items     *store.ItemRepository
	journal   *store.JournalRepository
	client    graph.Client
	content   *vfs.HandleManager
	scheduler *scheduler.Scheduler
	config    *config.Config
	resolver  syncengine.ConflictResolver
	logPath   string
	shutdown  func()

	serviceName string
	mu          sync.Mutex
	conn        *dbus.Conn
	started     bool

	paused       int32
	authenticated int32
	connected     int32
	mounted       int32
}

// NewServer constructs a Server over the daemon's shared storage and
// sync-engine components. shutdown is invoked (asynchronously) when a
// client calls FullReset.
func NewServer(items *store.ItemRepository, journal *store.JournalRepository, client graph.Client, content *vfs.HandleManager, sched *scheduler.Scheduler, cfg *config.Config, logPath string, shutdown func()) *Server {
	return &Server{
		items:       items,
		journal:     journal,
		client:      client,
		content:     content,
		scheduler:   sched,
		config:      cfg,
		resolver:    syncengine.Smart(),
		logPath:     logPath,
		shutdown:    shutdown,
		serviceName: fmt.Sprintf("%s.instance_%d", ServiceNameBase, os.Getpid()),
		connected:   1,
	}
}

// SetMounted records whether the FUSE mount is currently live, reported by
// GetDaemonStatus.
func (s *Server) SetMounted(v bool) {
	if v {
		atomic.StoreInt32(&s.mounted, 1)
	} else {
		atomic.StoreInt32(&s.mounted, 0)
	}
}

// SetAuthenticated records whether the daemon holds a valid token.
func (s *Server) SetAuthenticated(v bool) {
	if v {
		atomic.StoreInt32(&s.authenticated, 1)
	} else {
		atomic.StoreInt32(&s.authenticated, 0)
	}
}

// SetConnected records whether the last remote call succeeded.
func (s *Server) SetConnected(v bool) {
	if v {
		atomic.StoreInt32(&s.connected, 1)
	} else {
		atomic.StoreInt32(&s.connected, 0)
	}
}

// IsPaused reports whether the sync processor's drain loop should skip this
// tick - the scheduler's sync task checks this before calling Drain.
func (s *Server) IsPaused() bool {
	return atomic.LoadInt32(&s.paused) == 1
}

func (s *Server) introspectNode() *introspect.Node {
	return &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			{
				Name: Interface,
				Methods: []introspect.Method{
					{Name: "GetUserProfile", Args: []introspect.Arg{{Name: "displayName", Type: "s", Direction: "out"}, {Name: "givenName", Type: "s", Direction: "out"}, {Name: "mail", Type: "s", Direction: "out"}}},
					{Name: "GetDaemonStatus", Args: []introspect.Arg{{Name: "authenticated", Type: "b", Direction: "out"}, {Name: "connected", Type: "b", Direction: "out"}, {Name: "syncStatus", Type: "s", Direction: "out"}, {Name: "hasConflicts", Type: "b", Direction: "out"}, {Name: "mounted", Type: "b", Direction: "out"}}},
					{Name: "GetDownloadQueue"},
					{Name: "GetUploadQueue"},
					{Name: "GetConflicts"},
					{Name: "ResolveConflict", Args: []introspect.Arg{{Name: "dbID", Type: "t", Direction: "in"}, {Name: "choice", Type: "s", Direction: "in"}, {Name: "ok", Type: "b", Direction: "out"}}},
					{Name: "ListSyncFolders"},
					{Name: "AddSyncFolder", Args: []introspect.Arg{{Name: "path", Type: "s", Direction: "in"}, {Name: "ok", Type: "b", Direction: "out"}}},
					{Name: "RemoveSyncFolder", Args: []introspect.Arg{{Name: "path", Type: "s", Direction: "in"}, {Name: "ok", Type: "b", Direction: "out"}}},
					{Name: "ToggleSyncPause", Args: []introspect.Arg{{Name: "isPaused", Type: "b", Direction: "out"}}},
					{Name: "GetRecentLogs"},
					{Name: "FullReset"},
					{Name: "ListMedia"},
					{Name: "FetchThumbnail", Args: []introspect.Arg{{Name: "ino", Type: "t", Direction: "in"}, {Name: "localPath", Type: "s", Direction: "out"}}},
				},
				Signals: []introspect.Signal{
					{Name: "DaemonStatusChanged", Args: []introspect.Arg{{Name: "status", Type: "s"}}},
				},
			},
		},
	}
}

// Start connects to the session bus, requests the service name, and exports
// the object plus its introspection data.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	s.conn = conn

	reply, err := conn.RequestName(s.serviceName, dbus.NameFlagAllowReplacement|dbus.NameFlagReplaceExisting|dbus.NameFlagDoNotQueue)
	if err != nil {
		s.conn = nil
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		logging.Warn().Str("name", s.serviceName).Msg("not primary owner of D-Bus name, continuing anyway")
	}

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		s.conn = nil
		return fmt.Errorf("export object: %w", err)
	}
	if err := conn.Export(introspect.NewIntrospectable(s.introspectNode()), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		s.conn = nil
		return fmt.Errorf("export introspection: %w", err)
	}

	s.started = true
	logging.Info().Str("name", s.serviceName).Msg("ipc server started")
	return nil
}

// Stop releases the bus name and closes the connection.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.conn == nil {
		return
	}
	if _, err := s.conn.ReleaseName(s.serviceName); err != nil {
		logging.Warn().Err(err).Msg("failed to release bus name")
	}
	if err := s.conn.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close ipc connection")
	}
	s.conn = nil
	s.started = false
}

// BroadcastStatusChanged emits the daemon-status-changed signal.
func (s *Server) BroadcastStatusChanged(status string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Emit(ObjectPath, Interface+".DaemonStatusChanged", status); err != nil {
		logging.Error().Err(err).Msg("failed to emit status-changed signal")
	}
}

// GetUserProfile returns the signed-in user's display name, given name, and mail.
func (s *Server) GetUserProfile() (string, string, string, *dbus.Error) {
	profile, err := s.client.GetProfile(context.Background())
	if err != nil {
		return "", "", "", dbus.MakeFailedError(err)
	}
	return profile.DisplayName, profile.GivenName, profile.Mail, nil
}

// GetDaemonStatus reports the daemon's current high-level state.
func (s *Server) GetDaemonStatus() (bool, bool, string, bool, bool, *dbus.Error) {
	syncStatus := "running"
	if s.IsPaused() {
		syncStatus = "paused"
	}
	hasConflicts, err := s.hasConflicts()
	if err != nil {
		return false, false, "", false, false, dbus.MakeFailedError(err)
	}
	return atomic.LoadInt32(&s.authenticated) == 1,
		atomic.LoadInt32(&s.connected) == 1,
		syncStatus,
		hasConflicts,
		atomic.LoadInt32(&s.mounted) == 1,
		nil
}

func (s *Server) hasConflicts() (bool, error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return false, err
	}
	for _, pi := range pending {
		if pi.Status == store.StatusConflicted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) queueEntry(pi *store.ProcessingItem) QueueEntry {
	item, _ := s.items.Get(pi.ItemID)
	entry := QueueEntry{ID: pi.ItemID}
	if item != nil {
		entry.Ino = item.Inode
		entry.Name = item.Name
	}
	if path, err := syncengine.PathOf(s.items, pi.ItemID); err == nil {
		entry.Path = path
	}
	return entry
}

// GetDownloadQueue lists every pending download-queue entry.
func (s *Server) GetDownloadQueue() ([]QueueEntry, *dbus.Error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	var out []QueueEntry
	for _, pi := range pending {
		if syncengine.IsDownloadRequest(pi) {
			out = append(out, s.queueEntry(pi))
		}
	}
	return out, nil
}

// GetUploadQueue lists every pending local mutation awaiting upload.
func (s *Server) GetUploadQueue() ([]QueueEntry, *dbus.Error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	var out []QueueEntry
	for _, pi := range pending {
		if pi.Source == store.SourceLocal {
			out = append(out, s.queueEntry(pi))
		}
	}
	return out, nil
}

// GetConflicts lists every processing item parked in the conflicted state.
func (s *Server) GetConflicts() ([]ConflictEntry, *dbus.Error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	var out []ConflictEntry
	for _, pi := range pending {
		if pi.Status != store.StatusConflicted {
			continue
		}
		entry := ConflictEntry{
			DBID:         pi.Seq,
			OneDriveID:   pi.ItemID,
			ChangeType:   pi.Operation.String(),
			ErrorMessage: pi.LastError,
		}
		if item, _ := s.items.Get(pi.ItemID); item != nil {
			entry.Name = item.Name
		}
		if path, err := syncengine.PathOf(s.items, pi.ItemID); err == nil {
			entry.Path = path
		}
		out = append(out, entry)
	}
	return out, nil
}

// ResolveConflict clears a conflicted row per the user's choice: keep-local
// discards the remote change (Conflicted -> Cancelled), use-remote accepts
// it (clears the local item's dirty flag, Conflicted -> Validated so the
// next drain executes it normally). It deliberately doesn't re-implement
// execute() itself; it only unblocks the state machine for the regular
// sync processor to pick back up.
func (s *Server) ResolveConflict(dbID uint64, choice string) (bool, *dbus.Error) {
	switch choice {
	case "keep-local":
		if err := syncengine.Advance(s.journal, dbID, store.StatusCancelled, nil); err != nil {
			return false, dbus.MakeFailedError(err)
		}
		return true, nil
	case "use-remote":
		pi, err := s.journal.Get(dbID)
		if err != nil || pi == nil {
			return false, dbus.MakeFailedError(fmt.Errorf("no conflict with id %d", dbID))
		}
		item, err := s.items.Get(pi.ItemID)
		if err != nil {
			return false, dbus.MakeFailedError(err)
		}
		if item != nil {
			item.HasChanges = false
			if err := s.items.Upsert(item); err != nil {
				return false, dbus.MakeFailedError(err)
			}
		}
		if err := syncengine.Advance(s.journal, dbID, store.StatusValidated, nil); err != nil {
			return false, dbus.MakeFailedError(err)
		}
		return true, nil
	default:
		return false, dbus.MakeFailedError(fmt.Errorf("unknown resolution choice %q", choice))
	}
}

// ListSyncFolders returns the configured sync-folder allow-list.
func (s *Server) ListSyncFolders() ([]string, *dbus.Error) {
	return s.config.ListSyncFolders(), nil
}

// AddSyncFolder adds path to the sync-folder allow-list.
func (s *Server) AddSyncFolder(path string) (bool, *dbus.Error) {
	ok, err := s.config.AddSyncFolder(path)
	if err != nil {
		return false, dbus.MakeFailedError(err)
	}
	return ok, nil
}

// RemoveSyncFolder removes path from the sync-folder allow-list.
func (s *Server) RemoveSyncFolder(path string) (bool, *dbus.Error) {
	ok, err := s.config.RemoveSyncFolder(path)
	if err != nil {
		return false, dbus.MakeFailedError(err)
	}
	return ok, nil
}

// ToggleSyncPause flips the pause flag the scheduler's sync task honors,
// returning the new state.
func (s *Server) ToggleSyncPause() (bool, *dbus.Error) {
	for {
		old := atomic.LoadInt32(&s.paused)
		next := int32(1)
		if old == 1 {
			next = 0
		}
		if atomic.CompareAndSwapInt32(&s.paused, old, next) {
			return next == 1, nil
		}
	}
}

// GetRecentLogs returns the last 50 lines of the daemon's log file.
func (s *Server) GetRecentLogs() ([]string, *dbus.Error) {
	data, err := os.ReadFile(s.logPath)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	lines := splitLines(string(data))
	const limit = 50
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// FullReset triggers a daemon restart: the reply is sent before the
// asynchronous shutdown callback runs, so the caller always gets an ack.
func (s *Server) FullReset() *dbus.Error {
	logging.Warn().Msg("full reset requested over ipc, daemon will exit")
	go func() {
		time.Sleep(100 * time.Millisecond)
		if s.shutdown != nil {
			s.shutdown()
		}
	}()
	return nil
}

// ListMedia lists known media items (by file extension), most-recent-first,
// optionally bounded to a modification-time window.
func (s *Server) ListMedia(offset, limit int32, startDate, endDate string) ([]MediaEntry, *dbus.Error) {
	items, err := s.items.All()
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}

	var start, end time.Time
	if startDate != "" {
		start, _ = time.Parse(time.RFC3339, startDate)
	}
	if endDate != "" {
		end, _ = time.Parse(time.RFC3339, endDate)
	}

	var media []MediaEntry
	for _, item := range items {
		if item.IsDir || !mediaExtensions[extensionOf(item.Name)] {
			continue
		}
		if !start.IsZero() && item.ModTime.Before(start) {
			continue
		}
		if !end.IsZero() && item.ModTime.After(end) {
			continue
		}
		media = append(media, MediaEntry{Ino: item.Inode, Name: item.Name, MTime: item.ModTime.Unix()})
	}
	sort.SliceStable(media, func(i, j int) bool { return media[i].MTime > media[j].MTime })

	if int(offset) >= len(media) {
		return []MediaEntry{}, nil
	}
	media = media[offset:]
	if limit > 0 && int(limit) < len(media) {
		media = media[:limit]
	}
	return media, nil
}

func extensionOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return toLower(name[i:])
		}
		if name[i] == '/' {
			break
		}
	}
	return ""
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FetchThumbnail returns the local content-store path for ino's cached
// bytes, which the caller (a thumbnailer) reads directly; it does not
// generate a scaled-down thumbnail itself.
func (s *Server) FetchThumbnail(ino uint64) (string, *dbus.Error) {
	item, err := s.items.ByInode(ino)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	if item == nil {
		return "", dbus.MakeFailedError(fmt.Errorf("no item with inode %d", ino))
	}
	if !s.content.HasContent(item.ID) {
		return "", dbus.MakeFailedError(fmt.Errorf("content not resident for %s", item.ID))
	}
	return s.content.Path(item.ID), nil
}
