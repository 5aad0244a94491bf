// Command onedrivefs mounts a Microsoft OneDrive account as a Linux
// filesystem at the given mountpoint: files are fetched on demand and
// cached locally, local edits are journaled and uploaded in the
// background, and a D-Bus service reports progress and surfaces
// conflicts for a client application to resolve.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hanwen/go-fuse/v2/fuse"
	flag "github.com/spf13/pflag"

	"github.com/onedrivefs/onedrivefs/internal/config"
	"github.com/onedrivefs/onedrivefs/internal/graph"
	"github.com/onedrivefs/onedrivefs/internal/ipc"
	"github.com/onedrivefs/onedrivefs/internal/logging"
	"github.com/onedrivefs/onedrivefs/internal/scheduler"
	"github.com/onedrivefs/onedrivefs/internal/store"
	"github.com/onedrivefs/onedrivefs/internal/syncengine"
	"github.com/onedrivefs/onedrivefs/internal/vfs"
)

func usage() {
	fmt.Printf(`onedrivefs - A Linux client for Microsoft OneDrive.

This program mounts your OneDrive account as a Linux filesystem at the
specified mountpoint. Files are fetched on demand and cached locally; local
changes are journaled and synchronized to OneDrive in the background.

Usage: onedrivefs [options] <mountpoint>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.StringP("config-file", "f", config.DefaultPath(),
		"A YAML-formatted configuration file.")
	logLevel := flag.StringP("log", "l", "", "Log level: trace, debug, info, warn, error, fatal, disabled.")
	cacheDir := flag.StringP("cache-dir", "c", "", "Override the default data/cache directory.")
	debugOn := flag.BoolP("debug", "d", false, "Enable FUSE debug logging.")
	versionFlag := flag.BoolP("version", "v", false, "Print the version and exit.")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println("onedrivefs (development build)")
		return
	}
	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	mountpoint := flag.Arg(0)

	cfg := config.Load(*configPath)
	if *cacheDir != "" {
		cfg.DataDir = *cacheDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level, _ = logging.ParseLevel("info")
	}
	logging.SetGlobalLevel(level)
	logging.SetDefault(logging.New(logging.NewConsoleWriter()))

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("could not create data directory")
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "onedrivefs.db"))
	if err != nil {
		logging.Fatal().Err(err).Msg("could not open local store")
	}
	defer st.Close()

	contentDir := filepath.Join(cfg.DataDir, "content")
	client := newUnauthenticatedClient()

	filesystem, err := vfs.New(st, contentDir, st.Journal)
	if err != nil {
		logging.Fatal().Err(err).Msg("could not initialize filesystem")
	}
	defer filesystem.Stop()
	content := filesystem.Content()

	mountOptions := &fuse.MountOptions{
		Name:          "onedrivefs",
		FsName:        "onedrivefs",
		DisableXAttrs: false,
		MaxBackground: 1024,
		Debug:         *debugOn,
	}
	server, err := fuse.NewServer(filesystem, mountpoint, mountOptions)
	if err != nil {
		logging.Fatal().Err(err).Str("mountpoint", mountpoint).
			Msg("mount failed (is the mountpoint already in use?)")
	}

	resolver := resolverFor(cfg.ConflictStrategy)
	uploader := syncengine.NewUploader(client, st.Items, content)
	processor := syncengine.NewProcessor(st.Items, st.Journal, content, uploader, resolver)
	deltaProcessor := syncengine.NewDeltaProcessor(client, st.Items, st.Journal, st.SyncState)
	downloadProcessor := syncengine.NewDownloadProcessor(client, st.Items, st.Journal, content)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logPath := filepath.Join(cfg.DataDir, "onedrivefs.log")
	sched := scheduler.New()
	sched.Add(&scheduler.Task{
		Name:     "delta",
		Interval: time.Duration(cfg.DeltaIntervalSeconds) * time.Second,
		Run:      deltaProcessor.PullDelta,
	})
	sched.Add(&scheduler.Task{
		Name:     "download",
		Interval: time.Duration(cfg.DownloadIntervalSeconds) * time.Second,
		Run:      downloadProcessor.Drain,
	})

	ipcServer := ipc.NewServer(st.Items, st.Journal, client, content, sched, cfg, logPath, func() { cancel(); server.Unmount() })
	sched.Add(&scheduler.Task{
		Name:     "sync",
		Interval: time.Duration(cfg.SyncIntervalSeconds) * time.Second,
		Run: func(ctx context.Context) error {
			if ipcServer.IsPaused() {
				return nil
			}
			return processor.Drain(ctx)
		},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.Info().Msg("shutdown signal received")
		cancel()
		server.Unmount()
	}()

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		logging.Fatal().Err(err).Msg("mount did not become ready")
	}
	logging.Info().Str("mountpoint", mountpoint).Msg("mounted")

	sched.Start(ctx)
	defer sched.Stop()

	if err := ipcServer.Start(); err != nil {
		logging.Error().Err(err).Msg("ipc server failed to start, continuing without it")
	} else {
		defer ipcServer.Stop()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn().Err(err).Msg("systemd readiness notification failed")
	} else if ok {
		logging.Info().Msg("notified systemd of readiness")
	}

	server.Wait()
	logging.Info().Msg("unmounted, shutting down")
}

// newUnauthenticatedClient returns a graph.Client stub that always reports
// "not authenticated". OAuth2/PKCE and the real HTTP Graph transport are
// external collaborators outside this module's scope; a real deployment
// wires in a concrete implementation satisfying the same interface once the
// auth flow has produced a token.
func newUnauthenticatedClient() graph.Client {
	return stubClient{}
}

func resolverFor(strategy string) syncengine.ConflictResolver {
	switch strategy {
	case "always-remote":
		return syncengine.AlwaysRemote()
	case "always-local":
		return syncengine.AlwaysLocal()
	case "manual":
		return syncengine.Manual()
	case "newest":
		return syncengine.Timestamp(true)
	case "oldest":
		return syncengine.Timestamp(false)
	case "largest":
		return syncengine.Size(true)
	case "smallest":
		return syncengine.Size(false)
	case "keep-both":
		return syncengine.KeepBoth()
	default:
		return syncengine.Smart()
	}
}

// stubClient implements graph.Client by reporting every call as
// unauthenticated. It exists so the daemon can start, mount, and serve
// purely local reads/writes (which still journal for later sync) even
// before a real authenticated client is wired in.
type stubClient struct{}

func (stubClient) GetItemByID(ctx context.Context, id string) (*graph.DriveItem, error) {
	return nil, errNotAuthenticated
}
func (stubClient) Delta(ctx context.Context, cursor string) (*graph.DeltaPage, error) {
	return nil, errNotAuthenticated
}
func (stubClient) Download(ctx context.Context, url, id string, rng *graph.ByteRange) (*graph.DownloadResult, error) {
	return nil, errNotAuthenticated
}
func (stubClient) UploadSmall(ctx context.Context, bytes []byte, name, parentID string) (*graph.UploadResult, error) {
	return nil, errNotAuthenticated
}
func (stubClient) UploadSession(ctx context.Context, bytes []byte, name, parentID string, chunkSize int) (*graph.UploadResult, error) {
	return nil, errNotAuthenticated
}
func (stubClient) CreateFolder(ctx context.Context, parentPath, name string) (*graph.DriveItem, error) {
	return nil, errNotAuthenticated
}
func (stubClient) Move(ctx context.Context, id, newParentID string) (*graph.DriveItem, error) {
	return nil, errNotAuthenticated
}
func (stubClient) Rename(ctx context.Context, id, newName string) (*graph.DriveItem, error) {
	return nil, errNotAuthenticated
}
func (stubClient) Delete(ctx context.Context, path string) error {
	return errNotAuthenticated
}
func (stubClient) GetProfile(ctx context.Context) (*graph.Profile, error) {
	return nil, errNotAuthenticated
}

var errNotAuthenticated = fmt.Errorf("onedrivefs: no authenticated graph client configured")

var _ graph.Client = stubClient{}
