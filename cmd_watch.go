package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"hearsay/bridge"
	"hearsay/bus"
	"hearsay/feed"
	"hearsay/orchestrator"
	"hearsay/watch"
)

// runWatch starts the background daemon: the downloads watcher, the
// clipboard poller, the orchestrator, and the local WebSocket feed.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", defaultDownloadsDir(), "downloads directory to watch")
	addr := fs.String("addr", "127.0.0.1:8476", "feed listen address")
	jsonLog := fs.Bool("json", false, "log as JSON")
	fs.Parse(args)

	logger := newLogger(*jsonLog)

	s, err := openStore()
	if err != nil {
		logger.Error("failed to open state store", "error", err)
		os.Exit(1)
	}

	b := bus.New()
	bridges := bridge.NewManager(bridge.WithDebug(os.Getenv("HEARSAY_DEBUG") != ""))
	orch := orchestrator.New(s, b, bridges, orchestrator.WithLogger(logger))
	watcher := watch.New(*dir, b, watch.WithLogger(logger))
	server := feed.NewServer(logger)

	ctx, cancel := signalContext()
	defer cancel()

	go orch.Run(ctx)
	go server.Mirror(ctx, b.Notifications())
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("watcher stopped", "error", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/feed", server)
	httpServer := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	logger.Info("hearsay daemon running", "downloads", *dir, "feed", "ws://"+*addr+"/feed")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("feed server failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the daemon logger: text for a terminal, JSON when
// requested (log shippers).
func newLogger(json bool) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("HEARSAY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}
