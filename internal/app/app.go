package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"usageprep/internal/collector"
	"usageprep/internal/collector/csvfile"
	"usageprep/internal/config"
	"usageprep/internal/export"
	"usageprep/internal/filter"
	"usageprep/internal/ipc"
	"usageprep/internal/metrics"
	"usageprep/internal/preprocess"
	"usageprep/internal/runner"
	"usageprep/internal/storage"
	"usageprep/internal/storage/backend"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/pool"
)

const queueSize = 1024

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	storage storage.Storage
	runner  *runner.Runner
	matcher *collector.Matcher
	metrics *metrics.Metrics

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	watcher    *fsnotify.Watcher
	metricsSrv *http.Server

	queue     chan string
	pendingMu sync.Mutex
	settling  map[string]*time.Timer
	inflight  map[string]struct{}
	startedAt time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RawDataFolder == "" {
		return nil, errors.New("raw_data_folder is required")
	}
	th, err := cfg.Preprocessing.Thresholds()
	if err != nil {
		return nil, err
	}
	var appFilter *filter.AppFilter
	if cfg.FilterFile != "" {
		if appFilter, err = filter.Load(cfg.FilterFile); err != nil {
			return nil, err
		}
	}
	processor, err := preprocess.NewProcessor(th, appFilter, logger)
	if err != nil {
		return nil, err
	}
	matcher, err := collector.NewMatcher(cfg.FilePattern, cfg.IgnoreNames)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:        cfg,
		logger:     logger,
		matcher:    matcher,
		metrics:    metrics.New(),
		socketPath: cfg.SocketPath,
		queue:      make(chan string, queueSize),
		settling:   make(map[string]*time.Timer),
		inflight:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.DefaultSocketPath
	}

	a.storage, err = backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	sinks := []runner.Sink{export.NewSink(export.NewWriter(version, th.CustomEngagementWindow), cfg.OutputFolder, cfg.StudyName)}
	if a.storage != nil {
		sinks = append(sinks, storage.NewSink(a.storage, version))
	}
	a.runner = runner.New(csvfile.New(logger), processor,
		runner.WithSinks(sinks...),
		runner.WithMetrics(a.metrics),
		runner.WithWorkers(cfg.Workers),
		runner.WithLogger(logger),
	)
	return a, nil
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		a.logger.Warn("removing stale socket file", "path", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}
	a.listener = listener
	a.logger.Info("listening for commands", "socket", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer a.wg.Done()
	defer a.logger.Debug("socket command listener stopped")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				a.logger.Warn("failed to accept connection", "error", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			a.logger.Warn("failed to decode command", "error", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	a.logger.Debug("received command", "name", cmd.Name)
	if err := encoder.Encode(a.processCommand(cmd)); err != nil {
		a.logger.Warn("failed to send response", "error", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdStatus:
		a.pendingMu.Lock()
		queued := len(a.inflight)
		a.pendingMu.Unlock()
		return ipc.Response{Success: true, Data: ipc.StatusData{
			RawDataFolder: a.cfg.RawDataFolder,
			StartedAt:     a.startedAt,
			Queued:        queued,
			Stats:         a.runner.Stats().Snapshot(),
		}}

	case ipc.CmdProcess:
		var args ipc.ProcessFileArgs
		if err := ipc.DecodeData(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Path == "" {
			return ipc.Response{Success: false, Message: "File path cannot be empty"}
		}
		if err := a.Enqueue(args.Path); err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("Queued %s", args.Path)}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

// Enqueue schedules a raw export for processing. Files already waiting are
// not queued twice.
func (a *App) Enqueue(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot queue %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot queue %s: is a directory", path)
	}

	a.pendingMu.Lock()
	if _, ok := a.inflight[path]; ok {
		a.pendingMu.Unlock()
		return nil
	}
	a.inflight[path] = struct{}{}
	a.metrics.QueueDepth.Set(float64(len(a.inflight)))
	a.pendingMu.Unlock()

	select {
	case a.queue <- path:
		a.logger.Debug("queued file", "file", path)
		return nil
	case <-a.ctx.Done():
		a.done(path)
		return errors.New("daemon is shutting down")
	default:
		a.done(path)
		return fmt.Errorf("queue full, %s not queued", path)
	}
}

func (a *App) done(path string) {
	a.pendingMu.Lock()
	delete(a.inflight, path)
	a.metrics.QueueDepth.Set(float64(len(a.inflight)))
	a.pendingMu.Unlock()
}

// processQueue feeds queued files to the runner, at most cfg.Workers at a time.
func (a *App) processQueue() {
	defer a.wg.Done()
	defer a.logger.Debug("queue processor stopped")

	p := pool.New().WithMaxGoroutines(a.cfg.Workers)
	defer p.Wait()

	// files already started are finished on shutdown
	workCtx := context.WithoutCancel(a.ctx)

	for {
		select {
		case <-a.ctx.Done():
			return
		case path := <-a.queue:
			a.runner.Stats().AddTotal(1)
			p.Go(func() {
				defer a.done(path)
				a.runner.ProcessFile(workCtx, path)
			})
		}
	}
}

// watch queues matching files once they have been quiet for the settle delay.
func (a *App) watch() {
	defer a.wg.Done()
	defer a.logger.Debug("folder watcher stopped")

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleFSEvent(ev)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("watcher error", "error", err)
		}
	}
}

func (a *App) handleFSEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := a.addWatchTree(ev.Name); err != nil {
				a.logger.Warn("failed to watch new folder", "path", ev.Name, "error", err)
			}
		}
		return
	}
	if !a.matcher.Match(ev.Name) {
		return
	}

	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if t, ok := a.settling[ev.Name]; ok {
		t.Reset(a.cfg.Watch.SettleDelay)
		return
	}
	path := ev.Name
	a.settling[path] = time.AfterFunc(a.cfg.Watch.SettleDelay, func() {
		a.pendingMu.Lock()
		delete(a.settling, path)
		a.pendingMu.Unlock()
		if err := a.Enqueue(path); err != nil {
			a.logger.Warn("failed to queue file", "file", path, "error", err)
		}
	})
}

// addWatchTree watches root and every subfolder not excluded by the ignore list.
func (a *App) addWatchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && a.matcher.Ignored(d.Name()) {
			return filepath.SkipDir
		}
		return a.watcher.Add(path)
	})
}

func (a *App) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Run blocks until Stop is called or a termination signal arrives.
func (a *App) Run() error {
	defer a.cleanup()

	a.startedAt = time.Now()
	a.logger.Info("starting usageprep daemon", "raw_data_folder", a.cfg.RawDataFolder, "workers", a.cfg.Workers)

	if err := a.setupSocket(); err != nil {
		return fmt.Errorf("failed to set up socket: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	a.watcher = watcher
	if err := a.addWatchTree(a.cfg.RawDataFolder); err != nil {
		return fmt.Errorf("failed to watch %s: %w", a.cfg.RawDataFolder, err)
	}

	a.handleSignals()

	if a.cfg.MetricsAddr != "" {
		a.serveMetrics()
	}

	a.wg.Add(3)
	go a.processQueue()
	go a.watch()
	go a.listenForCommands()

	if a.cfg.Watch.ProcessExisting {
		files, err := a.matcher.Discover(a.cfg.RawDataFolder)
		if err != nil {
			a.logger.Warn("failed to scan raw data folder", "error", err)
		}
		for _, f := range files {
			if err := a.Enqueue(f); err != nil {
				a.logger.Warn("failed to queue file", "file", f, "error", err)
			}
		}
		a.logger.Info("queued existing files", "files", len(files))
	}

	<-a.ctx.Done()
	a.logger.Info("shutdown requested, waiting for components")

	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.logger.Warn("error closing socket listener", "error", err)
		}
	}
	if err := a.watcher.Close(); err != nil {
		a.logger.Warn("error closing watcher", "error", err)
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		a.logger.Debug("all goroutines finished")
	case <-time.After(30 * time.Second):
		a.logger.Warn("timeout waiting for goroutines to stop")
	}
	return nil
}

// Stop requests a graceful shutdown.
func (a *App) Stop() { a.cancel() }

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig.String())
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

func (a *App) cleanup() {
	a.cancel()

	a.pendingMu.Lock()
	for path, t := range a.settling {
		t.Stop()
		delete(a.settling, path)
	}
	a.pendingMu.Unlock()

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("error closing storage", "error", err)
		}
	}

	if _, err := os.Stat(a.socketPath); err == nil && a.listener != nil {
		if err := os.Remove(a.socketPath); err != nil {
			a.logger.Warn("failed to remove socket file", "path", a.socketPath, "error", err)
		}
	}
	a.logger.Info("usageprep daemon stopped")
}
