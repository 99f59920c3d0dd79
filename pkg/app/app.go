// Package app wires the runtime together: the upstream reader, module host,
// scheduler, click router, output pipeline and command socket all run as
// members of one errgroup, and App decides which failures end the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/daemon"
	"gitlab.com/tinyland/lab/barpulse/pkg/events"
	"gitlab.com/tinyland/lab/barpulse/pkg/formatter"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/output"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
	"gitlab.com/tinyland/lab/barpulse/pkg/scheduler"
	"gitlab.com/tinyland/lab/barpulse/pkg/storage"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
	"gitlab.com/tinyland/lab/barpulse/pkg/upstream"
)

// Options are the process-level inputs to App.
type Options struct {
	Config   *config.Config
	Registry *module.Registry
	Logger   *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer

	// Signals delivers OS signals. Nil means App subscribes itself.
	Signals <-chan os.Signal
}

// App is one bar process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string
	start  time.Time
	stdin  io.Reader
	stdout io.Writer
	sigs   <-chan os.Signal

	host     *module.Host
	store    *storage.Store
	upstream *upstream.Reader
	sched    *scheduler.Scheduler
	pipe     *output.Pipeline
	router   *events.Router
	socket   *daemon.Server
}

// New validates the configuration and builds the host and its stores.
// Modules are loaded by Run.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, errors.New("app: no module registry")
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	palette, err := loadPalette(cfg.General)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Warn("storage unavailable, keeping module state in memory", "error", err)
		store, _ = storage.Open("", logger)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		start:  time.Now(),
		stdin:  opts.Stdin,
		stdout: opts.Stdout,
		sigs:   opts.Signals,
		store:  store,
	}
	a.host = module.NewHost(module.HostConfig{
		Registry:       opts.Registry,
		Config:         cfg,
		Palette:        palette,
		Storage:        store,
		Formatter:      formatter.New(formatter.DefaultCacheSize),
		Logger:         logger,
		HTTPClient:     &http.Client{Timeout: cfg.General.MethodTimeout.Duration},
		CommandTimeout: cfg.General.MethodTimeout.Duration,
	})
	if cfg.Upstream.Enabled {
		a.upstream = upstream.New(cfg.Upstream.Command, palette.Bad, logger)
	}
	return a, nil
}

func loadPalette(g config.GeneralConfig) (theme.Theme, error) {
	if g.ThemeFile != "" {
		t, err := theme.LoadFile(g.ThemeFile)
		if err != nil {
			return theme.Theme{}, &config.Error{Key: "general.theme_file", Msg: "load theme", Err: err}
		}
		return t, nil
	}
	return theme.Get(g.Theme), nil
}

// RunID identifies this process in logs.
func (a *App) RunID() string { return a.runID }

// Host returns the module host.
func (a *App) Host() *module.Host { return a.host }

// Run loads the configured modules and runs until ctx is done, a shutdown
// signal arrives, or a fatal error occurs. Bar disconnects and shutdown
// signals return nil; config errors and upstream exits are returned.
func (a *App) Run(ctx context.Context) error {
	order := a.cfg.EffectiveOrder()
	if err := a.host.Load(ctx, order); err != nil {
		return err
	}
	defer a.host.KillAll()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	header := protocol.Header{Version: protocol.Version, ClickEvents: true}
	var up output.Upstream
	var upRefresh events.Upstream
	if a.upstream != nil {
		g.Go(func() error { return a.upstream.Run(gctx) })
		select {
		case <-a.upstream.Ready():
		case <-gctx.Done():
			return a.classify(g.Wait())
		}
		if h, ok := a.upstream.Header(); ok {
			header.StopSignal, header.ContSignal = h.StopSignal, h.ContSignal
		}
		up, upRefresh = a.upstream, a.upstream
	}

	a.sched = scheduler.New(a.host, scheduler.ConfigFrom(a.cfg.General, a.logger))
	a.host.SetRefresher(a.sched)
	a.pipe = output.New(a.stdout, a.host, up, output.Config{
		Order:    order,
		Debounce: a.cfg.General.Debounce.Duration,
		Header:   header,
		Logger:   a.logger,
	})
	a.sched.OnChange(a.pipe.ModuleChanged)
	a.router = events.New(a.host, a.sched, upRefresh, a.logger)

	g.Go(func() error { return a.sched.Run(gctx) })
	g.Go(func() error { return a.pipe.Run(gctx) })
	go func() {
		// Stdin is not closable from here, so the router is not part of the
		// group: a blocked read must not hold up shutdown.
		if err := a.router.Run(gctx, a.stdin); err != nil {
			a.logger.Warn("click events stopped", "error", err)
		}
	}()
	if a.cfg.Socket.Enabled {
		a.socket = daemon.NewServer(&backend{app: a}, daemon.ServerConfig{
			Path:   a.cfg.Socket.Path,
			Logger: a.logger,
		})
		g.Go(func() error {
			err := a.socket.Run(gctx)
			var sockErr *daemon.SocketError
			if errors.As(err, &sockErr) {
				a.logger.Error("command socket disabled", "error", err)
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		a.handleSignals(gctx, cancel, header)
		return nil
	})

	a.logger.Info("barpulse started", "modules", len(a.host.Instances()), "order", len(order))
	err := a.classify(g.Wait())
	a.logger.Info("barpulse stopped", "error", err)
	return err
}

// classify maps a group error to the process outcome.
func (a *App) classify(err error) error {
	var ioErr *output.IOError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &ioErr):
		a.logger.Info("bar closed its input, shutting down", "error", err)
		return nil
	case errors.Is(err, upstream.ErrExited):
		return fmt.Errorf("upstream generator exited: %w", err)
	default:
		return err
	}
}

// Pipeline returns the output pipeline once Run has started it.
func (a *App) Pipeline() *output.Pipeline { return a.pipe }

// Status is the snapshot served by the socket status command.
type Status struct {
	RunID     string          `json:"run_id"`
	Uptime    string          `json:"uptime,omitempty"`
	Modules   []module.Status `json:"modules"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Output    output.Stats    `json:"output"`
}

func (a *App) status() Status {
	st := Status{
		RunID:   a.runID,
		Uptime:  time.Since(a.start).Round(time.Second).String(),
		Modules: a.host.Statuses(),
	}
	if a.sched != nil {
		st.Scheduler = a.sched.Stats()
	}
	if a.pipe != nil {
		st.Output = a.pipe.Stats()
	}
	return st
}
