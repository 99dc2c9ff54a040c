package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"keycore/internal/config"
	"keycore/internal/controller"
	"keycore/internal/evdev"
	"keycore/internal/health"
	"keycore/internal/host"
	"keycore/internal/ipc"
	"keycore/internal/logging"
	"keycore/internal/metrics"
	"keycore/internal/notify"
	"keycore/internal/rgb"
	"keycore/internal/trace"
)

// reconfigurer applies new controller settings. host.Host implements it.
type reconfigurer interface {
	Reconfigure(ctx context.Context, cfg controller.Config) error
}

// daemon owns every long-lived piece of keycored.
type daemon struct {
	cfg    *config.Config
	loader *config.Loader
	flags  options
	log    *logging.Logger
	logger *slog.Logger

	host    *host.Host
	backend *rgb.Matrix
	writer  *evdev.Writer
	uinput  *evdev.Uinput
	metrics *metrics.KeycoreMetrics
	ipc     *ipc.Server

	store    *trace.Store
	recorder *trace.Recorder

	notifier *notify.Notifier
	sender   notify.Sender

	health  *health.Checker
	kbdPath atomic.Value // string

	reloadMu sync.Mutex
	started  time.Time
}

func newDaemon(cfg *config.Config, loader *config.Loader, flags options, log *logging.Logger) *daemon {
	return &daemon{
		cfg:     cfg,
		loader:  loader,
		flags:   flags,
		log:     log,
		logger:  log.Component("keycored"),
		started: time.Now(),
	}
}

// setup builds the controller, host and outputs. Nothing runs yet.
func (d *daemon) setup() error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctrlCfg, err := d.cfg.ControllerSettings()
	if err != nil {
		return fmt.Errorf("controller settings: %w", err)
	}
	hostCfg, err := d.cfg.HostSettings()
	if err != nil {
		return fmt.Errorf("host settings: %w", err)
	}
	km, err := d.cfg.LoadKeymap()
	if err != nil {
		return err
	}

	start := d.cfg.StartupRGB()
	d.backend = rgb.NewMatrix(start.Mode, start.HSV)
	ctrl := controller.New(ctrlCfg, d.backend, d.log.Component("controller"))

	d.uinput, err = evdev.CreateUinput(d.cfg.Input.UinputName)
	if err != nil {
		return fmt.Errorf("create output device: %w", err)
	}
	d.writer = evdev.NewWriter(d.uinput,
		evdev.WithWriterLogger(d.log.Component("evdev")),
		evdev.WithDefaultCPI(uint16(d.cfg.Controller.DefaultCPI)),
	)

	d.metrics = metrics.NewKeycoreMetrics(nil)
	ctrl.OnEvent(d.metrics.HandleEvent)

	opts := []host.Option{
		host.WithLogger(d.log.Component("host")),
		host.WithPointer(d.writer),
		host.WithObserver(d.metrics),
		host.WithIndicators(d.indicators),
	}

	if d.cfg.Trace.Enabled {
		if err := d.openTrace(ctrlCfg, start); err != nil {
			return err
		}
		opts = append(opts, host.WithObserver(d.recorder))
	}

	d.host = host.New(hostCfg, ctrl, km, d.backend, d.writer, opts...)
	d.setupHealth()
	return nil
}

// setupHealth registers the checks served next to the metrics.
func (d *daemon) setupHealth() {
	d.health = health.NewChecker()
	d.health.RegisterFunc("host", true, health.HostCheck(d.host))
	d.health.RegisterFunc("keyboard", false, health.FileExistsCheck(d.keyboardPath))
	if d.store != nil {
		d.health.RegisterFunc("trace", false, health.DatabaseCheck(d.store.DB().PingContext))
	}
}

func (d *daemon) setKeyboardPath(path string) { d.kbdPath.Store(path) }

func (d *daemon) keyboardPath() string {
	p, _ := d.kbdPath.Load().(string)
	return p
}

func (d *daemon) openTrace(ctrlCfg controller.Config, start rgb.Snapshot) error {
	store, err := trace.OpenStore(d.cfg.Trace.Path)
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	sess, err := store.CreateSession(ctrlCfg, start, "keycored "+Version)
	if err != nil {
		store.Close()
		return fmt.Errorf("create trace session: %w", err)
	}
	d.store = store
	d.recorder = trace.NewRecorder(store, sess,
		trace.WithRecorderLogger(d.log.Component("trace")),
		trace.WithBatch(d.cfg.Trace.BatchSize, time.Duration(d.cfg.Trace.FlushMs)*time.Millisecond),
	)
	d.logger.Info("recording trace", "path", d.cfg.Trace.Path, "session", sess.ID)
	return nil
}

func (d *daemon) indicators(dec rgb.RenderDecision) {
	d.logger.Debug("indicators",
		"full_override", dec.FullOverride,
		"overrides", len(dec.Overrides),
		"background", dec.AllowBackground,
	)
}

// run starts every service and blocks until ctx is done or the host loop
// fails.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("service failed", "service", name, "error", err)
				errc <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if d.cfg.IPC.Enabled {
		if err := d.startIPC(ctx); err != nil {
			return err
		}
		defer d.ipc.Stop()
	}

	if d.cfg.Metrics.Enabled {
		srv, err := metrics.Listen(d.cfg.Metrics.Listen, d.cfg.Metrics.Path, d.metrics.Registry(), d.log.Component("metrics"))
		if err != nil {
			return err
		}
		d.health.Mount(srv, "")
		spawn("metrics", func() error { return srv.Serve(ctx) })
	}

	if d.cfg.Notify.Enabled {
		d.startNotify(ctx)
	}

	d.watchConfig(ctx)
	d.startInputs(ctx, spawn)

	spawn("uptime", func() error {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				d.metrics.UpdateUptime()
			}
		}
	})

	spawn("mouse-repeat", func() error {
		t := time.NewTicker(time.Duration(d.cfg.Input.MouseRepeatMs) * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				d.writer.Repeat()
			}
		}
	})

	spawn("host", func() error { return d.host.Run(ctx) })
	d.health.SetReady(true)

	<-ctx.Done()
	wg.Wait()
	close(errc)
	return <-errc
}

func (d *daemon) startIPC(ctx context.Context) error {
	perm, err := strconv.ParseUint(d.cfg.IPC.Permissions, 8, 32)
	if err != nil {
		return fmt.Errorf("ipc permissions: %w", err)
	}

	handler := &ipc.DaemonHandler{
		Backend:   d.host,
		Reload:    d.reload,
		Metrics:   d.metrics.Snapshot,
		Version:   Version,
		StartedAt: d.started,
		Logger:    d.log.Component("ipc"),
	}
	if d.recorder != nil {
		id := d.recorder.Session().ID.String()
		handler.TraceSession = func() string { return id }
	}

	srv := ipc.NewServer(ipc.ServerConfig{
		SocketPath:     d.cfg.IPC.SocketPath,
		Version:        Version,
		Permissions:    os.FileMode(perm),
		ReadTimeout:    time.Duration(d.cfg.IPC.TimeoutSec) * time.Second,
		MaxConnections: d.cfg.IPC.MaxConnections,
		SameUserOnly:   true,
		Logger:         d.log.Logger,
	}, handler)
	handler.Server = srv
	if err := srv.Start(); err != nil {
		return err
	}
	d.ipc = srv

	events, _ := d.host.Subscribe(256)
	go srv.Relay(ctx, events)
	return nil
}

func (d *daemon) startNotify(ctx context.Context) {
	sender, err := notify.DialSession(d.cfg.Notify.AppName)
	if err != nil {
		d.logger.Warn("desktop notifications unavailable", "error", err)
		return
	}
	d.sender = sender
	d.notifier = notify.New(sender, notify.Config{
		Timeout:  time.Duration(d.cfg.Notify.TimeoutMs) * time.Millisecond,
		Coalesce: time.Duration(d.cfg.Notify.CoalesceMs) * time.Millisecond,
	}, d.log.Logger)

	events, _ := d.host.Subscribe(64)
	go d.notifier.Run(ctx, events)
}

func (d *daemon) startInputs(ctx context.Context, spawn func(string, func() error)) {
	var replugs []chan struct{}
	replug := func() <-chan struct{} {
		if !d.cfg.Input.HotplugWatch {
			return nil
		}
		ch := make(chan struct{}, 1)
		replugs = append(replugs, ch)
		return ch
	}

	positions := evdev.DefaultPositions()
	logger := d.log.Component("input")

	kbd := newInputRouter(ctx, d.host, d.writer, positions, logger)
	kbdReplug := replug()
	spawn("keyboard", func() error {
		return deviceLoop(ctx, d.cfg.Input.Device, d.cfg.Input.Grab, isKeyboard, kbd.handle, kbdReplug, d.setKeyboardPath, logger)
	})

	if d.cfg.Input.Pointer != "" {
		ptr := newInputRouter(ctx, d.host, d.writer, nil, logger)
		ptrReplug := replug()
		spawn("pointer", func() error {
			return deviceLoop(ctx, d.cfg.Input.Pointer, d.cfg.Input.Grab, isPointer, ptr.handle, ptrReplug, nil, logger)
		})
	}

	if len(replugs) > 0 {
		err := evdev.WatchDevices(ctx, logger, func(devices []evdev.Device) {
			logger.Debug("input devices changed", "count", len(devices))
			for _, ch := range replugs {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		})
		if err != nil {
			logger.Warn("hotplug watch disabled", "error", err)
		}
	}
}

// watchConfig reapplies the controller settings whenever the config file
// changes. Settings outside the controller need a restart.
func (d *daemon) watchConfig(ctx context.Context) {
	if d.loader == nil {
		return
	}
	if _, err := os.Stat(d.loader.Path()); err != nil {
		d.logger.Info("config file not found, hot reload disabled", "path", d.loader.Path())
		return
	}

	d.loader.OnChange(func(cfg *config.Config) {
		d.flags.apply(cfg)
		if err := d.apply(ctx, d.host, cfg); err != nil {
			d.logger.Warn("config change not applied", "error", err)
			return
		}
		d.logger.Info("configuration reloaded", "path", d.loader.Path())
		if d.ipc != nil {
			d.ipc.Broadcast(&ipc.Event{Type: ipc.EventConfigReloaded, Timestamp: time.Now()})
		}
	})
	if err := d.loader.Watch(); err != nil {
		d.logger.Warn("config watch failed", "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-d.loader.Errors():
				d.logger.Warn("config reload rejected", "error", err)
			}
		}
	}()
}

// reload rereads the configuration file on request.
func (d *daemon) reload(ctx context.Context) error {
	path := config.ConfigPath()
	if d.loader != nil {
		path = d.loader.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	d.flags.apply(cfg)
	return d.apply(ctx, d.host, cfg)
}

// apply stages cfg's controller settings; they take effect at the reset
// the host performs right after.
func (d *daemon) apply(ctx context.Context, r reconfigurer, cfg *config.Config) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	settings, err := cfg.ControllerSettings()
	if err != nil {
		return err
	}
	if err := r.Reconfigure(ctx, settings); err != nil {
		return err
	}
	d.cfg = cfg
	return nil
}

// close releases outputs and flushes the trace.
func (d *daemon) close() {
	if d.loader != nil {
		d.loader.Close()
	}
	if d.sender != nil {
		d.sender.Close()
	}
	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			d.logger.Warn("flush trace", "error", err)
		}
		if err := d.store.EndSession(d.recorder.Session().ID); err != nil {
			d.logger.Warn("end trace session", "error", err)
		}
		d.logger.Info("trace saved", "session", d.recorder.Session().ID, "events", d.recorder.Recorded())
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.uinput != nil {
		d.uinput.Close()
	}
}
