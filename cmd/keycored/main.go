// keycored runs the keyboard controller against real input devices.
//
//	keycored [-config path] [-device name] [-grab] [-trace db] [-v]
//
// It reads a keyboard (and optionally a pointer) through evdev, runs every
// key through the controller and writes the result to a uinput device.
// keyctl talks to it over the control socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"keycore/internal/config"
	"keycore/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// options are command line overrides applied on top of the config file,
// including on every reload.
type options struct {
	device  string
	grab    *bool
	trace   string
	verbose bool
}

func (o options) apply(cfg *config.Config) {
	if o.device != "" {
		cfg.Input.Device = o.device
	}
	if o.grab != nil {
		cfg.Input.Grab = *o.grab
	}
	if o.trace != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.Path = o.trace
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: "+config.ConfigPath()+")")
	device := flag.String("device", "", "keyboard device path or name substring")
	grab := flag.Bool("grab", true, "take the input devices exclusively")
	tracePath := flag.String("trace", "", "record a trace session into this SQLite database")
	verbose := flag.Bool("v", false, "debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("keycored", Version)
		return
	}

	opts := options{device: *device, trace: *tracePath, verbose: *verbose}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "grab" {
			opts.grab = grab
		}
	})

	if err := run(*configPath, opts); err != nil {
		fmt.Fprintf(os.Stderr, "keycored: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, opts options) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts.apply(cfg)

	logCfg, err := cfg.LoggingSettings("keycored")
	if err != nil {
		return err
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	for _, w := range config.ValidateAll(cfg).Warnings() {
		log.Warn("config warning", "field", w.Field, "message", w.Message)
	}

	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		Version:   Version,
		Component: "keycored",
		Logger:    log.Logger,
	})

	d := newDaemon(cfg, loader, opts, log)
	defer d.close()
	if err := d.setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := d.reload(ctx); err != nil {
					log.Warn("reload on SIGHUP failed", "error", err)
				} else {
					log.Info("configuration reloaded on SIGHUP")
				}
			}
		}
	}()

	log.Info("keycored starting", "version", Version, "config", configPath)
	var runErr error
	if crash.Recover(func() { runErr = d.run(ctx) }) {
		return errors.New("crashed; see crash report")
	}
	log.Info("keycored stopped")
	return runErr
}
