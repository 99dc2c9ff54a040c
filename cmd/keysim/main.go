// keysim runs the keyboard controller in a terminal.
//
//	keysim [-config path] [-tap ms] [-hold ms] [-mute] [-log file]
//
// The board is drawn with the LED colours the indicator renderer produces.
// Typed keys are tapped; shifted keys and right clicks are held long enough
// to trigger holds. Output commands are listed below the board.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"keycore/internal/config"
	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/logging"
	"keycore/internal/rgb"
)

func main() {
	configPath := flag.String("config", "", "config file (default: search the usual locations)")
	tap := flag.Int("tap", 40, "milliseconds a typed key is held")
	hold := flag.Int("hold", 400, "milliseconds a shifted key is held")
	mute := flag.Bool("mute", false, "no click on layer changes")
	logPath := flag.String("log", "", "write logs to this file")
	flag.Parse()

	simCfg := defaultSimConfig()
	simCfg.TapTime = time.Duration(*tap) * time.Millisecond
	simCfg.HoldTime = time.Duration(*hold) * time.Millisecond

	if err := run(*configPath, *logPath, *mute, simCfg); err != nil {
		fmt.Fprintf(os.Stderr, "keysim: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path without migrating it. A missing file yields the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Parse(data, config.FormatFromExt(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func newLogger(cfg *config.Config, path string) (*slog.Logger, func(), error) {
	if path == "" {
		return logging.Discard(), func() {}, nil
	}
	logCfg, err := cfg.LoggingSettings("keysim")
	if err != nil {
		return nil, nil, err
	}
	logCfg.Output = "file"
	logCfg.FilePath = path
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return log.Logger, func() { log.Close() }, nil
}

func run(configPath, logPath string, mute bool, simCfg simConfig) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if errs := config.ValidateAll(cfg).Errors(); len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errs)
	}

	logger, closeLog, err := newLogger(cfg, logPath)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closeLog()

	ctrlCfg, err := cfg.ControllerSettings()
	if err != nil {
		return err
	}
	hostCfg, err := cfg.HostSettings()
	if err != nil {
		return err
	}
	km, err := cfg.LoadKeymap()
	if err != nil {
		return err
	}

	out := newOutputLog(8)
	start := cfg.StartupRGB()
	matrix := rgb.NewMatrix(start.Mode, start.HSV)
	ctrl := controller.New(ctrlCfg, matrix, logger)
	h := host.New(hostCfg, ctrl, km, matrix, out,
		host.WithLogger(logger),
		host.WithPointer(out),
	)

	var sound clicker = silent{}
	if !mute {
		if c, err := newSpeakerClicker(); err != nil {
			logger.Warn("audio unavailable", "error", err)
		} else {
			defer c.Close()
			sound = c
		}
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.EnableMouse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("keysim starting", "tap", simCfg.TapTime, "hold", simCfg.HoldTime)
	return newSim(simCfg, screen, h, km, matrix, out, sound, logger).run(ctx)
}
